package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blogsuite/blogauth/cache"
	"github.com/blogsuite/blogauth/credential"
	"github.com/blogsuite/blogauth/internal/config"
	"github.com/blogsuite/blogauth/internal/util"
	"github.com/blogsuite/blogauth/storage"
	bboltstorage "github.com/blogsuite/blogauth/storage/bbolt"
	filestorage "github.com/blogsuite/blogauth/storage/file"
)

var (
	passwdUser     string
	passwdPassword string
)

// passwdCmd resets a password offline, for when the admin is locked out.
var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Reset a user's password to a freshly generated one",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir = dataDir
		}
		if cmd.Flags().Changed("backend") {
			cfg.Backend = backend
		}

		var store storage.DocumentStore
		switch cfg.Backend {
		case "bbolt":
			s, err := bboltstorage.NewFromFile(filepath.Join(cfg.DataDir, "blogauth.db"), nil)
			if err != nil {
				return fmt.Errorf("opening bbolt storage: %w", err)
			}
			defer s.Close()
			store = s
		default:
			s, err := filestorage.New(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("opening file storage: %w", err)
			}
			store = s
		}

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		creds := credential.New(store, cache.New[map[string]credential.Record](), logger)

		password := passwdPassword
		if password == "" {
			password, err = util.RandomPassword(20)
			if err != nil {
				return err
			}
		}
		if err := creds.SetPassword(cmd.Context(), passwdUser, password); err != nil {
			return err
		}

		if passwdPassword == "" {
			fmt.Printf("Password for %q reset to: %s\n", passwdUser, password)
		} else {
			fmt.Printf("Password for %q updated.\n", passwdUser)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(passwdCmd)
	passwdCmd.Flags().StringVarP(&passwdUser, "user", "u", "admin", "Username to reset")
	passwdCmd.Flags().StringVar(&passwdPassword, "password", "", "New password (generated when omitted)")
	passwdCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	passwdCmd.Flags().StringVar(&backend, "backend", "file", "Document store backend (file or bbolt)")
}
