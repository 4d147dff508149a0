package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/blogsuite/blogauth/api"
	"github.com/blogsuite/blogauth/cache"
	"github.com/blogsuite/blogauth/credential"
	"github.com/blogsuite/blogauth/internal/config"
	"github.com/blogsuite/blogauth/internal/util"
	"github.com/blogsuite/blogauth/session"
	"github.com/blogsuite/blogauth/storage"
	bboltstorage "github.com/blogsuite/blogauth/storage/bbolt"
	filestorage "github.com/blogsuite/blogauth/storage/file"
	"github.com/blogsuite/blogauth/token"
)

var (
	port           int
	dataDir        string
	backend        string
	trustedProxies []string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = port
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir = dataDir
		}
		if cmd.Flags().Changed("backend") {
			cfg.Backend = backend
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
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

		secret := []byte(cfg.TokenSecret)
		if len(secret) == 0 {
			secret, err = util.RandomBytes(32)
			if err != nil {
				return fmt.Errorf("generating token secret: %w", err)
			}
			logger.Warn("no token secret configured; tokens will not survive a restart")
		}
		issuer, err := token.NewIssuer(secret)
		if err != nil {
			return err
		}

		credCache := cache.New[map[string]credential.Record](
			cache.WithTTL[map[string]credential.Record](cfg.CacheTTL),
			cache.WithMaxSize[map[string]credential.Record](cfg.CacheMaxSize),
			cache.WithSizer[map[string]credential.Record](func(m map[string]credential.Record) int {
				size := 0
				for k, v := range m {
					size += len(k) + len(v.Username) + len(v.Password) + 32
				}
				return size
			}),
		)
		creds := credential.New(store, credCache, logger)

		// A session manager that cannot be built leaves the service in
		// degraded token-only mode rather than refusing to start.
		sessions := session.NewManager(store, logger, session.Config{
			Timeout:            cfg.SessionTimeout,
			CleanupInterval:    cfg.CleanupInterval,
			MaxSessionsPerUser: cfg.MaxSessionsPerUser,
			SingleSession:      cfg.SingleSession,
		})
		defer sessions.Close()

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithCacheStats(credCache.Stats),
			api.WithAuthThrottle(cfg.AuthRatePerSecond, cfg.AuthRateBurst),
		}
		if len(trustedProxies) > 0 {
			prefixes := make([]netip.Prefix, 0, len(trustedProxies))
			for _, p := range trustedProxies {
				prefix, err := netip.ParsePrefix(p)
				if err != nil {
					return fmt.Errorf("invalid trusted proxy %q: %w", p, err)
				}
				prefixes = append(prefixes, prefix)
			}
			opts = append(opts, api.WithTrustedProxies(prefixes))
		}

		a := api.New(creds, sessions, issuer, opts...)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)

		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Handle("/metrics", a.MetricsHandler())
		r.Mount("/api", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (data: %s, backend: %s)...\n",
			cfg.Port, cfg.DataDir, cfg.Backend)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&backend, "backend", "file", "Document store backend (file or bbolt)")
	serverCmd.Flags().StringSliceVar(&trustedProxies, "trusted-proxy", nil, "CIDR range of a proxy allowed to set forwarding headers (repeatable)")
}
