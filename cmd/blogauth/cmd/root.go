package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "blogauth",
	Short: "BlogAuth is the authentication service for the blog CMS",
	Long: `The authentication and session security service backing the blog CMS
admin panel: credential storage, bearer tokens, session tracking and the
security event log.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
