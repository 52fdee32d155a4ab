package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ariavoice/aria/internal/config"
)

var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "aria",
		Short: "Aria - conversational assistant server",
		Long: `Aria is a self-hosted voice and vision assistant server.
It speaks a JSON event protocol over a duplex channel and persists
conversations to PostgreSQL.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
			cfg = config.Load()
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		createUserCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
