package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bnema/wharf/internal/httpserve"
	"github.com/bnema/wharf/internal/server"
	"github.com/bnema/wharf/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := server.NewApp(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := app.Close(); err != nil {
				logger.Warn("Failed to close application", "error", err)
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return httpserve.Start(ctx, app)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
