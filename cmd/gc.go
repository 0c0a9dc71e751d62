package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bnema/wharf/internal/gc"
	"github.com/bnema/wharf/internal/server"
	"github.com/bnema/wharf/pkg/bytesize"
	"github.com/bnema/wharf/pkg/logger"
)

var gcDryRun bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete blobs not reachable from any tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := server.NewApp(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		collector := gc.New(app.Store, app.DB, app.Uploads,
			cfg.GC.SafetyHorizon.Std(), cfg.Upload.SessionTTL.Std())
		report, err := collector.Run(context.Background(), gcDryRun)
		if err != nil {
			return err
		}

		logger.Info("Garbage collection report",
			"dry_run", gcDryRun,
			"expired_sessions", report.ExpiredSessions,
			"reachable", report.ReachableDigests,
			"deleted_blobs", report.DeletedBlobs,
			"deleted_manifests", report.DeletedManifests,
			"freed", bytesize.Format(report.FreedBytes))
		return nil
	},
}

func init() {
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "report what would be deleted without deleting")
	rootCmd.AddCommand(gcCmd)
}
