// Package cmd implements the wharf command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bnema/wharf/internal/config"
	"github.com/bnema/wharf/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "wharf",
	Short:         "Wharf is a self-hosted container image registry",
	Long:          "Wharf stores container images as content-addressed blobs and serves them over the Distribution v2 protocol.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command failed", "error", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "wharf.yml", "path to the config file")
}

// loadConfig loads configuration and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := logger.GetLogger()
	log.SetLogLevel(cfg.LogLevel)
	log.ConfigureFromEnv()
	return cfg, nil
}
