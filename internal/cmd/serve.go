package cmd

import (
	"context"
	"fmt"

	"github.com/AccelByte/extend-vpn-recommendation/internal/app"
	"github.com/AccelByte/extend-vpn-recommendation/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the study service",
	Long: `Start the bridge, gRPC health and metrics servers, then start the study.
The process runs until it receives SIGINT/SIGTERM or the study ends.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to the study YAML (overrides CONFIG_PATH)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logrus.Infof("starting app server..")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveConfigPath != "" {
		cfg.ConfigPath = serveConfigPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.DebugMode {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx := context.Background()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return application.Run(ctx)
}
