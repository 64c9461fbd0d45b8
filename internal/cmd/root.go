package cmd

import (
	"os"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/common"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vpn-recommendation",
	Short: "Runs the VPN recommendation study",
	Long: `vpn-recommendation runs the VPN recommendation study service: it listens
for host signals over the bridge, decides when to show the recommendation
panel and records the study telemetry.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		configureLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = false
}

// configureLogging applies LOG_LEVEL and LOG_JSON to the standard logger.
func configureLogging() {
	if common.GetEnvBool("LOG_JSON", true) {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(common.GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		logrus.Warnf("invalid LOG_LEVEL, using info: %v", err)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
