package cmd

import (
	"context"
	"fmt"

	"github.com/AccelByte/extend-vpn-recommendation/internal/app"
	"github.com/AccelByte/extend-vpn-recommendation/internal/config"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/state"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"

	"github.com/spf13/cobra"
)

var (
	overrideVariation    string
	overrideCatchAllMins int
	overrideDebug        bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every stored study preference",
	Long: `Delete every key under the preference prefix. The next start behaves
like a first run: a branch is assigned and study-start is reported again.`,
	RunE: runReset,
}

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Set test overrides in the preference store",
	Long: `Set the test-only preferences read at study start: a forced branch,
the catch-all delay in minutes and the debug flag.`,
	RunE: runOverride,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(overrideCmd)

	overrideCmd.Flags().StringVar(&overrideVariation, "variation", "", "Branch to force on the next start")
	overrideCmd.Flags().IntVar(&overrideCatchAllMins, "catch-all-mins", 0, "Catch-all delay in minutes (0 = leave unchanged)")
	overrideCmd.Flags().BoolVar(&overrideDebug, "debug", false, "Enable debug mode")
}

func openStore(ctx context.Context) (*state.RedisStore, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	client, err := app.ConnectRedis(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return state.NewRedisStore(client, cfg.PrefPrefix), func() { _ = client.Close() }, nil
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, closeFn, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset preferences: %w", err)
	}

	fmt.Printf("Deleted preferences under %s\n", store.Prefix())
	return nil
}

func runOverride(cmd *cobra.Command, args []string) error {
	if overrideVariation != "" {
		if _, err := study.ParseVariation(overrideVariation); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	store, closeFn, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if overrideVariation != "" {
		if err := store.SetVariationOverride(ctx, overrideVariation); err != nil {
			return err
		}
		fmt.Printf("Variation override: %s\n", overrideVariation)
	}
	if overrideCatchAllMins > 0 {
		if err := store.SetCatchAllDelayOverride(ctx, overrideCatchAllMins); err != nil {
			return err
		}
		fmt.Printf("Catch-all delay: %d minutes\n", overrideCatchAllMins)
	}
	if cmd.Flags().Changed("debug") {
		if err := store.SetDebugMode(ctx, overrideDebug); err != nil {
			return err
		}
		fmt.Printf("Debug mode: %t\n", overrideDebug)
	}

	return nil
}
