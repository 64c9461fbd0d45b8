package recommender

import (
	"context"
	"testing"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/state"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupStore(t *testing.T) (*state.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return state.NewRedisStore(client, ""), mr
}

func fixedIntn(n int) func(int) int {
	return func(int) int { return n }
}

func TestAssignVariation_Priority(t *testing.T) {
	weights := map[string]int{"catch-all": 1}

	tests := []struct {
		name           string
		override       string
		stored         study.Variation
		forced         string
		expected       study.Variation
		expectedSource string
	}{
		{name: "weighted", expected: study.VariationCatchAll, expectedSource: SourceWeighted},
		{name: "forced", forced: "control", expected: study.VariationControl, expectedSource: SourceForced},
		{name: "stored beats forced", stored: study.VariationPrivacyHostname, forced: "control", expected: study.VariationPrivacyHostname, expectedSource: SourceStored},
		{name: "override beats stored", override: "streaming-hostname", stored: study.VariationPrivacyHostname, expected: study.VariationStreamingHostname, expectedSource: SourceOverride},
		{name: "invalid override skipped", override: "nope", forced: "captive-portal", expected: study.VariationCaptivePortal, expectedSource: SourceForced},
		{name: "invalid forced skipped", forced: "nope", expected: study.VariationCatchAll, expectedSource: SourceWeighted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := setupStore(t)
			ctx := context.Background()

			if tt.override != "" {
				_ = store.SetVariationOverride(ctx, tt.override)
			}
			if tt.stored != "" {
				_ = store.SetVariation(ctx, tt.stored)
			}

			got, err := AssignVariation(ctx, store, tt.forced, weights, fixedIntn(0))
			if err != nil {
				t.Fatalf("AssignVariation() error = %v", err)
			}
			if got.Variation != tt.expected || got.Source != tt.expectedSource {
				t.Errorf("got %+v, expected %s from %s", got, tt.expected, tt.expectedSource)
			}
		})
	}
}

func TestWeightedVariation(t *testing.T) {
	// Sorted: captive-portal(2), control(1), privacy-hostname(0), streaming-hostname(3)
	weights := map[string]int{
		"streaming-hostname": 3,
		"captive-portal":     2,
		"control":            1,
		"privacy-hostname":   0,
	}

	tests := []struct {
		pick     int
		expected study.Variation
	}{
		{pick: 0, expected: study.VariationCaptivePortal},
		{pick: 1, expected: study.VariationCaptivePortal},
		{pick: 2, expected: study.VariationControl},
		{pick: 3, expected: study.VariationStreamingHostname},
		{pick: 5, expected: study.VariationStreamingHostname},
	}

	for _, tt := range tests {
		got, err := WeightedVariation(weights, fixedIntn(tt.pick))
		if err != nil {
			t.Fatalf("WeightedVariation() error = %v", err)
		}
		if got != tt.expected {
			t.Errorf("pick %d: got %s, expected %s", tt.pick, got, tt.expected)
		}
	}

	var bound int
	_, _ = WeightedVariation(weights, func(n int) int { bound = n; return 0 })
	if bound != 6 {
		t.Errorf("draw bound = %d, expected total weight 6", bound)
	}

	if _, err := WeightedVariation(map[string]int{"control": 0}, nil); err == nil {
		t.Error("expected error when no weight is positive")
	}
}

func TestCatchAllDelay(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()
	delay := CatchAllDelay(store, time.Hour)

	if got := delay(ctx); got != time.Hour {
		t.Errorf("default delay = %s, expected 1h", got)
	}

	_ = store.SetCatchAllDelayOverride(ctx, 2)
	if got := delay(ctx); got != 2*time.Minute {
		t.Errorf("override delay = %s, expected 2m", got)
	}

	_ = mr.Set(store.Key(state.KeyCatchAllTimerMins), "soon")
	if got := delay(ctx); got != time.Hour {
		t.Errorf("invalid override delay = %s, expected fallback", got)
	}
}
