package recommender

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/service"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal/builtin"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"

	"github.com/sirupsen/logrus"
)

// Assignment records how the variation was chosen.
type Assignment struct {
	Variation study.Variation `json:"variation"`
	Source    string          `json:"source"`
}

const (
	SourceOverride = "override"
	SourceStored   = "stored"
	SourceForced   = "forced"
	SourceWeighted = "weighted"
)

// AssignVariation picks the variation in priority order: the testing
// override preference, the stored marker from an earlier run, the forced
// branch, then a weighted random draw. Invalid names are skipped.
func AssignVariation(ctx context.Context, store service.StudyStore, forced string, weights map[string]int, intn func(int) int) (Assignment, error) {
	override, err := store.VariationOverride(ctx)
	if err != nil {
		return Assignment{}, fmt.Errorf("failed to read variation override: %w", err)
	}
	if v, ok := parse(override, "override preference"); ok {
		return Assignment{Variation: v, Source: SourceOverride}, nil
	}

	stored, err := store.Variation(ctx)
	if err != nil {
		return Assignment{}, fmt.Errorf("failed to read stored variation: %w", err)
	}
	if v, ok := parse(stored, "stored variation"); ok {
		return Assignment{Variation: v, Source: SourceStored}, nil
	}

	if v, ok := parse(forced, "forced variation"); ok {
		return Assignment{Variation: v, Source: SourceForced}, nil
	}

	v, err := WeightedVariation(weights, intn)
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{Variation: v, Source: SourceWeighted}, nil
}

func parse(name, what string) (study.Variation, bool) {
	if name == "" {
		return "", false
	}
	v, err := study.ParseVariation(name)
	if err != nil {
		logrus.Warnf("ignoring %s: %v", what, err)
		return "", false
	}
	return v, true
}

// WeightedVariation draws a variation with probability proportional to its
// weight. intn defaults to a time-seeded source.
func WeightedVariation(weights map[string]int, intn func(int) int) (study.Variation, error) {
	if intn == nil {
		intn = rand.New(rand.NewSource(time.Now().UnixNano())).Intn
	}

	names := make([]string, 0, len(weights))
	total := 0
	for name, weight := range weights {
		if weight <= 0 {
			continue
		}
		names = append(names, name)
		total += weight
	}
	if total == 0 {
		return "", fmt.Errorf("no variation has a positive weight")
	}
	sort.Strings(names)

	pick := intn(total)
	for _, name := range names {
		pick -= weights[name]
		if pick < 0 {
			return study.ParseVariation(name)
		}
	}
	return study.ParseVariation(names[len(names)-1])
}

// CatchAllDelay resolves the catch-all delay from the test override
// preference, falling back to the configured delay.
func CatchAllDelay(store service.StudyStore, fallback time.Duration) builtin.DelayFunc {
	return func(ctx context.Context) time.Duration {
		delay, ok, err := store.CatchAllDelayOverride(ctx)
		if err != nil {
			logrus.Warnf("ignoring catch-all delay override: %v", err)
			return fallback
		}
		if ok {
			logrus.Infof("catch-all delay overridden to %s", delay)
			return delay
		}
		return fallback
	}
}
