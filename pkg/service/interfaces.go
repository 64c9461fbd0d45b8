package service

import (
	"context"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/state"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
)

// Service interfaces for the collaborators the policy engine and the study
// talk to. Production wiring passes *state.RedisStore and *host.Hub; tests
// pass the fakes in the mock package.

// HistoryStore reads and atomically updates per-trigger history.
type HistoryStore interface {
	History(ctx context.Context, kind study.TriggerKind) (state.TriggerHistory, error)
	UpdateHistory(ctx context.Context, kind study.TriggerKind, fn func(*state.TriggerHistory)) (state.TriggerHistory, error)
}

// OptOutStore holds the "don't show again" flag.
type OptOutStore interface {
	OptOut(ctx context.Context) (bool, error)
	SetOptOut(ctx context.Context, checked bool) error
}

// PreferenceStore is everything the policy engine persists.
type PreferenceStore interface {
	HistoryStore
	OptOutStore
}

// StudyStore holds the study activation markers and test overrides.
type StudyStore interface {
	Started(ctx context.Context) (bool, error)
	MarkStarted(ctx context.Context) error
	Variation(ctx context.Context) (string, error)
	SetVariation(ctx context.Context, v study.Variation) error
	VariationOverride(ctx context.Context) (string, error)
	CatchAllDelayOverride(ctx context.Context) (time.Duration, bool, error)
	DebugMode(ctx context.Context) (bool, error)
	Snapshot(ctx context.Context) (state.Snapshot, error)
	Reset(ctx context.Context) error
}

// Presenter shows and removes the recommendation panel.
type Presenter interface {
	// Available reports whether an eligible surface exists.
	Available() bool
	// Present shows msg for the given session, or refuses.
	Present(ctx context.Context, session string, msg study.Message) error
	// Destroy removes any panel on screen. It is safe to call when none is.
	Destroy(ctx context.Context) error
}

// URLOpener opens a page in the browser.
type URLOpener interface {
	OpenURL(ctx context.Context, rawURL string) error
}
