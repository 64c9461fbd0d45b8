package signal

import (
	"context"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
)

// TriggerEvent is one firing of a host signal source. It is consumed once
// by the policy engine.
type TriggerEvent struct {
	Kind      study.TriggerKind
	Timestamp time.Time
}

// NewTriggerEvent creates a trigger event of the given kind.
func NewTriggerEvent(kind study.TriggerKind, timestamp time.Time) TriggerEvent {
	return TriggerEvent{
		Kind:      kind,
		Timestamp: timestamp,
	}
}

// Emit delivers a trigger event to whoever subscribed the source.
type Emit func(event TriggerEvent)

// Disposer undoes a subscription. It is called at most once.
type Disposer func(ctx context.Context) error

// Source is a host signal source for one trigger kind.
//
// Subscribe starts observing the host and calls emit for every firing until
// the returned Disposer runs. Emit may be called from any goroutine.
type Source interface {
	Kind() study.TriggerKind
	Subscribe(ctx context.Context, emit Emit) (Disposer, error)
}
