package policy

import (
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"

	"github.com/oklog/ulid/v2"
)

// Outcome classifies how a notification session ended.
type Outcome string

const (
	OutcomeUnknown     Outcome = "unknown"
	OutcomeAction      Outcome = "action"
	OutcomeDismiss     Outcome = "dismiss"
	OutcomeAutoDismiss Outcome = "auto-dismiss"
)

// Session is the notification currently on screen.
type Session struct {
	ID            string            `json:"id"`
	Trigger       study.TriggerKind `json:"trigger"`
	ShownAt       time.Time         `json:"shownAt"`
	Ordinal       int               `json:"ordinal"`
	OptOutChecked bool              `json:"dontShowChecked"`
	Outcome       Outcome           `json:"outcome"`
}

func newSession(kind study.TriggerKind, shownAt time.Time, ordinal int) *Session {
	return &Session{
		ID:      ulid.Make().String(),
		Trigger: kind,
		ShownAt: shownAt,
		Ordinal: ordinal,
		Outcome: OutcomeUnknown,
	}
}
