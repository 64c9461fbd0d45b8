// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package state

import (
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
)

// TriggerHistory is the notification bookkeeping for one trigger kind.
// A zero LastShownAt means the kind was never shown (or shadow-shown).
type TriggerHistory struct {
	LastShownAt time.Time `json:"lastShownAt"`
	ShownCount  int       `json:"shownCount"`
}

// HasShown reports whether the kind was ever recorded.
func (h TriggerHistory) HasShown() bool {
	return !h.LastShownAt.IsZero()
}

// Histories maps each trigger kind to its history. Missing kinds have a
// zero history.
type Histories map[study.TriggerKind]TriggerHistory

// Get returns the history for kind, zero when absent.
func (h Histories) Get(kind study.TriggerKind) TriggerHistory {
	if h == nil {
		return TriggerHistory{}
	}
	return h[kind]
}

// Snapshot is a read-only view of every persisted study preference.
type Snapshot struct {
	Started           bool      `json:"started"`
	Variation         string    `json:"variation,omitempty"`
	OptOut            bool      `json:"dontShowChecked"`
	DebugMode         bool      `json:"debugMode"`
	Histories         Histories `json:"histories"`
	VariationOverride string    `json:"variationOverride,omitempty"`
	CatchAllDelayMins int       `json:"catchAllTimerMins,omitempty"`
}
