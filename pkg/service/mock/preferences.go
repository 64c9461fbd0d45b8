package mock

import (
	"context"
	"sync"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/state"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
)

// PreferenceStore is an in-memory mock implementation of
// service.PreferenceStore for testing
type PreferenceStore struct {
	mu sync.Mutex

	Histories     state.Histories
	OptOutChecked bool

	// DefaultError is returned by every method when set
	DefaultError error

	// Call tracking
	UpdateHistoryCalls []study.TriggerKind
	SetOptOutCalls     []bool
}

// NewPreferenceStore creates an empty store
func NewPreferenceStore() *PreferenceStore {
	return &PreferenceStore{Histories: state.Histories{}}
}

// History returns the stored history for kind
func (s *PreferenceStore) History(ctx context.Context, kind study.TriggerKind) (state.TriggerHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DefaultError != nil {
		return state.TriggerHistory{}, s.DefaultError
	}
	return s.Histories.Get(kind), nil
}

// UpdateHistory applies fn to the stored history for kind
func (s *PreferenceStore) UpdateHistory(ctx context.Context, kind study.TriggerKind, fn func(*state.TriggerHistory)) (state.TriggerHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.UpdateHistoryCalls = append(s.UpdateHistoryCalls, kind)
	if s.DefaultError != nil {
		return state.TriggerHistory{}, s.DefaultError
	}

	if s.Histories == nil {
		s.Histories = state.Histories{}
	}
	h := s.Histories.Get(kind)
	fn(&h)
	s.Histories[kind] = h
	return h, nil
}

// OptOut returns the flag
func (s *PreferenceStore) OptOut(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DefaultError != nil {
		return false, s.DefaultError
	}
	return s.OptOutChecked, nil
}

// SetOptOut stores the flag
func (s *PreferenceStore) SetOptOut(ctx context.Context, checked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SetOptOutCalls = append(s.SetOptOutCalls, checked)
	if s.DefaultError != nil {
		return s.DefaultError
	}
	s.OptOutChecked = checked
	return nil
}
