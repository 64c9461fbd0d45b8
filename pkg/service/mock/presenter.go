package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
)

// ErrRefused is returned by Presenter.Present when Refuse is set.
var ErrRefused = errors.New("mock presenter refused")

// Presenter is a mock implementation of service.Presenter and
// service.URLOpener for testing
type Presenter struct {
	mu sync.Mutex

	// Unavailable makes Available report false
	Unavailable bool
	// Refuse makes Present fail with ErrRefused
	Refuse bool
	// OpenURLError is returned by OpenURL
	OpenURLError error

	// Call tracking
	PresentCalls  []PresentCall
	DestroyCalls  int
	OpenedURLs    []string
	activeSession string
}

// PresentCall tracks parameters for Present calls
type PresentCall struct {
	Session string
	Message study.Message
}

// NewPresenter creates a new mock presenter with an eligible surface
func NewPresenter() *Presenter {
	return &Presenter{}
}

// Available reports whether a panel could be shown
func (p *Presenter) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.Unavailable
}

// Present records the call
func (p *Presenter) Present(ctx context.Context, session string, msg study.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.PresentCalls = append(p.PresentCalls, PresentCall{Session: session, Message: msg})
	if p.Refuse {
		return ErrRefused
	}
	p.activeSession = session
	return nil
}

// Destroy records the call
func (p *Presenter) Destroy(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.DestroyCalls++
	p.activeSession = ""
	return nil
}

// OpenURL records the url
func (p *Presenter) OpenURL(ctx context.Context, rawURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.OpenedURLs = append(p.OpenedURLs, rawURL)
	return p.OpenURLError
}

// ActiveSession returns the session currently on screen
func (p *Presenter) ActiveSession() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeSession
}

// Presented returns the number of Present calls
func (p *Presenter) Presented() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.PresentCalls)
}
