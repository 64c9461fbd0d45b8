package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoSurface is returned when no non-private surface can show the panel.
	ErrNoSurface = errors.New("no eligible browsing surface")
	// ErrSurfaceExists is returned when a surface ID is already connected.
	ErrSurfaceExists = errors.New("surface already connected")
)

const (
	DefaultAutoDismissAfter = 3 * time.Minute
	surfaceSendBuffer       = 16
)

// Options tunes the hub
type Options struct {
	AutoDismissAfter time.Duration
}

// Surface is one connected browsing surface (a browser window).
type Surface struct {
	ID      string
	Private bool

	seq       uint64
	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// Outbound returns the messages queued for the surface.
func (s *Surface) Outbound() <-chan Message {
	return s.send
}

// Done is closed when the surface is detached.
func (s *Surface) Done() <-chan struct{} {
	return s.done
}

func (s *Surface) enqueue(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- msg:
		return true
	default:
		logrus.Warnf("surface %s send buffer full, dropping %s", s.ID, msg.Type)
		return false
	}
}

type panel struct {
	surfaceID string
	session   string
	timer     *time.Timer
}

// SurfaceInfo describes a connected surface.
type SurfaceInfo struct {
	ID      string `json:"id"`
	Private bool   `json:"private"`
}

// Hub tracks browsing surfaces by ID. It presents the panel on the most
// recently connected non-private surface and relays what the surfaces
// report. The hub never hands surfaces out to the policy engine.
type Hub struct {
	opts    Options
	metrics *metrics.Metrics

	mu           sync.Mutex
	surfaces     map[string]*Surface
	seq          uint64
	panel        *panel
	listeners    map[uint64]func(surfaceID, rawURL string)
	nextListener uint64
	onAction     func(study.UserAction)
	onLogin      func()
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics, opts Options) *Hub {
	if opts.AutoDismissAfter <= 0 {
		opts.AutoDismissAfter = DefaultAutoDismissAfter
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Hub{
		opts:      opts,
		metrics:   m,
		surfaces:  make(map[string]*Surface),
		listeners: make(map[uint64]func(surfaceID, rawURL string)),
	}
}

// OnAction sets the receiver of panel actions.
func (h *Hub) OnAction(fn func(study.UserAction)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAction = fn
}

// OnCaptivePortalLogin sets the receiver of captive-portal-login reports.
func (h *Hub) OnCaptivePortalLogin(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLogin = fn
}

// Attach registers a surface.
func (h *Hub) Attach(id string, private bool) (*Surface, error) {
	if id == "" {
		return nil, fmt.Errorf("surface id is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.surfaces[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSurfaceExists, id)
	}

	h.seq++
	s := &Surface{
		ID:      id,
		Private: private,
		seq:     h.seq,
		send:    make(chan Message, surfaceSendBuffer),
		done:    make(chan struct{}),
	}
	h.surfaces[id] = s
	h.metrics.SurfacesConnected.Set(float64(len(h.surfaces)))

	logrus.Infof("surface %s connected (private=%v)", id, private)
	return s, nil
}

// Detach removes a surface. Closing the surface that holds the panel
// reports an auto-dismiss with reason surface-closed.
func (h *Hub) Detach(s *Surface) {
	h.mu.Lock()
	if h.surfaces[s.ID] != s {
		h.mu.Unlock()
		return
	}
	delete(h.surfaces, s.ID)
	s.closeOnce.Do(func() { close(s.done) })
	h.metrics.SurfacesConnected.Set(float64(len(h.surfaces)))

	dismissed := ""
	if h.panel != nil && h.panel.surfaceID == s.ID {
		h.panel.timer.Stop()
		dismissed = h.panel.session
		h.panel = nil
	}
	h.mu.Unlock()

	logrus.Infof("surface %s disconnected", s.ID)
	if dismissed != "" {
		h.Report(study.UserAction{Kind: study.ActionAutoDismiss, Reason: study.ReasonSurfaceClosed, Session: dismissed})
	}
}

// Close detaches every surface. Their sockets are closed by the write
// pumps.
func (h *Hub) Close() {
	h.mu.Lock()
	surfaces := make([]*Surface, 0, len(h.surfaces))
	for _, s := range h.surfaces {
		surfaces = append(surfaces, s)
	}
	h.mu.Unlock()

	for _, s := range surfaces {
		h.Detach(s)
	}
}

// Surfaces lists the connected surfaces.
func (h *Hub) Surfaces() []SurfaceInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]SurfaceInfo, 0, len(h.surfaces))
	for _, s := range h.surfaces {
		out = append(out, SurfaceInfo{ID: s.ID, Private: s.Private})
	}
	return out
}

// PanelSession returns the session of the panel on screen, if any.
func (h *Hub) PanelSession() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panel == nil {
		return "", false
	}
	return h.panel.session, true
}

// latest returns the most recently connected non-private surface. Callers
// hold h.mu.
func (h *Hub) latest() *Surface {
	var target *Surface
	for _, s := range h.surfaces {
		if s.Private {
			continue
		}
		if target == nil || s.seq > target.seq {
			target = s
		}
	}
	return target
}

// Available reports whether any non-private surface is connected.
func (h *Hub) Available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest() != nil
}

// Present shows the panel for session and arms the auto-dismiss timer.
func (h *Hub) Present(ctx context.Context, session string, msg study.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	target := h.latest()
	if target == nil {
		return ErrNoSurface
	}

	h.destroyLocked()

	ok := target.enqueue(Message{
		Type:    TypePresent,
		Header:  msg.Header,
		Text:    msg.Text,
		Primary: study.PrimaryButtonLabel,
		Second:  study.SecondaryButtonLabel,
		Session: session,
	})
	if !ok {
		return fmt.Errorf("%w: surface %s not accepting messages", ErrNoSurface, target.ID)
	}

	h.panel = &panel{
		surfaceID: target.ID,
		session:   session,
		timer: time.AfterFunc(h.opts.AutoDismissAfter, func() {
			h.expire(session)
		}),
	}

	logrus.Infof("panel for session %s presented on surface %s", session, target.ID)
	return nil
}

func (h *Hub) expire(session string) {
	h.mu.Lock()
	if h.panel == nil || h.panel.session != session {
		h.mu.Unlock()
		return
	}
	h.destroyLocked()
	h.mu.Unlock()

	logrus.Infof("panel for session %s timed out", session)
	h.Report(study.UserAction{Kind: study.ActionAutoDismiss, Reason: study.ReasonTimeout, Session: session})
}

// Destroy removes the panel on screen, if any.
func (h *Hub) Destroy(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyLocked()
	return nil
}

func (h *Hub) destroyLocked() {
	if h.panel == nil {
		return
	}
	h.panel.timer.Stop()
	if s, ok := h.surfaces[h.panel.surfaceID]; ok {
		s.enqueue(Message{Type: TypeDestroy, Session: h.panel.session})
	}
	h.panel = nil
}

// OpenURL opens rawURL on the surface holding the panel, or on the most
// recent non-private surface.
func (h *Hub) OpenURL(ctx context.Context, rawURL string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var target *Surface
	if h.panel != nil {
		target = h.surfaces[h.panel.surfaceID]
	}
	if target == nil {
		target = h.latest()
	}
	if target == nil {
		return ErrNoSurface
	}

	if !target.enqueue(Message{Type: TypeOpenURL, URL: rawURL}) {
		return fmt.Errorf("%w: surface %s not accepting messages", ErrNoSurface, target.ID)
	}
	return nil
}

// ObserveNavigations registers fn for navigations on non-private surfaces.
func (h *Hub) ObserveNavigations(fn func(surfaceID, rawURL string)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextListener
	h.nextListener++
	h.listeners[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}, nil
}

// Navigate reports a top-level navigation. Navigations on private surfaces
// are ignored. A surface that is not connected is trusted as non-private.
func (h *Hub) Navigate(surfaceID, rawURL string) bool {
	h.mu.Lock()
	if s, ok := h.surfaces[surfaceID]; ok && s.Private {
		h.mu.Unlock()
		return false
	}
	listeners := make([]func(string, string), 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(surfaceID, rawURL)
	}
	return true
}

// CaptivePortalLogin reports a captive-portal-login notification.
func (h *Hub) CaptivePortalLogin() {
	h.mu.Lock()
	fn := h.onLogin
	h.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Report relays a panel action.
func (h *Hub) Report(action study.UserAction) {
	h.mu.Lock()
	fn := h.onAction
	h.mu.Unlock()

	if fn == nil {
		logrus.Debugf("panel action %s dropped: no receiver", action.Kind)
		return
	}
	fn(action)
}

// HandleMessage dispatches one message received from a surface.
func (h *Hub) HandleMessage(surfaceID string, msg Message) error {
	switch msg.Type {
	case TypeNavigation:
		h.Navigate(surfaceID, msg.URL)
		return nil
	case TypeCaptivePortalLogin:
		h.CaptivePortalLogin()
		return nil
	}

	kind, err := study.ParseActionKind(msg.Type)
	if err != nil {
		return err
	}

	action := study.UserAction{Kind: kind, Reason: msg.Reason, Session: msg.Session}
	if msg.Checked != nil {
		action.Checked = *msg.Checked
	}
	h.Report(action)
	return nil
}
