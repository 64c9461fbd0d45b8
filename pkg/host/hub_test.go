package host

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"

	"github.com/gorilla/websocket"
)

type actionLog struct {
	mu      sync.Mutex
	actions []study.UserAction
	ch      chan study.UserAction
}

func newActionLog() *actionLog {
	return &actionLog{ch: make(chan study.UserAction, 16)}
}

func (l *actionLog) record(a study.UserAction) {
	l.mu.Lock()
	l.actions = append(l.actions, a)
	l.mu.Unlock()
	l.ch <- a
}

func (l *actionLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.actions)
}

func (l *actionLog) wait(t *testing.T) study.UserAction {
	t.Helper()
	select {
	case a := <-l.ch:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a panel action")
		return study.UserAction{}
	}
}

func receive(t *testing.T, s *Surface) Message {
	t.Helper()
	select {
	case msg := <-s.Outbound():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a surface message")
		return Message{}
	}
}

var testMessage = study.Message{Header: "Recommendation", Text: "Make Firefox Even More Secure with CyberVPN"}

func TestHub_AvailabilityIgnoresPrivateSurfaces(t *testing.T) {
	h := NewHub(nil, Options{})

	if h.Available() {
		t.Error("empty hub should not be available")
	}

	private, err := h.Attach("private-1", true)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if h.Available() {
		t.Error("private surfaces should not be eligible")
	}

	if err := h.Present(context.Background(), "s1", testMessage); !errors.Is(err, ErrNoSurface) {
		t.Errorf("Present() error = %v, expected ErrNoSurface", err)
	}

	if _, err := h.Attach("window-1", false); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if !h.Available() {
		t.Error("hub should be available with a non-private surface")
	}

	h.Detach(private)
}

func TestHub_AttachDuplicate(t *testing.T) {
	h := NewHub(nil, Options{})

	if _, err := h.Attach("w1", false); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if _, err := h.Attach("w1", false); !errors.Is(err, ErrSurfaceExists) {
		t.Errorf("expected ErrSurfaceExists, got %v", err)
	}
}

func TestHub_PresentTargetsLatestSurface(t *testing.T) {
	h := NewHub(nil, Options{})

	older, _ := h.Attach("w1", false)
	newer, _ := h.Attach("w2", false)
	_, _ = h.Attach("w3", true)

	if err := h.Present(context.Background(), "s1", testMessage); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	msg := receive(t, newer)
	if msg.Type != TypePresent || msg.Session != "s1" || msg.Header != testMessage.Header {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Primary != study.PrimaryButtonLabel || msg.Second != study.SecondaryButtonLabel {
		t.Errorf("unexpected button labels: %+v", msg)
	}

	select {
	case msg := <-older.Outbound():
		t.Errorf("older surface should not receive the panel, got %+v", msg)
	default:
	}

	if session, ok := h.PanelSession(); !ok || session != "s1" {
		t.Errorf("PanelSession() = %q, %v", session, ok)
	}
}

func TestHub_AutoDismissTimeout(t *testing.T) {
	h := NewHub(nil, Options{AutoDismissAfter: 20 * time.Millisecond})
	actions := newActionLog()
	h.OnAction(actions.record)

	s, _ := h.Attach("w1", false)
	if err := h.Present(context.Background(), "s1", testMessage); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	receive(t, s)

	action := actions.wait(t)
	if action.Kind != study.ActionAutoDismiss || action.Reason != study.ReasonTimeout || action.Session != "s1" {
		t.Errorf("unexpected action: %+v", action)
	}

	if msg := receive(t, s); msg.Type != TypeDestroy {
		t.Errorf("expected destroy after timeout, got %+v", msg)
	}
	if _, ok := h.PanelSession(); ok {
		t.Error("panel should be gone after timeout")
	}
}

func TestHub_DestroyCancelsTimer(t *testing.T) {
	h := NewHub(nil, Options{AutoDismissAfter: 20 * time.Millisecond})
	actions := newActionLog()
	h.OnAction(actions.record)

	s, _ := h.Attach("w1", false)
	_ = h.Present(context.Background(), "s1", testMessage)
	receive(t, s)

	if err := h.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if msg := receive(t, s); msg.Type != TypeDestroy {
		t.Errorf("expected destroy, got %+v", msg)
	}

	time.Sleep(60 * time.Millisecond)
	if n := actions.count(); n != 0 {
		t.Errorf("no auto-dismiss expected after destroy, got %d actions", n)
	}

	// Destroy with no panel is a no-op.
	if err := h.Destroy(context.Background()); err != nil {
		t.Errorf("second Destroy() error = %v", err)
	}
}

func TestHub_SurfaceClosedDismissesPanel(t *testing.T) {
	h := NewHub(nil, Options{})
	actions := newActionLog()
	h.OnAction(actions.record)

	s, _ := h.Attach("w1", false)
	_ = h.Present(context.Background(), "s1", testMessage)

	h.Detach(s)

	action := actions.wait(t)
	if action.Kind != study.ActionAutoDismiss || action.Reason != study.ReasonSurfaceClosed || action.Session != "s1" {
		t.Errorf("unexpected action: %+v", action)
	}
	if h.Available() {
		t.Error("hub should be empty after detach")
	}
}

func TestHub_OpenURL(t *testing.T) {
	h := NewHub(nil, Options{})

	if err := h.OpenURL(context.Background(), "https://example.com"); !errors.Is(err, ErrNoSurface) {
		t.Errorf("expected ErrNoSurface, got %v", err)
	}

	s, _ := h.Attach("w1", false)
	if err := h.OpenURL(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("OpenURL() error = %v", err)
	}
	if msg := receive(t, s); msg.Type != TypeOpenURL || msg.URL != "https://example.com" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestHub_NavigationsSkipPrivateSurfaces(t *testing.T) {
	h := NewHub(nil, Options{})
	_, _ = h.Attach("private", true)

	var got []string
	remove, err := h.ObserveNavigations(func(surfaceID, rawURL string) {
		got = append(got, surfaceID+" "+rawURL)
	})
	if err != nil {
		t.Fatalf("ObserveNavigations() error = %v", err)
	}

	if h.Navigate("private", "https://netflix.com") {
		t.Error("private navigation should be ignored")
	}
	if !h.Navigate("w1", "https://netflix.com") {
		t.Error("navigation should be relayed")
	}

	remove()
	h.Navigate("w1", "https://netflix.com")

	if len(got) != 1 || got[0] != "w1 https://netflix.com" {
		t.Errorf("unexpected navigations: %v", got)
	}
}

func TestHub_HandleMessage(t *testing.T) {
	h := NewHub(nil, Options{})
	actions := newActionLog()
	h.OnAction(actions.record)

	logins := 0
	h.OnCaptivePortalLogin(func() { logins++ })

	checked := true
	tests := []struct {
		name     string
		msg      Message
		expected study.UserAction
	}{
		{name: "primary", msg: Message{Type: "action"}, expected: study.UserAction{Kind: study.ActionPrimary}},
		{name: "toggle", msg: Message{Type: "dont-show-change", Checked: &checked}, expected: study.UserAction{Kind: study.ActionDontShowChange, Checked: true}},
		{name: "auto dismiss", msg: Message{Type: "auto-dismiss", Reason: "timeout"}, expected: study.UserAction{Kind: study.ActionAutoDismiss, Reason: "timeout"}},
		{name: "dismiss with session", msg: Message{Type: "dismiss", Session: "s7"}, expected: study.UserAction{Kind: study.ActionDismiss, Session: "s7"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.HandleMessage("w1", tt.msg); err != nil {
				t.Fatalf("HandleMessage() error = %v", err)
			}
			if got := actions.wait(t); got != tt.expected {
				t.Errorf("got %+v, expected %+v", got, tt.expected)
			}
		})
	}

	if err := h.HandleMessage("w1", Message{Type: TypeCaptivePortalLogin}); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if logins != 1 {
		t.Errorf("logins = %d, expected 1", logins)
	}

	if err := h.HandleMessage("w1", Message{Type: "bogus"}); err == nil {
		t.Error("expected error for unknown message type")
	}
}

func TestHub_WebSocketRoundTrip(t *testing.T) {
	h := NewHub(nil, Options{})
	actions := newActionLog()
	h.OnAction(actions.record)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeSurface(w, r, r.URL.Query().Get("surface"), false)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?surface=w1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !h.Available() {
		if time.Now().After(deadline) {
			t.Fatal("surface never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := h.Present(context.Background(), "s1", testMessage); err != nil {
		t.Fatalf("Present() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != TypePresent || msg.Session != "s1" {
		t.Errorf("unexpected message: %+v", msg)
	}

	if err := conn.WriteJSON(Message{Type: "dismiss"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if action := actions.wait(t); action.Kind != study.ActionDismiss {
		t.Errorf("unexpected action: %+v", action)
	}
}

func TestHub_CloseDetachesEverySurface(t *testing.T) {
	h := NewHub(nil, Options{})
	a, _ := h.Attach("w1", false)
	b, _ := h.Attach("w2", true)

	h.Close()

	for _, s := range []*Surface{a, b} {
		select {
		case <-s.Done():
		default:
			t.Errorf("surface %s still open", s.ID)
		}
	}
	if len(h.Surfaces()) != 0 {
		t.Error("hub should be empty after Close")
	}
}
