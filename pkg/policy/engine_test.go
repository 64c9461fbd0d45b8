package policy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/service"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/service/mock"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/state"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/telemetry"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	engine    *Engine
	store     service.PreferenceStore
	presenter *mock.Presenter
	recorder  *mock.Recorder
}

func newFixture(t *testing.T, v study.Variation, store service.PreferenceStore, cfg Config) *fixture {
	t.Helper()

	if store == nil {
		store = mock.NewPreferenceStore()
	}
	presenter := mock.NewPresenter()
	recorder := mock.NewRecorder()

	deps := service.NewDependencies().
		WithStore(store).
		WithPresenter(presenter).
		WithTelemetry(recorder)

	engine, err := NewEngine(v, cfg, deps)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	engine.SetClock(func() time.Time { return baseTime })

	return &fixture{engine: engine, store: store, presenter: presenter, recorder: recorder}
}

func (f *fixture) fire(t *testing.T, kind study.TriggerKind, at time.Time) Decision {
	t.Helper()
	decision, err := f.engine.Evaluate(context.Background(), signal.NewTriggerEvent(kind, at))
	if err != nil {
		t.Fatalf("Evaluate(%s) error = %v", kind, err)
	}
	return decision
}

func (f *fixture) history(t *testing.T, kind study.TriggerKind) state.TriggerHistory {
	t.Helper()
	h, err := f.store.History(context.Background(), kind)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	return h
}

func setupRedisStore(t *testing.T) (*state.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return state.NewRedisStore(client, ""), mr
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	if _, err := NewEngine(study.VariationCatchAll, DefaultConfig(), nil); err == nil {
		t.Error("expected error without dependencies")
	}

	deps := service.NewDependencies().WithStore(mock.NewPreferenceStore())
	if _, err := NewEngine(study.VariationCatchAll, DefaultConfig(), deps); err == nil {
		t.Error("expected error without presenter")
	}
}

func TestEngine_ShowsMatchingTrigger(t *testing.T) {
	f := newFixture(t, study.VariationStreamingHostname, nil, DefaultConfig())

	if d := f.fire(t, study.TriggerStreamingHostname, baseTime); d != DecisionShown {
		t.Fatalf("decision = %s, expected shown", d)
	}

	session, ok := f.engine.Session()
	if !ok {
		t.Fatal("expected an open session")
	}
	if session.Ordinal != 1 || session.Trigger != study.TriggerStreamingHostname || session.Outcome != OutcomeUnknown {
		t.Errorf("unexpected session: %+v", session)
	}
	if session.ID == "" {
		t.Error("session should have an id")
	}

	if f.presenter.Presented() != 1 {
		t.Fatalf("expected one Present call, got %d", f.presenter.Presented())
	}
	call := f.presenter.PresentCalls[0]
	if call.Session != session.ID {
		t.Errorf("presented session = %s, expected %s", call.Session, session.ID)
	}
	if call.Message != study.DefaultMessages[study.VariationStreamingHostname] {
		t.Errorf("unexpected message: %+v", call.Message)
	}

	fired := f.recorder.Events(telemetry.EventTriggerFired)
	if len(fired) != 1 || fired[0]["is-shadow"] != "false" {
		t.Errorf("unexpected trigger-fired records: %v", fired)
	}
	counted := f.recorder.Events(telemetry.EventNotificationCount)
	if len(counted) != 1 || counted[0]["number_of_notifications"] != "1" {
		t.Errorf("unexpected notification-count records: %v", counted)
	}
	if f.recorder.Count(telemetry.EventNotificationDelivered) != 1 {
		t.Error("expected notification-delivered")
	}
}

func TestEngine_ShadowTrigger(t *testing.T) {
	f := newFixture(t, study.VariationCaptivePortal, nil, DefaultConfig())

	if d := f.fire(t, study.TriggerStreamingHostname, baseTime); d != DecisionShadow {
		t.Fatalf("decision = %s, expected shadow", d)
	}

	if f.presenter.Presented() != 0 {
		t.Error("shadow evaluation must not present UI")
	}
	if _, ok := f.engine.Session(); ok {
		t.Error("shadow evaluation must not open a session")
	}

	fired := f.recorder.Events(telemetry.EventTriggerFired)
	if len(fired) != 1 || fired[0]["is-shadow"] != "true" {
		t.Errorf("unexpected trigger-fired records: %v", fired)
	}
	shadow := f.recorder.Events(telemetry.EventShadowNotification)
	if len(shadow) != 1 || shadow[0]["number_of_notifications"] != "1" {
		t.Errorf("unexpected shadow-notification records: %v", shadow)
	}
	if h := f.history(t, study.TriggerStreamingHostname); h.ShownCount != 1 || !h.LastShownAt.Equal(baseTime) {
		t.Errorf("unexpected history: %+v", h)
	}
}

func TestEngine_ControlNeverShows(t *testing.T) {
	f := newFixture(t, study.VariationControl, nil, DefaultConfig())

	for _, kind := range study.TriggerKinds {
		if d := f.fire(t, kind, baseTime); d != DecisionShadow {
			t.Errorf("%s: decision = %s, expected shadow", kind, d)
		}
	}
	if f.presenter.Presented() != 0 {
		t.Error("control must never present UI")
	}
}

// Scenario B: a tracked hostname is visited twice within an hour.
func TestEngine_RateLimitWithinWindow(t *testing.T) {
	store, mr := setupRedisStore(t)
	defer mr.Close()

	f := newFixture(t, study.VariationStreamingHostname, store, DefaultConfig())

	if d := f.fire(t, study.TriggerStreamingHostname, baseTime); d != DecisionShown {
		t.Fatalf("first visit decision = %s, expected shown", d)
	}
	if session, _ := f.engine.Session(); session.Ordinal != 1 {
		t.Errorf("ordinal = %d, expected 1", session.Ordinal)
	}

	if d := f.fire(t, study.TriggerStreamingHostname, baseTime.Add(time.Hour)); d != DecisionRateLimited {
		t.Fatalf("second visit decision = %s, expected rate-limited", d)
	}
	if h := f.history(t, study.TriggerStreamingHostname); h.ShownCount != 1 {
		t.Errorf("shownCount = %d, expected 1", h.ShownCount)
	}
	if f.presenter.Presented() != 1 {
		t.Errorf("expected a single Present call, got %d", f.presenter.Presented())
	}
	if f.recorder.Count(telemetry.EventTriggerFired) != 2 {
		t.Error("trigger-fired must be recorded even when rate limited")
	}
}

func TestEngine_RateLimitNeverChangesCount(t *testing.T) {
	for _, kind := range study.TriggerKinds {
		t.Run(string(kind), func(t *testing.T) {
			store := mock.NewPreferenceStore()
			store.Histories[kind] = state.TriggerHistory{LastShownAt: baseTime.Add(-23 * time.Hour), ShownCount: 1}

			f := newFixture(t, study.Variation(kind), store, DefaultConfig())
			if d := f.fire(t, kind, baseTime); d != DecisionRateLimited {
				t.Errorf("decision = %s, expected rate-limited", d)
			}
			if h := f.history(t, kind); h.ShownCount != 1 {
				t.Errorf("shownCount = %d, expected 1", h.ShownCount)
			}
			if _, ok := f.engine.Session(); ok {
				t.Error("no session expected")
			}
		})
	}
}

func TestEngine_Cap(t *testing.T) {
	tests := []struct {
		name      string
		variation study.Variation
	}{
		{name: "matching kind", variation: study.VariationCatchAll},
		{name: "shadow kind", variation: study.VariationCaptivePortal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.NewPreferenceStore()
			store.Histories[study.TriggerCatchAll] = state.TriggerHistory{
				LastShownAt: baseTime.Add(-72 * time.Hour),
				ShownCount:  3,
			}

			f := newFixture(t, tt.variation, store, DefaultConfig())
			if d := f.fire(t, study.TriggerCatchAll, baseTime); d != DecisionCapped {
				t.Errorf("decision = %s, expected capped", d)
			}
			if h := f.history(t, study.TriggerCatchAll); h.ShownCount != 3 {
				t.Errorf("shownCount = %d, expected 3", h.ShownCount)
			}
		})
	}
}

func TestEngine_OptOutKeepsBookkeeping(t *testing.T) {
	store := mock.NewPreferenceStore()
	store.OptOutChecked = true

	f := newFixture(t, study.VariationCatchAll, store, DefaultConfig())

	if d := f.fire(t, study.TriggerCatchAll, baseTime); d != DecisionShadow {
		t.Fatalf("decision = %s, expected shadow", d)
	}
	if f.presenter.Presented() != 0 {
		t.Error("opt-out must suppress UI")
	}
	if h := f.history(t, study.TriggerCatchAll); h.ShownCount != 1 {
		t.Errorf("shownCount = %d, expected 1", h.ShownCount)
	}
	if f.recorder.Count(telemetry.EventShadowNotification) != 1 {
		t.Error("expected shadow-notification telemetry")
	}
}

func TestEngine_Unavailable(t *testing.T) {
	f := newFixture(t, study.VariationCatchAll, nil, DefaultConfig())
	f.presenter.Unavailable = true

	if d := f.fire(t, study.TriggerCatchAll, baseTime); d != DecisionUnavailable {
		t.Fatalf("decision = %s, expected unavailable", d)
	}
	if h := f.history(t, study.TriggerCatchAll); h.ShownCount != 0 {
		t.Errorf("shownCount = %d, expected 0", h.ShownCount)
	}
}

func TestEngine_PresenterRefusal(t *testing.T) {
	f := newFixture(t, study.VariationCatchAll, nil, DefaultConfig())
	f.presenter.Refuse = true

	if d := f.fire(t, study.TriggerCatchAll, baseTime); d != DecisionRefused {
		t.Fatalf("decision = %s, expected refused", d)
	}
	if _, ok := f.engine.Session(); ok {
		t.Error("refusal must not open a session")
	}
	if h := f.history(t, study.TriggerCatchAll); h.ShownCount != 1 {
		t.Errorf("shownCount = %d, expected 1", h.ShownCount)
	}
	if f.recorder.Count(telemetry.EventNotificationDelivered) != 0 {
		t.Error("no notification-delivered expected after refusal")
	}
}

func TestEngine_SingleOpenSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitWindow = time.Minute
	f := newFixture(t, study.VariationCatchAll, nil, cfg)

	if d := f.fire(t, study.TriggerCatchAll, baseTime); d != DecisionShown {
		t.Fatalf("decision = %s, expected shown", d)
	}
	if d := f.fire(t, study.TriggerCatchAll, baseTime.Add(2*time.Minute)); d != DecisionSessionOpen {
		t.Fatalf("decision = %s, expected session-open", d)
	}
	if h := f.history(t, study.TriggerCatchAll); h.ShownCount != 1 {
		t.Errorf("shownCount = %d, expected 1", h.ShownCount)
	}

	// A shadow kind is still recorded while the session is open.
	if d := f.fire(t, study.TriggerCaptivePortal, baseTime.Add(3*time.Minute)); d != DecisionShadow {
		t.Errorf("decision = %s, expected shadow", d)
	}
}

// Scenario D: the box is checked mid-session, then the primary button is
// clicked.
func TestEngine_OptOutThenAction(t *testing.T) {
	store, mr := setupRedisStore(t)
	defer mr.Close()

	f := newFixture(t, study.VariationPrivacyHostname, store, DefaultConfig())
	ctx := context.Background()

	if d := f.fire(t, study.TriggerPrivacyHostname, baseTime); d != DecisionShown {
		t.Fatalf("decision = %s, expected shown", d)
	}
	session, _ := f.engine.Session()

	if err := f.engine.HandleAction(ctx, study.UserAction{Kind: study.ActionDontShowChange, Checked: true}); err != nil {
		t.Fatalf("toggle error = %v", err)
	}
	if optOut, _ := store.OptOut(ctx); !optOut {
		t.Error("opt-out should be persisted immediately")
	}

	if err := f.engine.HandleAction(ctx, study.UserAction{Kind: study.ActionPrimary}); err != nil {
		t.Fatalf("action error = %v", err)
	}

	results := f.recorder.Events(telemetry.EventNotificationResult)
	if len(results) != 1 {
		t.Fatalf("expected one notification_result, got %d", len(results))
	}
	result := results[0]
	if result["outcome"] != "action" || result["dont_show_checked"] != "true" || result["notification_number"] != "1" {
		t.Errorf("unexpected result: %v", result)
	}
	if result["session_id"] != session.ID || result["trigger"] != string(study.TriggerPrivacyHostname) {
		t.Errorf("unexpected result identity: %v", result)
	}

	if len(f.presenter.OpenedURLs) != 1 {
		t.Fatalf("expected one opened url, got %v", f.presenter.OpenedURLs)
	}
	if !strings.Contains(f.presenter.OpenedURLs[0], "utm_content=privacy-hostname") {
		t.Errorf("landing url missing variation: %s", f.presenter.OpenedURLs[0])
	}
	if f.presenter.DestroyCalls != 1 {
		t.Errorf("DestroyCalls = %d, expected 1", f.presenter.DestroyCalls)
	}
	if _, ok := f.engine.Session(); ok {
		t.Error("session should be closed")
	}
}

func TestEngine_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		action      study.UserAction
		outcome     string
		autoDismiss int
	}{
		{name: "dismiss", action: study.UserAction{Kind: study.ActionDismiss}, outcome: "dismiss"},
		{name: "dismiss with legacy checked", action: study.UserAction{Kind: study.ActionDismiss, Checked: true}, outcome: "dismiss"},
		{name: "timeout", action: study.UserAction{Kind: study.ActionAutoDismiss, Reason: study.ReasonTimeout}, outcome: "auto-dismiss", autoDismiss: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.NewPreferenceStore()
			f := newFixture(t, study.VariationCatchAll, store, DefaultConfig())
			f.fire(t, study.TriggerCatchAll, baseTime)

			if err := f.engine.HandleAction(context.Background(), tt.action); err != nil {
				t.Fatalf("HandleAction() error = %v", err)
			}

			results := f.recorder.Events(telemetry.EventNotificationResult)
			if len(results) != 1 || results[0]["outcome"] != tt.outcome || results[0]["dont_show_checked"] != "false" {
				t.Errorf("unexpected results: %v", results)
			}
			if got := f.recorder.Count(telemetry.EventAutoDismiss); got != tt.autoDismiss {
				t.Errorf("auto-dismiss records = %d, expected %d", got, tt.autoDismiss)
			}
			if store.OptOutChecked {
				t.Error("dismiss must not set the opt-out flag")
			}
		})
	}
}

func TestEngine_InfoKeepsSessionOpen(t *testing.T) {
	f := newFixture(t, study.VariationCatchAll, nil, DefaultConfig())
	f.fire(t, study.TriggerCatchAll, baseTime)
	session, _ := f.engine.Session()

	if err := f.engine.HandleAction(context.Background(), study.UserAction{Kind: study.ActionInfo}); err != nil {
		t.Fatalf("HandleAction() error = %v", err)
	}

	info := f.recorder.Events(telemetry.EventInfoClicked)
	if len(info) != 1 || info[0]["session_id"] != session.ID {
		t.Errorf("unexpected info-clicked records: %v", info)
	}
	if _, ok := f.engine.Session(); !ok {
		t.Error("info must not close the session")
	}
}

func TestEngine_FinalizeIsIdempotent(t *testing.T) {
	f := newFixture(t, study.VariationCatchAll, nil, DefaultConfig())
	f.fire(t, study.TriggerCatchAll, baseTime)
	ctx := context.Background()

	if !f.engine.Finalize(ctx, OutcomeDismiss) {
		t.Error("first Finalize() should flush")
	}
	if f.engine.Finalize(ctx, OutcomeDismiss) {
		t.Error("second Finalize() should be a no-op")
	}
	if got := f.recorder.Count(telemetry.EventNotificationResult); got != 1 {
		t.Errorf("notification_result records = %d, expected 1", got)
	}
}

func TestEngine_ActionsWithoutSession(t *testing.T) {
	store := mock.NewPreferenceStore()
	f := newFixture(t, study.VariationCatchAll, store, DefaultConfig())
	ctx := context.Background()

	for _, kind := range []study.ActionKind{study.ActionPrimary, study.ActionDismiss, study.ActionAutoDismiss, study.ActionInfo} {
		if err := f.engine.HandleAction(ctx, study.UserAction{Kind: kind}); !errors.Is(err, ErrNoSession) {
			t.Errorf("%s: error = %v, expected ErrNoSession", kind, err)
		}
	}

	if err := f.engine.HandleAction(ctx, study.UserAction{Kind: study.ActionDontShowChange, Checked: true}); err != nil {
		t.Fatalf("toggle error = %v", err)
	}
	if !store.OptOutChecked {
		t.Error("toggle without a session should still set the flag")
	}

	if err := f.engine.HandleAction(ctx, study.UserAction{Kind: study.ActionDontShowChange, Checked: false}); err != nil {
		t.Fatalf("untoggle error = %v", err)
	}
	if !store.OptOutChecked {
		t.Error("unchecking must not clear the stored flag")
	}

	if f.recorder.Count(telemetry.EventNotificationResult) != 0 {
		t.Error("no result expected without a session")
	}
}

func TestEngine_StaleSessionActionsIgnored(t *testing.T) {
	store := mock.NewPreferenceStore()
	f := newFixture(t, study.VariationStreamingHostname, store, DefaultConfig())
	ctx := context.Background()

	if d := f.fire(t, study.TriggerStreamingHostname, baseTime); d != DecisionShown {
		t.Fatalf("decision = %s, expected shown", d)
	}
	session, _ := f.engine.Session()

	tests := []struct {
		name   string
		action study.UserAction
	}{
		{name: "late dismiss", action: study.UserAction{Kind: study.ActionDismiss, Session: "earlier"}},
		{name: "late primary", action: study.UserAction{Kind: study.ActionPrimary, Session: "earlier"}},
		{name: "late timeout", action: study.UserAction{Kind: study.ActionAutoDismiss, Reason: study.ReasonTimeout, Session: "earlier"}},
		{name: "late toggle", action: study.UserAction{Kind: study.ActionDontShowChange, Checked: true, Session: "earlier"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.engine.HandleAction(ctx, tt.action); !errors.Is(err, ErrStaleSession) {
				t.Errorf("error = %v, expected ErrStaleSession", err)
			}
		})
	}

	if current, ok := f.engine.Session(); !ok || current.ID != session.ID {
		t.Fatal("the open session must survive actions for another panel")
	}
	if store.OptOutChecked {
		t.Error("a stale toggle must not set the opt-out flag")
	}
	if f.recorder.Count(telemetry.EventNotificationResult) != 0 {
		t.Error("no result expected from stale actions")
	}

	if err := f.engine.HandleAction(ctx, study.UserAction{Kind: study.ActionDismiss, Session: session.ID}); err != nil {
		t.Fatalf("matching dismiss error = %v", err)
	}
	results := f.recorder.Events(telemetry.EventNotificationResult)
	if len(results) != 1 || results[0]["outcome"] != string(OutcomeDismiss) {
		t.Errorf("unexpected results: %v", results)
	}

	// Once the panel is gone, its own late actions are stale as well.
	if err := f.engine.HandleAction(ctx, study.UserAction{Kind: study.ActionDismiss, Session: session.ID}); !errors.Is(err, ErrStaleSession) {
		t.Errorf("error = %v, expected ErrStaleSession", err)
	}
}

func TestEngine_UncheckRecordedOnSession(t *testing.T) {
	f := newFixture(t, study.VariationCatchAll, nil, DefaultConfig())
	f.fire(t, study.TriggerCatchAll, baseTime)
	ctx := context.Background()

	_ = f.engine.HandleAction(ctx, study.UserAction{Kind: study.ActionDontShowChange, Checked: true})
	_ = f.engine.HandleAction(ctx, study.UserAction{Kind: study.ActionDontShowChange, Checked: false})
	_ = f.engine.HandleAction(ctx, study.UserAction{Kind: study.ActionDismiss})

	results := f.recorder.Events(telemetry.EventNotificationResult)
	if len(results) != 1 || results[0]["dont_show_checked"] != "false" {
		t.Errorf("unexpected results: %v", results)
	}
}

func TestEngine_CloseFlushesUnknown(t *testing.T) {
	f := newFixture(t, study.VariationCatchAll, nil, DefaultConfig())
	f.fire(t, study.TriggerCatchAll, baseTime)
	ctx := context.Background()

	if err := f.engine.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := f.engine.Close(ctx); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	results := f.recorder.Events(telemetry.EventNotificationResult)
	if len(results) != 1 || results[0]["outcome"] != "unknown" {
		t.Errorf("unexpected results: %v", results)
	}
	if f.presenter.DestroyCalls != 1 {
		t.Errorf("DestroyCalls = %d, expected 1", f.presenter.DestroyCalls)
	}

	if d := f.fire(t, study.TriggerCatchAll, baseTime.Add(48*time.Hour)); d != DecisionClosed {
		t.Errorf("decision after close = %s, expected closed", d)
	}
}

func TestEngine_StoreError(t *testing.T) {
	store := mock.NewPreferenceStore()
	store.DefaultError = errors.New("redis down")

	f := newFixture(t, study.VariationCatchAll, store, DefaultConfig())

	decision, err := f.engine.Evaluate(context.Background(), signal.NewTriggerEvent(study.TriggerCatchAll, baseTime))
	if decision != DecisionError {
		t.Errorf("decision = %s, expected error", decision)
	}
	if !errors.Is(err, store.DefaultError) {
		t.Errorf("error = %v, expected wrapped store error", err)
	}
	if f.presenter.Presented() != 0 {
		t.Error("no UI expected when the store fails")
	}
}

func TestEngine_CountsAcrossWindows(t *testing.T) {
	f := newFixture(t, study.VariationCatchAll, nil, DefaultConfig())
	ctx := context.Background()

	expected := []Decision{DecisionShown, DecisionShown, DecisionShown, DecisionCapped}
	for i, want := range expected {
		at := baseTime.Add(time.Duration(i) * 25 * time.Hour)
		if d := f.fire(t, study.TriggerCatchAll, at); d != want {
			t.Fatalf("fire %d: decision = %s, expected %s", i+1, d, want)
		}
		if want == DecisionShown {
			session, _ := f.engine.Session()
			if session.Ordinal != i+1 {
				t.Errorf("fire %d: ordinal = %d", i+1, session.Ordinal)
			}
			_ = f.engine.HandleAction(ctx, study.UserAction{Kind: study.ActionDismiss})
		}
	}

	if h := f.history(t, study.TriggerCatchAll); h.ShownCount != 3 {
		t.Errorf("shownCount = %d, expected 3", h.ShownCount)
	}
}
