package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/service"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/state"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/telemetry"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoSession is returned when an action arrives with no panel open.
	ErrNoSession = errors.New("no open notification session")
	// ErrClosed is returned after the engine has been closed.
	ErrClosed = errors.New("policy engine closed")
	// ErrStaleSession is returned when an action names a panel that is no
	// longer open.
	ErrStaleSession = errors.New("action for a notification session that is not open")
)

// Config holds the policy constants and the panel content.
type Config struct {
	RateLimitWindow  time.Duration
	MaxNotifications int
	Landing          study.LandingPage
	Messages         study.MessageTable
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		RateLimitWindow:  state.DefaultRateLimitWindow,
		MaxNotifications: state.DefaultMaxNotifications,
		Landing:          study.DefaultLandingPage(),
	}
}

// Engine is the only path from a trigger event to a visible panel. It
// evaluates one event at a time and owns the single notification session.
type Engine struct {
	variation study.Variation
	cfg       Config

	store     service.PreferenceStore
	presenter service.Presenter
	opener    service.URLOpener
	telemetry telemetry.Sink
	metrics   *metrics.Metrics
	now       func() time.Time

	mu      sync.Mutex
	session *Session
	closed  bool
}

// NewEngine creates an engine for the assigned variation.
func NewEngine(v study.Variation, cfg Config, deps *service.Dependencies) (*Engine, error) {
	if deps == nil || deps.Store == nil {
		return nil, fmt.Errorf("policy engine requires a preference store")
	}
	if deps.Presenter == nil {
		return nil, fmt.Errorf("policy engine requires a presenter")
	}

	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = state.DefaultRateLimitWindow
	}
	if cfg.MaxNotifications <= 0 {
		cfg.MaxNotifications = state.DefaultMaxNotifications
	}
	if cfg.Landing.URL == "" {
		cfg.Landing = study.DefaultLandingPage()
	}

	sink := deps.Telemetry
	if sink == nil {
		sink = telemetry.NewDispatcher(nil)
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(nil)
	}

	return &Engine{
		variation: v,
		cfg:       cfg,
		store:     deps.Store,
		presenter: deps.Presenter,
		opener:    deps.Opener,
		telemetry: sink,
		metrics:   m,
		now:       time.Now,
	}, nil
}

// SetClock replaces the time source. Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Variation returns the variation the engine evaluates for.
func (e *Engine) Variation() study.Variation {
	return e.variation
}

// Session returns a copy of the open session, if any.
func (e *Engine) Session() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return Session{}, false
	}
	return *e.session, true
}

// Evaluate runs the notification policy for one trigger event.
func (e *Engine) Evaluate(ctx context.Context, event signal.TriggerEvent) (Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	decision, err := e.evaluate(ctx, event)
	e.metrics.Decisions.WithLabelValues(string(event.Kind), string(decision)).Inc()
	if err != nil {
		logrus.Errorf("policy evaluation for %s failed: %v", event.Kind, err)
	} else {
		logrus.Debugf("policy decision for %s: %s", event.Kind, decision)
	}
	return decision, err
}

func (e *Engine) evaluate(ctx context.Context, event signal.TriggerEvent) (Decision, error) {
	if e.closed {
		return DecisionClosed, nil
	}

	kind := event.Kind
	now := event.Timestamp
	if now.IsZero() {
		now = e.now()
	}
	offBranch := !kind.Matches(e.variation)

	e.telemetry.Record(telemetry.TriggerFired(string(kind), offBranch))

	history, err := e.store.History(ctx, kind)
	if err != nil {
		return DecisionError, fmt.Errorf("failed to read history for %s: %w", kind, err)
	}

	if state.IsRateLimited(history, now, e.cfg.RateLimitWindow) {
		logrus.Infof("%s rate limited: last shown %s", kind, history.LastShownAt.Format(time.RFC3339))
		return DecisionRateLimited, nil
	}
	if state.IsCapped(history, e.cfg.MaxNotifications) {
		logrus.Infof("%s capped at %d notifications", kind, history.ShownCount)
		return DecisionCapped, nil
	}
	if !e.presenter.Available() {
		logrus.Infof("%s suppressed: no eligible surface", kind)
		return DecisionUnavailable, nil
	}

	optOut, err := e.store.OptOut(ctx)
	if err != nil {
		return DecisionError, fmt.Errorf("failed to read opt-out flag: %w", err)
	}
	shadow := offBranch || optOut

	if !shadow && e.session != nil {
		logrus.Infof("%s suppressed: session %s still open", kind, e.session.ID)
		return DecisionSessionOpen, nil
	}

	updated, err := e.store.UpdateHistory(ctx, kind, func(h *state.TriggerHistory) {
		state.RecordNotification(h, now)
	})
	if err != nil {
		return DecisionError, fmt.Errorf("failed to update history for %s: %w", kind, err)
	}
	e.telemetry.Record(telemetry.NotificationCounted(string(kind), shadow, updated.ShownCount))

	if shadow {
		logrus.Infof("%s recorded as shadow (count %d, opt-out %v)", kind, updated.ShownCount, optOut)
		return DecisionShadow, nil
	}

	msg, ok := e.cfg.Messages.Lookup(e.variation)
	if !ok {
		return DecisionError, fmt.Errorf("no panel message for variation %s", e.variation)
	}

	session := newSession(kind, now, updated.ShownCount)
	if err := e.presenter.Present(ctx, session.ID, msg); err != nil {
		logrus.Warnf("presenter refused %s notification: %v", kind, err)
		return DecisionRefused, nil
	}

	e.session = session
	e.metrics.SessionsOpen.Set(1)
	e.telemetry.Record(telemetry.NotificationDelivered(string(kind), session.ID, session.Ordinal))

	logrus.Infof("notification %d for %s delivered (session %s)", session.Ordinal, kind, session.ID)
	return DecisionShown, nil
}

// HandleAction applies a user action reported by the presenter.
func (e *Engine) HandleAction(ctx context.Context, action study.UserAction) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if action.Session != "" && (e.session == nil || e.session.ID != action.Session) {
		logrus.Infof("%s for session %s ignored: panel no longer open", action.Kind, action.Session)
		return ErrStaleSession
	}

	switch action.Kind {
	case study.ActionDontShowChange:
		return e.toggleOptOut(ctx, action.Checked)

	case study.ActionInfo:
		if e.session == nil {
			return ErrNoSession
		}
		e.telemetry.Record(telemetry.InfoClicked(e.session.ID))
		return nil

	case study.ActionPrimary:
		if e.session == nil {
			return ErrNoSession
		}
		var openErr error
		if landing, err := e.cfg.Landing.BuildURL(e.variation); err != nil {
			openErr = err
		} else if e.opener != nil {
			openErr = e.opener.OpenURL(ctx, landing)
		}
		e.finalizeLocked(ctx, OutcomeAction)
		if openErr != nil {
			return fmt.Errorf("failed to open landing page: %w", openErr)
		}
		return nil

	case study.ActionDismiss:
		if e.session == nil {
			return ErrNoSession
		}
		e.finalizeLocked(ctx, OutcomeDismiss)
		return nil

	case study.ActionAutoDismiss:
		if e.session == nil {
			return ErrNoSession
		}
		e.telemetry.Record(telemetry.AutoDismiss(action.Reason))
		e.finalizeLocked(ctx, OutcomeAutoDismiss)
		return nil

	default:
		return fmt.Errorf("unsupported panel action %q", action.Kind)
	}
}

// toggleOptOut persists a checked box immediately. Unchecking only updates
// the session; the stored flag is cleared by cleanup alone.
func (e *Engine) toggleOptOut(ctx context.Context, checked bool) error {
	if e.session != nil {
		e.session.OptOutChecked = checked
	}
	if !checked {
		return nil
	}
	if err := e.store.SetOptOut(ctx, true); err != nil {
		return fmt.Errorf("failed to persist opt-out: %w", err)
	}
	logrus.Info("user opted out of further recommendations")
	return nil
}

// Finalize closes the open session with outcome and flushes its result.
// It reports false when no session was open.
func (e *Engine) Finalize(ctx context.Context, outcome Outcome) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalizeLocked(ctx, outcome)
}

func (e *Engine) finalizeLocked(ctx context.Context, outcome Outcome) bool {
	s := e.session
	if s == nil {
		return false
	}
	e.session = nil
	s.Outcome = outcome

	if err := e.presenter.Destroy(ctx); err != nil {
		logrus.Warnf("failed to remove panel for session %s: %v", s.ID, err)
	}

	e.telemetry.Record(telemetry.NotificationResult(string(s.Trigger), s.ID, s.Ordinal, s.OptOutChecked, string(outcome)))
	e.metrics.SessionsOpen.Set(0)
	e.metrics.SessionResults.WithLabelValues(string(outcome)).Inc()

	logrus.Infof("session %s finished: %s", s.ID, outcome)
	return true
}

// Close stops evaluation and flushes any open session as unknown. Calling
// it again is a no-op.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.finalizeLocked(ctx, OutcomeUnknown)
	return nil
}
