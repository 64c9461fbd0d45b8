package recommender

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/lifecycle"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/pipeline"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/policy"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/service"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/state"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/telemetry"

	"github.com/sirupsen/logrus"
)

// ReasonShutdown is the teardown reason used by Suspend.
const ReasonShutdown = "process-shutdown"

// Store is everything the study persists.
type Store interface {
	service.StudyStore
	service.PreferenceStore
}

// Dependencies holds what a study needs.
type Dependencies struct {
	Store     Store
	Presenter service.Presenter
	Opener    service.URLOpener
	Sources   *signal.SourceRegistry
	Telemetry *telemetry.Dispatcher
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Manager
	Logger    *slog.Logger
}

// Options tunes a study.
type Options struct {
	// ForcedVariation is used when no override or stored variation exists.
	ForcedVariation string
	// Intn draws the weighted variation. Nil uses a time-seeded source.
	Intn func(int) int
}

// Study owns one run of the recommendation study: variation assignment,
// the telemetry sink, the policy engine, the evaluation queue and the
// trigger subscriptions, all torn down through one lifecycle manager.
type Study struct {
	cfg  *pipeline.Config
	deps Dependencies
	opts Options

	mu         sync.RWMutex
	assignment Assignment
	engine     *policy.Engine
	queue      *pipeline.Manager
	registry   *signal.Registry
	subscribed []study.TriggerKind

	suspended atomic.Bool
}

// Internals describes the running study.
type Internals struct {
	Variation  study.Variation     `json:"variation"`
	Assignment string              `json:"assignment"`
	State      string              `json:"state"`
	Subscribed []study.TriggerKind `json:"subscribed"`
	Session    *policy.Session     `json:"session,omitempty"`
	Queue      pipeline.Stats      `json:"queue"`
	Prefs      state.Snapshot      `json:"prefs"`
}

// New creates a study. Nothing is subscribed until Start.
func New(cfg *pipeline.Config, deps Dependencies, opts Options) (*Study, error) {
	if cfg == nil {
		cfg = pipeline.DefaultConfig()
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("study requires a store")
	}
	if deps.Presenter == nil {
		return nil, fmt.Errorf("study requires a presenter")
	}
	if deps.Sources == nil {
		deps.Sources = signal.NewSourceRegistry()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NewDispatcher(nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = lifecycle.NewManager()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Study{cfg: cfg, deps: deps, opts: opts}, nil
}

// ConfigureTelemetry sets the single telemetry sink, replacing any earlier
// one.
func (s *Study) ConfigureTelemetry(sink telemetry.Sink) {
	s.deps.Telemetry.SetSink(sink)
}

// Lifecycle returns the lifecycle manager of the study.
func (s *Study) Lifecycle() *lifecycle.Manager {
	return s.deps.Lifecycle
}

// Variation returns the assigned variation, empty before Start.
func (s *Study) Variation() study.Variation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assignment.Variation
}

// Start assigns the variation, reports study-start on the first run, and
// subscribes the trigger sources.
//
// ============================================================
// DEVELOPER: Cleanup order
// ============================================================
// Cleanup callbacks run in reverse registration order, so the
// registrations below are made bottom-up:
// 1. report study-end                (runs last)
// 2. stop the evaluation queue
// 3. close the policy engine         (flushes an open session)
// 4. unsubscribe each trigger source
// 5. close the trigger registry      (runs first, drops new events)
// The preference reset hook runs after all of them. Suspend
// skips the study-end report and the reset.
// ============================================================
func (s *Study) Start(ctx context.Context) error {
	lc := s.deps.Lifecycle
	if err := lc.Start(); err != nil {
		return fmt.Errorf("failed to start study: %w", err)
	}
	lc.SetResetHook(func(ctx context.Context) error {
		if s.suspended.Load() {
			return nil
		}
		return s.deps.Store.Reset(ctx)
	})

	assignment, err := AssignVariation(ctx, s.deps.Store, s.opts.ForcedVariation, s.cfg.Study.Weights, s.opts.Intn)
	if err != nil {
		return fmt.Errorf("failed to assign variation: %w", err)
	}
	v := assignment.Variation
	logrus.Infof("study %s running variation %s (%s)", s.cfg.Study.Name, v, assignment.Source)

	if debug, err := s.deps.Store.DebugMode(ctx); err != nil {
		logrus.Warnf("failed to read debug mode: %v", err)
	} else if debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	started, err := s.deps.Store.Started(ctx)
	if err != nil {
		return fmt.Errorf("failed to read started marker: %w", err)
	}
	if !started {
		s.deps.Telemetry.Record(telemetry.StudyStart(string(v)))
		if err := s.deps.Store.MarkStarted(ctx); err != nil {
			return fmt.Errorf("failed to mark study started: %w", err)
		}
	}
	if err := s.deps.Store.SetVariation(ctx, v); err != nil {
		return fmt.Errorf("failed to store variation: %w", err)
	}

	engineDeps := service.NewDependencies().
		WithStore(s.deps.Store).
		WithPresenter(s.deps.Presenter).
		WithTelemetry(s.deps.Telemetry).
		WithMetrics(s.deps.Metrics)
	if s.deps.Opener != nil {
		engineDeps.WithOpener(s.deps.Opener)
	}

	engine, err := policy.NewEngine(v, policy.Config{
		RateLimitWindow:  s.cfg.Policy.RateLimitWindow,
		MaxNotifications: s.cfg.Policy.MaxNotifications,
		Landing:          s.cfg.Landing,
		Messages:         s.cfg.MessageTable(),
	}, engineDeps)
	if err != nil {
		return fmt.Errorf("failed to create policy engine: %w", err)
	}

	if err := lc.Register("report study end", func(ctx context.Context) error {
		if s.suspended.Load() {
			return nil
		}
		s.deps.Telemetry.Record(telemetry.StudyEnd(lc.Reason()))
		return nil
	}); err != nil {
		return fmt.Errorf("failed to register study end: %w", err)
	}

	queue := pipeline.NewManager(engine, s.cfg.Queue.Size, s.deps.Metrics, s.deps.Logger)
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	if err := lc.Register("stop pipeline", queue.Stop); err != nil {
		_ = queue.Stop(ctx)
		return fmt.Errorf("failed to register pipeline cleanup: %w", err)
	}
	if err := lc.Register("close policy engine", engine.Close); err != nil {
		return fmt.Errorf("failed to register engine cleanup: %w", err)
	}

	registry := signal.NewRegistry(s.deps.Sources, lc, queue.EnqueueTrigger, signal.Options{
		ShadowTracking: s.cfg.ShadowTrackingEnabled(),
	})

	s.mu.Lock()
	s.assignment = assignment
	s.engine = engine
	s.queue = queue
	s.registry = registry
	s.mu.Unlock()

	subscribed, err := registry.Start(ctx, v)
	if err != nil {
		return fmt.Errorf("failed to start trigger registry: %w", err)
	}

	s.mu.Lock()
	s.subscribed = subscribed
	s.mu.Unlock()

	return nil
}

// ReportAction queues a user action from the presenter. Actions reported
// before Start or after teardown are dropped.
func (s *Study) ReportAction(action study.UserAction) {
	s.mu.RLock()
	queue := s.queue
	s.mu.RUnlock()

	if queue == nil {
		logrus.Debugf("panel action %s dropped: study not started", action.Kind)
		return
	}
	queue.EnqueueAction(action)
}

// Flush waits until every queued evaluation and action has run.
func (s *Study) Flush(ctx context.Context) error {
	s.mu.RLock()
	queue := s.queue
	s.mu.RUnlock()

	if queue == nil {
		return nil
	}
	return queue.Flush(ctx)
}

// Teardown ends the study: every cleanup callback, then the preference
// reset. Only the first call does anything.
func (s *Study) Teardown(ctx context.Context, reason string) error {
	return s.deps.Lifecycle.Teardown(ctx, reason)
}

// Suspend stops the study for a process shutdown. Subscriptions, the queue
// and any open session are closed as in Teardown, but the preferences are
// kept and no study-end is reported, so the next run resumes the study.
func (s *Study) Suspend(ctx context.Context) error {
	s.suspended.Store(true)
	return s.deps.Lifecycle.Teardown(ctx, ReasonShutdown)
}

// Internals reports the state of the study for debugging.
func (s *Study) Internals(ctx context.Context) (Internals, error) {
	s.mu.RLock()
	assignment := s.assignment
	engine := s.engine
	queue := s.queue
	subscribed := append([]study.TriggerKind(nil), s.subscribed...)
	s.mu.RUnlock()

	internals := Internals{
		Variation:  assignment.Variation,
		Assignment: assignment.Source,
		State:      s.deps.Lifecycle.State().String(),
		Subscribed: subscribed,
	}

	if engine != nil {
		if session, ok := engine.Session(); ok {
			internals.Session = &session
		}
	}
	if queue != nil {
		internals.Queue = queue.GetStats()
	}

	prefs, err := s.deps.Store.Snapshot(ctx)
	if err != nil {
		return internals, fmt.Errorf("failed to read preferences: %w", err)
	}
	internals.Prefs = prefs

	return internals, nil
}
