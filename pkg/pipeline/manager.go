package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/common"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/policy"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
)

// Evaluator is the policy side of the pipeline.
type Evaluator interface {
	Evaluate(ctx context.Context, event signal.TriggerEvent) (policy.Decision, error)
	HandleAction(ctx context.Context, action study.UserAction) error
}

// Manager orchestrates the study pipeline:
// Source → TriggerEvent → Policy → Presenter, and Presenter → UserAction → Policy.
// Every job runs on a single worker so no two evaluations overlap.
type Manager struct {
	evaluator Evaluator
	metrics   *metrics.Metrics
	logger    *slog.Logger

	queue   chan Job
	stop    chan struct{}
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
	mu      sync.RWMutex

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewManager creates a new pipeline manager with a queue of the given size.
func NewManager(evaluator Evaluator, size int, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Manager{
		evaluator: evaluator,
		metrics:   m,
		logger:    logger,
		queue:     make(chan Job, size),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the worker. It runs until Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already started")
	}

	go m.work(context.WithoutCancel(ctx))
	m.logger.Info("pipeline worker started", slog.Int("queue_size", cap(m.queue)))
	return nil
}

func (m *Manager) work(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-m.stop:
			m.discardPending()
			return
		case job := <-m.queue:
			m.metrics.JobsQueued.Set(float64(len(m.queue)))
			m.run(ctx, job)
		}
	}
}

func (m *Manager) run(ctx context.Context, job Job) {
	start := time.Now()
	scope := common.ChildScopeFromRemoteScope(ctx, "pipeline."+job.Name)
	defer scope.Finish()
	defer m.metrics.ObserveJob(job.Name, start)
	scope.SetAttributes("pipeline.queue_depth", len(m.queue))

	err := m.safeRun(scope, job)
	m.processed.Add(1)
	if err != nil {
		m.failed.Add(1)
		scope.TraceError(err)
		m.logger.Error("pipeline job failed",
			slog.String("job", job.Name),
			slog.String("trace_id", scope.TraceID),
			slog.String("error", err.Error()))
	}
}

func (m *Manager) safeRun(scope *common.Scope, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(scope)
}

func (m *Manager) discardPending() {
	for {
		select {
		case job := <-m.queue:
			m.drop(job.Name, "stopped")
		default:
			m.metrics.JobsQueued.Set(0)
			return
		}
	}
}

func (m *Manager) drop(name, reason string) {
	m.dropped.Add(1)
	m.metrics.JobsDropped.WithLabelValues(reason).Inc()
	m.logger.Warn("pipeline job dropped", slog.String("job", name), slog.String("reason", reason))
}

// Submit queues a job without blocking.
func (m *Manager) Submit(job Job) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped.Load() {
		m.drop(job.Name, "stopped")
		return ErrStopped
	}

	select {
	case m.queue <- job:
		m.metrics.JobsQueued.Set(float64(len(m.queue)))
		return nil
	default:
		m.drop(job.Name, "full")
		return ErrQueueFull
	}
}

// EnqueueTrigger queues a policy evaluation for event. It matches
// signal.Emit so the trigger registry can route straight into it.
func (m *Manager) EnqueueTrigger(event signal.TriggerEvent) {
	_ = m.Submit(Job{
		Name: JobTrigger,
		Run: func(scope *common.Scope) error {
			scope.SetAttributes("study.trigger", string(event.Kind))
			decision, err := m.evaluator.Evaluate(scope.Ctx, event)
			scope.SetAttributes("policy.decision", decision.String())
			if err != nil {
				return fmt.Errorf("evaluation of %s failed: %w", event.Kind, err)
			}
			if decision.ShowsUI() {
				scope.TraceEvent("panel presented")
			}
			m.logger.Info("trigger evaluated",
				slog.String("trigger", string(event.Kind)),
				slog.String("decision", decision.String()))
			return nil
		},
	})
}

// EnqueueAction queues a user action reported by the presenter.
func (m *Manager) EnqueueAction(action study.UserAction) {
	_ = m.Submit(Job{
		Name: JobAction,
		Run: func(scope *common.Scope) error {
			scope.SetAttributes("panel.action", string(action.Kind))
			if action.Session != "" {
				scope.SetAttributes("panel.session", action.Session)
			}
			if err := m.evaluator.HandleAction(scope.Ctx, action); err != nil {
				return fmt.Errorf("panel action %s failed: %w", action.Kind, err)
			}
			m.logger.Debug("panel action handled", slog.String("action", string(action.Kind)))
			return nil
		},
	})
}

// Flush blocks until every job queued before the call has run.
func (m *Manager) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	err := m.Submit(Job{
		Name: JobFlush,
		Run: func(*common.Scope) error {
			close(barrier)
			return nil
		},
	})
	if err != nil {
		return err
	}

	select {
	case <-barrier:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting jobs, lets the running job finish and discards the
// rest. Calling it again is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.stopped.CompareAndSwap(false, true) {
		m.mu.Unlock()
		return nil
	}
	close(m.stop)
	m.mu.Unlock()

	if !m.started.Load() {
		m.discardPending()
		return nil
	}

	select {
	case <-m.done:
		m.logger.Info("pipeline worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline stop: %w", ctx.Err())
	}
}

// Stats returns pipeline statistics (for observability).
type Stats struct {
	Queued    int   `json:"queued"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// GetStats returns current pipeline statistics.
func (m *Manager) GetStats() Stats {
	return Stats{
		Queued:    len(m.queue),
		Processed: m.processed.Load(),
		Failed:    m.failed.Load(),
		Dropped:   m.dropped.Load(),
	}
}
