package builtin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/common"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/probe"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/telemetry"

	"github.com/sirupsen/logrus"
)

// ConnectivityChecker confirms that the network is usable.
type ConnectivityChecker interface {
	Probe(ctx context.Context) (probe.Result, error)
}

// CaptivePortalSource fires after a captive portal login once connectivity
// has been confirmed.
type CaptivePortalSource struct {
	checker   ConnectivityChecker
	telemetry telemetry.Sink
	metrics   *metrics.Metrics

	mu     sync.Mutex
	emit   signal.Emit
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCaptivePortalSource(checker ConnectivityChecker, sink telemetry.Sink, m *metrics.Metrics) *CaptivePortalSource {
	if m == nil {
		m = metrics.New(nil)
	}
	return &CaptivePortalSource{
		checker:   checker,
		telemetry: sink,
		metrics:   m,
	}
}

func (s *CaptivePortalSource) Kind() study.TriggerKind {
	return study.TriggerCaptivePortal
}

func (s *CaptivePortalSource) Subscribe(ctx context.Context, emit signal.Emit) (signal.Disposer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emit != nil {
		return nil, fmt.Errorf("captive portal source already subscribed")
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.emit = emit

	return func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cancel != nil {
			s.cancel()
		}
		s.emit = nil
		return nil
	}, nil
}

// OnLogin handles a captive-portal-login observation. It reports false when
// the source is not subscribed.
func (s *CaptivePortalSource) OnLogin() bool {
	s.mu.Lock()
	emit, ctx := s.emit, s.ctx
	s.mu.Unlock()

	if emit == nil {
		logrus.Debugf("captive portal login ignored: source not subscribed")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.confirm(ctx, emit)
	}()
	return true
}

func (s *CaptivePortalSource) confirm(ctx context.Context, emit signal.Emit) {
	scope := common.ChildScopeFromRemoteScope(ctx, "captive-portal.confirm")
	defer scope.Finish()

	result, err := s.checker.Probe(scope.Ctx)
	if errors.Is(err, probe.ErrProbeInFlight) {
		scope.TraceEvent("coalesced into running probe")
		logrus.Debugf("captive portal login coalesced into the running probe")
		s.metrics.ProbeCoalesced.Inc()
		return
	}
	if err != nil {
		scope.TraceError(err)
		logrus.Debugf("connectivity probe abandoned: %v", err)
		return
	}
	scope.SetAttributes("probe.attempts", result.Attempts)
	scope.SetAttributes("probe.success", result.Success)
	scope.SetAttributes("probe.elapsed_ms", result.Elapsed.Milliseconds())

	s.telemetry.Record(telemetry.ConnectivityCheck(result.Success, result.Attempts, result.Elapsed))
	s.metrics.ProbeAttempts.Observe(float64(result.Attempts))

	if !result.Success {
		logrus.Infof("connectivity not confirmed after %d attempts", result.Attempts)
		s.metrics.ProbeRuns.WithLabelValues("failure").Inc()
		return
	}
	s.metrics.ProbeRuns.WithLabelValues("success").Inc()

	if ctx.Err() != nil {
		return
	}

	scope.TraceEvent("connectivity confirmed")
	logrus.Infof("connectivity confirmed after %d attempts", result.Attempts)
	emit(signal.NewTriggerEvent(study.TriggerCaptivePortal, time.Now()))
}

// Wait blocks until every outstanding confirmation has returned.
func (s *CaptivePortalSource) Wait() {
	s.wg.Wait()
}
