package builtin

import (
	"context"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"

	"github.com/sirupsen/logrus"
)

// DefaultCatchAllDelay is how long after study start the catch-all trigger
// fires.
const DefaultCatchAllDelay = 60 * time.Minute

// DelayFunc resolves the catch-all delay at subscription time.
type DelayFunc func(ctx context.Context) time.Duration

// FixedDelay always returns d.
func FixedDelay(d time.Duration) DelayFunc {
	return func(context.Context) time.Duration { return d }
}

// CatchAllSource fires once after a delay.
type CatchAllSource struct {
	delay DelayFunc
}

func NewCatchAllSource(delay DelayFunc) *CatchAllSource {
	if delay == nil {
		delay = FixedDelay(DefaultCatchAllDelay)
	}
	return &CatchAllSource{delay: delay}
}

func (s *CatchAllSource) Kind() study.TriggerKind {
	return study.TriggerCatchAll
}

func (s *CatchAllSource) Subscribe(ctx context.Context, emit signal.Emit) (signal.Disposer, error) {
	delay := s.delay(ctx)
	if delay <= 0 {
		delay = DefaultCatchAllDelay
	}

	timer := time.AfterFunc(delay, func() {
		logrus.Debugf("catch-all timer fired after %v", delay)
		emit(signal.NewTriggerEvent(study.TriggerCatchAll, time.Now()))
	})
	logrus.Infof("catch-all timer armed for %v", delay)

	return func(ctx context.Context) error {
		timer.Stop()
		return nil
	}, nil
}
