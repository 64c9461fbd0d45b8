package telemetry

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Sink receives telemetry records. Record is fire-and-forget and must not
// block the caller for long.
type Sink interface {
	Record(event map[string]string)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(event map[string]string)

func (f SinkFunc) Record(event map[string]string) {
	f(event)
}

// Dispatcher forwards records to exactly one registered sink. SetSink
// replaces the previous sink rather than adding to it.
type Dispatcher struct {
	mu   sync.RWMutex
	sink Sink
}

// NewDispatcher creates a dispatcher with an optional initial sink.
func NewDispatcher(sink Sink) *Dispatcher {
	return &Dispatcher{sink: sink}
}

// SetSink replaces the registered sink. A nil sink drops every record.
func (d *Dispatcher) SetSink(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// Record forwards a copy of event to the registered sink.
func (d *Dispatcher) Record(event map[string]string) {
	d.mu.RLock()
	sink := d.sink
	d.mu.RUnlock()

	if sink == nil {
		logrus.Debugf("telemetry dropped, no sink registered: %v", event)
		return
	}

	sink.Record(clone(event))
}

// Tee fans a record out to several sinks in order.
type Tee []Sink

func (t Tee) Record(event map[string]string) {
	for _, sink := range t {
		if sink == nil {
			continue
		}
		sink.Record(clone(event))
	}
}

func clone(event map[string]string) map[string]string {
	out := make(map[string]string, len(event))
	for k, v := range event {
		out[k] = v
	}
	return out
}
