package signal

import (
	"context"
	"fmt"
	"sync"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"

	"github.com/sirupsen/logrus"
)

// CleanupRegistrar accepts teardown callbacks.
type CleanupRegistrar interface {
	Register(name string, fn func(ctx context.Context) error) error
}

// Options tunes the trigger registry
type Options struct {
	// ShadowTracking also subscribes the sources of every other trigger kind
	// so their firings produce shadow telemetry.
	ShadowTracking bool
}

// Registry subscribes the sources an assigned variation needs and routes
// their events to the policy pipeline.
type Registry struct {
	sources *SourceRegistry
	cleanup CleanupRegistrar
	route   Emit
	opts    Options

	mu         sync.RWMutex
	variation  study.Variation
	subscribed map[study.TriggerKind]bool
	started    bool
	closed     bool
}

// NewRegistry creates a trigger registry. route receives every event of a
// subscribed kind.
func NewRegistry(sources *SourceRegistry, cleanup CleanupRegistrar, route Emit, opts Options) *Registry {
	return &Registry{
		sources:    sources,
		cleanup:    cleanup,
		route:      route,
		opts:       opts,
		subscribed: make(map[study.TriggerKind]bool),
	}
}

// KindsFor returns the trigger kinds a variation subscribes, its own kind
// first. Control subscribes nothing.
func KindsFor(v study.Variation, shadowTracking bool) []study.TriggerKind {
	own, ok := v.TriggerKind()
	if !ok {
		return nil
	}

	kinds := []study.TriggerKind{own}
	if !shadowTracking {
		return kinds
	}
	for _, kind := range study.TriggerKinds {
		if kind != own {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Start subscribes the sources for v. A source that is missing or fails to
// subscribe is logged and skipped; the others continue. It returns the kinds
// that were subscribed.
func (r *Registry) Start(ctx context.Context, v study.Variation) ([]study.TriggerKind, error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil, fmt.Errorf("trigger registry already started for %s", r.variation)
	}
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("trigger registry is closed")
	}
	r.started = true
	r.variation = v
	r.mu.Unlock()

	if v.IsControl() {
		logrus.Infof("variation %s subscribes no signal sources", v)
		return nil, nil
	}

	var subscribed []study.TriggerKind
	for _, kind := range KindsFor(v, r.opts.ShadowTracking) {
		if r.subscribe(ctx, kind) {
			subscribed = append(subscribed, kind)
		}
	}

	// Registered last so it runs first on teardown: nothing is routed while
	// the subscriptions are being undone.
	if err := r.cleanup.Register("trigger registry", func(ctx context.Context) error {
		r.Close()
		return nil
	}); err != nil {
		r.Close()
	}

	logrus.Infof("trigger registry started for %s with %d subscriptions", v, len(subscribed))
	return subscribed, nil
}

func (r *Registry) subscribe(ctx context.Context, kind study.TriggerKind) bool {
	source := r.sources.Get(kind)
	if source == nil {
		logrus.Warnf("no signal source registered for %s, skipping", kind)
		return false
	}

	dispose, err := source.Subscribe(ctx, func(event TriggerEvent) {
		r.Deliver(event)
	})
	if err != nil {
		logrus.Errorf("failed to subscribe %s source, skipping: %v", kind, err)
		return false
	}

	r.mu.Lock()
	r.subscribed[kind] = true
	r.mu.Unlock()

	unsubscribe := func(ctx context.Context) error {
		r.mu.Lock()
		delete(r.subscribed, kind)
		r.mu.Unlock()
		return dispose(ctx)
	}

	if err := r.cleanup.Register("unsubscribe "+string(kind), unsubscribe); err != nil {
		// Teardown already ran, nothing will dispose this for us.
		logrus.Warnf("cleanup unavailable for %s, disposing now: %v", kind, err)
		if err := unsubscribe(ctx); err != nil {
			logrus.Errorf("failed to dispose %s source: %v", kind, err)
		}
		return false
	}

	logrus.Debugf("subscribed %s source", kind)
	return true
}

// Deliver routes event to the pipeline if its kind is subscribed and the
// registry is open. It reports whether the event was routed.
func (r *Registry) Deliver(event TriggerEvent) bool {
	r.mu.RLock()
	ok := !r.closed && r.subscribed[event.Kind]
	r.mu.RUnlock()

	if !ok {
		logrus.Debugf("dropping %s trigger event: not subscribed", event.Kind)
		return false
	}

	r.route(event)
	return true
}

// Subscribed returns the kinds currently subscribed.
func (r *Registry) Subscribed() []study.TriggerKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]study.TriggerKind, 0, len(r.subscribed))
	for _, kind := range study.TriggerKinds {
		if r.subscribed[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Close stops routing. Events delivered afterwards are dropped.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
