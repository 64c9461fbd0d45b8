package signal

import (
	"sync"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
)

// SourceRegistry holds the available signal sources by trigger kind.
type SourceRegistry struct {
	sources map[study.TriggerKind]Source
	mu      sync.RWMutex
}

// NewSourceRegistry creates a new empty source registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{
		sources: make(map[study.TriggerKind]Source),
	}
}

// Register adds a source to the registry.
// If a source for the same kind already exists, it will be replaced.
func (r *SourceRegistry) Register(source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.Kind()] = source
}

// Get returns the source for the given kind, or nil.
func (r *SourceRegistry) Get(kind study.TriggerKind) Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[kind]
}

// Kinds returns the registered kinds in study.TriggerKinds order.
func (r *SourceRegistry) Kinds() []study.TriggerKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]study.TriggerKind, 0, len(r.sources))
	for _, kind := range study.TriggerKinds {
		if _, ok := r.sources[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Count returns the number of registered sources.
func (r *SourceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
