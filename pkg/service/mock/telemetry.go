package mock

import (
	"sync"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/telemetry"
)

// Recorder is a telemetry sink that keeps every record for assertions
type Recorder struct {
	mu      sync.Mutex
	records []map[string]string
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record stores a copy of the event
func (r *Recorder) Record(event map[string]string) {
	copied := make(map[string]string, len(event))
	for k, v := range event {
		copied[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, copied)
}

// Records returns everything recorded so far
func (r *Recorder) Records() []map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]map[string]string, len(r.records))
	copy(out, r.records)
	return out
}

// Events returns the records with the given event name
func (r *Recorder) Events(name string) []map[string]string {
	var out []map[string]string
	for _, record := range r.Records() {
		if record[telemetry.FieldEvent] == name {
			out = append(out, record)
		}
	}
	return out
}

// Count returns how many records carry the given event name
func (r *Recorder) Count(name string) int {
	return len(r.Events(name))
}

// Reset drops every record
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
