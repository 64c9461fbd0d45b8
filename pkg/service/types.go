package service

import (
	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/telemetry"
)

// Dependencies holds the collaborators of the policy engine.
// Components receive this struct and use only what they need.
type Dependencies struct {
	Store     PreferenceStore
	Presenter Presenter
	Opener    URLOpener
	Telemetry telemetry.Sink
	Metrics   *metrics.Metrics
}

// NewDependencies creates a new dependencies container.
func NewDependencies() *Dependencies {
	return &Dependencies{}
}

// WithStore sets the preference store
func (d *Dependencies) WithStore(store PreferenceStore) *Dependencies {
	d.Store = store
	return d
}

// WithPresenter sets the presenter and, when it can also open pages, the
// URL opener.
func (d *Dependencies) WithPresenter(p Presenter) *Dependencies {
	d.Presenter = p
	if opener, ok := p.(URLOpener); ok && d.Opener == nil {
		d.Opener = opener
	}
	return d
}

// WithOpener sets the URL opener
func (d *Dependencies) WithOpener(o URLOpener) *Dependencies {
	d.Opener = o
	return d
}

// WithTelemetry sets the telemetry sink
func (d *Dependencies) WithTelemetry(sink telemetry.Sink) *Dependencies {
	d.Telemetry = sink
	return d
}

// WithMetrics sets the metrics collectors
func (d *Dependencies) WithMetrics(m *metrics.Metrics) *Dependencies {
	d.Metrics = m
	return d
}
