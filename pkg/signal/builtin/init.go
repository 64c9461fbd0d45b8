package builtin

import (
	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/telemetry"
)

// Dependencies holds what the built-in sources need.
type Dependencies struct {
	Checker            ConnectivityChecker
	Navigations        NavigationObserver
	Telemetry          telemetry.Sink
	Metrics            *metrics.Metrics
	PrivacyHostnames   []string
	StreamingHostnames []string
	CatchAllDelay      DelayFunc
}

// Sources is the set of built-in sources, kept so the host bridge can feed
// the captive portal source.
type Sources struct {
	CaptivePortal *CaptivePortalSource
	Privacy       *HostnameSource
	Streaming     *HostnameSource
	CatchAll      *CatchAllSource
}

// RegisterSources creates the built-in sources and registers them.
func RegisterSources(registry *signal.SourceRegistry, deps Dependencies) *Sources {
	sources := &Sources{
		CaptivePortal: NewCaptivePortalSource(deps.Checker, deps.Telemetry, deps.Metrics),
		Privacy:       NewHostnameSource(study.TriggerPrivacyHostname, deps.PrivacyHostnames, deps.Navigations),
		Streaming:     NewHostnameSource(study.TriggerStreamingHostname, deps.StreamingHostnames, deps.Navigations),
		CatchAll:      NewCatchAllSource(deps.CatchAllDelay),
	}

	registry.Register(sources.CaptivePortal)
	registry.Register(sources.Privacy)
	registry.Register(sources.Streaming)
	registry.Register(sources.CatchAll)

	return sources
}
