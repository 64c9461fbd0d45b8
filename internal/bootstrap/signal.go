// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package bootstrap

import (
	"github.com/AccelByte/extend-vpn-recommendation/pkg/host"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/pipeline"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/probe"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/recommender"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/service"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal"
	signalBuiltin "github.com/AccelByte/extend-vpn-recommendation/pkg/signal/builtin"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

// InitSignalSources creates the trigger sources and wires the host bridge
// into them. Sources record through the study's dispatcher.
//
// ============================================================
// DEVELOPER: Register custom trigger sources here.
// ============================================================
// A source turns a host observation into TriggerEvents of one
// kind. The trigger registry subscribes only the sources the
// assigned variation needs, so registering a source here never
// subscribes it by itself.
//
// Steps to add a new source:
// 1. Implement signal.Source in pkg/signal/builtin/
// 2. Register it in pkg/signal/builtin/init.go
// 3. Add the matching variation to pkg/study
//
// The builtin sources handle:
// - captive-portal-login → connectivity probe → captive-portal
// - navigations to listed hostnames → privacy/streaming-hostname
// - the catch-all timer → catch-all
// ============================================================
func InitSignalSources(
	cfg *pipeline.Config,
	hub *host.Hub,
	store service.StudyStore,
	dispatcher *telemetry.Dispatcher,
	m *metrics.Metrics,
) (*signal.SourceRegistry, *signalBuiltin.Sources) {
	registry := signal.NewSourceRegistry()

	sources := signalBuiltin.RegisterSources(registry, signalBuiltin.Dependencies{
		Checker:            probe.New(cfg.Probe),
		Navigations:        hub,
		Telemetry:          dispatcher,
		Metrics:            m,
		PrivacyHostnames:   cfg.Hostnames.Privacy,
		StreamingHostnames: cfg.Hostnames.Streaming,
		CatchAllDelay:      recommender.CatchAllDelay(store, cfg.CatchAll.Delay),
	})

	// The hub relays captive-portal-login from surfaces and the bridge API.
	hub.OnCaptivePortalLogin(func() {
		sources.CaptivePortal.OnLogin()
	})

	logrus.Infof("registered %d signal sources", registry.Count())

	return registry, sources
}
