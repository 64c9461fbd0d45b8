// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package bootstrap

import (
	"fmt"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/host"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/pipeline"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/recommender"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

// StudyDependencies holds what InitStudy wires together.
type StudyDependencies struct {
	Store     recommender.Store
	Hub       *host.Hub
	Sources   *signal.SourceRegistry
	Telemetry *telemetry.Dispatcher
	Metrics   *metrics.Metrics
	Variation string
}

// InitStudy validates the wiring and creates the study. The study is not
// started.
//
// ============================================================
// DEVELOPER: Study wiring
// ============================================================
// The flow is:
// Source → Trigger Registry → Pipeline → Policy Engine → Hub
// Hub → UserAction → Pipeline → Policy Engine
//
// The hub is both the presenter and the URL opener. Panel
// actions it receives are queued on the study pipeline so they
// never overlap an evaluation.
//
// Telemetry must be the dispatcher handed to InitSignalSources,
// so ConfigureTelemetry redirects every record the study makes.
// ============================================================
func InitStudy(cfg *pipeline.Config, deps StudyDependencies) (*recommender.Study, error) {
	if err := pipeline.ValidateWiring(deps.Sources, cfg); err != nil {
		return nil, fmt.Errorf("study wiring validation failed: %w", err)
	}
	logrus.Info("study wiring validation passed")

	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NewDispatcher(nil)
	}

	study, err := recommender.New(cfg, recommender.Dependencies{
		Store:     deps.Store,
		Presenter: deps.Hub,
		Opener:    deps.Hub,
		Sources:   deps.Sources,
		Telemetry: deps.Telemetry,
		Metrics:   deps.Metrics,
	}, recommender.Options{ForcedVariation: deps.Variation})
	if err != nil {
		return nil, fmt.Errorf("failed to create study: %w", err)
	}

	deps.Hub.OnAction(study.ReportAction)

	logrus.Infof("initialized study %s", cfg.Study.Name)
	return study, nil
}
