// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/internal/bootstrap"
	"github.com/AccelByte/extend-vpn-recommendation/internal/config"
	"github.com/AccelByte/extend-vpn-recommendation/internal/server"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/handler"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/host"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/pipeline"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/recommender"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/state"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/telemetry"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// App holds all application dependencies and manages the application lifecycle.
type App struct {
	cfg               *config.Config
	httpServer        *server.HTTPServer
	grpcServer        *server.GRPCServer
	metricsServer     *server.MetricsServer
	redisClient       *redis.Client
	hub               *host.Hub
	study             *recommender.Study
	shutdownTelemetry func(context.Context) error
}

// New creates and initializes a new application instance.
//
// ============================================================
// DEVELOPER: Application initialization order
// ============================================================
// Components are initialized in dependency order:
// 1. Redis (preference store and telemetry stream)
// 2. Study config (YAML configuration)
// 3. Metrics registry and study collectors
// 4. Host bridge hub, preference store, telemetry sink
// 5. Study components (sources → registry → pipeline → policy)
// 6. Servers (bridge HTTP, gRPC health, metrics)
// 7. Telemetry (OpenTelemetry tracing)
//
// The study itself is started in Run, after the servers, so
// browsing surfaces can connect before the first trigger.
// If a later step fails, the Redis client is closed again.
// ============================================================
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logrus.Info("initializing application...")

	app := &App{cfg: cfg}

	// ============================================================
	// Step 1: Initialize Redis
	// ============================================================
	if err = app.initRedis(ctx); err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	defer func() {
		if err != nil {
			if closeErr := app.redisClient.Close(); closeErr != nil {
				logrus.Errorf("Redis close error: %v", closeErr)
			}
		}
	}()

	// ============================================================
	// Step 2: Load study configuration
	// ============================================================
	studyConfig, err := pipeline.LoadConfig(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load study config from %s: %w", cfg.ConfigPath, err)
	}
	logrus.Infof("loaded study configuration from %s", cfg.ConfigPath)

	// ============================================================
	// Step 3: Metrics
	// ============================================================
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// ============================================================
	// Step 4: Host bridge, store and telemetry
	// ============================================================
	app.hub = host.NewHub(m, host.Options{AutoDismissAfter: studyConfig.Policy.AutoDismissAfter})
	store := state.NewRedisStore(app.redisClient, cfg.PrefPrefix)
	dispatcher := telemetry.NewDispatcher(nil)
	dispatcher.SetSink(bootstrap.InitTelemetrySink(app.redisClient, m))

	if cfg.DebugMode {
		if err := store.SetDebugMode(ctx, true); err != nil {
			logrus.Warnf("failed to store debug mode: %v", err)
		}
	}

	// ============================================================
	// Step 5: Bootstrap study components
	// ============================================================
	sources, _ := bootstrap.InitSignalSources(studyConfig, app.hub, store, dispatcher, m)

	app.study, err = bootstrap.InitStudy(studyConfig, bootstrap.StudyDependencies{
		Store:     store,
		Hub:       app.hub,
		Sources:   sources,
		Telemetry: dispatcher,
		Metrics:   m,
		Variation: cfg.Variation,
	})
	if err != nil {
		return nil, err
	}

	// ============================================================
	// Step 6: Setup servers
	// ============================================================
	bridge := handler.NewBridge(app.hub, app.study, handler.Config{
		SignalRate:  cfg.SignalRatePerSec,
		SignalBurst: int(cfg.SignalRatePerSec * 2),
	}, m)

	app.httpServer = server.NewHTTPServer(cfg.HTTPPort, bridge)
	if err = app.httpServer.Setup(); err != nil {
		return nil, fmt.Errorf("failed to setup bridge server: %w", err)
	}

	app.grpcServer = server.NewGRPCServer(cfg.GRPCPort, app.study.Lifecycle(), state.NewHealthChecker(app.redisClient))
	if err = app.grpcServer.Setup(); err != nil {
		return nil, fmt.Errorf("failed to setup gRPC server: %w", err)
	}

	app.metricsServer = server.NewMetricsServer(cfg.MetricsPort, "/metrics", registry)
	if err = app.metricsServer.Setup(); err != nil {
		return nil, fmt.Errorf("failed to setup metrics server: %w", err)
	}

	// ============================================================
	// Step 7: Setup telemetry
	// ============================================================
	if cfg.OtelEnabled {
		app.shutdownTelemetry, err = server.SetupTelemetry(ctx, cfg.ServiceName, cfg.Environment, 0, cfg.ZipkinEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to setup telemetry: %w", err)
		}
	}

	logrus.Info("application initialized successfully")

	return app, nil
}

// initRedis initializes the Redis client.
func (a *App) initRedis(ctx context.Context) error {
	client, err := ConnectRedis(ctx, a.cfg)
	if err != nil {
		return err
	}

	a.redisClient = client
	logrus.Info("Redis client initialized")
	return nil
}

// ConnectRedis dials Redis and retries the first ping with exponential
// backoff.
func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisHost + ":" + cfg.RedisPort,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	b := backoff.NewExponentialBackOff()
	maxRetries := backoff.WithMaxRetries(b, uint64(cfg.RedisMaxRetries))

	err := backoff.Retry(
		func() error {
			_, err := client.Ping(ctx).Result()
			if err != nil {
				logrus.Warnf("Redis connection failed: %v, retrying...", err)
				return err
			}
			return nil
		},
		backoff.WithContext(maxRetries, ctx),
	)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
