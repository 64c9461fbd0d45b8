// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Run starts the servers and the study, then blocks until a shutdown signal
// is received or the study ends.
func (a *App) Run(ctx context.Context) error {
	// Start servers
	if err := a.httpServer.Start(ctx); err != nil {
		return err
	}
	if err := a.grpcServer.Start(ctx); err != nil {
		return err
	}
	if err := a.metricsServer.Start(ctx); err != nil {
		return err
	}

	if err := a.study.Start(ctx); err != nil {
		_ = a.Shutdown(ctx)
		return fmt.Errorf("failed to start study: %w", err)
	}

	logrus.Info("application started successfully")

	// Wait for shutdown signal
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logrus.Info("shutdown signal received")
	case <-a.study.Lifecycle().Done():
		logrus.Infof("study ended (%s)", a.study.Lifecycle().Reason())
	}

	return a.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown gracefully shuts down all application components.
//
// ============================================================
// DEVELOPER: Shutdown order is critical
// ============================================================
// Components are shut down in reverse dependency order:
// 1. Suspend the study (subscriptions, queue, open panel)
// 2. Detach the browsing surfaces
// 3. Stop accepting new requests (bridge, gRPC, metrics)
// 4. Close external connections (Redis)
// 5. Flush telemetry data (OpenTelemetry)
//
// A study that already ended is not touched again. Suspend
// keeps the preferences so a restart resumes the same branch.
//
// IMPORTANT: Shutdown errors are logged but don't stop the
// shutdown sequence. Each component gets a chance to clean up.
// ============================================================
func (a *App) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down application...")

	// ============================================================
	// Step 1-2: Suspend the study and detach surfaces
	// ============================================================
	if a.study != nil {
		if err := a.study.Suspend(ctx); err != nil {
			logrus.Errorf("study suspend error: %v", err)
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}

	// ============================================================
	// Step 3: Shutdown servers (stop accepting new requests)
	// ============================================================
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logrus.Errorf("bridge server shutdown error: %v", err)
		}
	}
	if a.grpcServer != nil {
		if err := a.grpcServer.Shutdown(ctx); err != nil {
			logrus.Errorf("gRPC server shutdown error: %v", err)
		}
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			logrus.Errorf("metrics server shutdown error: %v", err)
		}
	}

	// ============================================================
	// Step 4: Close external connections
	// ============================================================
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			logrus.Errorf("Redis close error: %v", err)
		}
	}

	// ============================================================
	// Step 5: Flush telemetry data
	// ============================================================
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			logrus.Errorf("telemetry shutdown error: %v", err)
		}
	}

	logrus.Info("application shutdown complete")
	return nil
}
