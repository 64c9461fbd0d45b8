// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/common"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/lifecycle"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	// StudyService is the health service name that tracks the study.
	StudyService = "vpn.recommendation.Study"

	defaultHealthInterval = 10 * time.Second
)

// StoreChecker reports whether the preference store is reachable.
type StoreChecker interface {
	IsHealthy(ctx context.Context) bool
}

// GRPCServer manages the gRPC server lifecycle. It serves health checks
// that follow the study lifecycle and the preference store.
type GRPCServer struct {
	server    *grpc.Server
	health    *health.Server
	port      int
	lifecycle *lifecycle.Manager
	store     StoreChecker
	interval  time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewGRPCServer creates a new gRPC server instance.
func NewGRPCServer(port int, lc *lifecycle.Manager, store StoreChecker) *GRPCServer {
	return &GRPCServer{
		port:      port,
		lifecycle: lc,
		store:     store,
		interval:  defaultHealthInterval,
		stop:      make(chan struct{}),
	}
}

// Setup configures the gRPC server with interceptors and registers the
// health service.
//
// ============================================================
// DEVELOPER: gRPC server configuration
// ============================================================
// This method sets up:
// 1. Interceptors (logging through logrus)
// 2. The health service ("" and StudyService)
// 3. Reflection for grpcurl
// ============================================================
func (s *GRPCServer) Setup() error {
	unaryInterceptors := []grpc.UnaryServerInterceptor{
		logging.UnaryServerInterceptor(common.InterceptorLogger(logrus.StandardLogger())),
	}
	streamInterceptors := []grpc.StreamServerInterceptor{
		logging.StreamServerInterceptor(common.InterceptorLogger(logrus.StandardLogger())),
	}

	// Create server with OpenTelemetry instrumentation
	s.server = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(unaryInterceptors...),
		grpc.ChainStreamInterceptor(streamInterceptors...),
	)

	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	s.refresh(context.Background())

	logrus.Infof("gRPC reflection and health check enabled")

	return nil
}

// Status computes the serving status from the study and the store.
func (s *GRPCServer) Status(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if s.lifecycle.State() != lifecycle.StateRunning {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	if s.store != nil && !s.store.IsHealthy(ctx) {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}

func (s *GRPCServer) refresh(ctx context.Context) {
	status := s.Status(ctx)
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(StudyService, status)
}

// watch keeps the health status current until the server stops.
func (s *GRPCServer) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.lifecycle.Done():
			s.refresh(context.Background())
			return
		case <-ticker.C:
			s.refresh(context.Background())
		}
	}
}

// Start begins listening and serving gRPC requests.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}

	s.refresh(ctx)
	go s.watch()

	go func() {
		logrus.Infof("gRPC server listening on port %d", s.port)
		if err := s.server.Serve(lis); err != nil {
			logrus.Fatalf("gRPC server failed: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully stops the gRPC server. Calling it more than once is
// safe.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down gRPC server...")
	s.stopOnce.Do(func() { close(s.stop) })
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.server != nil {
		s.server.GracefulStop()
	}
	logrus.Info("gRPC server stopped")
	return nil
}
