package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/handler"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HTTPServer serves the host bridge API.
type HTTPServer struct {
	server *http.Server
	router *gin.Engine
	port   int
	bridge *handler.Bridge
}

// NewHTTPServer creates a new bridge server instance.
func NewHTTPServer(port int, bridge *handler.Bridge) *HTTPServer {
	return &HTTPServer{
		port:   port,
		bridge: bridge,
	}
}

// Setup builds the gin router and mounts the bridge routes.
func (s *HTTPServer) Setup() error {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger())
	s.bridge.Register(s.router)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

// Handler returns the router, for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start begins serving the bridge on the configured port.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		logrus.Infof("bridge server listening on port %d", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("bridge server failed: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the bridge server. Hijacked WebSocket
// connections are closed when their surfaces detach.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down bridge server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	logrus.Info("bridge server stopped")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("bridge request")
	}
}
