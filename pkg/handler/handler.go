package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/common"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/host"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/recommender"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/study"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultEndReason is reported when DELETE /v1/study carries no reason.
	DefaultEndReason = "ended-by-request"

	DefaultSignalRate  = 20
	DefaultSignalBurst = 40

	signalCaptivePortal = "captive-portal-login"
	signalNavigation    = "navigation"
	signalPanelEvent    = "panel-event"
)

// StudyController is the part of the running study the bridge exposes.
type StudyController interface {
	Variation() study.Variation
	Internals(ctx context.Context) (recommender.Internals, error)
	Teardown(ctx context.Context, reason string) error
}

// Config tunes the bridge ingress limiter.
type Config struct {
	SignalRate  float64
	SignalBurst int
}

// Bridge serves the host bridge API: surface WebSockets, host signals,
// panel events and the study internals.
type Bridge struct {
	hub     *host.Hub
	study   StudyController
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

type navigationRequest struct {
	Surface string `json:"surface" binding:"required"`
	URL     string `json:"url" binding:"required"`
}

type panelEventRequest struct {
	Type    string `json:"type" binding:"required"`
	Checked *bool  `json:"checked"`
	Reason  string `json:"reason"`
	Session string `json:"session"`
}

// NewBridge creates the bridge handlers.
func NewBridge(hub *host.Hub, controller StudyController, cfg Config, m *metrics.Metrics) *Bridge {
	if cfg.SignalRate <= 0 {
		cfg.SignalRate = DefaultSignalRate
	}
	if cfg.SignalBurst <= 0 {
		cfg.SignalBurst = DefaultSignalBurst
	}
	if m == nil {
		m = metrics.New(nil)
	}

	return &Bridge{
		hub:     hub,
		study:   controller,
		limiter: rate.NewLimiter(rate.Limit(cfg.SignalRate), cfg.SignalBurst),
		metrics: m,
	}
}

// Register mounts the bridge routes on r.
func (b *Bridge) Register(r gin.IRouter) {
	r.GET("/healthz", b.Health)

	v1 := r.Group("/v1")
	v1.GET("/surfaces/ws", b.ServeSurface)

	signals := v1.Group("/signals")
	signals.POST("/captive-portal-login", b.throttle(signalCaptivePortal), b.CaptivePortalLogin)
	signals.POST("/navigation", b.throttle(signalNavigation), b.Navigation)

	v1.POST("/panel/events", b.throttle(signalPanelEvent), b.PanelEvent)
	v1.GET("/study", b.GetStudy)
	v1.DELETE("/study", b.EndStudy)
}

// throttle rejects host signals beyond the ingress rate.
func (b *Bridge) throttle(signal string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !b.limiter.Allow() {
			b.metrics.SignalsThrottled.WithLabelValues(signal).Inc()
			logrus.Debugf("throttled %s signal", signal)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (b *Bridge) Health(c *gin.Context) {
	internals, err := b.study.Internals(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": internals.State})
}

// ServeSurface upgrades to the WebSocket of one browsing surface.
func (b *Bridge) ServeSurface(c *gin.Context) {
	id := c.Query("surface")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "surface is required"})
		return
	}
	private, _ := strconv.ParseBool(c.DefaultQuery("private", "false"))

	if err := b.hub.ServeSurface(c.Writer, c.Request, id, private); err != nil {
		logrus.Warnf("surface %s: %v", id, err)
	}
}

func (b *Bridge) CaptivePortalLogin(c *gin.Context) {
	b.hub.CaptivePortalLogin()
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (b *Bridge) Navigation(c *gin.Context) {
	var req navigationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	relayed := b.hub.Navigate(req.Surface, req.URL)
	c.JSON(http.StatusAccepted, gin.H{"relayed": relayed})
}

// PanelEvent is the HTTP fallback for panel actions when the surface socket
// is unavailable.
func (b *Bridge) PanelEvent(c *gin.Context) {
	var req panelEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := study.ParseActionKind(req.Type); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := b.hub.HandleMessage("http", host.Message{Type: req.Type, Checked: req.Checked, Reason: req.Reason, Session: req.Session}); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (b *Bridge) GetStudy(c *gin.Context) {
	scope := common.GetScopeFromContext(c.Request.Context(), "Bridge.GetStudy")
	defer scope.Finish()
	scope.TagStudy(b.study.Variation().String(), "")

	internals, err := b.study.Internals(scope.Ctx)
	if err != nil {
		scope.TraceError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, internals)
}

// EndStudy tears the study down. Cleanup failures are reported but the
// study is ended regardless.
func (b *Bridge) EndStudy(c *gin.Context) {
	scope := common.GetScopeFromContext(c.Request.Context(), "Bridge.EndStudy")
	defer scope.Finish()
	scope.TagStudy(b.study.Variation().String(), "")

	reason := c.DefaultQuery("reason", DefaultEndReason)
	scope.Log.Infof("ending study: %s", reason)

	if err := b.study.Teardown(scope.Ctx, reason); err != nil {
		scope.TraceError(err)
		var joined interface{ Unwrap() []error }
		failures := 1
		if errors.As(err, &joined) {
			failures = len(joined.Unwrap())
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"ended":    true,
			"reason":   reason,
			"failures": failures,
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": true, "reason": reason})
}
