package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AccelByte/extend-vpn-recommendation/pkg/host"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/pipeline"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/recommender"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/service/mock"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/signal/builtin"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/state"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/telemetry"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// testBridge is a started study behind a bridge, backed by miniredis
type testBridge struct {
	router   *gin.Engine
	bridge   *Bridge
	hub      *host.Hub
	study    *recommender.Study
	recorder *mock.Recorder
	metrics  *metrics.Metrics
	mr       *miniredis.Miniredis
}

func setupTestBridge(t *testing.T, variation string, cfg Config) *testBridge {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := state.NewRedisStore(client, "")

	m := metrics.New(nil)
	hub := host.NewHub(m, host.Options{})
	recorder := mock.NewRecorder()
	dispatcher := telemetry.NewDispatcher(recorder)
	studyConfig := pipeline.DefaultConfig()

	sources := signal.NewSourceRegistry()
	builtin.RegisterSources(sources, builtin.Dependencies{
		Checker:            noopChecker{},
		Navigations:        hub,
		Telemetry:          dispatcher,
		Metrics:            m,
		PrivacyHostnames:   studyConfig.Hostnames.Privacy,
		StreamingHostnames: studyConfig.Hostnames.Streaming,
		CatchAllDelay:      builtin.FixedDelay(studyConfig.CatchAll.Delay),
	})

	s, err := recommender.New(studyConfig, recommender.Dependencies{
		Store:     store,
		Presenter: hub,
		Opener:    hub,
		Sources:   sources,
		Telemetry: dispatcher,
		Metrics:   m,
	}, recommender.Options{ForcedVariation: variation})
	if err != nil {
		t.Fatalf("recommender.New() error = %v", err)
	}
	hub.OnAction(s.ReportAction)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Teardown(context.Background(), "test") })

	bridge := NewBridge(hub, s, cfg, m)
	router := gin.New()
	bridge.Register(router)

	return &testBridge{
		router:   router,
		bridge:   bridge,
		hub:      hub,
		study:    s,
		recorder: recorder,
		metrics:  m,
		mr:       mr,
	}
}

// do performs one request against the router
func (tb *testBridge) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	tb.router.ServeHTTP(w, req)
	return w
}
