package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/lordvitaly/lvchat/internal/app"
	"github.com/lordvitaly/lvchat/internal/middleware"
	"github.com/lordvitaly/lvchat/internal/services"
	"github.com/lordvitaly/lvchat/internal/store"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() *app.Config {
	return &app.Config{
		Server: app.ServerConfig{Port: 8000},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
}

type routerEnv struct {
	router *gin.Engine
	clock  *clock
}

func newRouterEnv(t *testing.T, cfg *app.Config, rates middleware.RateStore) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	backend, err := store.NewFileStore(t.TempDir(), store.WithClock(clk.Now))
	require.NoError(t, err)

	reg, err := store.NewRegistry(backend, services.DefaultPolicies(0)...)
	require.NoError(t, err)

	router, err := NewRouter(cfg, reg, rates, services.WithClock(clk.Now))
	require.NoError(t, err)

	return &routerEnv{router: router, clock: clk}
}

func (e *routerEnv) serve(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	reg, err := store.NewRegistry(store.NewMemoryStore(), services.DefaultPolicies(0)...)
	require.NoError(t, err)

	_, err = NewRouter(nil, reg, nil)
	require.Error(t, err)

	_, err = NewRouter(testConfig(), nil, nil)
	require.Error(t, err)

	partial, err := store.NewRegistry(store.NewMemoryStore(), store.Policy{Name: services.NamespaceSessions})
	require.NoError(t, err)
	_, err = NewRouter(testConfig(), partial, nil)
	require.ErrorContains(t, err, "build services")
}

func TestRouterPreflightOnAnyPath(t *testing.T) {
	env := newRouterEnv(t, testConfig(), nil)

	for _, path := range []string{"/api/init", "/api/get_data/abc", "/does/not/exist"} {
		rec := env.serve(http.MethodOptions, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
		require.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestRouterUnknownPath(t *testing.T) {
	env := newRouterEnv(t, testConfig(), nil)

	rec := env.serve(http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	require.False(t, body.Success)
	require.Equal(t, "Endpoint /api/nope not found", body.Error)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterSessionLifecycleOnFileStore(t *testing.T) {
	env := newRouterEnv(t, testConfig(), nil)

	rec := env.serve(http.MethodPost, "/api/init", `{"x":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var created struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))

	rec = env.serve(http.MethodGet, "/api/init/"+created.SessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"x":1,"created_at":1700000000,"expires_at":1700003600}`, string(decode(t, rec).Data))

	env.clock.Advance(time.Hour + time.Second)

	rec = env.serve(http.MethodGet, "/api/init/"+created.SessionID, "")
	require.Equal(t, http.StatusGone, rec.Code)

	rec = env.serve(http.MethodGet, "/api/init/"+created.SessionID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterCharactersAndSettings(t *testing.T) {
	env := newRouterEnv(t, testConfig(), nil)

	rec := env.serve(http.MethodPost, "/api/characters?user_id=u1", `{"name":"Цзин Юань","greeting":"Здравствуй"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.serve(http.MethodGet, "/api/characters?user_id=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, string(decode(t, rec).Data), "Цзин Юань")

	rec = env.serve(http.MethodGet, "/api/settings?user_id=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.serve(http.MethodPost, "/api/settings?user_id=u1", `{"model_name":"m","temperature":1,"top_p":1,"top_k":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRouterHealthAndMetrics(t *testing.T) {
	env := newRouterEnv(t, testConfig(), nil)

	rec := env.serve(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode(t, rec).Success)

	env.serve(http.MethodPost, "/api/store_data", `{"a":1}`)

	rec = env.serve(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "lvchat_api_latency_seconds"), "metrics output missing latency series")
	require.Contains(t, body, `lvchat_store_operations_total{namespace="blobs",op="put",result="ok"}`)
}

func TestRouterMonitoringDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Monitoring.Prometheus.Enabled = false
	cfg.Monitoring.Health.Enabled = false
	env := newRouterEnv(t, cfg, nil)

	require.Equal(t, http.StatusNotFound, env.serve(http.MethodGet, "/metrics", "").Code)
	require.Equal(t, http.StatusNotFound, env.serve(http.MethodGet, "/health", "").Code)
}

func TestRouterRateLimit(t *testing.T) {
	rates := middleware.NewMemoryRateStore(time.Minute)
	t.Cleanup(rates.Stop)

	cfg := testConfig()
	cfg.Server.RateLimit = app.RateLimitConfig{Requests: 2, Window: time.Minute}
	env := newRouterEnv(t, cfg, rates)

	require.Equal(t, http.StatusOK, env.serve(http.MethodGet, "/api/settings", "").Code)
	require.Equal(t, http.StatusOK, env.serve(http.MethodGet, "/api/settings", "").Code)

	rec := env.serve(http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	require.False(t, decode(t, rec).Success)
}
