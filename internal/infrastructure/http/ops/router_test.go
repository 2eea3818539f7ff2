package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coreapp/internal/core/clock"
	"coreapp/internal/infrastructure/cache"
	"coreapp/pkg/logger"
)

func newTestRouter(t *testing.T, ready func(ctx context.Context) error) (*gin.Engine, *cache.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, err := cache.NewService(cache.NewMemoryStore(time.Minute), cache.Config{}, logger.Nop(), clock.System())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	router := NewRouter(Config{Cache: svc, Ready: ready, Log: logger.Nop(), Version: "test"})
	return router, svc
}

func perform(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestLive(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := perform(router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestReady(t *testing.T) {
	router, _ := newTestRouter(t, func(ctx context.Context) error { return nil })

	w := perform(router, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["cache"])
	assert.Equal(t, "healthy", checks["storage"])
}

func TestReadyStorageDown(t *testing.T) {
	router, _ := newTestRouter(t, func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	w := perform(router, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	body := decode(t, w)
	assert.Equal(t, "error", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Contains(t, checks["storage"], "connection refused")
}

func TestCacheHealth(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := perform(router, http.MethodGet, "/ops/cache/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, false, body["gateTripped"])
	assert.Equal(t, "2m0s", body["currentTtl"])

	classes := body["classes"].([]any)
	require.Len(t, classes, 1)
	sales := classes[0].(map[string]any)
	assert.Equal(t, "sales", sales["class"])
	assert.Equal(t, true, sales["open"])
	assert.Equal(t, "30m0s", sales["threshold"])
}

func TestGateStatus(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := perform(router, http.MethodGet, "/ops/gate/sales", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["protected"])
	assert.Equal(t, true, body["open"])

	w = perform(router, http.MethodGet, "/ops/gate/reporting", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["protected"])
	assert.Equal(t, true, body["open"])
}

func TestForceDisableEnableCycle(t *testing.T) {
	router, svc := newTestRouter(t, nil)

	w := perform(router, http.MethodPost, "/ops/cache/force-disable",
		`{"class":"sales","actor":"oncall","reason":"incident drill"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, svc.IsGateOpen("sales"))

	w = perform(router, http.MethodGet, "/ops/gate/sales", "")
	body := decode(t, w)
	assert.Equal(t, false, body["open"])

	w = perform(router, http.MethodPost, "/ops/cache/force-enable",
		`{"actor":"oncall","reason":"drill over"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.IsGateOpen("sales"))

	body = decode(t, w)
	assert.Equal(t, "enabled", body["status"])
	assert.Equal(t, false, body["gateTripped"])
}

func TestForceDisableUnknownClass(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := perform(router, http.MethodPost, "/ops/cache/force-disable",
		`{"class":"reporting","actor":"oncall","reason":"test"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decode(t, w)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestForceOverrideRequiresActorAndReason(t *testing.T) {
	router, svc := newTestRouter(t, nil)

	w := perform(router, http.MethodPost, "/ops/cache/force-enable", `{"actor":"oncall"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	w = perform(router, http.MethodPost, "/ops/cache/force-disable", `{"class":"sales"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, svc.IsGateOpen("sales"), "rejected override must not touch the gate")
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := perform(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cache_gate_open")
}

func TestPanicRecovered(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	router.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := perform(router, http.MethodGet, "/boom", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := decode(t, w)
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
}

func TestRequestIDPropagated(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}
