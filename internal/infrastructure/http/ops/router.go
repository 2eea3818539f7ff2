// Package ops is the operational HTTP surface: health probes, cache
// and gate introspection, the audited gate overrides and Prometheus
// metrics. It carries no business endpoints.
package ops

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coreapp/internal/core/apperror"
	"coreapp/internal/infrastructure/cache"
	"coreapp/pkg/logger"
)

// Config holds the ops surface dependencies.
type Config struct {
	// Cache is the resilient cache service behind the health and gate
	// endpoints.
	Cache *cache.Service

	// Ready is an optional deep readiness check, typically the storage
	// ping. Nil skips the check.
	Ready func(ctx context.Context) error

	// Log receives the request log.
	Log *logger.Logger

	// Version is reported by the liveness endpoint.
	Version string
}

// NewRouter creates and configures the gin router for the ops surface.
func NewRouter(cfg Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	log := cfg.Log
	if log == nil {
		log = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(recovery())
	router.Use(traceContext())
	router.Use(requestLogger(log))
	router.Use(errorHandler())

	h := &handler{cache: cfg.Cache, ready: cfg.Ready, version: cfg.Version}

	router.GET("/healthz", h.Live)
	router.GET("/readyz", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ops := router.Group("/ops")
	{
		ops.GET("/cache/health", h.CacheHealth)
		ops.GET("/gate/:class", h.GateStatus)
		ops.POST("/cache/force-enable", h.ForceEnable)
		ops.POST("/cache/force-disable", h.ForceDisable)
	}

	return router
}

type handler struct {
	cache   *cache.Service
	ready   func(ctx context.Context) error
	version string
}

// Live handles the liveness probe.
// GET /healthz
func (h *handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
	})
}

// Ready handles the readiness probe. The cache store is reported but
// never fails readiness: the core is built to run degraded without it.
// GET /readyz
func (h *handler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	checks := map[string]string{}

	if err := h.cache.Ping(ctx); err != nil {
		checks["cache"] = "unhealthy: " + err.Error()
	} else {
		checks["cache"] = "healthy"
	}

	if h.ready != nil {
		if err := h.ready(ctx); err != nil {
			checks["storage"] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["storage"] = "healthy"
		}
	}

	body := gin.H{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "error"
	}
	c.JSON(status, body)
}

// CacheHealth reports the fallback ladder position and every gate.
// GET /ops/cache/health
func (h *handler) CacheHealth(c *gin.Context) {
	snap := h.cache.Health()

	classes := make([]gin.H, 0, len(snap.Classes))
	for _, g := range snap.Classes {
		classes = append(classes, gin.H{
			"class":     g.Class,
			"open":      g.Open,
			"threshold": g.Threshold.String(),
			"staleFor":  g.StaleFor.String(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":              snap.Enabled,
		"fallbackLevel":        snap.FallbackLevel,
		"currentTtl":           snap.CurrentTTL.String(),
		"lastSuccessfulUpdate": snap.LastSuccessfulUpdate,
		"gateTripped":          snap.GateTripped,
		"classes":              classes,
	})
}

// GateStatus reports one operation class. Classes outside the
// protected set are always open.
// GET /ops/gate/:class
func (h *handler) GateStatus(c *gin.Context) {
	class := c.Param("class")

	for _, g := range h.cache.Health().Classes {
		if g.Class == class {
			c.JSON(http.StatusOK, gin.H{
				"class":     g.Class,
				"protected": true,
				"open":      g.Open,
				"threshold": g.Threshold.String(),
				"staleFor":  g.StaleFor.String(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"class":     class,
		"protected": false,
		"open":      true,
	})
}

type enableRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

type disableRequest struct {
	Class  string `json:"class" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// ForceEnable reopens every gate and restarts the staleness window.
// Actor and reason are mandatory; the override is logged.
// POST /ops/cache/force-enable
func (h *handler) ForceEnable(c *gin.Context) {
	var req enableRequest
	if !h.bindJSON(c, &req) {
		return
	}

	h.cache.ForceEnable(c.Request.Context(), req.Actor, req.Reason)

	c.JSON(http.StatusOK, gin.H{
		"status":      "enabled",
		"gateTripped": h.cache.Health().GateTripped,
	})
}

// ForceDisable closes one protected class until a force-enable.
// POST /ops/cache/force-disable
func (h *handler) ForceDisable(c *gin.Context) {
	var req disableRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.cache.ForceDisable(c.Request.Context(), req.Class, req.Actor, req.Reason); err != nil {
		h.fail(c, apperror.NewValidation(err.Error()).WithDetail("class", req.Class))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "disabled",
		"class":  req.Class,
	})
}

// bindJSON binds the request body, registering a validation error on
// failure.
func (h *handler) bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.fail(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// fail registers the error and aborts; errorHandler renders it.
func (h *handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
