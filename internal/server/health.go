package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/render"
)

const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
	healthStatusUnavailable  = "unavailable"

	storePingTimeout = 2 * time.Second
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
	IsShutdown() bool
}

// HealthChecker serves the Kubernetes liveness and readiness checks for the API.
type HealthChecker struct {
	ready     atomic.Bool
	deps      Pinger
	startTime time.Time
	version   string
}

// NewHealthChecker returns a checker that starts out ready. deps may be nil
// in tests, in which case only the ready flag is consulted.
func NewHealthChecker(deps Pinger, version string) *HealthChecker {
	h := &HealthChecker{
		deps:      deps,
		startTime: time.Now(),
		version:   version,
	}
	h.ready.Store(true)
	return h
}

// SetReady flips readiness, typically to false while draining.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type DetailedHealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks"`
}

// LivenessHandler answers /healthz. It never touches dependencies.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler answers /readyz. The store must answer a ping.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks, ok := h.check(r.Context())
		resp := HealthResponse{Status: healthStatusOK, Checks: checks}
		if !ok {
			resp.Status = healthStatusNotReady
			render.Status(r, http.StatusServiceUnavailable)
		}
		render.JSON(w, r, resp)
	})
}

// DetailedHealthHandler answers /healthz/detailed with uptime and version.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks, ok := h.check(r.Context())
		resp := DetailedHealthResponse{
			Status:  healthStatusOK,
			Version: h.version,
			Uptime:  time.Since(h.startTime).Truncate(time.Second).String(),
			Checks:  checks,
		}
		if !ok {
			resp.Status = healthStatusNotReady
			if checks["shutdown"] == healthStatusShuttingDown {
				resp.Status = healthStatusShuttingDown
			}
			render.Status(r, http.StatusServiceUnavailable)
		}
		render.JSON(w, r, resp)
	})
}

func (h *HealthChecker) check(ctx context.Context) (map[string]string, bool) {
	checks := map[string]string{
		"ready":    healthStatusOK,
		"shutdown": healthStatusOK,
	}
	ok := true
	if !h.IsReady() {
		checks["ready"] = healthStatusNotReady
		ok = false
	}
	if h.deps == nil {
		return checks, ok
	}
	if h.deps.IsShutdown() {
		checks["shutdown"] = healthStatusShuttingDown
		return checks, false
	}

	ctx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	if err := h.deps.Ping(ctx); err != nil {
		checks["store"] = healthStatusUnavailable
		ok = false
	} else {
		checks["store"] = healthStatusOK
	}
	return checks, ok
}
