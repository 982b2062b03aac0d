// Package handlers contains the endpoints served by the edge itself. All
// other traffic goes to the upstream proxy.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// checkTimeout bounds each readiness probe.
const checkTimeout = 2 * time.Second

// HealthResponse represents the response for the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse represents the response for the ready endpoint.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// CheckFunc probes a dependency; a non-nil error marks it failed.
type CheckFunc func(ctx context.Context) error

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	mu     sync.RWMutex
	ready  bool
	checks map[string]CheckFunc
}

// NewHealthHandler creates a HealthHandler that starts ready.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		ready:  true,
		checks: make(map[string]CheckFunc),
	}
}

// Health reports that the process is up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready runs every registered check and reports 503 if any fails or the
// handler was marked not ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	allReady := h.ready
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()

	sort.Strings(names)
	results := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := checks[name](ctx)
		cancel()
		if err != nil {
			results[name] = "fail"
			allReady = false
		} else {
			results[name] = "ok"
		}
	}

	resp := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if len(results) > 0 {
		resp.Checks = results
	}

	status := http.StatusOK
	if !allReady {
		resp.Status = "not ready"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// SetReady sets the ready state. Shutdown marks the edge not ready first.
func (h *HealthHandler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current ready state.
func (h *HealthHandler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// AddCheck registers a dependency check.
func (h *HealthHandler) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
