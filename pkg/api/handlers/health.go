package handlers

import (
	"net/http"
	"time"
)

// HealthHandler serves the liveness/readiness probes. Readiness pings
// the database connection pool directly rather than through a registry,
// since this process has exactly one backing store.
type HealthHandler struct {
	deps *Deps
}

func NewHealthHandler(deps *Deps) *HealthHandler { return &HealthHandler{deps: deps} }

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	ok(w, healthyResponse(map[string]string{"service": "netwall-flowd"}))
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.deps.Backend == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("storage backend not initialized"))
		return
	}
	if err := h.deps.Backend.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}
	ok(w, healthyResponse(map[string]string{"backend": string(h.deps.Backend.Kind())}))
}

type apiResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func healthyResponse(data interface{}) apiResponse {
	return apiResponse{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthyResponse(msg string) apiResponse {
	return apiResponse{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: msg}
}
