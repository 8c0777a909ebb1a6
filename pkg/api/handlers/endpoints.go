package handlers

import (
	"net/http"
	"time"

	"github.com/matnordlund/netwall-flow-analyzer/internal/ingest"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
)

// EndpointsHandler serves the device-identity inventory endpoints (spec
// §6.1, C4).
type EndpointsHandler struct {
	deps *Deps
}

func NewEndpointsHandler(deps *Deps) *EndpointsHandler { return &EndpointsHandler{deps: deps} }

// List returns one firewall's endpoint inventory over a time window
// (spec §6.1 GET /endpoints/list: has_mac defaults false, only overridden
// by an explicit has_mac=true).
func (h *EndpointsHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, r.URL.Query().Get("has_mac") == "true")
}

// Known returns only endpoints with a known MAC (spec §6.1 GET
// /endpoints/known, GET /inventory/macs: has_mac defaults true, since
// both surface the MAC inventory rather than the raw endpoint table).
func (h *EndpointsHandler) Known(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, r.URL.Query().Get("has_mac") != "false")
}

func (h *EndpointsHandler) list(w http.ResponseWriter, r *http.Request, hasMAC bool) {
	device := r.URL.Query().Get("device")
	if device == "" {
		writeError(w, netwallerr.Validation("device", "device is required"))
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rows, err := h.deps.Endpoints.List(r.Context(), ingest.ListFilter{
		DeviceKey: device, TimeFrom: from, TimeTo: to, HasMAC: hasMAC,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, rows)
}

// parseWindow reads time_from/time_to query params, defaulting to the
// last 24h when absent.
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now.Add(-24*time.Hour), now

	if v := r.URL.Query().Get("time_from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, netwallerr.Validation("time_from", "must be RFC3339")
		}
		from = parsed
	}
	if v := r.URL.Query().Get("time_to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, netwallerr.Validation("time_to", "must be RFC3339")
		}
		to = parsed
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, netwallerr.Validation("time_to", "must be >= time_from")
	}
	return from, to, nil
}
