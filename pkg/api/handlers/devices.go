package handlers

import (
	"net/http"

	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
)

// DevicesHandler serves the firewall/HA-cluster inventory endpoints
// (spec §6.1, C5).
type DevicesHandler struct {
	deps *Deps
}

func NewDevicesHandler(deps *Deps) *DevicesHandler { return &DevicesHandler{deps: deps} }

// Groups lists known firewalls, one row per device_key (spec §6.1 GET
// /devices/groups).
func (h *DevicesHandler) Groups(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Firewalls.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, list)
}

// HACandidates lists master/slave device_key pairs eligible for HA
// clustering (spec §4.5, C5).
func (h *DevicesHandler) HACandidates(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Firewalls.HACandidates(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, list)
}

// EnableCluster groups the candidate pair in the request body under one
// base device_key (spec §6.1 POST /devices/groups/enable).
func (h *DevicesHandler) EnableCluster(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Base string `json:"base"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Base == "" {
		writeError(w, netwallerr.Validation("base", "base device_key is required"))
		return
	}
	if err := h.deps.Firewalls.EnableCluster(r.Context(), body.Base); err != nil {
		writeError(w, err)
		return
	}
	ok(w, map[string]string{"base": body.Base})
}
