package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
)

// FirewallsHandler serves the per-firewall identity, override, and
// router-MAC-rule endpoints (spec §6.1, C5, C11).
type FirewallsHandler struct {
	deps *Deps
}

func NewFirewallsHandler(deps *Deps) *FirewallsHandler { return &FirewallsHandler{deps: deps} }

func (h *FirewallsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Firewalls.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, list)
}

// SetOverride applies a display-name/comment override to one firewall
// (spec §6.1 PUT /firewalls/{device_key}).
func (h *FirewallsHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	deviceKey := chi.URLParam(r, "device_key")
	var body struct {
		DisplayName string `json:"display_name"`
		Comment     string `json:"comment"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	ov := model.FirewallOverride{DeviceKey: deviceKey, DisplayName: body.DisplayName, Comment: body.Comment}
	if err := h.deps.Firewalls.SetOverride(r.Context(), ov); err != nil {
		writeError(w, err)
		return
	}
	ok(w, ov)
}

// Purge submits a purge job for one firewall's data (spec §6.1 POST
// /firewalls/{device_key}/purge, C6).
func (h *FirewallsHandler) Purge(w http.ResponseWriter, r *http.Request) {
	deviceKey := chi.URLParam(r, "device_key")
	job, err := h.deps.Jobs.Submit(r.Context(), model.JobPurge, &deviceKey, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// ImportJobs lists the import-job history for one firewall (spec §6.1
// GET /firewalls/{device_key}/import-jobs).
func (h *FirewallsHandler) ImportJobs(w http.ResponseWriter, r *http.Request) {
	deviceKey := chi.URLParam(r, "device_key")
	jobs, err := h.deps.Jobs.ForDevice(r.Context(), deviceKey)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, jobs)
}

// ListRouterMACs returns the router-MAC rules for one firewall (spec
// §6.1 GET /router-macs, C11).
func (h *FirewallsHandler) ListRouterMACs(w http.ResponseWriter, r *http.Request) {
	deviceKey := r.URL.Query().Get("device")
	if deviceKey == "" {
		writeError(w, netwallerr.Validation("device", "device is required"))
		return
	}
	rules, err := h.deps.Firewalls.ListRouterMACRules(r.Context(), deviceKey)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, rules)
}

// SetRouterMAC marks a MAC as an upstream router for one direction
// (spec §6.1 POST /router-macs, C11).
func (h *FirewallsHandler) SetRouterMAC(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeviceKey string                   `json:"device_key"`
		MAC       string                   `json:"mac"`
		Direction model.RouterMACDirection `json:"direction"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.DeviceKey == "" || body.MAC == "" {
		writeError(w, netwallerr.Validation("mac", "device_key and mac are required"))
		return
	}
	rule := model.RouterMACRule{DeviceKey: body.DeviceKey, MAC: body.MAC, Direction: body.Direction}
	if err := h.deps.Firewalls.SetRouterMACRule(r.Context(), rule); err != nil {
		writeError(w, err)
		return
	}
	ok(w, rule)
}

// DeleteRouterMAC removes a router-MAC rule (spec §6.1 DELETE
// /router-macs).
func (h *FirewallsHandler) DeleteRouterMAC(w http.ResponseWriter, r *http.Request) {
	deviceKey := r.URL.Query().Get("device")
	mac := r.URL.Query().Get("mac")
	if deviceKey == "" || mac == "" {
		writeError(w, netwallerr.Validation("mac", "device and mac are required"))
		return
	}
	if err := h.deps.Firewalls.DeleteRouterMACRule(r.Context(), deviceKey, mac); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
