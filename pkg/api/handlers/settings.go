package handlers

import (
	"net/http"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
)

// SettingsHandler serves the generic settings table (spec §6.1, C10).
type SettingsHandler struct {
	deps *Deps
}

func NewSettingsHandler(deps *Deps) *SettingsHandler { return &SettingsHandler{deps: deps} }

// All returns every setting as a name->value map (spec §6.1 GET
// /settings).
func (h *SettingsHandler) All(w http.ResponseWriter, r *http.Request) {
	all, err := h.deps.Settings.All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, all)
}

// SetLogRetention updates the log_retention setting (spec §6.1 PUT
// /settings/log-retention).
func (h *SettingsHandler) SetLogRetention(w http.ResponseWriter, r *http.Request) {
	var v model.LogRetentionSetting
	if err := decodeJSON(r, &v); err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Settings.SetLogRetention(r.Context(), v); err != nil {
		writeError(w, err)
		return
	}
	ok(w, v)
}

// SetLocalNetworks updates the local_networks setting (spec §6.1 PUT
// /settings/local-networks).
func (h *SettingsHandler) SetLocalNetworks(w http.ResponseWriter, r *http.Request) {
	var v model.LocalNetworksSetting
	if err := decodeJSON(r, &v); err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Settings.SetLocalNetworks(r.Context(), v); err != nil {
		writeError(w, err)
		return
	}
	ok(w, v)
}
