package handlers

import (
	"net/http"

	"github.com/matnordlund/netwall-flow-analyzer/internal/stats"
)

// StatsHandler serves the process/DB counter snapshots (spec §6.1).
type StatsHandler struct {
	deps *Deps
}

func NewStatsHandler(deps *Deps) *StatsHandler { return &StatsHandler{deps: deps} }

func (h *StatsHandler) Process(w http.ResponseWriter, r *http.Request) {
	ok(w, h.deps.Stats.Snapshot())
}

func (h *StatsHandler) DB(w http.ResponseWriter, r *http.Request) {
	ok(w, stats.CollectDBStats(h.deps.Backend))
}
