package handlers

import (
	"net/http"
	"strconv"

	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
	"github.com/matnordlund/netwall-flow-analyzer/internal/query"
)

// GraphHandler serves the analytical flow graph and its drill-down log
// view (spec §6.1, C9).
type GraphHandler struct {
	deps *Deps
}

func NewGraphHandler(deps *Deps) *GraphHandler { return &GraphHandler{deps: deps} }

// Graph renders the left/right/edge graph for one (device, window,
// filter) combination (spec §6.1 GET /graph, §4.9 the 10-step algorithm).
func (h *GraphHandler) Graph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	device := q.Get("device")
	if device == "" {
		writeError(w, netwallerr.Validation("device", "device is required"))
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	view := query.ViewOriginal
	if q.Get("view") == "translated" {
		view = query.ViewTranslated
	}
	destView := query.DestViewEndpoints
	if q.Get("dest_view") == "services" {
		destView = query.DestViewServices
	}

	qry := query.Query{
		DeviceKey: device,
		SrcKind:   query.SrcKind(defaultStr(q.Get("src_kind"), string(query.KindAny))),
		SrcValue:  q.Get("src_value"),
		DstKind:   query.SrcKind(defaultStr(q.Get("dst_kind"), string(query.KindAny))),
		DstValue:  q.Get("dst_value"),
		TimeFrom:  from,
		TimeTo:    to,
		View:      view,
		DestView:  destView,
	}

	result, err := h.deps.Query.Graph(r.Context(), qry)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, result)
}

// InspectLogs returns the paginated raw events behind one rendered edge
// (spec §6.1 GET /graph/inspect-logs, §4.9).
func (h *GraphHandler) InspectLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	device := q.Get("device")
	if device == "" {
		writeError(w, netwallerr.Validation("device", "device is required"))
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}

	dstPort, err := parseOptionalInt32(q.Get("dst_port"))
	if err != nil {
		writeError(w, netwallerr.Validation("dst_port", "must be an integer"))
		return
	}
	page, _ := strconv.Atoi(defaultStr(q.Get("page"), "0"))
	pageSize, _ := strconv.Atoi(defaultStr(q.Get("page_size"), "100"))

	result, err := h.deps.Query.InspectLogs(r.Context(), query.InspectFilter{
		DeviceKey: device,
		SrcIP:     q.Get("src_ip"),
		DestIP:    q.Get("dest_ip"),
		Proto:     q.Get("proto"),
		DstPort:   dstPort,
		AppName:   q.Get("app_name"),
		TimeFrom:  from,
		TimeTo:    to,
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, result)
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func parseOptionalInt32(v string) (int32, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}
