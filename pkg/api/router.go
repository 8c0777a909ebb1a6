package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
	"github.com/matnordlund/netwall-flow-analyzer/pkg/api/handlers"
)

// NewRouter creates and configures the chi router with all middleware and
// routes (spec §6.1). The middleware stack (RequestID, RealIP, request
// logging, panic recovery, a 30s timeout) is domain-agnostic and carried
// unchanged.
//
// Routes:
//   - GET  /health, /health/ready                        - liveness/readiness
//   - GET  /devices/groups, /devices/ha-candidates        - firewall/HA inventory (C5)
//   - POST /devices/groups/enable
//   - GET  /endpoints/list, /endpoints/known, /inventory/macs - endpoint inventory (C4)
//   - GET  /firewalls, PUT /firewalls/{device_key}, POST /firewalls/{device_key}/purge
//   - GET  /firewalls/{device_key}/import-jobs
//   - GET/POST/DELETE /router-macs                        - router-MAC rules (C11)
//   - GET  /graph, /graph/inspect-logs                     - analytical graph (C9)
//   - POST /ingest/upload, GET /ingest/jobs, GET /ingest/upload/status
//   - POST /ingest/jobs/{job_id}/cancel, DELETE /ingest/jobs/{job_id}
//   - GET  /settings, PUT /settings/log-retention, PUT /settings/local-networks
//   - GET  /stats, /stats/db
//   - GET  /maintenance/jobs/{job_id}, POST /maintenance/cleanup
func NewRouter(deps *handlers.Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := handlers.NewHealthHandler(deps)
	devices := handlers.NewDevicesHandler(deps)
	endpoints := handlers.NewEndpointsHandler(deps)
	firewalls := handlers.NewFirewallsHandler(deps)
	graph := handlers.NewGraphHandler(deps)
	ingestH := handlers.NewIngestHandler(deps)
	settingsH := handlers.NewSettingsHandler(deps)
	statsH := handlers.NewStatsHandler(deps)
	maintenance := handlers.NewMaintenanceHandler(deps)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", health.Liveness)
		r.Get("/ready", health.Readiness)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	r.Route("/devices", func(r chi.Router) {
		r.Get("/groups", devices.Groups)
		r.Get("/ha-candidates", devices.HACandidates)
		r.Post("/groups/enable", devices.EnableCluster)
	})

	r.Route("/endpoints", func(r chi.Router) {
		r.Get("/list", endpoints.List)
		r.Get("/known", endpoints.Known)
	})
	r.Get("/inventory/macs", endpoints.Known)

	r.Route("/firewalls", func(r chi.Router) {
		r.Get("/", firewalls.List)
		r.Put("/{device_key}", firewalls.SetOverride)
		r.Post("/{device_key}/purge", firewalls.Purge)
		r.Get("/{device_key}/import-jobs", firewalls.ImportJobs)
	})

	r.Route("/router-macs", func(r chi.Router) {
		r.Get("/", firewalls.ListRouterMACs)
		r.Post("/", firewalls.SetRouterMAC)
		r.Delete("/", firewalls.DeleteRouterMAC)
	})

	r.Route("/graph", func(r chi.Router) {
		r.Get("/", graph.Graph)
		r.Get("/inspect-logs", graph.InspectLogs)
	})

	r.Route("/ingest", func(r chi.Router) {
		r.Post("/upload", ingestH.Upload)
		r.Get("/jobs", ingestH.Jobs)
		r.Get("/upload/status", ingestH.UploadStatus)
		r.Post("/jobs/{job_id}/cancel", ingestH.Cancel)
		r.Delete("/jobs/{job_id}", ingestH.Delete)
	})

	r.Route("/settings", func(r chi.Router) {
		r.Get("/", settingsH.All)
		r.Put("/log-retention", settingsH.SetLogRetention)
		r.Put("/local-networks", settingsH.SetLocalNetworks)
	})

	r.Route("/stats", func(r chi.Router) {
		r.Get("/", statsH.Process)
		r.Get("/db", statsH.DB)
	})

	r.Route("/maintenance", func(r chi.Router) {
		r.Get("/jobs/{job_id}", maintenance.JobStatus)
		r.Post("/cleanup", maintenance.Cleanup)
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the
// internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}
