// Package handlers implements the HTTP handlers behind the /api prefix
// (spec §6.1), adapted from the teacher's one-struct-per-resource
// handler shape (pkg/api/handlers/health.go et al.): each handler group
// holds a pointer to the shared Deps and exposes plain
// http.HandlerFunc methods.
package handlers

import (
	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/firewall"
	"github.com/matnordlund/netwall-flow-analyzer/internal/importer"
	"github.com/matnordlund/netwall-flow-analyzer/internal/ingest"
	"github.com/matnordlund/netwall-flow-analyzer/internal/jobs"
	"github.com/matnordlund/netwall-flow-analyzer/internal/query"
	"github.com/matnordlund/netwall-flow-analyzer/internal/settings"
	"github.com/matnordlund/netwall-flow-analyzer/internal/stats"
	"github.com/matnordlund/netwall-flow-analyzer/internal/storage"
)

// Deps bundles every component the HTTP layer calls into. A single
// struct (rather than one handler struct per dependency set) keeps
// wiring in internal/server/server.go to one constructor call; every
// handler group holds the whole *Deps and reads the fields its
// endpoints use.
type Deps struct {
	DB        *gorm.DB
	Backend   storage.Backend
	Firewalls *firewall.Store
	Settings  *settings.Store
	Jobs      *jobs.Manager
	Endpoints *ingest.EndpointResolver
	Query     *query.Engine
	Stats     *stats.Counters
	Importer  *importer.Importer
	UploadDir string
}
