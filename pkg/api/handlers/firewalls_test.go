package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	glebarez "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/jobs"
	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
)

func newJobsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(glebarez.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.IngestJob{}))
	return db
}

func purgeRouter(deps *Deps) http.Handler {
	h := NewFirewallsHandler(deps)
	r := chi.NewRouter()
	r.Post("/firewalls/{device_key}/purge", h.Purge)
	return r
}

// TestPurgeRejectsConcurrentRequestForSameDevice covers spec §8 scenario
// 5: submitting a second purge for a device that already has one queued
// or running surfaces as 409, not a silently queued duplicate.
func TestPurgeRejectsConcurrentRequestForSameDevice(t *testing.T) {
	db := newJobsTestDB(t)
	mgr := jobs.NewManager(db)
	deps := &Deps{Jobs: mgr}
	router := purgeRouter(deps)

	req1 := httptest.NewRequest(http.MethodPost, "/firewalls/fw1/purge", nil)
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusAccepted, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/firewalls/fw1/purge", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusConflict, rec2.Code)
}

// TestPurgeAllowsDistinctDevicesConcurrently confirms the 409 above is
// scoped to the device, not global: two different firewalls can each
// have a purge queued at once.
func TestPurgeAllowsDistinctDevicesConcurrently(t *testing.T) {
	db := newJobsTestDB(t)
	mgr := jobs.NewManager(db)
	deps := &Deps{Jobs: mgr}
	router := purgeRouter(deps)

	req1 := httptest.NewRequest(http.MethodPost, "/firewalls/fw1/purge", nil)
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusAccepted, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/firewalls/fw2/purge", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusAccepted, rec2.Code)
}
