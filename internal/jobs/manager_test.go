package jobs

import (
	"context"
	"testing"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(glebarez.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.IngestJob{}))
	return db
}

func TestSubmitRejectsConcurrentGlobalJobs(t *testing.T) {
	db := newTestDB(t)
	mgr := NewManager(db)
	ctx := context.Background()

	_, err := mgr.Submit(ctx, model.JobImport, nil, nil)
	require.NoError(t, err)

	_, err = mgr.Submit(ctx, model.JobCleanup, nil, nil)
	require.Error(t, err)
}

func TestSubmitAllowsDistinctPurgeTargets(t *testing.T) {
	db := newTestDB(t)
	mgr := NewManager(db)
	ctx := context.Background()

	fw1, fw2 := "fw1", "fw2"
	_, err := mgr.Submit(ctx, model.JobPurge, &fw1, nil)
	require.NoError(t, err)

	_, err = mgr.Submit(ctx, model.JobPurge, &fw2, nil)
	require.NoError(t, err)
}

func TestSubmitRejectsSamePurgeTarget(t *testing.T) {
	db := newTestDB(t)
	mgr := NewManager(db)
	ctx := context.Background()

	fw1 := "fw1"
	_, err := mgr.Submit(ctx, model.JobPurge, &fw1, nil)
	require.NoError(t, err)

	_, err = mgr.Submit(ctx, model.JobPurge, &fw1, nil)
	require.Error(t, err)
}

func TestRecoverCrashedMarksRunningAsError(t *testing.T) {
	db := newTestDB(t)
	mgr := NewManager(db)
	ctx := context.Background()

	job := model.IngestJob{JobID: "j1", Kind: model.JobImport, Status: model.JobRunning, CreatedAt: time.Now()}
	require.NoError(t, db.Create(&job).Error)

	require.NoError(t, mgr.RecoverCrashed(ctx))

	got, err := mgr.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, model.JobError, got.Status)
	require.Equal(t, "recovered_after_crash", got.ErrorType)
}

func TestCancelUnknownJobNotFound(t *testing.T) {
	db := newTestDB(t)
	mgr := NewManager(db)
	require.Error(t, mgr.Cancel(context.Background(), "missing"))
}
