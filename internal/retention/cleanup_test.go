package retention

import (
	"context"
	"testing"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/jobs"
	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/settings"
)

func newRetentionTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(glebarez.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`
		CREATE TABLE firewalls (device_key TEXT PRIMARY KEY, source_syslog INTEGER, source_import INTEGER, last_seen TEXT)
	`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE events (id INTEGER PRIMARY KEY AUTOINCREMENT, device_key TEXT, ts TEXT)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE raw_logs (id INTEGER PRIMARY KEY AUTOINCREMENT, device_key TEXT, received_at TEXT)`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE flows (
			device_key TEXT, proto TEXT, src_ip TEXT, src_port INTEGER, dst_ip TEXT, dst_port INTEGER,
			open_ts TEXT, close_ts TEXT,
			PRIMARY KEY (device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts)
		)
	`).Error)
	require.NoError(t, db.AutoMigrate(&model.Setting{}, &model.IngestJob{}))
	return db
}

// runCleanupJob submits a cleanup job against a real jobs.Manager and
// waits for it to leave the queued/running state, mirroring how
// internal/server wires Cleaner.Runner() into the job manager.
func runCleanupJob(t *testing.T, db *gorm.DB, cleaner *Cleaner) model.IngestJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mgr := jobs.NewManager(db)
	mgr.Register(model.JobCleanup, cleaner.Runner())

	job, err := mgr.Submit(ctx, model.JobCleanup, nil, nil)
	require.NoError(t, err)

	go mgr.Run(ctx)

	for {
		got, err := mgr.Get(ctx, job.JobID)
		require.NoError(t, err)
		if got.Status == model.JobDone || got.Status == model.JobError || got.Status == model.JobCanceled {
			return got
		}
		select {
		case <-ctx.Done():
			t.Fatal("cleanup job did not finish before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCleanupOnlyTouchesSyslogOnlyFirewalls(t *testing.T) {
	db := newRetentionTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.AddDate(0, 0, -100)

	require.NoError(t, db.Exec(`INSERT INTO firewalls (device_key, source_syslog, source_import, last_seen) VALUES (?, 1, 0, ?)`, "syslog-only", now).Error)
	require.NoError(t, db.Exec(`INSERT INTO firewalls (device_key, source_syslog, source_import, last_seen) VALUES (?, 0, 1, ?)`, "import-only", now).Error)

	require.NoError(t, db.Exec(`INSERT INTO events (device_key, ts) VALUES (?, ?)`, "syslog-only", old).Error)
	require.NoError(t, db.Exec(`INSERT INTO events (device_key, ts) VALUES (?, ?)`, "import-only", old).Error)

	settingsStore := settings.NewStore(db)
	require.NoError(t, settingsStore.SetLogRetention(ctx, model.LogRetentionSetting{Enabled: true, KeepDays: 30}))

	cleaner := NewCleaner(db, nil, settingsStore)
	got := runCleanupJob(t, db, cleaner)
	require.Equal(t, model.JobDone, got.Status)

	var remaining int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM events WHERE device_key = ?`, "syslog-only").Scan(&remaining).Error)
	require.Zero(t, remaining, "syslog-only firewall's old events must be deleted")

	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM events WHERE device_key = ?`, "import-only").Scan(&remaining).Error)
	require.EqualValues(t, 1, remaining, "import-only firewall must be untouched (invariant 7)")
}

func TestCleanupSkippedWhenRetentionDisabled(t *testing.T) {
	db := newRetentionTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Exec(`INSERT INTO firewalls (device_key, source_syslog, source_import, last_seen) VALUES (?, 1, 0, ?)`, "fw1", time.Now()).Error)
	old := time.Now().UTC().AddDate(0, 0, -100)
	require.NoError(t, db.Exec(`INSERT INTO events (device_key, ts) VALUES (?, ?)`, "fw1", old).Error)

	settingsStore := settings.NewStore(db)
	require.NoError(t, settingsStore.SetLogRetention(ctx, model.LogRetentionSetting{Enabled: false, KeepDays: 30}))

	cleaner := NewCleaner(db, nil, settingsStore)
	got := runCleanupJob(t, db, cleaner)
	require.Equal(t, model.JobDone, got.Status)

	var remaining int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM events WHERE device_key = ?`, "fw1").Scan(&remaining).Error)
	require.EqualValues(t, 1, remaining, "disabled retention must leave rows untouched")
}
