// Package retention implements the cleanup job body (C6, spec §4.10):
// deleting raw_logs/events, and flows closed, before the configured
// log_retention window, one device and one batch at a time, followed by a vacuum when
// the backing store supports one.
//
// Grounded on internal/firewall.Store.Purge's per-device transaction
// shape, generalised from "delete everything for one device" to "delete
// rows older than a cutoff for devices eligible for retention".
package retention

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/jobs"
	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
	"github.com/matnordlund/netwall-flow-analyzer/internal/settings"
	"github.com/matnordlund/netwall-flow-analyzer/internal/storage"
)

// batchCap bounds one delete transaction (spec §4.10: "up to a batch cap
// (50 000 rows), repeats until exhausted").
const batchCap = 50_000

// Cleaner runs the retention-cleanup job body.
type Cleaner struct {
	db       *gorm.DB
	backend  storage.Backend
	settings *settings.Store
}

func NewCleaner(db *gorm.DB, backend storage.Backend, settingsStore *settings.Store) *Cleaner {
	return &Cleaner{db: db, backend: backend, settings: settingsStore}
}

// Runner returns the jobs.Runner for model.JobCleanup.
func (c *Cleaner) Runner() jobs.Runner {
	return func(ctx context.Context, job model.IngestJob, h *jobs.Handle) error {
		retention, err := c.settings.LogRetention(ctx)
		if err != nil {
			return err
		}
		if !retention.Enabled {
			return h.Report(ctx, jobs.Progress{Phase: "storing", Progress: 1})
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -retention.KeepDays)

		var deviceKeys []string
		err = c.db.WithContext(ctx).Raw(`
			SELECT device_key FROM firewalls WHERE source_syslog = true AND source_import = false
		`).Scan(&deviceKeys).Error
		if err != nil {
			return netwallerr.Internal(err)
		}

		var totalDeleted int64
		for i, deviceKey := range deviceKeys {
			if h.Canceled(ctx) {
				return netwallerr.Canceled("cleanup canceled")
			}
			n, err := c.purgeDeviceOlderThan(ctx, deviceKey, cutoff)
			if err != nil {
				return err
			}
			totalDeleted += n
			if err := h.Report(ctx, jobs.Progress{
				Phase:          "storing",
				Progress:       float64(i+1) / float64(len(deviceKeys)+1),
				LinesProcessed: totalDeleted,
			}); err != nil {
				return err
			}
		}

		c.vacuum(ctx)
		return h.Report(ctx, jobs.Progress{Phase: "vacuum", Progress: 1, LinesProcessed: totalDeleted})
	}
}

// purgeDeviceOlderThan deletes events and raw_logs older than cutoff, and
// flows closed before cutoff, for one device, one batch-capped
// transaction at a time, repeating until
// exhausted (spec §4.10, §8 invariant 7).
func (c *Cleaner) purgeDeviceOlderThan(ctx context.Context, deviceKey string, cutoff time.Time) (int64, error) {
	var total int64
	for {
		var deleted int64
		err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Exec(`
				DELETE FROM events WHERE id IN (
					SELECT id FROM events WHERE device_key = ? AND ts < ? LIMIT ?
				)
			`, deviceKey, cutoff, batchCap)
			if res.Error != nil {
				return res.Error
			}
			deleted = res.RowsAffected

			res = tx.Exec(`
				DELETE FROM raw_logs WHERE id IN (
					SELECT id FROM raw_logs WHERE device_key = ? AND received_at < ? LIMIT ?
				)
			`, deviceKey, cutoff, batchCap)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > deleted {
				deleted = res.RowsAffected
			}

			res = tx.Exec(`
				DELETE FROM flows WHERE device_key = ? AND close_ts IS NOT NULL AND close_ts < ? AND
					(device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts) IN (
						SELECT device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts
						FROM flows WHERE device_key = ? AND close_ts < ? LIMIT ?
					)
			`, deviceKey, cutoff, deviceKey, cutoff, batchCap)
			if res.Error != nil {
				return res.Error
			}
			return nil
		})
		if err != nil {
			return total, netwallerr.Internal(err)
		}
		total += deleted
		if deleted < batchCap {
			return total, nil
		}
	}
}

// vacuum reclaims space after a large delete, when the backend supports
// it (spec §4.10: "issues a vacuum if the backing store supports it").
// Postgres cannot VACUUM inside a transaction, so this runs outside
// c.db's transactional context; failures are logged, not fatal.
func (c *Cleaner) vacuum(ctx context.Context) {
	if c.backend == nil {
		return
	}
	if err := c.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		logger.Warn("post-cleanup vacuum failed", "error", err, "backend", string(c.backend.Kind()))
	}
}
