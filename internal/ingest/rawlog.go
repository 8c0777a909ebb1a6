// Package ingest implements the hot-path ingestion pipeline: raw-log
// persistence (C2), event & flow reconstruction (C3), the device-identity
// resolver (C4), and router-MAC classification (C11) — spec §4.2-§4.4,
// §4.11.
//
// Repositories issue hand-written SQL through gorm.DB.Raw/Exec (portable
// `?` placeholders, rewritten per-dialect by GORM's statement builder)
// rather than ORM struct mapping, mirroring the teacher's
// pkg/store/metadata/postgres package's typed-row-scan idiom for the
// performance-sensitive tables while still sharing one code path across
// the Postgres and SQLite backends.
package ingest

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
)

// rawLogBatchSize and rawLogBatchWindow bound a batch insert (spec
// §4.2: "target batch 500 rows or 100 ms, whichever first").
const (
	rawLogBatchSize   = 500
	rawLogBatchWindow = 100 * time.Millisecond
)

var retryBackoffs = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 1000 * time.Millisecond}

type rawLogResult struct {
	id  int64
	err error
}

// pendingAppend is one Append() call's row plus the channel its caller
// blocks on until the enclosing batch commits (or fails after retries).
type pendingAppend struct {
	row  model.RawLog
	done chan rawLogResult
}

// Batcher drains Append() calls from a channel and flushes on size/time
// boundaries (spec §4.2).
type Batcher struct {
	db      *gorm.DB
	appendC chan pendingAppend
}

func NewBatcher(db *gorm.DB) *Batcher {
	return &Batcher{db: db, appendC: make(chan pendingAppend, 4096)}
}

// Append enqueues a row and waits for its batch to commit.
func (b *Batcher) Append(ctx context.Context, row model.RawLog) (int64, error) {
	done := make(chan rawLogResult, 1)
	select {
	case b.appendC <- pendingAppend{row: row, done: done}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-done:
		return res.id, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Run drains the append channel, batching up to rawLogBatchSize rows or
// rawLogBatchWindow, whichever comes first, until ctx is canceled.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(rawLogBatchWindow)
	defer ticker.Stop()

	batch := make([]pendingAppend, 0, rawLogBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		b.flush(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case pa := <-b.appendC:
			batch = append(batch, pa)
			if len(batch) >= rawLogBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// flush writes one batch with retry-with-backoff (spec §4.2: up to 3
// retries at 50/200/1000 ms; on persistent failure, surface
// storage_unavailable).
func (b *Batcher) flush(ctx context.Context, batch []pendingAppend) {
	rows := make([]model.RawLog, len(batch))
	for i, pa := range batch {
		rows[i] = pa.row
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = b.insertBatch(ctx, rows)
		if err == nil {
			break
		}
		if attempt >= len(retryBackoffs) {
			break
		}
		logger.Warn("raw_log batch insert failed, retrying", "attempt", attempt+1, "error", err)
		select {
		case <-time.After(retryBackoffs[attempt]):
		case <-ctx.Done():
			err = ctx.Err()
			goto done
		}
	}
done:
	if err != nil {
		wrapped := netwallerr.StorageUnavailable(err)
		for _, pa := range batch {
			pa.done <- rawLogResult{err: wrapped}
		}
		return
	}
	for i, pa := range batch {
		pa.done <- rawLogResult{id: rows[i].ID}
	}
}

func (b *Batcher) insertBatch(ctx context.Context, rows []model.RawLog) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			res := tx.Exec(
				`INSERT INTO raw_logs (device_key, received_at, raw_line, parse_status, job_id) VALUES (?, ?, ?, ?, ?)`,
				rows[i].DeviceKey, rows[i].ReceivedAt, rows[i].RawLine, rows[i].ParseStatus, rows[i].JobID,
			)
			if res.Error != nil {
				return res.Error
			}
			var id int64
			if err := tx.Raw(`SELECT id FROM raw_logs WHERE device_key = ? AND received_at = ? AND raw_line = ? ORDER BY id DESC LIMIT 1`,
				rows[i].DeviceKey, rows[i].ReceivedAt, rows[i].RawLine).Scan(&id).Error; err != nil {
				return err
			}
			rows[i].ID = id
		}
		return nil
	})
}
