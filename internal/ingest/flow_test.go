package ingest

import (
	"context"
	"testing"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/parser"
)

func newFlowTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(glebarez.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`
		CREATE TABLE flows (
			device_key TEXT NOT NULL, proto TEXT NOT NULL, src_ip TEXT NOT NULL, src_port INTEGER NOT NULL,
			dst_ip TEXT NOT NULL, dst_port INTEGER NOT NULL, open_ts TEXT NOT NULL, close_ts TEXT,
			bytes_orig INTEGER NOT NULL DEFAULT 0, bytes_term INTEGER NOT NULL DEFAULT 0,
			rule TEXT NOT NULL DEFAULT '', app_name TEXT NOT NULL DEFAULT '',
			src_zone TEXT NOT NULL DEFAULT '', dst_zone TEXT NOT NULL DEFAULT '',
			src_iface TEXT NOT NULL DEFAULT '', dst_iface TEXT NOT NULL DEFAULT '',
			src_mac TEXT NOT NULL DEFAULT '', dst_mac TEXT NOT NULL DEFAULT '',
			nat_src_ip TEXT, nat_dst_ip TEXT, last_seen TEXT NOT NULL,
			PRIMARY KEY (device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts)
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE events (
			id INTEGER PRIMARY KEY AUTOINCREMENT, device_key TEXT, ts TEXT, event_kind TEXT,
			proto TEXT, src_ip TEXT, src_port INTEGER, dst_ip TEXT, dst_port INTEGER,
			src_zone TEXT, dst_zone TEXT, src_iface TEXT, dst_iface TEXT, rule TEXT, app_name TEXT,
			bytes_orig INTEGER, bytes_term INTEGER, src_mac TEXT, dst_mac TEXT, raw_log_id INTEGER,
			UNIQUE (raw_log_id, event_kind)
		)
	`).Error)
	return db
}

func connFields(srcPort, dstPort int32, action model.ConnAction) *parser.ConnFields {
	return &parser.ConnFields{
		Action: action, Proto: "tcp",
		SrcIP: "10.0.0.5", SrcPort: srcPort,
		DstIP: "8.8.8.8", DstPort: dstPort,
	}
}

func countFlows(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM flows`).Scan(&n).Error)
	return n
}

// TestSimpleOpenThenClose covers spec §8 scenario 1: an open CONN
// followed by a matching close produces exactly one flow row with both
// timestamps set.
func TestSimpleOpenThenClose(t *testing.T) {
	db := newFlowTestDB(t)
	r := NewReconstructor(db)
	ctx := context.Background()

	openTS := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	closeTS := openTS.Add(5 * time.Second)

	require.NoError(t, r.Apply(ctx, ConnInput{
		DeviceKey: "fw1", RawLogID: 1, TS: openTS, Fields: connFields(1000, 443, model.ConnOpen),
	}))
	require.NoError(t, r.Apply(ctx, ConnInput{
		DeviceKey: "fw1", RawLogID: 2, TS: closeTS, Fields: connFields(1000, 443, model.ConnClose),
	}))

	require.EqualValues(t, 1, countFlows(t, db))

	var gotOpen, gotClose string
	require.NoError(t, db.Raw(`SELECT open_ts, close_ts FROM flows LIMIT 1`).Row().Scan(&gotOpen, &gotClose))
	require.NotEmpty(t, gotOpen)
	require.NotEmpty(t, gotClose)
}

// TestReopenWithoutCloseSynthesisesClose covers spec §8 scenario 2: a
// second open for the same 5-tuple with no intervening close implicitly
// closes the first flow one millisecond before the new open_ts, leaving
// two flow rows.
func TestReopenWithoutCloseSynthesisesClose(t *testing.T) {
	db := newFlowTestDB(t)
	r := NewReconstructor(db)
	ctx := context.Background()

	firstOpen := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	secondOpen := firstOpen.Add(time.Minute)

	require.NoError(t, r.Apply(ctx, ConnInput{
		DeviceKey: "fw1", RawLogID: 1, TS: firstOpen, Fields: connFields(1000, 443, model.ConnOpen),
	}))
	require.NoError(t, r.Apply(ctx, ConnInput{
		DeviceKey: "fw1", RawLogID: 2, TS: secondOpen, Fields: connFields(1000, 443, model.ConnOpen),
	}))

	require.EqualValues(t, 2, countFlows(t, db))

	var openCloseCount int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM flows WHERE close_ts IS NOT NULL`).Scan(&openCloseCount).Error)
	require.EqualValues(t, 1, openCloseCount, "the first flow must have been synthetically closed")

	var stillOpenCount int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM flows WHERE close_ts IS NULL`).Scan(&stillOpenCount).Error)
	require.EqualValues(t, 1, stillOpenCount, "the second open must remain open")

	// The synthetic close must also surface as its own events row (kind
	// close, zero bytes), attributed to the raw_log that triggered it,
	// not just as a flows-table side effect.
	var syntheticCloseCount int64
	require.NoError(t, db.Raw(`
		SELECT COUNT(*) FROM events WHERE event_kind = ? AND raw_log_id = ? AND bytes_orig = 0 AND bytes_term = 0
	`, model.EventClose, 2).Scan(&syntheticCloseCount).Error)
	require.EqualValues(t, 1, syntheticCloseCount, "the re-open must emit a synthetic close event")
}

// TestCloseWithoutOpenSynthesisesFlow covers spec §8's "close with no
// matching open" edge case: a lone close record creates a flow whose
// open_ts equals its close_ts.
func TestCloseWithoutOpenSynthesisesFlow(t *testing.T) {
	db := newFlowTestDB(t)
	r := NewReconstructor(db)
	ctx := context.Background()

	closeTS := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.Apply(ctx, ConnInput{
		DeviceKey: "fw1", RawLogID: 1, TS: closeTS, Fields: connFields(1000, 443, model.ConnClose),
	}))

	require.EqualValues(t, 1, countFlows(t, db))

	var openTS, gotCloseTS string
	require.NoError(t, db.Raw(`SELECT open_ts, close_ts FROM flows LIMIT 1`).Row().Scan(&openTS, &gotCloseTS))
	require.Equal(t, openTS, gotCloseTS)
}

// TestDuplicateRawLogIsIdempotent covers spec §8 invariant 3: replaying
// the same raw_log_id (same event_kind) must not create a second event
// or a second flow side effect.
func TestDuplicateRawLogIsIdempotent(t *testing.T) {
	db := newFlowTestDB(t)
	r := NewReconstructor(db)
	ctx := context.Background()

	openTS := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	in := ConnInput{DeviceKey: "fw1", RawLogID: 1, TS: openTS, Fields: connFields(1000, 443, model.ConnOpen)}

	require.NoError(t, r.Apply(ctx, in))
	require.NoError(t, r.Apply(ctx, in))

	require.EqualValues(t, 1, countFlows(t, db))

	var eventCount int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM events`).Scan(&eventCount).Error)
	require.EqualValues(t, 1, eventCount)
}
