package ingest

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
	"github.com/matnordlund/netwall-flow-analyzer/internal/parser"
	"github.com/matnordlund/netwall-flow-analyzer/internal/storage"
)

// maxConflictRetries bounds the flow upsert's re-read-and-reapply loop
// (spec §4.3: "three consecutive transaction conflicts abort the record
// and increment parse_err").
const maxConflictRetries = 3

// Reconstructor is the event & flow reconstructor (C3, spec §4.3).
type Reconstructor struct {
	db *gorm.DB
}

func NewReconstructor(db *gorm.DB) *Reconstructor { return &Reconstructor{db: db} }

// ConnInput bundles a parsed CONN record with the device_key and raw_log
// id C2 already assigned it.
type ConnInput struct {
	DeviceKey string
	RawLogID  int64
	TS        time.Time
	Fields    *parser.ConnFields
}

// Apply reconstructs one CONN record: inserts its event row and applies
// the flow upsert policy, making up to maxConflictRetries attempts in
// total when transactions conflict (spec §4.3).
func (r *Reconstructor) Apply(ctx context.Context, in ConnInput) error {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := r.applyOnce(ctx, in)
		if err == nil {
			return nil
		}
		if !storage.IsSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return netwallerr.Wrap(netwallerr.KindConflict, lastErr, "flow upsert failed after retries")
}

func (r *Reconstructor) applyOnce(ctx context.Context, in ConnInput) error {
	f := in.Fields
	kind := model.EventClose
	if f.Action == model.ConnOpen {
		kind = model.EventOpen
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`
			INSERT INTO events (device_key, ts, event_kind, proto, src_ip, src_port, dst_ip, dst_port,
				src_zone, dst_zone, src_iface, dst_iface, rule, app_name, bytes_orig, bytes_term,
				src_mac, dst_mac, raw_log_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (raw_log_id, event_kind) DO NOTHING
		`, in.DeviceKey, in.TS, kind, f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort,
			f.SrcZone, f.DstZone, f.SrcIface, f.DstIface, f.Rule, f.AppName, f.BytesOrig, f.BytesTerm,
			f.SrcMAC, f.DstMAC, in.RawLogID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already processed this raw_log (replay); invariant 3 holds
			// and the flow side effects were already applied.
			return nil
		}

		if f.Action == model.ConnOpen {
			return r.applyOpen(tx, in.DeviceKey, in.RawLogID, in.TS, f)
		}
		return r.applyClose(tx, in.DeviceKey, in.TS, f)
	})
}

// applyOpen implements the open branch of the upsert policy (spec
// §4.3): insert if the key is absent; if a still-open flow already
// exists for the same 5-tuple (re-open), close it at open_ts-1ms with
// zero additional bytes first, and record that synthetic close as an
// events row (kind=close, bytes_orig=0, bytes_term=0) attributed to the
// raw_log that triggered it, since nothing else produced one.
func (r *Reconstructor) applyOpen(tx *gorm.DB, deviceKey string, rawLogID int64, openTS time.Time, f *parser.ConnFields) error {
	var existingOpenTS *time.Time
	err := tx.Raw(`
		SELECT open_ts FROM flows
		WHERE device_key = ? AND proto = ? AND src_ip = ? AND src_port = ? AND dst_ip = ? AND dst_port = ?
			AND close_ts IS NULL AND open_ts < ?
		ORDER BY open_ts DESC LIMIT 1
	`, deviceKey, f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, openTS).Scan(&existingOpenTS).Error
	if err != nil {
		return err
	}

	if existingOpenTS != nil {
		closeAt := openTS.Add(-time.Millisecond)
		if err := tx.Exec(`
			UPDATE flows SET close_ts = ?, last_seen = ?
			WHERE device_key = ? AND proto = ? AND src_ip = ? AND src_port = ? AND dst_ip = ? AND dst_port = ? AND open_ts = ?
		`, closeAt, closeAt, deviceKey, f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, *existingOpenTS).Error; err != nil {
			return err
		}

		if err := tx.Exec(`
			INSERT INTO events (device_key, ts, event_kind, proto, src_ip, src_port, dst_ip, dst_port,
				src_zone, dst_zone, src_iface, dst_iface, rule, app_name, bytes_orig, bytes_term,
				src_mac, dst_mac, raw_log_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', '', '', '', '', 0, 0, '', '', ?)
			ON CONFLICT (raw_log_id, event_kind) DO NOTHING
		`, deviceKey, closeAt, model.EventClose, f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, rawLogID).Error; err != nil {
			return err
		}
	}

	return tx.Exec(`
		INSERT INTO flows (device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts,
			bytes_orig, bytes_term, rule, app_name, src_zone, dst_zone, src_iface, dst_iface, src_mac,
			nat_src_ip, nat_dst_ip, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts) DO NOTHING
	`, deviceKey, f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, openTS,
		f.Rule, f.AppName, f.SrcZone, f.DstZone, f.SrcIface, f.DstIface, f.SrcMAC,
		nullIfEmpty(f.NATSrcIP), nullIfEmpty(f.NATDstIP), openTS).Error
}

// nullIfEmpty maps an empty field to SQL NULL so IP-typed columns (INET
// on Postgres) never receive the zero value "".
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// applyClose implements the close branch (spec §4.3): locate the latest
// still-open flow with open_ts <= close_ts; if found, close it; if none,
// synthesise a flow with open_ts = close_ts (also covers blocked/reject,
// per §9's resolved open question).
func (r *Reconstructor) applyClose(tx *gorm.DB, deviceKey string, closeTS time.Time, f *parser.ConnFields) error {
	var existingOpenTS *time.Time
	err := tx.Raw(`
		SELECT open_ts FROM flows
		WHERE device_key = ? AND proto = ? AND src_ip = ? AND src_port = ? AND dst_ip = ? AND dst_port = ?
			AND close_ts IS NULL AND open_ts <= ?
		ORDER BY open_ts DESC LIMIT 1
	`, deviceKey, f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, closeTS).Scan(&existingOpenTS).Error
	if err != nil {
		return err
	}

	if existingOpenTS != nil {
		return tx.Exec(`
			UPDATE flows SET close_ts = ?, bytes_orig = ?, bytes_term = ?, rule = ?, app_name = ?,
				dst_mac = ?, nat_dst_ip = COALESCE(nat_dst_ip, ?), last_seen = ?
			WHERE device_key = ? AND proto = ? AND src_ip = ? AND src_port = ? AND dst_ip = ? AND dst_port = ? AND open_ts = ?
		`, closeTS, f.BytesOrig, f.BytesTerm, f.Rule, f.AppName, f.DstMAC, nullIfEmpty(f.NATDstIP), closeTS,
			deviceKey, f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, *existingOpenTS).Error
	}

	return tx.Exec(`
		INSERT INTO flows (device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts, close_ts,
			bytes_orig, bytes_term, rule, app_name, src_zone, dst_zone, src_iface, dst_iface, dst_mac,
			nat_src_ip, nat_dst_ip, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts) DO NOTHING
	`, deviceKey, f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, closeTS, closeTS,
		f.BytesOrig, f.BytesTerm, f.Rule, f.AppName, f.SrcZone, f.DstZone, f.SrcIface, f.DstIface, f.DstMAC,
		nullIfEmpty(f.NATSrcIP), nullIfEmpty(f.NATDstIP), closeTS).Error
}
