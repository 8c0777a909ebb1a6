package ingest

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
)

// EndpointResolver is the device-identity resolver (C4, spec §4.4). The
// resolver relies on its callers for single-writer access: the syslog
// receiver (internal/syslogd) hashes each sender's address to one
// consumer shard, so one sender's endpoint rows are not written by two
// receiver goroutines concurrently,
// matching spec §4.4 "single-writer per device_key; across devices,
// parallel" without needing a DB-level lock.
type EndpointResolver struct {
	db *gorm.DB
}

func NewEndpointResolver(db *gorm.DB) *EndpointResolver {
	return &EndpointResolver{db: db}
}

// ApplyDevice upserts (device_key, mac, ip) from a DEVICE record, merging
// auto-attributes last-writer-wins per non-empty field (spec §4.4).
func (r *EndpointResolver) ApplyDevice(ctx context.Context, deviceKey string, d DeviceObservation, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing struct {
			AutoVendor, AutoType, AutoOS, AutoBrand, AutoModel, AutoHostname string
		}
		err := tx.Raw(`SELECT auto_vendor, auto_type, auto_os, auto_brand, auto_model, auto_hostname
			FROM endpoints WHERE device_key = ? AND mac = ? AND ip = ?`,
			deviceKey, d.MAC, d.IP).Scan(&existing).Error
		if err != nil {
			return err
		}

		vendor := coalesce(d.Vendor, existing.AutoVendor)
		typ := coalesce(d.Type, existing.AutoType)
		os := coalesce(d.OS, existing.AutoOS)
		brand := coalesce(d.Brand, existing.AutoBrand)
		model_ := coalesce(d.Model, existing.AutoModel)
		hostname := coalesce(d.Hostname, existing.AutoHostname)

		return tx.Exec(`
			INSERT INTO endpoints (device_key, mac, ip, first_seen, last_seen, seen_count,
				auto_vendor, auto_type, auto_os, auto_brand, auto_model, auto_hostname)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (device_key, mac, ip) DO UPDATE SET
				last_seen = excluded.last_seen,
				seen_count = endpoints.seen_count + 1,
				auto_vendor = excluded.auto_vendor,
				auto_type = excluded.auto_type,
				auto_os = excluded.auto_os,
				auto_brand = excluded.auto_brand,
				auto_model = excluded.auto_model,
				auto_hostname = excluded.auto_hostname
		`, deviceKey, d.MAC, d.IP, at, at, vendor, typ, os, brand, model_, hostname).Error
	})
}

// DeviceObservation is the subset of a parsed DEVICE record the resolver
// needs.
type DeviceObservation struct {
	MAC, IP                                       string
	Vendor, Type, OS, Brand, Model, Hostname string
}

// Sighting records a lightweight touch of an endpoint seen as one side of
// a CONN event (spec §4.4: "update last_seen, seen_count, first_seen if
// unset"). Unlike ApplyDevice, no auto-attributes are known here.
func (r *EndpointResolver) Sighting(ctx context.Context, deviceKey, mac, ip string, at time.Time) error {
	if ip == "" {
		return nil
	}
	err := r.db.WithContext(ctx).Exec(`
		INSERT INTO endpoints (device_key, mac, ip, first_seen, last_seen, seen_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (device_key, mac, ip) DO UPDATE SET
			last_seen = excluded.last_seen,
			seen_count = endpoints.seen_count + 1
	`, deviceKey, mac, ip, at, at).Error
	if err != nil {
		return netwallerr.Internal(err)
	}
	return nil
}

// SetOverride upserts the user-managed shadow attributes for one
// endpoint (spec §4.4: "overrides ... shadow auto fields at read time —
// they are never merged back into auto_* columns").
func (r *EndpointResolver) SetOverride(ctx context.Context, deviceKey, mac, ip string, attrs model.EndpointAttrs) error {
	err := r.db.WithContext(ctx).Exec(`
		INSERT INTO endpoint_overrides (device_key, mac, ip, vendor, type, os, brand, model, hostname, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_key, mac, ip) DO UPDATE SET
			vendor = excluded.vendor, type = excluded.type, os = excluded.os,
			brand = excluded.brand, model = excluded.model, hostname = excluded.hostname,
			comment = excluded.comment
	`, deviceKey, mac, ip, attrs.Vendor, attrs.Type, attrs.OS, attrs.Brand, attrs.Model, attrs.Hostname, attrs.Comment).Error
	if err != nil {
		return netwallerr.Internal(err)
	}
	return nil
}

// Get returns one endpoint with its override shadow applied (spec §8
// invariant 6: "override fields, when non-empty, appear in every API
// read; auto fields remain unchanged").
func (r *EndpointResolver) Get(ctx context.Context, deviceKey, mac, ip string) (*model.Endpoint, error) {
	var row struct {
		model.Endpoint
		OVendor, OType, OOS, OBrand, OModel, OHostname, OComment *string
	}
	err := r.db.WithContext(ctx).Raw(`
		SELECT e.device_key, e.mac, e.ip, e.first_seen, e.last_seen, e.seen_count,
			e.auto_vendor, e.auto_type, e.auto_os, e.auto_brand, e.auto_model, e.auto_hostname,
			o.vendor AS o_vendor, o.type AS o_type, o.os AS o_os, o.brand AS o_brand,
			o.model AS o_model, o.hostname AS o_hostname, o.comment AS o_comment
		FROM endpoints e
		LEFT JOIN endpoint_overrides o ON o.device_key = e.device_key AND o.mac = e.mac AND o.ip = e.ip
		WHERE e.device_key = ? AND e.mac = ? AND e.ip = ?
	`, deviceKey, mac, ip).Scan(&row).Error
	if err != nil {
		return nil, netwallerr.Internal(err)
	}
	ep := row.Endpoint
	if row.OVendor != nil {
		ep.HasOverride = true
		ep.Override = model.EndpointAttrs{
			Vendor: deref(row.OVendor), Type: deref(row.OType), OS: deref(row.OOS),
			Brand: deref(row.OBrand), Model: deref(row.OModel), Hostname: deref(row.OHostname),
			Comment: deref(row.OComment),
		}
	}
	return &ep, nil
}

// ListFilter narrows List to one device's endpoint inventory over a time
// window (spec §6.1 GET /endpoints/list, GET /endpoints/known, GET
// /inventory/macs).
type ListFilter struct {
	DeviceKey string
	TimeFrom  time.Time
	TimeTo    time.Time
	HasMAC    bool // when true, only rows with a non-empty MAC
}

// List returns endpoints for one device, most recently seen first, each
// with its override shadow applied.
func (r *EndpointResolver) List(ctx context.Context, f ListFilter) ([]model.Endpoint, error) {
	var rows []struct {
		model.Endpoint
		OVendor, OType, OOS, OBrand, OModel, OHostname, OComment *string
	}
	q := r.db.WithContext(ctx).Raw(`
		SELECT e.device_key, e.mac, e.ip, e.first_seen, e.last_seen, e.seen_count,
			e.auto_vendor, e.auto_type, e.auto_os, e.auto_brand, e.auto_model, e.auto_hostname,
			o.vendor AS o_vendor, o.type AS o_type, o.os AS o_os, o.brand AS o_brand,
			o.model AS o_model, o.hostname AS o_hostname, o.comment AS o_comment
		FROM endpoints e
		LEFT JOIN endpoint_overrides o ON o.device_key = e.device_key AND o.mac = e.mac AND o.ip = e.ip
		WHERE e.device_key = ? AND e.last_seen >= ? AND e.last_seen < ?
			AND (? = false OR e.mac != '')
		ORDER BY e.last_seen DESC
	`, f.DeviceKey, f.TimeFrom, f.TimeTo, f.HasMAC)
	if err := q.Scan(&rows).Error; err != nil {
		return nil, netwallerr.Internal(err)
	}

	out := make([]model.Endpoint, 0, len(rows))
	for _, row := range rows {
		ep := row.Endpoint
		if row.OVendor != nil {
			ep.HasOverride = true
			ep.Override = model.EndpointAttrs{
				Vendor: deref(row.OVendor), Type: deref(row.OType), OS: deref(row.OOS),
				Brand: deref(row.OBrand), Model: deref(row.OModel), Hostname: deref(row.OHostname),
				Comment: deref(row.OComment),
			}
		}
		out = append(out, ep)
	}
	return out, nil
}

// Effective returns attrs shadowed by override when present, else auto
// (spec §4.4).
func Effective(ep model.Endpoint) model.EndpointAttrs {
	if ep.HasOverride {
		return ep.Override
	}
	return ep.Auto
}

func coalesce(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
