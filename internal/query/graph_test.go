package query

import (
	"context"
	"testing"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/firewall"
)

func newTestDB(t *testing.T) *gorm.DB {
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
	require.NoError(t, db.Exec(`CREATE TABLE router_mac_rules (device_key TEXT, mac TEXT, direction TEXT, PRIMARY KEY (device_key, mac))`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE firewalls (device_key TEXT PRIMARY KEY, display_name TEXT, source_syslog INTEGER, source_import INTEGER, first_seen TEXT, last_seen TEXT, last_import_ts TEXT)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE firewall_overrides (device_key TEXT PRIMARY KEY, display_name TEXT, comment TEXT)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE events (id INTEGER PRIMARY KEY, device_key TEXT, ts TEXT, event_kind TEXT, proto TEXT, src_ip TEXT, src_port INTEGER, dst_ip TEXT, dst_port INTEGER, src_zone TEXT, dst_zone TEXT, src_iface TEXT, dst_iface TEXT, rule TEXT, app_name TEXT, bytes_orig INTEGER, bytes_term INTEGER, src_mac TEXT, dst_mac TEXT, raw_log_id INTEGER)`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE raw_logs (id INTEGER PRIMARY KEY, device_key TEXT, received_at TEXT, raw_line TEXT, parse_status TEXT, job_id TEXT)`).Error)
	return db
}

func insertFlow(t *testing.T, db *gorm.DB, deviceKey, proto, srcIP string, srcPort int, dstIP string, dstPort int, openTS, closeTS time.Time, bytesOrig, bytesTerm int64, appName, srcZone, dstZone, dstIface string) {
	t.Helper()
	var closeVal any
	if !closeTS.IsZero() {
		closeVal = closeTS
	}
	require.NoError(t, db.Exec(`
		INSERT INTO flows (device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts, close_ts,
			bytes_orig, bytes_term, app_name, src_zone, dst_zone, dst_iface, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, deviceKey, proto, srcIP, srcPort, dstIP, dstPort, openTS, closeVal, bytesOrig, bytesTerm, appName, srcZone, dstZone, dstIface, openTS).Error)
}

func TestGraphServicesViewGroupsByPortThenApp(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, firewall.NewStore(db), "zone_first")
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		insertFlow(t, db, "fw1", "tcp", "10.0.0.1", 50000+i, "8.8.8.8", 443, base, base.Add(time.Second), 100, 100, "https", "trusted", "untrusted", "wan")
	}
	for i := 0; i < 3; i++ {
		insertFlow(t, db, "fw1", "tcp", "10.0.0.1", 51000+i, "8.8.8.8", 443, base, base.Add(time.Second), 100, 100, "quic-proxy", "trusted", "untrusted", "wan")
	}

	res, err := engine.Graph(ctx, Query{
		DeviceKey: "fw1", SrcKind: KindZone, SrcValue: "trusted", DstKind: KindAny,
		TimeFrom: base.Add(-time.Minute), TimeTo: base.Add(time.Minute), DestView: DestViewServices,
	})
	require.NoError(t, err)
	require.Len(t, res.ServicePortNodes, 1)
	port := res.ServicePortNodes[0]
	require.Equal(t, "tcp/443", port.Label)
	require.EqualValues(t, 8, port.Count)
	require.Len(t, port.Apps, 2)
	require.EqualValues(t, 5, port.Apps[0].Count)
	require.EqualValues(t, 3, port.Apps[1].Count)
}

func TestGraphEmptyWindowReturnsNoResults(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, firewall.NewStore(db), "zone_first")
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	res, err := engine.Graph(ctx, Query{
		DeviceKey: "fw1", SrcKind: KindZone, SrcValue: "trusted", DstKind: KindAny,
		TimeFrom: base, TimeTo: base, DestView: DestViewServices,
	})
	require.NoError(t, err)
	require.Empty(t, res.LeftNodes)
	require.Empty(t, res.Edges)
}

func TestGraphZoneFilterDropsNonMatching(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, firewall.NewStore(db), "zone_first")
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	insertFlow(t, db, "fw1", "tcp", "10.0.0.1", 1000, "8.8.8.8", 443, base, base.Add(time.Second), 10, 10, "https", "trusted", "untrusted", "wan")
	insertFlow(t, db, "fw1", "tcp", "10.0.0.2", 1000, "8.8.8.8", 443, base, base.Add(time.Second), 10, 10, "https", "guest", "untrusted", "wan")

	res, err := engine.Graph(ctx, Query{
		DeviceKey: "fw1", SrcKind: KindZone, SrcValue: "trusted", DstKind: KindAny,
		TimeFrom: base.Add(-time.Minute), TimeTo: base.Add(time.Minute), DestView: DestViewServices,
	})
	require.NoError(t, err)
	require.Len(t, res.LeftNodes, 1)
}
