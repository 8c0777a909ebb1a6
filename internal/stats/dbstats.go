package stats

import "github.com/matnordlund/netwall-flow-analyzer/internal/storage"

// DBStats is the GET /stats/db payload (spec §6.1): a thin view over
// database/sql's connection pool counters, which both backends expose
// through Backend.SQL() regardless of which physical driver backs it.
type DBStats struct {
	Backend         string `json:"backend"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
}

// CollectDBStats reads the pool counters off b's database/sql handle.
func CollectDBStats(b storage.Backend) DBStats {
	s := b.SQL().Stats()
	return DBStats{
		Backend:         string(b.Kind()),
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		WaitCount:       s.WaitCount,
	}
}
