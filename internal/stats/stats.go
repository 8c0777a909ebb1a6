// Package stats holds the process-wide counters behind /stats and
// /stats/db (spec §6.1, §9 "Global mutable state": counters live on a
// process-wide struct behind a single mutex or atomics; their only
// consumer is /stats).
//
// Grounded on the promauto.With(reg).New*Vec registration idiom in the
// teacher's pkg/metrics/prometheus package, adapted from per-subsystem
// metric structs (badger/cache/s3) to one flat registry of ingestion
// counters.
package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters is the single process-wide counter block. Fields are
// exported atomics so hot-path callers (C7's receive loop, C1's parser)
// can increment without a lock; JSON serialisation for /stats reads them
// with Snapshot.
type Counters struct {
	UDPPackets atomic.Int64
	UDPDrops   atomic.Int64
	ParseErr   atomic.Int64
	ParseOK    atomic.Int64
	Oversize   atomic.Int64

	udpPacketsVec prometheus.Counter
	udpDropsVec   prometheus.Counter
	parseErrVec   prometheus.Counter
	parseOKVec    prometheus.Counter
	oversizeVec   prometheus.Counter
}

// New registers the Prometheus counters against reg and returns a
// Counters ready for use. Pass prometheus.NewRegistry() for an isolated
// registry (tests) or prometheus.DefaultRegisterer's registry in
// production.
func New(reg prometheus.Registerer) *Counters {
	c := &Counters{}
	c.udpPacketsVec = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "netwall_udp_packets_total",
		Help: "Total UDP syslog datagrams received.",
	})
	c.udpDropsVec = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "netwall_udp_drops_total",
		Help: "Total UDP datagrams dropped due to a full ingest queue.",
	})
	c.parseErrVec = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "netwall_parse_errors_total",
		Help: "Total syslog lines that failed to parse.",
	})
	c.parseOKVec = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "netwall_parse_ok_total",
		Help: "Total syslog lines parsed successfully.",
	})
	c.oversizeVec = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "netwall_oversize_lines_total",
		Help: "Total syslog lines truncated for exceeding the 16KiB cap.",
	})
	return c
}

func (c *Counters) IncUDPPackets() { c.UDPPackets.Add(1); c.udpPacketsVec.Inc() }
func (c *Counters) IncUDPDrops()   { c.UDPDrops.Add(1); c.udpDropsVec.Inc() }
func (c *Counters) IncParseErr()   { c.ParseErr.Add(1); c.parseErrVec.Inc() }
func (c *Counters) IncParseOK()    { c.ParseOK.Add(1); c.parseOKVec.Inc() }
func (c *Counters) IncOversize()   { c.Oversize.Add(1); c.oversizeVec.Inc() }

// Snapshot is the plain-JSON view of Counters for GET /stats (spec §6.1).
type Snapshot struct {
	UDPPackets int64 `json:"udp_packets"`
	UDPDrops   int64 `json:"udp_drops"`
	ParseErr   int64 `json:"parse_err"`
	ParseOK    int64 `json:"parse_ok"`
	Oversize   int64 `json:"oversize"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		UDPPackets: c.UDPPackets.Load(),
		UDPDrops:   c.UDPDrops.Load(),
		ParseErr:   c.ParseErr.Load(),
		ParseOK:    c.ParseOK.Load(),
		Oversize:   c.Oversize.Load(),
	}
}
