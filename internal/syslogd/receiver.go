// Package syslogd is the UDP syslog receiver (C7, spec §2, §4.7). It
// owns nothing about parsing or storage: every accepted datagram is
// split into lines and handed to ingest.Pipeline.ApplyLine by one of a
// fixed pool of consumer goroutines, chosen by a consistent hash of the
// sender's address so that lines from one device are always applied in
// receive order by a single goroutine (spec §5: "a bounded pool of
// ingest consumers ... pinning a source address to one consumer").
//
// net.ListenUDP is plain standard library: none of the example repos'
// dependencies (gravwell/ingest, circonus-gometrics, etc.) offer a UDP
// listener abstraction worth adopting here, and a syslog receiver's wire
// handling is exactly what net.UDPConn already is.
package syslogd

import (
	"bytes"
	"context"
	"hash/fnv"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/matnordlund/netwall-flow-analyzer/internal/firewall"
	"github.com/matnordlund/netwall-flow-analyzer/internal/ingest"
	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
	"github.com/matnordlund/netwall-flow-analyzer/internal/parser"
	"github.com/matnordlund/netwall-flow-analyzer/internal/stats"
	"github.com/matnordlund/netwall-flow-analyzer/pkg/bufpool"
)

const (
	// queueCapacity bounds the inbound datagram queue in aggregate (spec
	// §4.7: "a bounded in-memory queue; when full, incoming datagrams are
	// dropped and udp_drops is incremented"), split evenly across the
	// per-consumer-shard channels so sharding never changes the total
	// amount of buffering.
	queueCapacity = 8192
	// consumerBatchLines and consumerBatchWindow bound how long a
	// consumer accumulates lines from its queue before applying them,
	// trading a little latency for fewer, larger units of work per wake
	// (spec §5: "consumers batch up to 256 lines or 50ms").
	consumerBatchLines = 256
	consumerBatchWindow = 50 * time.Millisecond
	maxDatagramSize     = 64 * 1024
)

type datagram struct {
	addr       string
	payload    []byte
	receivedAt time.Time
}

// Receiver listens on UDP for Clavister syslog datagrams and fans each
// one out, by source address, to a fixed consumer pool.
type Receiver struct {
	Pipeline  *ingest.Pipeline
	Stats     *stats.Counters
	Consumers int // default 4, spec §5

	hostnames *hostnameSet

	conn   *net.UDPConn
	queues []chan datagram // one bounded queue per consumer shard
}

// NewReceiver builds a Receiver with the given number of consumer shards
// (4 when consumers <= 0). It opens no socket: Run takes the listen
// address ("host:port") and opens it.
func NewReceiver(pipeline *ingest.Pipeline, st *stats.Counters, consumers int) *Receiver {
	if consumers <= 0 {
		consumers = 4
	}
	queues := make([]chan datagram, consumers)
	perShard := queueCapacity / consumers
	if perShard < 1 {
		perShard = 1
	}
	for i := range queues {
		queues[i] = make(chan datagram, perShard)
	}
	return &Receiver{
		Pipeline:  pipeline,
		Stats:     st,
		Consumers: consumers,
		hostnames: newHostnameSet(),
		queues:    queues,
	}
}

// Run opens the UDP socket at addr and blocks, reading datagrams into
// the bounded queue, until ctx is cancelled. Call it from its own
// goroutine; the consumer pool is started internally.
func (r *Receiver) Run(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	r.conn = conn
	defer conn.Close()

	var wg sync.WaitGroup
	for i := 0; i < r.Consumers; i++ {
		wg.Add(1)
		go func(shard int) {
			defer wg.Done()
			r.consume(ctx, shard)
		}(i)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("syslogd: read error", "error", err)
			continue
		}
		if r.Stats != nil {
			r.Stats.IncUDPPackets()
		}
		// Pooled in whichever bufpool tier fits n (small for datagrams up
		// to 4KB, medium up to maxDatagramSize); consume() returns it after
		// applyDatagram is done with it.
		payload := bufpool.Get(n)
		copy(payload, buf[:n])
		// addr includes the port: spec §5 pins by (src_ip, src_port), the
		// full UDP source address, not just the sending host's IP.
		dg := datagram{addr: raddr.String(), payload: payload, receivedAt: time.Now()}
		shard := shardFor(dg.addr, r.Consumers)
		select {
		case r.queues[shard] <- dg:
		default:
			if r.Stats != nil {
				r.Stats.IncUDPDrops()
			}
		}
	}

	wg.Wait()
	return nil
}

// consume is one of the fixed consumer goroutines: it drains this
// shard's own queue (r.queues[shard]), which Run fills only with
// datagrams whose address hashes to this shard, and applies their lines
// in order through the pipeline.
func (r *Receiver) consume(ctx context.Context, shard int) {
	ticker := time.NewTicker(consumerBatchWindow)
	defer ticker.Stop()

	var pending []datagram
	pendingLines := 0
	flush := func() {
		for _, dg := range pending {
			r.applyDatagram(ctx, dg)
			bufpool.Put(dg.payload)
		}
		pending = pending[:0]
		pendingLines = 0
	}

	queue := r.queues[shard]
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case dg := <-queue:
			pending = append(pending, dg)
			pendingLines += bytes.Count(dg.payload, []byte{'\n'})
			if len(dg.payload) > 0 && dg.payload[len(dg.payload)-1] != '\n' {
				pendingLines++
			}
			if pendingLines >= consumerBatchLines {
				flush()
			}
		case <-ticker.C:
			if len(pending) > 0 {
				flush()
			}
		}
	}
}

func (r *Receiver) applyDatagram(ctx context.Context, dg datagram) {
	lines := parser.SplitLines(dg.payload)
	for _, line := range lines {
		truncated, wasOversize := parser.Truncate(line)
		if wasOversize && r.Stats != nil {
			r.Stats.IncOversize()
		}

		hostname := hostnameHint(truncated)
		r.hostnames.add(hostname)
		deviceKey := firewall.DeviceKeyFromSyslog(hostname, r.hostnames.snapshot())

		r.Pipeline.ApplyLine(ctx, deviceKey, truncated, dg.receivedAt, nil)
	}
}

// shardFor hashes addr to one of n consumer shards (spec §5: consistent
// hashing on the source address so lines from one device always land on
// the same consumer and are therefore applied in order).
func shardFor(addr string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(addr))
	return int(h.Sum32() % uint32(n))
}

// hostnameHint extracts the syslog header hostname without running the
// full parser, just enough for device_key derivation before Parse itself
// runs inside the pipeline.
func hostnameHint(line string) string {
	fields := strings.Fields(line)
	for i, f := range fields {
		if strings.HasPrefix(f, "<") && strings.Contains(f, ">") {
			// RFC5424: PRI VERSION TIMESTAMP HOSTNAME ...
			if i+3 < len(fields) {
				return strings.ToLower(fields[i+3])
			}
			continue
		}
	}
	if len(fields) >= 4 {
		return strings.ToLower(fields[3])
	}
	return ""
}

// hostnameSet is a small concurrency-safe set of observed hostnames,
// used by firewall.DeviceKeyFromSyslog to detect HA peers.
type hostnameSet struct {
	mu   sync.RWMutex
	seen map[string]bool
}

func newHostnameSet() *hostnameSet {
	return &hostnameSet{seen: make(map[string]bool)}
}

func (s *hostnameSet) add(h string) {
	if h == "" {
		return
	}
	s.mu.Lock()
	s.seen[h] = true
	s.mu.Unlock()
}

func (s *hostnameSet) snapshot() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.seen))
	for k := range s.seen {
		out[k] = true
	}
	return out
}
