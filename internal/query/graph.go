// Package query implements the analytical query engine behind GET
// /graph (C9, spec §4.9): a time-windowed, side-classified aggregation
// of flow rows into a two-sided node/edge topology.
//
// Grounded on the teacher's repository-over-gorm.DB shape
// (pkg/controlplane/store); unlike the hot-path C2/C3/C4 repositories
// this package reads the already-small result of a windowed flow scan
// into memory and aggregates in Go, since the grouping/top-K/bucket
// rules (§4.9 steps 7-9) do not map cleanly onto a single portable SQL
// query across both backends.
package query

import (
	"context"
	"sort"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/matnordlund/netwall-flow-analyzer/internal/firewall"
	"github.com/matnordlund/netwall-flow-analyzer/internal/ingest"
	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
)

// leftCap is the maximum number of individually-rendered left-column
// nodes before the remainder collapses into router_bucket_left (spec
// §4.9 step 7: "cap to 9 entries").
const leftCap = 9

// topK bounds the per-edge top_ports/top_rules/top_apps/top_services
// maps (spec §4.9 step 9: "top-5 by value").
const topK = 5

// byPairCap bounds the per-service-leaf by_pair slice (spec §4.9 step 8:
// "capped at top 200 by count").
const byPairCap = 200

type SrcKind string
type View string
type DestView string

const (
	KindZone     SrcKind = "zone"
	KindIface    SrcKind = "interface"
	KindEndpoint SrcKind = "endpoint"
	KindAny      SrcKind = "any" // dst_kind only

	ViewOriginal   View = "original"
	ViewTranslated View = "translated"

	DestViewEndpoints DestView = "endpoints"
	DestViewServices  DestView = "services"
)

// Query is the fully-parsed input to Graph (spec §4.9).
type Query struct {
	DeviceKey string
	SrcKind   SrcKind
	SrcValue  string
	DstKind   SrcKind // zone|interface|endpoint|any
	DstValue  string
	TimeFrom  time.Time
	TimeTo    time.Time
	View      View
	DestView  DestView
}

// Engine answers Graph and InspectLogs queries against the flow/event
// tables.
type Engine struct {
	db         *gorm.DB
	Firewalls  *firewall.Store
	Precedence string // config.ClassificationPrecedence: zone_first|interface_first
}

func NewEngine(db *gorm.DB, fw *firewall.Store, precedence string) *Engine {
	return &Engine{db: db, Firewalls: fw, Precedence: precedence}
}

// Node is one rendered left/right node (spec §4.9 output shape).
type Node struct {
	ID       model.EndpointID `json:"id"`
	Label    string           `json:"label"`
	Column   string           `json:"column"` // "left" | "right"
	Activity int64            `json:"activity"`
	IsRouter bool             `json:"is_router,omitempty"`
}

// InterfaceGroup nests local devices under a destination interface
// (dest_view=endpoints, spec §4.9 step 8).
type InterfaceGroup struct {
	Interface string         `json:"interface"`
	Nodes     []Node         `json:"nodes"`
	Router    *RouterBucket  `json:"router,omitempty"`
}

// RouterBucket aggregates the nodes/edges collapsed out of a column
// (spec §4.9 steps 7-8).
type RouterBucket struct {
	Count        int      `json:"count"`
	HiddenNodes  []string `json:"hidden_nodes"`
	HiddenEdges  int      `json:"hidden_edges"`
}

// ByPair is one source/destination breakdown line under a service leaf
// (spec §4.9 step 8).
type ByPair struct {
	SourceLabel string `json:"source_label"`
	DestLabel   string `json:"dest_label"`
	SrcIP       string `json:"src_ip"`
	DestIP      string `json:"dest_ip"`
	Count       int64  `json:"count"`
}

// ServiceAppNode is a per-app_name leaf under a service_port_node (spec
// §4.9 step 8).
type ServiceAppNode struct {
	AppName string   `json:"app_name"`
	Count   int64    `json:"count"`
	ByPair  []ByPair `json:"by_pair"`
}

// ServicePortNode groups flows by (proto, dst_port) (spec §4.9 step 8).
type ServicePortNode struct {
	Label string           `json:"label"`
	Proto string           `json:"proto"`
	Port  int32            `json:"port"`
	Count int64            `json:"count"`
	Apps  []ServiceAppNode `json:"service_app_nodes"`
}

// Edge is one aggregated source->target pair (spec §4.9 step 9).
type Edge struct {
	SourceID       model.EndpointID `json:"source_id"`
	TargetID       string           `json:"target_id"`
	CountOpen      int64            `json:"count_open"`
	CountClose     int64            `json:"count_close"`
	BytesSrcToDst  int64            `json:"bytes_src_to_dst"`
	BytesDstToSrc  int64            `json:"bytes_dst_to_src"`
	TopPorts       map[string]int64 `json:"top_ports"`
	TopRules       map[string]int64 `json:"top_rules"`
	TopApps        map[string]int64 `json:"top_apps"`
	TopServices    []string         `json:"top_services"`
	LastSeen       time.Time        `json:"last_seen"`
}

// Meta carries the resolved window and counts for client display.
type Meta struct {
	TimeFrom    time.Time `json:"time_from"`
	TimeTo      time.Time `json:"time_to"`
	FlowCount   int       `json:"flow_count"`
	MemberCount int       `json:"member_count"`
}

// Result is the full GET /graph payload (spec §4.9 output shape).
type Result struct {
	LeftNodes        []Node            `json:"left_nodes"`
	InterfaceGroups  []InterfaceGroup  `json:"interface_groups,omitempty"`
	ServicePortNodes []ServicePortNode `json:"service_port_nodes,omitempty"`
	RouterBucketLeft RouterBucket      `json:"router_bucket_left"`
	Edges            []Edge            `json:"edges"`
	Meta             Meta              `json:"meta"`
}

// side is the resolved classification of one flow endpoint: its
// EndpointID, its zone/interface, and whether a mac is present.
type side struct {
	id    model.EndpointID
	ip    string
	mac   string
	zone  string
	iface string
}

// Graph answers the main topology query (spec §4.9, the 10-step
// algorithm).
func (e *Engine) Graph(ctx context.Context, q Query) (Result, error) {
	if q.TimeTo.Before(q.TimeFrom) {
		return Result{}, netwallerr.Validation("time_to", "must not precede time_from")
	}

	// Step 2: resolve device_key to member devices (HA cluster union).
	members, err := e.resolveMembers(ctx, q.DeviceKey)
	if err != nil {
		return Result{}, err
	}
	if len(members) == 0 {
		return Result{}.withMeta(q, 0, 0), nil
	}

	rules, err := e.routerRulesFor(ctx, q.DeviceKey)
	if err != nil {
		return Result{}, err
	}

	// Step 3: select candidate flows in the window.
	flows, err := e.selectFlows(ctx, members, q.TimeFrom, q.TimeTo)
	if err != nil {
		return Result{}, netwallerr.Internal(err)
	}

	// Steps 4-6: project view, classify, filter.
	type matched struct {
		src, dst side
		flow     model.Flow
	}
	var kept []matched
	for _, f := range flows {
		srcIP, dstIP := projectView(f, q.View)
		src := side{
			id:    ingest.ResolveEndpointID(rules, f.DeviceKey, f.SrcMAC, srcIP, model.DirectionSrc),
			ip:    srcIP, mac: f.SrcMAC, zone: f.SrcZone, iface: f.SrcIface,
		}
		dst := side{
			id:    ingest.ResolveEndpointID(rules, f.DeviceKey, f.DstMAC, dstIP, model.DirectionDst),
			ip:    dstIP, mac: f.DstMAC, zone: f.DstZone, iface: f.DstIface,
		}

		if !matchesSide(e.Precedence, src, q.SrcKind, q.SrcValue) {
			continue
		}
		if q.DstKind != KindAny && !matchesSide(e.Precedence, dst, q.DstKind, q.DstValue) {
			continue
		}
		kept = append(kept, matched{src: src, dst: dst, flow: f})
	}

	// Step 7: left column, grouped by source endpoint_id, capped at 9.
	type leftAgg struct {
		id       model.EndpointID
		activity int64
		flows    []matched
	}
	leftByID := map[model.EndpointID]*leftAgg{}
	for _, m := range kept {
		a := leftByID[m.src.id]
		if a == nil {
			a = &leftAgg{id: m.src.id}
			leftByID[m.src.id] = a
		}
		a.activity += m.flow.BytesOrig + m.flow.BytesTerm
		a.flows = append(a.flows, m)
	}
	leftList := make([]*leftAgg, 0, len(leftByID))
	for _, a := range leftByID {
		leftList = append(leftList, a)
	}
	sort.Slice(leftList, func(i, j int) bool {
		if leftList[i].activity != leftList[j].activity {
			return leftList[i].activity > leftList[j].activity
		}
		return leftList[i].id < leftList[j].id
	})

	var leftNodes []Node
	var leftRendered []*leftAgg
	bucket := RouterBucket{}
	for i, a := range leftList {
		if i < leftCap {
			leftNodes = append(leftNodes, Node{ID: a.id, Label: string(a.id), Column: "left", Activity: a.activity, IsRouter: a.id == ingest.RouterEndpointID})
			leftRendered = append(leftRendered, a)
			continue
		}
		bucket.Count++
		bucket.HiddenNodes = append(bucket.HiddenNodes, string(a.id))
		bucket.HiddenEdges += len(a.flows)
	}

	// Step 8: right column, per dest_view.
	var ifaceGroups []InterfaceGroup
	var servicePorts []ServicePortNode
	renderedFlows := make([]matched, 0, len(kept))
	renderedSet := map[model.EndpointID]bool{}
	for _, a := range leftRendered {
		renderedSet[a.id] = true
	}
	for _, m := range kept {
		if renderedSet[m.src.id] {
			renderedFlows = append(renderedFlows, m)
		}
	}

	switch q.DestView {
	case DestViewServices, "":
		servicePorts = buildServicePorts(renderedFlows)
	default:
		ifaceGroups = buildInterfaceGroups(renderedFlows)
	}

	// Step 9: edge aggregation over (source_id, target_id) pairs.
	edges := buildEdges(renderedFlows)

	result := Result{
		LeftNodes:        leftNodes,
		InterfaceGroups:  ifaceGroups,
		ServicePortNodes: servicePorts,
		RouterBucketLeft: bucket,
		Edges:            edges,
	}
	return result.withMeta(q, len(kept), len(members)), nil
}

func (r Result) withMeta(q Query, flowCount, memberCount int) Result {
	r.Meta = Meta{TimeFrom: q.TimeFrom, TimeTo: q.TimeTo, FlowCount: flowCount, MemberCount: memberCount}
	return r
}

func (e *Engine) resolveMembers(ctx context.Context, deviceKey string) ([]string, error) {
	if firewall.IsHACluster(deviceKey) {
		return e.Firewalls.ResolveMembers(ctx, deviceKey)
	}
	return []string{deviceKey}, nil
}

func (e *Engine) routerRulesFor(ctx context.Context, deviceKey string) (*ingest.RouterMACRules, error) {
	members, err := e.resolveMembers(ctx, deviceKey)
	if err != nil {
		return nil, err
	}
	var all []model.RouterMACRule
	for _, m := range members {
		rules, err := e.Firewalls.ListRouterMACRules(ctx, m)
		if err != nil {
			return nil, netwallerr.Internal(err)
		}
		all = append(all, rules...)
	}
	return ingest.NewRouterMACRules(all), nil
}

// selectFlows loads every flow matching step 3's window predicate for
// the given member device_keys.
func (e *Engine) selectFlows(ctx context.Context, members []string, from, to time.Time) ([]model.Flow, error) {
	var rows []model.Flow
	err := e.db.WithContext(ctx).Raw(`
		SELECT device_key, proto, src_ip, src_port, dst_ip, dst_port, open_ts, close_ts,
			bytes_orig, bytes_term, rule, app_name, src_zone, dst_zone, src_iface, dst_iface,
			src_mac, dst_mac, nat_src_ip, nat_dst_ip, last_seen
		FROM flows
		WHERE device_key IN ? AND open_ts < ? AND (close_ts >= ? OR close_ts IS NULL)
	`, members, to, from).Scan(&rows).Error
	return rows, err
}

// projectView returns the (src_ip, dst_ip) pair per the view projection
// (spec §4.9 step 4): translated swaps in NAT addresses when present.
func projectView(f model.Flow, view View) (string, string) {
	if view != ViewTranslated {
		return f.SrcIP, f.DstIP
	}
	srcIP, dstIP := f.SrcIP, f.DstIP
	if f.NATSrcIP != "" {
		srcIP = f.NATSrcIP
	}
	if f.NATDstIP != "" {
		dstIP = f.NATDstIP
	}
	return srcIP, dstIP
}

// matchesSide implements step 5/6's zone/interface/endpoint matching.
func matchesSide(precedence string, s side, kind SrcKind, value string) bool {
	switch kind {
	case KindZone:
		return s.zone == value
	case KindIface:
		return s.iface == value
	case KindEndpoint:
		return string(s.id) == value
	default:
		field := ingest.Precedence(precedence, s.zone, s.iface)
		if field == ingest.FieldZone {
			return s.zone == value
		}
		return s.iface == value
	}
}

func buildInterfaceGroups(flows []matched) []InterfaceGroup {
	type agg struct {
		nodes  map[model.EndpointID]*Node
		router RouterBucket
	}
	byIface := map[string]*agg{}
	for _, m := range flows {
		a := byIface[m.dst.iface]
		if a == nil {
			a = &agg{nodes: map[model.EndpointID]*Node{}}
			byIface[m.dst.iface] = a
		}
		if m.dst.mac == "" || m.dst.id == ingest.RouterEndpointID {
			a.router.Count++
			a.router.HiddenNodes = append(a.router.HiddenNodes, string(m.dst.id))
			continue
		}
		n := a.nodes[m.dst.id]
		if n == nil {
			n = &Node{ID: m.dst.id, Label: string(m.dst.id), Column: "right"}
			a.nodes[m.dst.id] = n
		}
		n.Activity += m.flow.BytesOrig + m.flow.BytesTerm
	}

	var out []InterfaceGroup
	for iface, a := range byIface {
		g := InterfaceGroup{Interface: iface}
		for _, n := range a.nodes {
			g.Nodes = append(g.Nodes, *n)
		}
		sort.Slice(g.Nodes, func(i, j int) bool {
			if g.Nodes[i].Activity != g.Nodes[j].Activity {
				return g.Nodes[i].Activity > g.Nodes[j].Activity
			}
			return g.Nodes[i].ID < g.Nodes[j].ID
		})
		if a.router.Count > 0 {
			g.Router = &a.router
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interface < out[j].Interface })
	return out
}

func buildServicePorts(flows []matched) []ServicePortNode {
	type portKey struct {
		proto string
		port  int32
	}
	type appAgg struct {
		count  int64
		pairs  []ByPair
	}
	byPort := map[portKey]map[string]*appAgg{}
	for _, m := range flows {
		pk := portKey{proto: m.flow.Proto, port: m.flow.DstPort}
		apps := byPort[pk]
		if apps == nil {
			apps = map[string]*appAgg{}
			byPort[pk] = apps
		}
		appName := m.flow.AppName
		if appName == "" {
			appName = "—" // "—"
		}
		a := apps[appName]
		if a == nil {
			a = &appAgg{}
			apps[appName] = a
		}
		a.count++
		a.pairs = append(a.pairs, ByPair{
			SourceLabel: string(m.src.id), DestLabel: string(m.dst.id),
			SrcIP: m.src.ip, DestIP: m.dst.ip, Count: 1,
		})
	}

	var out []ServicePortNode
	for pk, apps := range byPort {
		node := ServicePortNode{
			Label: pk.proto + "/" + strconv.FormatInt(int64(pk.port), 10),
			Proto: pk.proto, Port: pk.port,
		}
		for name, a := range apps {
			sort.Slice(a.pairs, func(i, j int) bool { return a.pairs[i].Count > a.pairs[j].Count })
			if len(a.pairs) > byPairCap {
				a.pairs = a.pairs[:byPairCap]
			}
			node.Apps = append(node.Apps, ServiceAppNode{AppName: name, Count: a.count, ByPair: a.pairs})
			node.Count += a.count
		}
		sort.Slice(node.Apps, func(i, j int) bool { return node.Apps[i].Count > node.Apps[j].Count })
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func buildEdges(flows []matched) []Edge {
	type key struct {
		src model.EndpointID
		dst string
	}
	byPair := map[key]*Edge{}
	ports := map[key]map[string]int64{}
	rules := map[key]map[string]int64{}
	apps := map[key]map[string]int64{}

	for _, m := range flows {
		k := key{src: m.src.id, dst: string(m.dst.id)}
		e := byPair[k]
		if e == nil {
			e = &Edge{SourceID: m.src.id, TargetID: string(m.dst.id), TopPorts: map[string]int64{}, TopRules: map[string]int64{}, TopApps: map[string]int64{}}
			byPair[k] = e
			ports[k] = map[string]int64{}
			rules[k] = map[string]int64{}
			apps[k] = map[string]int64{}
		}
		e.CountOpen++
		if m.flow.CloseTS != nil {
			e.CountClose++
		}
		e.BytesSrcToDst = clampAdd(e.BytesSrcToDst, m.flow.BytesOrig)
		e.BytesDstToSrc = clampAdd(e.BytesDstToSrc, m.flow.BytesTerm)
		ports[k][strconv.FormatInt(int64(m.flow.DstPort), 10)]++
		if m.flow.Rule != "" {
			rules[k][m.flow.Rule]++
		}
		if m.flow.AppName != "" {
			apps[k][m.flow.AppName]++
		}
		if m.flow.LastSeen.After(e.LastSeen) {
			e.LastSeen = m.flow.LastSeen
		}
	}

	out := make([]Edge, 0, len(byPair))
	for k, e := range byPair {
		e.TopPorts = topNMap(ports[k], topK)
		e.TopRules = topNMap(rules[k], topK)
		e.TopApps = topNMap(apps[k], topK)
		e.TopServices = topNKeys(ports[k], topK)
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

// clampAdd adds b to a, saturating at math.MaxInt64 (spec §4.9: "count_*
// ... overflow is clamped to int64 max").
func clampAdd(a, b int64) int64 {
	const maxInt64 = int64(1<<63 - 1)
	if a > maxInt64-b {
		return maxInt64
	}
	return a + b
}

func topNMap(counts map[string]int64, n int) map[string]int64 {
	keys := topNKeys(counts, n)
	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		out[k] = counts[k]
	}
	return out
}

func topNKeys(counts map[string]int64, n int) []string {
	type kv struct {
		k string
		v int64
	}
	kvs := make([]kv, 0, len(counts))
	for k, v := range counts {
		kvs = append(kvs, kv{k, v})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].v != kvs[j].v {
			return kvs[i].v > kvs[j].v
		}
		return kvs[i].k < kvs[j].k
	})
	if len(kvs) > n {
		kvs = kvs[:n]
	}
	out := make([]string, len(kvs))
	for i, p := range kvs {
		out[i] = p.k
	}
	return out
}

