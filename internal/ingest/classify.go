package ingest

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
)

// RouterMACRules is a read-mostly, per-device lookup of router_mac_rules,
// invalidated on write (spec §5).
type RouterMACRules struct {
	rows map[string]model.RouterMACDirection // mac -> direction
}

func NewRouterMACRules(rules []model.RouterMACRule) *RouterMACRules {
	m := make(map[string]model.RouterMACDirection, len(rules))
	for _, r := range rules {
		m[r.MAC] = r.Direction
	}
	return &RouterMACRules{rows: m}
}

// Matches reports whether mac is declared a router for the given
// direction (spec §4.11 step 1).
func (r *RouterMACRules) Matches(mac string, dir model.RouterMACDirection) bool {
	if r == nil || mac == "" {
		return false
	}
	d, ok := r.rows[mac]
	if !ok {
		return false
	}
	return d == model.RouterMACDirection("both") || d == dir
}

// RouterEndpointID is the sentinel EndpointID assigned to any endpoint
// collapsed by a router-MAC rule (spec §4.11 step 1: "classify as
// router, not an individual endpoint").
const RouterEndpointID model.EndpointID = "router"

// ResolveEndpointID derives the stable EndpointID for one side of a flow
// (spec §4.11). deviceKey, mac, ip identify the observation; dir is
// "src" or "dst" so the correct router-MAC direction is checked.
func ResolveEndpointID(rules *RouterMACRules, deviceKey, mac, ip string, dir model.RouterMACDirection) model.EndpointID {
	if rules.Matches(mac, dir) {
		return RouterEndpointID
	}
	return HashEndpointID(deviceKey, mac, ip)
}

// HashEndpointID computes the deterministic (device_key, mac, ip)
// identifier the query engine attaches to rendered nodes (spec §3: "a
// deterministic hash of (device_key, mac, ip)").
func HashEndpointID(deviceKey, mac, ip string) model.EndpointID {
	h := sha1.New()
	h.Write([]byte(deviceKey))
	h.Write([]byte{0})
	h.Write([]byte(mac))
	h.Write([]byte{0})
	h.Write([]byte(ip))
	return model.EndpointID(hex.EncodeToString(h.Sum(nil))[:16])
}

// ClassificationField selects which of an event's zone/interface fields
// the query engine consults first, per the configured precedence (spec
// §4.11: "zone_first or interface_first controls which field is
// consulted when both are present").
type ClassificationField string

const (
	FieldZone      ClassificationField = "zone"
	FieldInterface ClassificationField = "interface"
)

// Precedence resolves which field to prefer for a src/dst side given the
// configured classification precedence and which fields are non-empty.
func Precedence(precedence string, zone, iface string) ClassificationField {
	zoneSet, ifaceSet := zone != "", iface != ""
	switch {
	case zoneSet && ifaceSet:
		if precedence == "interface_first" {
			return FieldInterface
		}
		return FieldZone
	case zoneSet:
		return FieldZone
	default:
		return FieldInterface
	}
}
