package firewall

import (
	"time"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
)

// Candidate is a suggested HA pair not yet enabled (spec §6.1
// /devices/ha-candidates).
type Candidate struct {
	Base           string
	Master         string
	Slave          string
	SuggestedLabel string
}

// haOverlapWindow is the maximum gap between two peers' last_seen
// timestamps for them to be proposed as an HA pair (spec §4.5).
const haOverlapWindow = 24 * time.Hour

// DetectCandidates proposes HA pairs from a flat list of observed
// firewalls: two plain device_keys differing only by a recognised
// suffix, whose last_seen windows overlap within 24h, and which have not
// already been merged into an "ha:" cluster.
func DetectCandidates(firewalls []model.Firewall) []Candidate {
	bySuffix := make(map[string]model.Firewall, len(firewalls))
	already := make(map[string]bool, len(firewalls))
	for _, fw := range firewalls {
		if len(fw.DeviceKey) > 3 && fw.DeviceKey[:3] == "ha:" {
			already[fw.DeviceKey[3:]] = true
			continue
		}
		bySuffix[fw.DeviceKey] = fw
	}

	seen := make(map[string]bool)
	var out []Candidate
	for key, fw := range bySuffix {
		base, suffix, ok := StripHASuffix(key)
		if !ok || already[base] {
			continue
		}
		peerKey := base + peerSuffix[suffix]
		peer, ok := bySuffix[peerKey]
		if !ok || seen[base] {
			continue
		}
		if !withinOverlap(fw.LastSeen, peer.LastSeen) {
			continue
		}
		seen[base] = true

		master, slave := key, peerKey
		if isSlaveSuffix(suffix) {
			master, slave = peerKey, key
		}
		out = append(out, Candidate{
			Base:           base,
			Master:         master,
			Slave:          slave,
			SuggestedLabel: base + " (HA)",
		})
	}
	return out
}

func withinOverlap(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= haOverlapWindow
}

func isSlaveSuffix(suffix string) bool {
	return suffix == "-secondary" || suffix == "-b"
}

// ClusterKey builds the synthetic "ha:" device_key for a base hostname.
func ClusterKey(base string) string { return "ha:" + base }

// ClusterMembers returns the plain device_keys that compose an "ha:"
// cluster given its base. Query paths that accept a device_key must call
// this to union the cluster's members before selecting flows (spec
// §4.9 step 2).
func ClusterMembers(base string) []string {
	return []string{base + "-a", base + "-b", base + "-primary", base + "-secondary"}
}

// IsHACluster reports whether deviceKey names a synthetic HA cluster.
func IsHACluster(deviceKey string) bool {
	return len(deviceKey) > 3 && deviceKey[:3] == "ha:"
}

// ClusterBase returns the base hostname of an "ha:" device_key, or the
// key unchanged if it is not a cluster key.
func ClusterBase(deviceKey string) string {
	if IsHACluster(deviceKey) {
		return deviceKey[3:]
	}
	return deviceKey
}
