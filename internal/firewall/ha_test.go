package firewall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
)

// TestDeviceKeyFromSyslogMergesKnownPeer covers spec §8 scenario 4: once
// both HA peer hostnames have been observed, subsequent records from
// either side resolve to the synthetic "ha:" cluster key.
func TestDeviceKeyFromSyslogMergesKnownPeer(t *testing.T) {
	known := map[string]bool{"fw1-secondary": true}
	got := DeviceKeyFromSyslog("fw1-primary", known)
	require.Equal(t, "ha:fw1", got)
}

func TestDeviceKeyFromSyslogWithoutPeerStaysPlain(t *testing.T) {
	got := DeviceKeyFromSyslog("fw1-primary", map[string]bool{})
	require.Equal(t, "fw1-primary", got)
}

func TestDeviceKeyFromSyslogNoSuffixIsUnchanged(t *testing.T) {
	got := DeviceKeyFromSyslog("standalone-fw", map[string]bool{"anything": true})
	require.Equal(t, "standalone-fw", got)
}

func TestDetectCandidatesPairsWithinOverlapWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	firewalls := []model.Firewall{
		{DeviceKey: "fw1-primary", LastSeen: now},
		{DeviceKey: "fw1-secondary", LastSeen: now.Add(-time.Hour)},
	}
	candidates := DetectCandidates(firewalls)
	require.Len(t, candidates, 1)
	require.Equal(t, "fw1", candidates[0].Base)
	require.Equal(t, "fw1-primary", candidates[0].Master)
	require.Equal(t, "fw1-secondary", candidates[0].Slave)
}

func TestDetectCandidatesSkipsOutsideOverlapWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	firewalls := []model.Firewall{
		{DeviceKey: "fw1-primary", LastSeen: now},
		{DeviceKey: "fw1-secondary", LastSeen: now.Add(-48 * time.Hour)},
	}
	require.Empty(t, DetectCandidates(firewalls))
}

func TestDetectCandidatesSkipsAlreadyMergedCluster(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	firewalls := []model.Firewall{
		{DeviceKey: "ha:fw1", LastSeen: now},
		{DeviceKey: "fw1-primary", LastSeen: now},
		{DeviceKey: "fw1-secondary", LastSeen: now},
	}
	require.Empty(t, DetectCandidates(firewalls))
}

func TestClusterMembersAndBase(t *testing.T) {
	require.True(t, IsHACluster("ha:fw1"))
	require.False(t, IsHACluster("fw1-primary"))
	require.Equal(t, "fw1", ClusterBase("ha:fw1"))
	require.Equal(t, "fw1-primary", ClusterBase("fw1-primary"))
	require.Equal(t, "ha:fw1", ClusterKey("fw1"))
	require.ElementsMatch(t, []string{"fw1-a", "fw1-b", "fw1-primary", "fw1-secondary"}, ClusterMembers("fw1"))
}
