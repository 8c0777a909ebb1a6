package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
)

// TestResolveEndpointIDCollapsesRouterMAC covers spec §8 scenario 3: a MAC
// declared as a router for the observed direction collapses to the
// RouterEndpointID sentinel instead of a per-host hash, hiding the
// router from the per-endpoint graph.
func TestResolveEndpointIDCollapsesRouterMAC(t *testing.T) {
	rules := NewRouterMACRules([]model.RouterMACRule{
		{MAC: "aa:bb:cc:dd:ee:ff", Direction: "src"},
	})

	got := ResolveEndpointID(rules, "fw1", "aa:bb:cc:dd:ee:ff", "10.0.0.1", "src")
	require.Equal(t, RouterEndpointID, got)
}

func TestResolveEndpointIDIgnoresRouterMACOnOtherDirection(t *testing.T) {
	rules := NewRouterMACRules([]model.RouterMACRule{
		{MAC: "aa:bb:cc:dd:ee:ff", Direction: "src"},
	})

	got := ResolveEndpointID(rules, "fw1", "aa:bb:cc:dd:ee:ff", "10.0.0.1", "dst")
	require.NotEqual(t, RouterEndpointID, got)
	require.Equal(t, HashEndpointID("fw1", "aa:bb:cc:dd:ee:ff", "10.0.0.1"), got)
}

func TestResolveEndpointIDBothDirectionMatchesEitherSide(t *testing.T) {
	rules := NewRouterMACRules([]model.RouterMACRule{
		{MAC: "aa:bb:cc:dd:ee:ff", Direction: "both"},
	})

	require.Equal(t, RouterEndpointID, ResolveEndpointID(rules, "fw1", "aa:bb:cc:dd:ee:ff", "10.0.0.1", "src"))
	require.Equal(t, RouterEndpointID, ResolveEndpointID(rules, "fw1", "aa:bb:cc:dd:ee:ff", "10.0.0.1", "dst"))
}

func TestResolveEndpointIDUnknownMACHashesNormally(t *testing.T) {
	rules := NewRouterMACRules(nil)
	got := ResolveEndpointID(rules, "fw1", "11:22:33:44:55:66", "10.0.0.9", "src")
	require.Equal(t, HashEndpointID("fw1", "11:22:33:44:55:66", "10.0.0.9"), got)
}

func TestHashEndpointIDIsStableAndDistinct(t *testing.T) {
	a := HashEndpointID("fw1", "aa:bb:cc:dd:ee:ff", "10.0.0.1")
	b := HashEndpointID("fw1", "aa:bb:cc:dd:ee:ff", "10.0.0.1")
	c := HashEndpointID("fw1", "aa:bb:cc:dd:ee:ff", "10.0.0.2")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, string(a), 16)
}

func TestPrecedenceRespectsConfiguredField(t *testing.T) {
	require.Equal(t, FieldZone, Precedence("zone_first", "dmz", "eth0"))
	require.Equal(t, FieldInterface, Precedence("interface_first", "dmz", "eth0"))
	require.Equal(t, FieldZone, Precedence("zone_first", "dmz", ""))
	require.Equal(t, FieldInterface, Precedence("zone_first", "", "eth0"))
}
