package settings

import (
	"net"

	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
)

// normalizeCIDRs validates a list of IPv4 CIDRs and rewrites each to its
// canonical network form (spec §4.10: "CIDRs are IPv4 only; server
// normalises to network form").
func normalizeCIDRs(cidrs []string) ([]string, error) {
	out := make([]string, 0, len(cidrs))
	for _, c := range cidrs {
		ip, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, netwallerr.Validation("cidrs", "invalid CIDR: "+c)
		}
		if ip.To4() == nil {
			return nil, netwallerr.Validation("cidrs", "IPv6 CIDR not allowed: "+c)
		}
		out = append(out, ipnet.String())
	}
	return out, nil
}

// ContainsIP reports whether ip falls within any of the given network
// CIDRs (already normalised).
func ContainsIP(cidrs []string, ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		if ipnet.Contains(parsed) {
			return true
		}
	}
	return false
}
