// Package firewall derives stable device_key identifiers and clusters
// HA pairs (spec §4.5, C5).
package firewall

import "strings"

// haSuffixes are the recognised HA peer suffixes, master before slave in
// each pair so StripHASuffix can report which side a hostname names.
var haSuffixes = []string{"-primary", "-secondary", "-a", "-b"}

// peerSuffix maps a suffix to its counterpart, used to test whether both
// halves of a pair have been observed.
var peerSuffix = map[string]string{
	"-a": "-b", "-b": "-a",
	"-primary": "-secondary", "-secondary": "-primary",
}

// StripHASuffix reports the base hostname and recognised suffix, if any.
// ok is false when hostname carries none of the recognised suffixes.
func StripHASuffix(hostname string) (base, suffix string, ok bool) {
	for _, s := range haSuffixes {
		if strings.HasSuffix(hostname, s) {
			return strings.TrimSuffix(hostname, s), s, true
		}
	}
	return hostname, "", false
}

// DeviceKeyFromSyslog derives the device_key for a syslog-sourced record
// (spec §4.5). hostname is the lowercased syslog header hostname.
// knownHostnames is the set of hostnames already observed for this
// deployment (used to decide whether the peer side of an HA suffix has
// also been seen).
func DeviceKeyFromSyslog(hostname string, knownHostnames map[string]bool) string {
	hostname = strings.ToLower(hostname)
	base, suffix, ok := StripHASuffix(hostname)
	if !ok {
		return hostname
	}
	peer := base + peerSuffix[suffix]
	if knownHostnames[peer] {
		return "ha:" + base
	}
	return hostname
}

// DeviceKeyFromImport derives the device_key for a file import (spec
// §4.5). headerHostname is the hostname agreed on by the file's leading
// records, if any; formHostname is the fallback "device" form field.
func DeviceKeyFromImport(headerHostname, formHostname string) string {
	if headerHostname != "" {
		return strings.ToLower(headerHostname)
	}
	return strings.ToLower(formHostname)
}
