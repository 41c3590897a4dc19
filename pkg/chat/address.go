package chat

import (
	"net"
	"regexp"
	"strings"
)

var reValidHostName = regexp.MustCompile(`^([a-zA-Z0-9][a-zA-Z0-9-]*\.)*[a-zA-Z0-9][a-zA-Z0-9-]*\.?$`)

// HostAddress returns the host part of addr, or its full string form when
// it has no port.
func HostAddress(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}

// CanonicalHostName reverse-resolves the remote host and falls back to the
// bare IP when there is no single, well-formed name for it.
func CanonicalHostName(addr net.Addr) string {
	host := HostAddress(addr)
	if net.ParseIP(host) == nil {
		return host
	}

	names, err := net.LookupAddr(host)
	if err != nil || len(names) != 1 {
		if err != nil {
			debugLog.Printf("Reverse lookup of %s failed: %v", host, err)
		}
		return host
	}
	name := names[0]
	if !reValidHostName.MatchString(name) {
		return host
	}
	return strings.TrimSuffix(name, ".")
}
