package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig holds configuration for IP extraction
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ExtractClientIP returns the client address of r. Forwarding headers are
// honoured only when the direct peer is inside a trusted proxy range.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := remoteAddr(r)

	if config == nil || !inRanges(remote, config.TrustedProxies) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, candidate := range strings.Split(xff, ",") {
			if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
				return addr.String()
			}
		}
	}

	if addr, err := netip.ParseAddr(r.Header.Get("X-Real-IP")); err == nil {
		return addr.String()
	}

	return remote
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func inRanges(ip string, cidrs []string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		if prefix.Contains(addr.Unmap()) {
			return true
		}
	}

	return false
}
