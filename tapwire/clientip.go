package tapwire

import (
	"net"
	"strings"
)

// Proxy-injected headers consulted before the peer address, most specific
// first.
var priorityClientIPHeaders = []string{
	"cf-connecting-ip",
	"x-forwarded-for",
	"x-real-ip",
	"x-cluster-client-ip",
	"fastly-client-ip",
	"true-client-ip",
}

// clientIP resolves the originating client address from lowercased headers,
// falling back to the connection peer. Returns "" when nothing parses as an
// IP.
func clientIP(headers map[string]string, peerIP string) string {
	for _, name := range priorityClientIPHeaders {
		if value, ok := headers[name]; ok {
			if ip := firstIPFromList(value); ip != "" {
				return ip
			}
		}
	}

	if forwarded, ok := headers["forwarded"]; ok {
		if ip := parseForwardedHeader(forwarded); ip != "" {
			return ip
		}
	}

	if validIP(peerIP) {
		return normalizeIP(peerIP)
	}

	return ""
}

func firstIPFromList(value string) string {
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.Trim(strings.TrimSpace(part), "\"")
		if validIP(trimmed) {
			return normalizeIP(trimmed)
		}
	}
	return ""
}

func parseForwardedHeader(value string) string {
	for _, segment := range strings.Split(value, ";") {
		for _, item := range strings.Split(segment, ",") {
			if !strings.Contains(strings.ToLower(item), "for=") {
				continue
			}
			parts := strings.SplitN(item, "=", 2)
			if len(parts) != 2 {
				continue
			}
			candidate := strings.Trim(strings.TrimSpace(parts[1]), "\"")
			if validIP(candidate) {
				return normalizeIP(candidate)
			}
		}
	}
	return ""
}

func validIP(value string) bool {
	if value == "" {
		return false
	}
	return net.ParseIP(normalizeIP(value)) != nil
}

func normalizeIP(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "[")
	return strings.TrimSuffix(value, "]")
}

func peerIPFromRemoteAddr(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
