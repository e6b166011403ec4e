package helpers

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller's address without port. chi's RealIP
// middleware has already folded X-Forwarded-For and X-Real-IP into
// RemoteAddr, so forwarded headers are not consulted here.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return ""
}
