// Package security holds the inbound protection of the task endpoint:
// client IP resolution behind trusted proxies and per-IP rate limiting.
package security

import (
	"net"
	"net/http"
	"strings"

	"github.com/vivars7/a2a-orchestrator/internal/ctxkeys"
)

// ClientIPResolver extracts the real client IP based on trusted_proxies.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver parses trustedProxies (CIDRs or plain IPs). Entries
// that parse as neither are ignored.
func NewClientIPResolver(trustedProxies []string) *ClientIPResolver {
	return &ClientIPResolver{trusted: parseCIDRs(trustedProxies)}
}

// Resolve returns the client IP of r. With no trusted proxies it is the
// RemoteAddr host; otherwise the rightmost X-Forwarded-For entry that is not
// a trusted proxy.
func (c *ClientIPResolver) Resolve(r *http.Request) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(c.trusted) == 0 {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}

	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(parts[i])
		ip := net.ParseIP(candidate)
		if ip == nil {
			continue
		}
		if !c.isTrusted(ip) {
			return candidate
		}
	}
	// All IPs in XFF are trusted
	return remoteIP
}

// Middleware stores the resolved client IP in the request context.
func (c *ClientIPResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ctxkeys.WithClientIP(r.Context(), c.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *ClientIPResolver) isTrusted(ip net.IP) bool {
	for _, n := range c.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// stripPort removes the port from addr (handles both IPv4 and IPv6).
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// parseCIDRs parses CIDR strings or plain IPs into networks.
func parseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		if _, ipNet, err := net.ParseCIDR(c); err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(c)
		if ip == nil {
			continue
		}
		mask := net.CIDRMask(128, 128)
		if ip.To4() != nil {
			ip = ip.To4()
			mask = net.CIDRMask(32, 32)
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: mask})
	}
	return nets
}
