package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/gluk-w/claworc/keyvault/internal/logging"
)

// ParseAllowedSources parses IPs and CIDR ranges. Single IPs become /32
// (IPv4) or /128 (IPv6) networks. An empty list returns nil (allow all).
func ParseAllowedSources(entries []string) ([]*net.IPNet, error) {
	var networks []*net.IPNet
	for _, e := range entries {
		entry := strings.TrimSpace(e)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			networks = append(networks, network)
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP address %q", entry)
		}
		var mask net.IPMask
		if ip.To4() != nil {
			ip = ip.To4()
			mask = net.CIDRMask(32, 32)
		} else {
			mask = net.CIDRMask(128, 128)
		}
		networks = append(networks, &net.IPNet{IP: ip.Mask(mask), Mask: mask})
	}
	return networks, nil
}

// RestrictSources refuses requests whose direct peer is outside networks.
// The owner header is only trustworthy when it was set by a known proxy, so
// this checks RemoteAddr as received and must run before anything that
// rewrites it from forwarding headers. No networks means allow all.
func RestrictSources(networks []*net.IPNet, logger *zap.Logger) func(http.Handler) http.Handler {
	log := logging.OrNop(logger).Named("http")
	return func(next http.Handler) http.Handler {
		if len(networks) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ip := net.ParseIP(host)
			if ip != nil {
				for _, n := range networks {
					if n.Contains(ip) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			log.Warn("request from untrusted source", zap.String("remote", r.RemoteAddr))
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Source address not allowed"})
		})
	}
}
