// Package middleware binds the guard engine to gin.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/router-for-me/hazardguard/internal/rules"
)

// ClientIPResolver derives the client address, honouring forwarding headers
// only when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver parses the trusted proxy list (CIDRs or bare IPs).
func NewClientIPResolver(trusted []string) (*ClientIPResolver, error) {
	nets, errParse := rules.ParseNetworks(trusted)
	if errParse != nil {
		return nil, errParse
	}
	return &ClientIPResolver{trusted: nets}, nil
}

// ClientIP returns the client address for r.
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	remote := remoteHost(r.RemoteAddr)
	if c == nil || len(c.trusted) == 0 || !rules.ContainsIP(c.trusted, net.ParseIP(remote)) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			ip := net.ParseIP(hop)
			if ip == nil {
				break
			}
			if !rules.ContainsIP(c.trusted, ip) {
				return ip.String()
			}
		}
	}
	if realIP := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); realIP != nil {
		return realIP.String()
	}
	return remote
}

func remoteHost(hostPort string) string {
	if hostPort == "" {
		return ""
	}
	host, _, errSplit := net.SplitHostPort(hostPort)
	if errSplit != nil {
		return strings.Trim(hostPort, "[]")
	}
	return host
}
