// Package rules compiles declarative request predicates into guard rules.
package rules

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/router-for-me/hazardguard/internal/guard"
)

// Spec is a declarative request predicate. Every field that is set must
// match for the rule to fire.
type Spec struct {
	Always         bool              `yaml:"always,omitempty" toml:"always" json:"always,omitempty"`
	Methods        []string          `yaml:"methods,omitempty" toml:"methods" json:"methods,omitempty"`
	PathExact      string            `yaml:"path-exact,omitempty" toml:"path-exact" json:"path-exact,omitempty"`
	PathPrefix     string            `yaml:"path-prefix,omitempty" toml:"path-prefix" json:"path-prefix,omitempty"`
	PathRegex      string            `yaml:"path-regex,omitempty" toml:"path-regex" json:"path-regex,omitempty"`
	IPIn           []string          `yaml:"ip-in,omitempty" toml:"ip-in" json:"ip-in,omitempty"`
	HeaderEquals   map[string]string `yaml:"header-equals,omitempty" toml:"header-equals" json:"header-equals,omitempty"`
	HeaderRegex    map[string]string `yaml:"header-regex,omitempty" toml:"header-regex" json:"header-regex,omitempty"`
	UserAgentRegex string            `yaml:"user-agent-regex,omitempty" toml:"user-agent-regex" json:"user-agent-regex,omitempty"`
	QueryHas       []string          `yaml:"query-has,omitempty" toml:"query-has" json:"query-has,omitempty"`
	Not            *Spec             `yaml:"not,omitempty" toml:"not" json:"not,omitempty"`
}

// ErrEmptySpec is returned for a spec without any condition.
var ErrEmptySpec = errors.New("rules: spec has no conditions, set always: true to match every request")

type matcher func(r *http.Request) bool

// Compile builds a guard rule from spec. clientKey resolves the client
// address used by ip-in; nil falls back to the request's RemoteAddr.
func Compile(spec Spec, clientKey guard.ClientKeyFunc) (guard.Rule, error) {
	if clientKey == nil {
		clientKey = guard.RemoteAddrKey
	}
	matchers, errCompile := compile(spec, clientKey)
	if errCompile != nil {
		return nil, errCompile
	}
	return func(r *http.Request) bool {
		if r == nil {
			return false
		}
		for _, m := range matchers {
			if !m(r) {
				return false
			}
		}
		return true
	}, nil
}

func compile(spec Spec, clientKey guard.ClientKeyFunc) ([]matcher, error) {
	var matchers []matcher

	if spec.Always {
		matchers = append(matchers, func(*http.Request) bool { return true })
	}

	if len(spec.Methods) > 0 {
		allowed := make(map[string]struct{}, len(spec.Methods))
		for _, method := range spec.Methods {
			method = strings.ToUpper(strings.TrimSpace(method))
			if method == "" {
				continue
			}
			allowed[method] = struct{}{}
		}
		if len(allowed) == 0 {
			return nil, errors.New("rules: methods: no method given")
		}
		matchers = append(matchers, func(r *http.Request) bool {
			_, ok := allowed[strings.ToUpper(r.Method)]
			return ok
		})
	}

	if spec.PathExact != "" {
		exact := spec.PathExact
		matchers = append(matchers, func(r *http.Request) bool { return requestPath(r) == exact })
	}
	if spec.PathPrefix != "" {
		prefix := spec.PathPrefix
		matchers = append(matchers, func(r *http.Request) bool { return strings.HasPrefix(requestPath(r), prefix) })
	}
	if spec.PathRegex != "" {
		re, errRegex := regexp.Compile(spec.PathRegex)
		if errRegex != nil {
			return nil, fmt.Errorf("rules: path-regex: %w", errRegex)
		}
		matchers = append(matchers, func(r *http.Request) bool { return re.MatchString(requestPath(r)) })
	}

	if len(spec.IPIn) > 0 {
		nets, errParse := ParseNetworks(spec.IPIn)
		if errParse != nil {
			return nil, fmt.Errorf("rules: ip-in: %w", errParse)
		}
		matchers = append(matchers, func(r *http.Request) bool {
			return ContainsIP(nets, net.ParseIP(clientKey(r)))
		})
	}

	for name, value := range spec.HeaderEquals {
		header, want := http.CanonicalHeaderKey(name), value
		matchers = append(matchers, func(r *http.Request) bool { return r.Header.Get(header) == want })
	}
	for name, pattern := range spec.HeaderRegex {
		re, errRegex := regexp.Compile(pattern)
		if errRegex != nil {
			return nil, fmt.Errorf("rules: header-regex %s: %w", name, errRegex)
		}
		header := http.CanonicalHeaderKey(name)
		matchers = append(matchers, func(r *http.Request) bool { return re.MatchString(r.Header.Get(header)) })
	}
	if spec.UserAgentRegex != "" {
		re, errRegex := regexp.Compile(spec.UserAgentRegex)
		if errRegex != nil {
			return nil, fmt.Errorf("rules: user-agent-regex: %w", errRegex)
		}
		matchers = append(matchers, func(r *http.Request) bool { return re.MatchString(r.UserAgent()) })
	}

	if len(spec.QueryHas) > 0 {
		params := append([]string(nil), spec.QueryHas...)
		matchers = append(matchers, func(r *http.Request) bool {
			if r.URL == nil {
				return false
			}
			query := r.URL.Query()
			for _, param := range params {
				if !query.Has(param) {
					return false
				}
			}
			return true
		})
	}

	if spec.Not != nil {
		inner, errInner := compile(*spec.Not, clientKey)
		if errInner != nil {
			return nil, fmt.Errorf("rules: not: %w", errInner)
		}
		matchers = append(matchers, func(r *http.Request) bool {
			for _, m := range inner {
				if !m(r) {
					return true
				}
			}
			return false
		})
	}

	if len(matchers) == 0 {
		return nil, ErrEmptySpec
	}
	return matchers, nil
}

func requestPath(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Path
}

// ParseNetworks parses CIDRs and bare IPs into networks.
func ParseNetworks(values []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(values))
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			_, ipNet, errParse := net.ParseCIDR(raw)
			if errParse != nil {
				return nil, errParse
			}
			out = append(out, ipNet)
			continue
		}
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("invalid ip %q", raw)
		}
		bits := 128
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 32
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out, nil
}

// ContainsIP reports whether ip falls in any of nets.
func ContainsIP(nets []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, ipNet := range nets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}
