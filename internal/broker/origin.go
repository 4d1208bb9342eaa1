package broker

import (
	"fmt"
	"net/url"
	"strings"
)

// OriginMatcher decides whether a sender origin belongs to the payment provider.
// Patterns are origins such as "https://pay.example" or "https://*.pay.example";
// a leading "*." matches one or more subdomain labels but not the apex host.
type OriginMatcher struct {
	patterns []originPattern
}

type originPattern struct {
	scheme   string
	host     string
	port     string
	wildcard bool
}

// ParseOrigins compiles the allowed origin patterns. An empty list matches nothing.
func ParseOrigins(patterns []string) (OriginMatcher, error) {
	var m OriginMatcher
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := parsePattern(raw)
		if err != nil {
			return OriginMatcher{}, err
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// MustParseOrigins is ParseOrigins that panics on invalid input.
func MustParseOrigins(patterns ...string) OriginMatcher {
	m, err := ParseOrigins(patterns)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether origin is allowed.
func (m OriginMatcher) Match(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "null" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || (u.Path != "" && u.Path != "/") {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := effectivePort(scheme, u.Port())
	for _, p := range m.patterns {
		if p.scheme != scheme || p.port != port {
			continue
		}
		if p.wildcard {
			if strings.HasSuffix(host, "."+p.host) && len(host) > len(p.host)+1 {
				return true
			}
			continue
		}
		if host == p.host {
			return true
		}
	}
	return false
}

// Empty reports whether no pattern is configured.
func (m OriginMatcher) Empty() bool { return len(m.patterns) == 0 }

func parsePattern(raw string) (originPattern, error) {
	wildcard := false
	candidate := raw
	if i := strings.Index(candidate, "://*."); i >= 0 {
		wildcard = true
		candidate = candidate[:i+3] + candidate[i+5:]
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return originPattern{}, fmt.Errorf("broker: invalid origin pattern %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && scheme != "http" {
		return originPattern{}, fmt.Errorf("broker: origin pattern %q must use http or https", raw)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || strings.Contains(host, "*") {
		return originPattern{}, fmt.Errorf("broker: origin pattern %q has an invalid host", raw)
	}
	if u.Path != "" && u.Path != "/" {
		return originPattern{}, fmt.Errorf("broker: origin pattern %q must not contain a path", raw)
	}
	return originPattern{scheme: scheme, host: host, port: effectivePort(scheme, u.Port()), wildcard: wildcard}, nil
}

func effectivePort(scheme, port string) string {
	if port != "" {
		return port
	}
	switch scheme {
	case "https":
		return "443"
	case "http":
		return "80"
	default:
		return ""
	}
}
