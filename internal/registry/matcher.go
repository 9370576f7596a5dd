package registry

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/sirupsen/logrus"
)

// Policy decides what happens to registries no credential matches.
type Policy int

const (
	// PolicyDrop removes unmatched registries; the proxy tunnels their traffic untouched.
	PolicyDrop Policy = iota
	// PolicyKeepUnauthenticated keeps unmatched registries with no credential.
	PolicyKeepUnauthenticated
)

func (p Policy) String() string {
	if p == PolicyKeepUnauthenticated {
		return "keep"
	}
	return "drop"
}

// ParsePolicy parses the unmatched_registries setting. Empty means drop.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return PolicyDrop, nil
	case "keep":
		return PolicyKeepUnauthenticated, nil
	default:
		return PolicyDrop, fmt.Errorf("unknown unmatched registries policy %q, expected drop or keep", s)
	}
}

// endpoint is a URL reduced to the parts that take part in matching.
type endpoint struct {
	scheme string
	host   string
	port   string
	path   string
}

func defaultPort(scheme string) string {
	if scheme == "http" {
		return "80"
	}
	return "443"
}

func parseEndpoint(raw string) (endpoint, error) {
	u, err := model.ParseURL(raw)
	if err != nil {
		return endpoint{}, err
	}
	return endpointOf(u), nil
}

func endpointOf(u *url.URL) endpoint {
	e := endpoint{
		scheme: strings.ToLower(u.Scheme),
		host:   strings.ToLower(u.Hostname()),
		port:   u.Port(),
		path:   strings.TrimRight(u.EscapedPath(), "/"),
	}
	if e.port == "" {
		e.port = defaultPort(e.scheme)
	}
	return e
}

// origin is scheme://host with the port only when it is not the default.
func (e endpoint) origin() string {
	if e.port == defaultPort(e.scheme) {
		return e.scheme + "://" + e.host
	}
	return e.scheme + "://" + net.JoinHostPort(e.host, e.port)
}

func (e endpoint) String() string {
	return e.origin() + e.path
}

// splitHostScope splits a host scope into a lower-cased hostname and an optional port. A scheme
// prefix is tolerated.
func splitHostScope(scope string) (host, port string, err error) {
	s := scope
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.TrimRight(s, "/")
	if s == "" || strings.ContainsAny(s, "/?#@ ") {
		return "", "", fmt.Errorf("invalid host %q", scope)
	}
	if h, p, err := net.SplitHostPort(s); err == nil {
		if h == "" || p == "" {
			return "", "", fmt.Errorf("invalid host %q", scope)
		}
		return strings.ToLower(h), p, nil
	}
	return strings.ToLower(strings.Trim(s, "[]")), "", nil
}

// specificity returns how specifically the credential matches the registry, or -1 when it does
// not match at all.
func specificity(c *model.Credential, reg endpoint) int {
	kind, scope := c.Scope()
	if kind == model.ScopeURL {
		s, err := parseEndpoint(scope)
		if err != nil {
			return -1
		}
		if s.scheme != reg.scheme || s.host != reg.host || s.port != reg.port {
			return -1
		}
		if reg.path != s.path && !strings.HasPrefix(reg.path, s.path+"/") {
			return -1
		}
		return len(s.String())
	}
	host, port, err := splitHostScope(scope)
	if err != nil || host != reg.host {
		return -1
	}
	if port == "" {
		return len(reg.scheme + "://" + host)
	}
	if port != reg.port {
		return -1
	}
	return len(reg.scheme + "://" + net.JoinHostPort(host, port))
}

// Match returns the credential that applies to a registry, or nil if none does.
func Match(reg model.Registry, creds []model.Credential) (*model.Credential, error) {
	e, err := parseEndpoint(reg.URL)
	if err != nil {
		return nil, err
	}
	var best *model.Credential
	bestScore := -1
	for i := range creds {
		c := &creds[i]
		if c.Type != "" && reg.Type != "" && c.Type.Canonical() != reg.Type.Canonical() {
			continue
		}
		score := specificity(c, e)
		switch {
		case score < 0 || score < bestScore:
			continue
		case score == bestScore && *c != *best:
			return nil, &AmbiguousMatchError{Registry: reg, First: *best, Second: *c}
		case score > bestScore:
			best, bestScore = c, score
		}
	}
	if best == nil {
		return nil, nil
	}
	cred := *best
	return &cred, nil
}

// ResolveRegistries pairs each registry with the most specific credential that matches it.
// Registries nothing matches are dropped or kept unauthenticated according to policy. The result
// is in registry order and depends only on the arguments.
func ResolveRegistries(logger logrus.FieldLogger, registries []model.Registry, creds []model.Credential, policy Policy) ([]model.ValidRegistry, error) {
	valid := make([]model.ValidRegistry, 0, len(registries))
	seen := map[model.Registry]bool{}
	for i, reg := range registries {
		if err := reg.Validate(); err != nil {
			return nil, &ConfigError{Element: "registry", Index: i, Field: "url", Err: err}
		}
		if seen[reg] {
			continue
		}
		seen[reg] = true

		cred, err := Match(reg, creds)
		if err != nil {
			return nil, err
		}
		if cred == nil {
			if policy == PolicyKeepUnauthenticated {
				logger.Warnf("No credentials match %s registry %s, it will be proxied without authentication", reg.Type, reg.URL)
				valid = append(valid, model.ValidRegistry{Registry: reg})
			} else {
				logger.Warnf("No credentials match %s registry %s, dropping it", reg.Type, reg.URL)
			}
			continue
		}
		logger.Infof("Using credentials for %s registry %s: %s", reg.Type, reg.URL, cred.String())
		valid = append(valid, model.ValidRegistry{Registry: reg, Credential: cred})
	}
	return valid, nil
}
