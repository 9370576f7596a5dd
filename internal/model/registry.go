package model

import (
	"fmt"
	"net/url"
)

// RegistryType is the ecosystem tag of a registry, e.g. maven_repository or npm_registry.
// Unknown tags are allowed; they only lose ecosystem-specific behaviour.
type RegistryType string

const (
	MavenRepository    RegistryType = "maven_repository"
	MavenRegistry      RegistryType = "maven_registry"
	NugetFeed          RegistryType = "nuget_feed"
	NpmRegistry        RegistryType = "npm_registry"
	PythonIndex        RegistryType = "python_index"
	PipRegistry        RegistryType = "pip_registry"
	RubygemsServer     RegistryType = "rubygems_server"
	GoproxyServer      RegistryType = "goproxy_server"
	GoProxy            RegistryType = "go_proxy"
	CargoRegistry      RegistryType = "cargo_registry"
	DockerRegistry     RegistryType = "docker_registry"
	GitSource          RegistryType = "git_source"
	TerraformRegistry  RegistryType = "terraform_registry"
	HexRepository      RegistryType = "hex_repository"
	ComposerRepository RegistryType = "composer_repository"
	PubRepository      RegistryType = "pub_repository"
)

var registryAliases = map[RegistryType]RegistryType{
	MavenRegistry: MavenRepository,
	PipRegistry:   PythonIndex,
	GoProxy:       GoproxyServer,
}

// Canonical folds the spelling variants some callers use onto a single tag.
func (t RegistryType) Canonical() RegistryType {
	if c, ok := registryAliases[t]; ok {
		return c
	}
	return t
}

// Registry is a package registry the proxy is authoritative for.
type Registry struct {
	Type RegistryType `json:"type" yaml:"type"`
	URL  string       `json:"url" yaml:"url"`
}

// InvalidURLError is returned when a registry URL is not an absolute http(s) URL.
type InvalidURLError struct {
	URL    string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid registry url %q: %s", e.URL, e.Reason)
}

// ParseURL parses a registry URL, enforcing that it is absolute with an http or https scheme.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &InvalidURLError{URL: raw, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &InvalidURLError{URL: raw, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return nil, &InvalidURLError{URL: raw, Reason: "missing host"}
	}
	return u, nil
}

// Validate checks the registry invariants.
func (r Registry) Validate() error {
	_, err := ParseURL(r.URL)
	return err
}

// ValidRegistry is a registry with the credential resolved for it. Credential is nil only when
// unmatched registries are kept unauthenticated.
type ValidRegistry struct {
	Registry   `yaml:",inline"`
	Credential *Credential `json:"-" yaml:"-"`
}

// Authenticated reports whether a credential was resolved for the registry.
func (v ValidRegistry) Authenticated() bool {
	return v.Credential != nil
}

// BasicAuthCredentials represents credentials required for HTTP basic auth
type BasicAuthCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ProxyInfo describes a running proxy to its collaborators.
type ProxyInfo struct {
	Host       string          `json:"host"`
	Port       int             `json:"port"`
	Cert       string          `json:"cert"`
	Registries []ValidRegistry `json:"registries"`
	// ProxyAuth, when set, must be presented by clients as Proxy-Authorization.
	ProxyAuth *BasicAuthCredentials `json:"-"`
}

// Addr is the host:port of the listener.
func (p ProxyInfo) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// URL is the proxy URL clients should use, including proxy credentials when required.
func (p ProxyInfo) URL() *url.URL {
	u := &url.URL{Scheme: "http", Host: p.Addr()}
	if p.ProxyAuth != nil {
		u.User = url.UserPassword(p.ProxyAuth.Username, p.ProxyAuth.Password)
	}
	return u
}
