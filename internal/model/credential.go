package model

import (
	"fmt"
	"strings"
)

/*
Credentials

Credentials arrive in the same shape the update jobs have always used: a registry `type`, a `host`
or `url` that scopes where the secret may be sent, and one of username/password or token. `kind`
is new and optional; when it is omitted it is inferred from which secret is present, so existing
payloads keep working.

A Credential must never be logged with %v on its fields. Use String(), which only reports whether
a secret is present.
*/

// CredentialKind is how a credential is attached to an outgoing request.
type CredentialKind string

const (
	// KindBasic sets `Authorization: Basic base64(username:password)`.
	KindBasic CredentialKind = "basic"
	// KindBearer sets `Authorization: Bearer <token>`.
	KindBearer CredentialKind = "bearer"
	// KindTokenQueryParam appends the token to the request query string.
	KindTokenQueryParam CredentialKind = "token_query_param"
)

// DefaultQueryParam is the query parameter used by KindTokenQueryParam when none is configured.
const DefaultQueryParam = "token"

// Credential is a secret scoped to a host or URL prefix.
type Credential struct {
	Kind       CredentialKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Type       RegistryType   `json:"type,omitempty" yaml:"type,omitempty"`
	Host       string         `json:"host,omitempty" yaml:"host,omitempty"`
	URL        string         `json:"url,omitempty" yaml:"url,omitempty"`
	Username   string         `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string         `json:"password,omitempty" yaml:"password,omitempty"`
	Token      string         `json:"token,omitempty" yaml:"token,omitempty"`
	QueryParam string         `json:"query_param,omitempty" yaml:"query_param,omitempty"`
	// Registry is the docker_registry spelling of Host.
	Registry string `json:"registry,omitempty" yaml:"registry,omitempty"`
}

// ScopeKind says whether a credential is scoped to a whole host or to a URL prefix.
type ScopeKind int

const (
	ScopeHost ScopeKind = iota
	ScopeURL
)

// Scope returns the kind of scope and its raw value. A url takes precedence over a host.
func (c *Credential) Scope() (ScopeKind, string) {
	if c.URL != "" {
		return ScopeURL, c.URL
	}
	return ScopeHost, c.Host
}

// HostScoped is true when the credential applies to every path on its host.
func (c *Credential) HostScoped() bool {
	kind, _ := c.Scope()
	return kind == ScopeHost
}

// Address is the url if present, otherwise the host.
func (c *Credential) Address() string {
	_, v := c.Scope()
	return v
}

// Param is the query parameter name used for KindTokenQueryParam.
func (c *Credential) Param() string {
	if c.QueryParam != "" {
		return c.QueryParam
	}
	return DefaultQueryParam
}

// Secrets lists the secret values carried by the credential, for masking.
func (c *Credential) Secrets() []string {
	var secrets []string
	if c.Password != "" {
		secrets = append(secrets, c.Password)
	}
	if c.Token != "" {
		secrets = append(secrets, c.Token)
	}
	return secrets
}

// String describes the credential without exposing secret values.
func (c *Credential) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Type: %s; Kind: %s; Host: %s; Url: %s; Username: %s; ", c.Type, c.Kind, c.Host, c.URL, c.Username)
	fmt.Fprintf(&b, "Password: %t; Token: %t", c.Password != "", c.Token != "")
	return b.String()
}
