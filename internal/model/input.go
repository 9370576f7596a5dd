package model

// Input is the configuration payload handed to the proxy at startup.
type Input struct {
	// Registries the proxy is authoritative for. When empty, they are derived from url-scoped credentials.
	Registries []Registry `json:"registries,omitempty" yaml:"registries,omitempty"`
	// Credentials is the registry info and tokens the proxy injects
	Credentials []Credential `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	// Port to listen on, 0 picks the default
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
	// UseExtendedCertProfile selects the extended CA extension profile
	UseExtendedCertProfile bool `json:"use_extended_cert_profile,omitempty" yaml:"use_extended_cert_profile,omitempty"`
	// UnmatchedRegistries is "drop" or "keep"
	UnmatchedRegistries string `json:"unmatched_registries,omitempty" yaml:"unmatched_registries,omitempty"`
	// ProxyAuth requires clients to authenticate to the proxy with generated credentials
	ProxyAuth bool `json:"proxy_auth,omitempty" yaml:"proxy_auth,omitempty"`
	// Language restricts credentials to the registry types used by a language
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
}
