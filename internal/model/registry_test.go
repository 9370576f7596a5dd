package model

import (
	"errors"
	"strings"
	"testing"
)

func TestRegistry_Validate(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{url: "https://repo.maven.apache.org/maven2/"},
		{url: "http://localhost:8081/repository/npm/"},
		{url: "localhost", wantErr: true},
		{url: "ftp://example.com/", wantErr: true},
		{url: "https://", wantErr: true},
		{url: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		err := Registry{Type: NpmRegistry, URL: tt.url}.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
		var invalid *InvalidURLError
		if err != nil && !errors.As(err, &invalid) {
			t.Errorf("Validate(%q) returned %T, want *InvalidURLError", tt.url, err)
		}
	}
}

func TestRegistryType_Canonical(t *testing.T) {
	if MavenRegistry.Canonical() != MavenRepository {
		t.Error("expected maven_registry to fold onto maven_repository")
	}
	if NugetFeed.Canonical() != NugetFeed {
		t.Error("expected nuget_feed to be unchanged")
	}
	if RegistryType("custom").Canonical() != "custom" {
		t.Error("expected unknown types to be unchanged")
	}
}

func TestCredential_String(t *testing.T) {
	secret := "s3cr3t-value"
	for _, cred := range []Credential{
		{Type: MavenRepository, URL: "https://maven.example.com", Username: "user", Password: secret},
		{Type: NpmRegistry, Host: "npm.example.com", Token: secret},
	} {
		str := cred.String()
		if strings.Contains(str, secret) {
			t.Errorf("String() leaked the secret: %s", str)
		}
	}
	cred := Credential{Host: "npm.example.com", Token: secret}
	if !strings.Contains(cred.String(), "Token: true") {
		t.Errorf("expected String() to report the token is set, got %s", cred.String())
	}
}

func TestCredential_Scope(t *testing.T) {
	cred := Credential{Host: "example.com", URL: "https://example.com/feed"}
	kind, v := cred.Scope()
	if kind != ScopeURL || v != "https://example.com/feed" {
		t.Errorf("expected the url to take precedence, got %v %v", kind, v)
	}
	cred = Credential{Host: "example.com"}
	if !cred.HostScoped() || cred.Address() != "example.com" {
		t.Errorf("expected host scope, got %v", cred.Address())
	}
	if cred.Param() != DefaultQueryParam {
		t.Errorf("expected default query param, got %v", cred.Param())
	}
}

func TestProxyInfo_URL(t *testing.T) {
	info := ProxyInfo{Host: "127.0.0.1", Port: 49152}
	if got := info.URL().String(); got != "http://127.0.0.1:49152" {
		t.Errorf("URL() = %v", got)
	}
	info.ProxyAuth = &BasicAuthCredentials{Username: "proxy", Password: "pw"}
	if got := info.URL().String(); got != "http://proxy:pw@127.0.0.1:49152" {
		t.Errorf("URL() = %v", got)
	}
}
