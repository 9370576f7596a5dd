package client

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/dependabot/registry-proxy/internal/actions/core"
)

func TestCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "job-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"type":"npm_registry","url":"https://npm.pkg.github.com","token":"npm-secret"}]`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	core.Stdout = &out
	t.Cleanup(func() { core.Stdout = os.Stdout })
	t.Setenv("GITHUB_ACTIONS", "true")

	creds, err := New(srv.URL, "job-token").Credentials(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(creds) != 1 || creds[0].Token != "npm-secret" {
		t.Errorf("unexpected credentials %v", creds)
	}
	if !strings.Contains(out.String(), "::add-mask::npm-secret") {
		t.Errorf("expected the token to be masked, got %q", out.String())
	}

	if _, err := New(srv.URL, "wrong").Credentials(context.Background()); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("expected a 401 error, got %v", err)
	}
}

func TestCredentials_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	creds, err := New(srv.URL, "").Credentials(context.Background())
	if err != nil || creds != nil {
		t.Errorf("expected no credentials, got %v %v", creds, err)
	}
}

func TestCredentials_InvalidFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"abc"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Credentials(context.Background())
	if err == nil || strings.Contains(err.Error(), "abc") {
		t.Errorf("expected an error that doesn't echo the payload, got %v", err)
	}
}
