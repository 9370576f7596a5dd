package reachability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type stubBackend struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (b *stubBackend) CheckConnection(_ context.Context, registry model.Registry) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, registry.URL)
	if err, ok := b.fail[registry.URL]; ok {
		return 0, err
	}
	return 200, nil
}

var (
	mavenRegistry = model.ValidRegistry{Registry: model.Registry{Type: model.MavenRegistry, URL: "https://repo.maven.apache.org/maven2/"}}
	nugetFeed     = model.ValidRegistry{Registry: model.Registry{Type: model.NugetFeed, URL: "https://api.nuget.org/v3/index.json"}}
	proxyInfo     = model.ProxyInfo{Host: "127.0.0.1", Port: 1080, Registries: []model.ValidRegistry{mavenRegistry, nugetFeed}}
)

func messages(hook *test.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		out = append(out, e.Level.String()+": "+e.Message)
	}
	return out
}

func newLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func TestCheckConnections(t *testing.T) {
	logger, hook := newLogger()
	backend := &stubBackend{}

	reachable := CheckConnections(context.Background(), logger, proxyInfo, backend, Options{Concurrency: 1})

	if diff := cmp.Diff([]model.ValidRegistry{mavenRegistry, nugetFeed}, reachable); diff != "" {
		t.Errorf("unexpected registries (-want +got):\n%s", diff)
	}
	want := []string{
		"debug: Testing connection to https://repo.maven.apache.org/maven2/...",
		"info: Successfully tested connection to https://repo.maven.apache.org/maven2/ (200)",
		"debug: Testing connection to https://api.nuget.org/v3/index.json...",
		"info: Successfully tested connection to https://api.nuget.org/v3/index.json (200)",
		"debug: Finished testing connections to private registries.",
	}
	if diff := cmp.Diff(want, messages(hook)); diff != "" {
		t.Errorf("unexpected log (-want +got):\n%s", diff)
	}
}

func TestCheckConnections_FailedStatus(t *testing.T) {
	logger, hook := newLogger()
	backend := &stubBackend{fail: map[string]error{
		nugetFeed.URL: &Error{Registry: nugetFeed.Registry, StatusCode: 400},
	}}

	reachable := CheckConnections(context.Background(), logger, proxyInfo, backend, Options{Concurrency: 1})

	if diff := cmp.Diff([]model.ValidRegistry{mavenRegistry}, reachable); diff != "" {
		t.Errorf("unexpected registries (-want +got):\n%s", diff)
	}
	want := []string{
		"debug: Testing connection to https://repo.maven.apache.org/maven2/...",
		"info: Successfully tested connection to https://repo.maven.apache.org/maven2/ (200)",
		"debug: Testing connection to https://api.nuget.org/v3/index.json...",
		"error: Connection test to https://api.nuget.org/v3/index.json failed. (400)",
		"debug: Finished testing connections to private registries.",
	}
	if diff := cmp.Diff(want, messages(hook)); diff != "" {
		t.Errorf("unexpected log (-want +got):\n%s", diff)
	}
}

func TestCheckConnections_OtherErrors(t *testing.T) {
	logger, hook := newLogger()
	backend := &stubBackend{fail: map[string]error{
		nugetFeed.URL: errors.New("Some generic error"),
	}}

	reachable := CheckConnections(context.Background(), logger, proxyInfo, backend, Options{Concurrency: 1})

	if len(reachable) != 1 {
		t.Errorf("expected one reachable registry, got %v", reachable)
	}
	want := []string{
		"debug: Testing connection to https://repo.maven.apache.org/maven2/...",
		"info: Successfully tested connection to https://repo.maven.apache.org/maven2/ (200)",
		"debug: Testing connection to https://api.nuget.org/v3/index.json...",
		"error: Connection test to https://api.nuget.org/v3/index.json failed: Some generic error",
		"debug: Finished testing connections to private registries.",
	}
	if diff := cmp.Diff(want, messages(hook)); diff != "" {
		t.Errorf("unexpected log (-want +got):\n%s", diff)
	}
}

func TestCheckConnections_InvalidURL(t *testing.T) {
	logger, hook := newLogger()
	backend := &stubBackend{}
	info := proxyInfo
	info.Registries = []model.ValidRegistry{{Registry: model.Registry{Type: model.NugetFeed, URL: "localhost"}}}

	reachable := CheckConnections(context.Background(), logger, info, backend, Options{})

	if len(reachable) != 0 || len(backend.calls) != 0 {
		t.Errorf("expected no checks, got %v and %v", reachable, backend.calls)
	}
	want := []string{
		"warning: Skipping check for localhost since it is not a valid URL.",
		"debug: Finished testing connections to private registries.",
	}
	if diff := cmp.Diff(want, messages(hook)); diff != "" {
		t.Errorf("unexpected log (-want +got):\n%s", diff)
	}
}

func TestCheckConnections_NoRegistries(t *testing.T) {
	logger, hook := newLogger()
	backend := &stubBackend{}
	info := proxyInfo
	info.Registries = nil

	if reachable := CheckConnections(context.Background(), logger, info, backend, Options{}); len(reachable) != 0 {
		t.Errorf("expected nothing, got %v", reachable)
	}
	if len(backend.calls) != 0 || len(hook.AllEntries()) != 0 {
		t.Error("expected no checks and no logging")
	}
}

func TestCheckConnections_Concurrent(t *testing.T) {
	logger, _ := newLogger()
	backend := &stubBackend{}
	info := proxyInfo
	info.Registries = nil
	for i := 0; i < 20; i++ {
		info.Registries = append(info.Registries, model.ValidRegistry{Registry: model.Registry{URL: "https://r" + strconv.Itoa(i) + ".example.com"}})
	}

	reachable := CheckConnections(context.Background(), logger, info, backend, Options{Concurrency: 4})

	if diff := cmp.Diff(info.Registries, reachable); diff != "" {
		t.Errorf("expected every registry in configuration order (-want +got):\n%s", diff)
	}
}

func TestNetworkBackend(t *testing.T) {
	// a forward proxy that answers for the registry itself
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead || r.URL.Host != "registry.example.com" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer proxy.Close()

	host, port, _ := net.SplitHostPort(proxy.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	backend, err := NewNetworkBackend(model.ProxyInfo{Host: host, Port: p})
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()

	status, err := backend.CheckConnection(context.Background(), model.Registry{URL: "http://registry.example.com/maven"})
	if err != nil || status != http.StatusNoContent {
		t.Errorf("expected 204, got %d %v", status, err)
	}

	_, err = backend.CheckConnection(context.Background(), model.Registry{URL: "http://registry.example.com/missing"})
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.StatusCode != http.StatusNotFound {
		t.Errorf("expected a 404 Error, got %v", err)
	}

	if _, err := NewNetworkBackend(model.ProxyInfo{Cert: "not a certificate"}); err == nil {
		t.Error("expected an invalid certificate to be rejected")
	}
}
