package infra

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/dependabot/registry-proxy/internal/proxy"
	"github.com/sirupsen/logrus/hooks/test"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func closeProxy(t *testing.T, p *Proxy) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Error(err)
	}
	if err := <-p.Done(); !errors.Is(err, proxy.ErrServerClosed) {
		t.Errorf("expected the server to be closed, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	logger, hook := test.NewNullLogger()
	input := &model.Input{
		Credentials: []model.Credential{
			{Type: model.MavenRepository, URL: "https://maven.example.com/repo", Username: "u", Password: "p4ss"},
			{Type: model.NpmRegistry, URL: "https://npm.example.com", Token: "tkn"},
		},
		Language: "java",
	}

	resolved, err := Resolve(logger, input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved.Registries) != 1 || resolved.Registries[0].URL != "https://maven.example.com/repo" {
		t.Errorf("expected only the maven registry, got %v", resolved.Registries)
	}
	for _, e := range hook.AllEntries() {
		if strings.Contains(e.Message, "p4ss") {
			t.Errorf("secret logged: %q", e.Message)
		}
	}

	if _, err := Resolve(logger, &model.Input{Language: "go"}, nil); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
	if _, err := Resolve(logger, &model.Input{UnmatchedRegistries: "bogus"}, []model.Credential{{URL: "https://a.example.com", Token: "t"}}); err == nil {
		t.Error("expected an invalid policy to be rejected")
	}
}

func TestStartProxy(t *testing.T) {
	logger, _ := test.NewNullLogger()
	output := filepath.Join(t.TempDir(), "output")
	t.Setenv("GITHUB_OUTPUT", output)

	port := freePort(t)
	p, err := StartProxy(context.Background(), logger, ProxyParams{
		Input: &model.Input{
			Credentials: []model.Credential{{Type: model.NugetFeed, URL: "https://nuget.example.com/v3/index.json", Token: "tkn"}},
			ProxyAuth:   true,
		},
		Port:    port,
		TempDir: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer closeProxy(t, p)

	if p.Info.Host != DefaultHost || p.Info.Port != port {
		t.Errorf("unexpected address %s", p.Info.Addr())
	}
	if p.Info.ProxyAuth == nil || len(p.Info.ProxyAuth.Password) != 2*passwordLength {
		t.Errorf("expected generated proxy credentials, got %v", p.Info.ProxyAuth)
	}
	cert, err := os.ReadFile(p.CertPath)
	if err != nil || string(cert) != p.Info.Cert {
		t.Errorf("expected the CA certificate at %s: %v", p.CertPath, err)
	}
	if !strings.Contains(strings.Join(p.Env(), "\n"), "HTTPS_PROXY=http://registry-proxy:") {
		t.Errorf("expected the proxy URL with credentials, got %v", p.Env())
	}

	if err := p.SetOutputs(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"proxy_host<<", "127.0.0.1", "proxy_port<<", "BEGIN CERTIFICATE", `[{"type":"nuget_feed","url":"https://nuget.example.com/v3/index.json"}]`} {
		if !strings.Contains(string(data), s) {
			t.Errorf("expected %q in outputs:\n%s", s, data)
		}
	}
}

func TestListen(t *testing.T) {
	logger, _ := test.NewNullLogger()
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	if _, err := listen(context.Background(), logger, "127.0.0.1", port); err == nil {
		t.Error("expected an explicit busy port to fail")
	}

	// the default port may be taken on the machine running the tests, either way a listener is returned
	l, err := listen(context.Background(), logger, "127.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	got := l.Addr().(*net.TCPAddr).Port
	if got < ephemeralPortMin || got > ephemeralPortMax {
		t.Errorf("expected an ephemeral port, got %d", got)
	}
}
