package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dependabot/registry-proxy/internal/actions/core"
	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/dependabot/registry-proxy/internal/proxy"
	"github.com/dependabot/registry-proxy/internal/registry"
	"github.com/sirupsen/logrus"
)

const (
	ephemeralPortMin = 49152
	ephemeralPortMax = 65535
	bindAttempts     = 5

	proxyAuthUser = "registry-proxy"
	certFileName  = "registry-proxy-ca.crt"
)

// ErrNoCredentials is returned by Resolve when there is nothing to proxy.
var ErrNoCredentials = errors.New("no credentials found")

// ProxyParams configure a proxy started by StartProxy.
type ProxyParams struct {
	// Input is the decoded configuration document.
	Input *model.Input
	// Credentials are added to the ones in Input, e.g. from Actions inputs or a credentials URL.
	Credentials []model.Credential
	// Host to bind, DefaultHost when empty.
	Host string
	// Port to bind. Zero tries DefaultPort and then random ephemeral ports.
	Port int
	// RequestTimeout bounds forwarded requests, zero disables it.
	RequestTimeout time.Duration
	IdleTimeout    time.Duration
	// TempDir receives the CA certificate file.
	TempDir string
}

// Resolved is the result of validating the configuration, before anything is bound.
type Resolved struct {
	Credentials []model.Credential
	Registries  []model.ValidRegistry
}

// Resolve validates credentials and matches them to the configured registries.
func Resolve(logger logrus.FieldLogger, input *model.Input, extra []model.Credential) (*Resolved, error) {
	if input == nil {
		input = &model.Input{}
	}
	creds := append(append([]model.Credential(nil), input.Credentials...), extra...)
	store, err := registry.NewStore(creds)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Validated %d credentials", store.Len())
	creds = registry.FilterByLanguage(store.Credentials(), input.Language)
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	lines := make([]string, len(creds))
	for i := range creds {
		lines[i] = creds[i].String()
	}
	logger.Infof("Credentials loaded for the following registries:\n %s", strings.Join(lines, "\n"))

	registries := input.Registries
	if len(registries) == 0 {
		registries = registry.RegistriesFromCredentials(creds)
	}
	policy, err := registry.ParsePolicy(input.UnmatchedRegistries)
	if err != nil {
		return nil, err
	}
	valid, err := registry.ResolveRegistries(logger, registries, creds, policy)
	if err != nil {
		return nil, err
	}
	return &Resolved{Credentials: creds, Registries: valid}, nil
}

// Proxy is a running proxy.
type Proxy struct {
	Info model.ProxyInfo
	// CertPath is the CA certificate written for clients to trust.
	CertPath string

	server *proxy.Server
	done   chan error
}

// StartProxy resolves the configuration, generates the CA, binds a listener and starts serving.
func StartProxy(ctx context.Context, logger logrus.FieldLogger, params ProxyParams) (*Proxy, error) {
	resolved, err := Resolve(logger, params.Input, params.Credentials)
	if err != nil {
		return nil, err
	}

	extended := params.Input != nil && params.Input.UseExtendedCertProfile
	ca, err := GenerateCertificateAuthority(ProfileFor(extended))
	if err != nil {
		return nil, fmt.Errorf("failed to generate cert: %w", err)
	}

	host := params.Host
	if host == "" {
		host = DefaultHost
	}
	port := params.Port
	if port == 0 && params.Input != nil {
		port = params.Input.Port
	}
	l, err := listen(ctx, logger, host, port)
	if err != nil {
		return nil, err
	}

	info := model.ProxyInfo{
		Host:       host,
		Port:       l.Addr().(*net.TCPAddr).Port,
		Cert:       ca.Cert,
		Registries: resolved.Registries,
	}
	if params.Input != nil && params.Input.ProxyAuth {
		info.ProxyAuth = &model.BasicAuthCredentials{Username: proxyAuthUser, Password: generatePassword()}
		if core.IsActions() {
			core.SetSecret(info.ProxyAuth.Password)
		}
	}

	requestTimeout := params.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = -1
	}
	srv, err := proxy.New(info, ca, proxy.Options{
		Logger:         logger,
		IdleTimeout:    params.IdleTimeout,
		RequestTimeout: requestTimeout,
	})
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	dir, err := TempDir(params.TempDir)
	if err != nil {
		l.Close()
		return nil, err
	}
	certPath := filepath.Join(dir, certFileName)
	if err := os.WriteFile(certPath, []byte(ca.Cert), 0644); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to write cert: %w", err)
	}

	p := &Proxy{Info: info, CertPath: certPath, server: srv, done: make(chan error, 1)}
	go func() {
		p.done <- srv.Serve(l)
	}()
	logger.Infof("Proxy started on %s", info.Addr())
	return p, nil
}

// listen binds host:port. Without an explicit port the default port is tried first, then random
// ports from the ephemeral range.
func listen(ctx context.Context, logger logrus.FieldLogger, host string, port int) (net.Listener, error) {
	var lc net.ListenConfig
	if port != 0 {
		l, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err != nil {
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
		return l, nil
	}

	port = DefaultPort
	var err error
	for attempt := 0; attempt < bindAttempts; attempt++ {
		var l net.Listener
		l, err = lc.Listen(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err == nil {
			return l, nil
		}
		logger.Debugf("Failed to listen on port %d: %v", port, err)
		port = ephemeralPortMin + rand.IntN(ephemeralPortMax-ephemeralPortMin)
	}
	return nil, fmt.Errorf("failed to listen after %d attempts: %w", bindAttempts, err)
}

// Done is closed with the Serve result once the proxy stops.
func (p *Proxy) Done() <-chan error {
	return p.done
}

// SetOutputs publishes the proxy details as step outputs.
func (p *Proxy) SetOutputs() error {
	urls := make([]model.Registry, 0, len(p.Info.Registries))
	for _, r := range p.Info.Registries {
		urls = append(urls, r.Registry)
	}
	registries, err := json.Marshal(urls)
	if err != nil {
		return err
	}
	outputs := [][2]string{
		{"proxy_host", p.Info.Host},
		{"proxy_port", fmt.Sprint(p.Info.Port)},
		{"proxy_ca_certificate", p.Info.Cert},
		{"proxy_urls", string(registries)},
	}
	for _, o := range outputs {
		if err := core.SetOutput(o[0], o[1]); err != nil {
			return fmt.Errorf("failed to set output %s: %w", o[0], err)
		}
	}
	return nil
}

// Env returns the variables that point common clients at the proxy.
func (p *Proxy) Env() []string {
	u := p.Info.URL().String()
	return []string{
		"HTTP_PROXY=" + u,
		"HTTPS_PROXY=" + u,
		"http_proxy=" + u,
		"https_proxy=" + u,
		"SSL_CERT_FILE=" + p.CertPath,
		"NODE_EXTRA_CA_CERTS=" + p.CertPath,
		"REQUESTS_CA_BUNDLE=" + p.CertPath,
	}
}

// Close shuts the proxy down, waiting for active connections until ctx is done.
func (p *Proxy) Close(ctx context.Context) error {
	defer os.Remove(p.CertPath)
	if err := p.server.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to stop proxy: %w", err)
	}
	return nil
}
