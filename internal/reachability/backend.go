package reachability

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dependabot/registry-proxy/internal/model"
)

// ProbeTimeout bounds a single connection test.
const ProbeTimeout = 5 * time.Second

// Error is a failed connection test. StatusCode is zero when no response was received.
type Error struct {
	Registry   model.Registry
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("Connection test to %s failed. (%d)", e.Registry.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("Connection test to %s failed: %v", e.Registry.URL, e.Err)
	}
	return fmt.Sprintf("Connection test to %s failed.", e.Registry.URL)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Backend performs a test request to a registry and returns the status code, which is below 400
// when err is nil.
type Backend interface {
	CheckConnection(ctx context.Context, registry model.Registry) (int, error)
}

// NetworkBackend sends HEAD requests to registries through the proxy, trusting the proxy CA.
type NetworkBackend struct {
	client *http.Client
}

// NewNetworkBackend builds a backend for the proxy described by info.
func NewNetworkBackend(info model.ProxyInfo) (*NetworkBackend, error) {
	pool := x509.NewCertPool()
	if info.Cert != "" && !pool.AppendCertsFromPEM([]byte(info.Cert)) {
		return nil, fmt.Errorf("failed to parse proxy certificate")
	}
	return &NetworkBackend{
		client: &http.Client{
			Timeout: ProbeTimeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyURL(info.URL()),
				TLSClientConfig: &tls.Config{RootCAs: pool},
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (b *NetworkBackend) CheckConnection(ctx context.Context, registry model.Registry) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, registry.URL, http.NoBody)
	if err != nil {
		return 0, &Error{Registry: registry, Err: err}
	}
	req.Header.Set("User-Agent", "registry-proxy")
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, &Error{Registry: registry, Err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return resp.StatusCode, &Error{Registry: registry, StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

// Close releases idle connections to the proxy.
func (b *NetworkBackend) Close() {
	b.client.CloseIdleConnections()
}
