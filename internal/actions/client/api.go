package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dependabot/registry-proxy/internal/actions/core"
	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/dependabot/registry-proxy/internal/registry"
)

const maxResponseSize = 1 << 20

// Client fetches registry credentials from a remote endpoint, e.g. the job service of a hosted
// runner, so they never appear in workflow files or the environment.
type Client struct {
	url   string
	token string
	http  *http.Client
}

func New(url, token string) *Client {
	return &Client{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func request(ctx context.Context, client *http.Client, method, url, auth string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.Header.Set("Accept", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}
	if res.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// Credentials returns the credentials served at the client URL. A 204 response means there are
// none.
func (c *Client) Credentials(ctx context.Context) ([]model.Credential, error) {
	data, err := request(ctx, c.http, http.MethodGet, c.url, c.token, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	credentials, err := registry.ParseCredentials(data)
	if err != nil {
		return nil, err
	}

	if !core.IsActions() {
		return credentials, nil
	}
	// mask secrets
	for i := range credentials {
		for _, secret := range credentials[i].Secrets() {
			core.SetSecret(secret)
		}
	}

	return credentials, nil
}
