// Package reachability tests whether configured registries can be reached through the proxy.
// The results are advisory and only logged; nothing is disabled when a test fails.
package reachability

import (
	"context"
	"errors"

	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of registries tested at once.
const DefaultConcurrency = 4

type Options struct {
	// Concurrency bounds parallel tests. 1 runs them in configuration order.
	Concurrency int
}

// CheckConnections tests every registry in proxy and returns the reachable ones in configuration
// order.
func CheckConnections(ctx context.Context, logger logrus.FieldLogger, proxy model.ProxyInfo, backend Backend, opts Options) []model.ValidRegistry {
	if len(proxy.Registries) == 0 {
		return nil
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}

	ok := make([]bool, len(proxy.Registries))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, registry := range proxy.Registries {
		if err := registry.Validate(); err != nil {
			logger.Warnf("Skipping check for %s since it is not a valid URL.", registry.URL)
			continue
		}
		g.Go(func() error {
			ok[i] = check(ctx, logger, backend, registry.Registry)
			return nil
		})
	}
	_ = g.Wait()
	logger.Debug("Finished testing connections to private registries.")

	var reachable []model.ValidRegistry
	for i, registry := range proxy.Registries {
		if ok[i] {
			reachable = append(reachable, registry)
		}
	}
	return reachable
}

func check(ctx context.Context, logger logrus.FieldLogger, backend Backend, registry model.Registry) bool {
	logger.Debugf("Testing connection to %s...", registry.URL)

	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	status, err := backend.CheckConnection(ctx, registry)
	if err == nil {
		logger.Infof("Successfully tested connection to %s (%d)", registry.URL, status)
		return true
	}

	var rerr *Error
	switch {
	case errors.As(err, &rerr) && rerr.StatusCode != 0:
		logger.Errorf("Connection test to %s failed. (%d)", registry.URL, rerr.StatusCode)
	case errors.As(err, &rerr) && rerr.Err != nil:
		logger.Errorf("Connection test to %s failed: %v", registry.URL, rerr.Err)
	default:
		logger.Errorf("Connection test to %s failed: %v", registry.URL, err)
	}
	return false
}
