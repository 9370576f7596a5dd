// Package proxy implements the credential injecting forward proxy.
//
// Clients reach registries through HTTP CONNECT or absolute-form plain HTTP requests. CONNECT
// requests to a configured https registry are intercepted: the proxy terminates TLS with a leaf
// certificate signed by its own CA, attaches the registry credential to each request and forwards
// it upstream over a fresh TLS connection. Everything else is tunnelled without inspection.
package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/dependabot/registry-proxy/internal/registry"
	"github.com/sirupsen/logrus"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("proxy: server closed")

const (
	DefaultDialTimeout      = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultIdleTimeout      = 90 * time.Second
	DefaultRequestTimeout   = 10 * time.Minute
)

// Options tune the server. Zero values pick the defaults.
type Options struct {
	Logger logrus.FieldLogger
	// DialTimeout bounds dialing upstream, for tunnels and forwarded requests.
	DialTimeout time.Duration
	// HandshakeTimeout bounds the client and upstream TLS handshakes.
	HandshakeTimeout time.Duration
	// IdleTimeout closes client connections that are waiting for a request.
	IdleTimeout time.Duration
	// RequestTimeout bounds a forwarded request including its response body. Negative disables it.
	RequestTimeout time.Duration
	// UpstreamTLS is used when connecting to registries. Nil uses the system roots.
	UpstreamTLS *tls.Config
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
}

// Server is the proxy. It is safe for concurrent use; each accepted connection is served on its
// own goroutine.
type Server struct {
	info      model.ProxyInfo
	index     *registry.Index
	certs     *CertCache
	opts      Options
	log       logrus.FieldLogger
	dialer    *net.Dialer
	transport *http.Transport

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*trackedConn]struct{}
	closing   atomic.Bool
}

// New builds a proxy for the resolved registries in info.
func New(info model.ProxyInfo, ca model.CertificateAuthority, opts Options) (*Server, error) {
	opts.setDefaults()
	certs, err := NewCertCache(ca)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}
	return &Server{
		info:   info,
		index:  registry.NewIndex(info.Registries),
		certs:  certs,
		opts:   opts,
		log:    opts.Logger,
		dialer: dialer,
		transport: &http.Transport{
			// never through another proxy, the environment may point back at us
			Proxy:                 nil,
			DialContext:           dialer.DialContext,
			TLSClientConfig:       opts.UpstreamTLS,
			TLSHandshakeTimeout:   opts.HandshakeTimeout,
			IdleConnTimeout:       opts.IdleTimeout,
			MaxIdleConnsPerHost:   16,
			DisableCompression:    true,
			ExpectContinueTimeout: time.Second,
		},
		listeners: map[net.Listener]struct{}{},
		conns:     map[*trackedConn]struct{}{},
	}, nil
}

// Serve accepts connections on l until Shutdown is called. It always returns a non-nil error.
func (s *Server) Serve(l net.Listener) error {
	if !s.trackListener(l, true) {
		_ = l.Close()
		return ErrServerClosed
	}
	defer s.trackListener(l, false)

	var delay time.Duration
	for {
		c, err := l.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else if delay *= 2; delay > time.Second {
					delay = time.Second
				}
				s.log.Warnf("accept error: %v; retrying in %v", err, delay)
				time.Sleep(delay)
				continue
			}
			return err
		}
		delay = 0
		tc := s.track(c)
		if tc == nil {
			_ = c.Close()
			continue
		}
		go s.serveConn(tc)
	}
}

// Shutdown stops accepting connections, closes idle ones and waits for active ones to finish.
// When ctx expires first the remaining connections are closed and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)

	s.mu.Lock()
	var err error
	for l := range s.listeners {
		if cerr := l.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.mu.Unlock()
	s.transport.CloseIdleConnections()
	s.log.Debugf("Shutting down after minting %d certificates", s.CachedCertificates())

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.closeIdle() {
			return err
		}
		select {
		case <-ctx.Done():
			s.closeAll()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) trackListener(l net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closing.Load() {
			return false
		}
		s.listeners[l] = struct{}{}
	} else {
		delete(s.listeners, l)
	}
	return true
}

func (s *Server) track(c net.Conn) *trackedConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return nil
	}
	tc := &trackedConn{Conn: c}
	tc.idle.Store(true)
	s.conns[tc] = struct{}{}
	return tc
}

func (s *Server) untrack(tc *trackedConn) {
	s.mu.Lock()
	delete(s.conns, tc)
	s.mu.Unlock()
}

// closeIdle closes connections waiting for a request and reports whether none are left.
func (s *Server) closeIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if c.idle.Load() {
			_ = c.Close()
			delete(s.conns, c)
		}
	}
	return len(s.conns) == 0
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
		delete(s.conns, c)
	}
}

// trackedConn is a client connection with its idle state, used by Shutdown. Closing it also
// closes the upstream side of a tunnel.
type trackedConn struct {
	net.Conn
	idle atomic.Bool

	mu       sync.Mutex
	upstream net.Conn
}

func (c *trackedConn) setUpstream(upstream net.Conn) {
	c.mu.Lock()
	c.upstream = upstream
	c.mu.Unlock()
}

func (c *trackedConn) Close() error {
	c.mu.Lock()
	if c.upstream != nil {
		_ = c.upstream.Close()
	}
	c.mu.Unlock()
	return c.Conn.Close()
}

// CachedCertificates is the number of leaf certificates minted so far.
func (s *Server) CachedCertificates() int {
	return s.certs.Len()
}
