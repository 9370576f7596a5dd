package proxy

import (
	"bufio"
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// connection is the per-client state. The first request decides whether the connection becomes
// a tunnel, an intercepted TLS session, or a series of plain HTTP requests.
type connection struct {
	s    *Server
	conn *trackedConn
	br   *bufio.Reader
	log  logrus.FieldLogger
}

func (s *Server) serveConn(tc *trackedConn) {
	defer s.untrack(tc)
	defer tc.Close()

	c := &connection{
		s:    s,
		conn: tc,
		br:   bufio.NewReader(tc),
		log:  s.log.WithField("conn", uuid.NewString()),
	}
	c.log.Debugf("Accepted connection from %s", tc.RemoteAddr())

	for {
		req, err := c.readRequest(c.br, tc)
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.authorized(req) {
			c.log.Warnf("Rejected unauthenticated %s request for %s", req.Method, req.Host)
			writeStatus(tc, http.StatusProxyAuthRequired, "proxy authentication required", http.Header{
				"Proxy-Authenticate": {`Basic realm="registry-proxy"`},
			})
			return
		}
		if req.Method == http.MethodConnect {
			c.handleConnect(req)
			return
		}
		if !req.URL.IsAbs() {
			writeStatus(tc, http.StatusBadRequest, "requests must use an absolute URL", nil)
			return
		}
		if !c.forward(tc, req, req.URL.Scheme, req.URL.Host) || c.s.closing.Load() {
			return
		}
	}
}

// readRequest waits for the next request with the idle deadline, marking the connection idle
// while it waits.
func (c *connection) readRequest(r *bufio.Reader, conn net.Conn) (*http.Request, error) {
	c.conn.idle.Store(true)
	if c.s.closing.Load() {
		return nil, ErrServerClosed
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.s.opts.IdleTimeout))
	if _, err := r.Peek(1); err != nil {
		return nil, err
	}
	c.conn.idle.Store(false)
	_ = conn.SetReadDeadline(time.Now().Add(c.s.opts.HandshakeTimeout))
	req, err := http.ReadRequest(r)
	_ = conn.SetReadDeadline(time.Time{})
	return req, err
}

func (c *connection) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, ErrServerClosed):
	case errors.Is(err, os.ErrDeadlineExceeded):
		c.log.Debug("Closing idle connection")
	default:
		c.log.Debugf("Failed to read request: %v", err)
	}
}

func (c *connection) authorized(req *http.Request) bool {
	creds := c.s.info.ProxyAuth
	if creds == nil {
		return true
	}
	value := req.Header.Get("Proxy-Authorization")
	encoded, ok := strings.CutPrefix(value, "Basic ")
	if !ok {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return false
	}
	want := creds.Username + ":" + creds.Password
	return subtle.ConstantTimeCompare(decoded, []byte(want)) == 1
}

func (c *connection) handleConnect(req *http.Request) {
	target := req.RequestURI
	if target == "" {
		target = req.Host
	}
	host, port, err := net.SplitHostPort(target)
	if err != nil || host == "" {
		writeStatus(c.conn, http.StatusBadRequest, "invalid CONNECT target", nil)
		return
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		writeStatus(c.conn, http.StatusBadRequest, "invalid CONNECT target", nil)
		return
	}

	if c.s.index.Intercepts(host, port) {
		c.intercept(host, port)
		return
	}
	c.tunnel(net.JoinHostPort(host, port))
}

func (c *connection) tunnel(target string) {
	log := c.log.WithField("target", target)
	upstream, err := c.s.dialer.Dial("tcp", target)
	if err != nil {
		log.Warnf("Failed to connect to %s: %v", target, err)
		writeStatus(c.conn, statusFor(err), "failed to connect to "+target, nil)
		return
	}
	defer upstream.Close()
	c.conn.setUpstream(upstream)

	if _, err := io.WriteString(c.conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}
	log.Debug("Tunnelling")
	sent, received := tunnel(c.conn, c.br, upstream)
	log.Debugf("Tunnel closed after %d bytes sent and %d received", sent, received)
}

func (c *connection) intercept(host, port string) {
	authority := net.JoinHostPort(host, port)
	log := c.log.WithField("target", authority)

	if _, err := io.WriteString(c.conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}

	tlsConn := tls.Server(&bufferedConn{Conn: c.conn, r: c.br}, &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
		// leaves are only minted for the CONNECT host
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			if hello.ServerName != "" && !strings.EqualFold(hello.ServerName, host) {
				log.Debugf("Client sent SNI %q for %s", hello.ServerName, host)
			}
			return c.s.certs.Get(host)
		},
	})
	defer tlsConn.Close()

	_ = c.conn.SetDeadline(time.Now().Add(c.s.opts.HandshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		log.Warnf("TLS handshake with client failed: %v", err)
		return
	}
	_ = c.conn.SetDeadline(time.Time{})
	log.Debug("Intercepting")

	br := bufio.NewReader(tlsConn)
	for {
		req, err := c.readRequest(br, tlsConn)
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.forward(tlsConn, req, "https", authority) || c.s.closing.Load() {
			return
		}
	}
}

// forward sends req upstream to scheme://authority with the matching credential attached and
// writes the response to w. It reports whether the client connection can be reused.
func (c *connection) forward(w io.Writer, req *http.Request, scheme, authority string) bool {
	ctx := context.Background()
	if c.s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.s.opts.RequestTimeout)
		defer cancel()
	}

	out := req.Clone(ctx)
	out.RequestURI = ""
	out.URL.Scheme = scheme
	out.URL.Host = authority
	out.Close = false
	removeHopHeaders(out.Header)
	if req.ContentLength == 0 {
		out.Body = nil
	}

	authenticated := false
	if reg, ok := c.s.index.Lookup(out.URL); ok && reg.Authenticated() {
		inject(out, reg.Credential)
		authenticated = true
	}

	resp, err := c.s.transport.RoundTrip(out)
	if err != nil {
		c.log.Warnf("%s %s failed: %v", req.Method, redact(out), err)
		writeStatus(w, statusFor(err), "upstream request failed", nil)
		return false
	}
	defer resp.Body.Close()

	removeHopHeaders(resp.Header)
	resp.Close = req.Close || resp.Close
	if resp.ContentLength == -1 && len(resp.TransferEncoding) == 0 {
		// the body can only be delimited by closing the connection
		resp.Close = true
	}
	if err := resp.Write(w); err != nil {
		c.log.Debugf("Failed to write response: %v", err)
		return false
	}
	c.log.Debugf("%s %s %d (authenticated: %t)", req.Method, redact(out), resp.StatusCode, authenticated)
	return !resp.Close
}

// redact drops the query, which may carry an injected token.
func redact(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

func statusFor(err error) int {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func writeStatus(w io.Writer, code int, msg string, header http.Header) {
	if header == nil {
		header = http.Header{}
	}
	body := fmt.Sprintf("%d %s: %s\n", code, http.StatusText(code), msg)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	resp := &http.Response{
		StatusCode:    code,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Close:         true,
	}
	_ = resp.Write(w)
}

// bufferedConn reads through r, which may hold bytes the client sent right after CONNECT.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
