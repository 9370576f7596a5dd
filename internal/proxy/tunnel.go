package proxy

import (
	"io"
	"net"
	"sync"
)

type closeWriter interface {
	CloseWrite() error
}

// closeWrite half-closes conn when it supports it, so the peer sees EOF while the other
// direction keeps flowing.
func closeWrite(conn net.Conn) {
	if t, ok := conn.(*trackedConn); ok {
		conn = t.Conn
	}
	if cw, ok := conn.(closeWriter); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = conn.Close()
}

// tunnel copies bytes in both directions until both sides have finished sending. client is
// read through r so bytes already buffered after the CONNECT request are not lost.
func tunnel(client net.Conn, r io.Reader, upstream net.Conn) (sent, received int64) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sent, _ = io.Copy(upstream, r)
		closeWrite(upstream)
	}()
	go func() {
		defer wg.Done()
		received, _ = io.Copy(client, upstream)
		closeWrite(client)
	}()
	wg.Wait()
	return sent, received
}
