package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dependabot/registry-proxy/internal/infra"
	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/sirupsen/logrus"
)

const maxInputSize = 1 << 20

type inputServer struct {
	server *http.Server
	once   sync.Once
	data   *model.Input
}

// the server receives one valid payload and shuts itself down
func (s *inputServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInputSize))
	_ = r.Body.Close()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	input, err := infra.ParseInput(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	s.once.Do(func() {
		s.data = input
		go func() {
			_ = s.server.Shutdown(context.Background())
		}()
	})
}

// Input receives configuration via HTTP on the listener and returns it decoded. Invalid payloads
// are rejected with 400 and the server keeps waiting.
func Input(ctx context.Context, logger logrus.FieldLogger, l net.Listener) (*model.Input, error) {
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
	}
	s := &inputServer{server: server}
	server.Handler = s

	stop := context.AfterFunc(ctx, func() { _ = server.Close() })
	defer stop()

	// printing so the user doesn't think the proxy is hanging
	logger.Infof("Waiting for input on %s", l.Addr())
	if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return nil, err
	}
	if s.data == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("server closed before receiving input")
	}
	return s.data, nil
}
