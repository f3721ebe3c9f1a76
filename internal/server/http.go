package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPServer serves the authenticated JSON-RPC bridge on a loopback TCP
// listener. Binding to 127.0.0.1 keeps the endpoint local-only; the bearer
// token keeps it private to clients that can read the secret store.
type HTTPServer struct {
	rpc      *RPCServer
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewHTTPServer creates an HTTPServer for the given RPC surface.
func NewHTTPServer(rpc *RPCServer, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		rpc: rpc,
		server: &http.Server{
			Handler:           requireToken(rpc.secret, rpc.bridge),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Listen binds the loopback listener without serving yet, so the caller can
// record the resolved address before accepting requests.
func (h *HTTPServer) Listen(port int) (string, error) {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return "", fmt.Errorf("bind rpc listener: %w", err)
	}
	h.listener = l
	return l.Addr().String(), nil
}

// Serve accepts requests until Shutdown. It returns nil on graceful close.
func (h *HTTPServer) Serve() error {
	if h.listener == nil {
		return errors.New("server: Serve called before Listen")
	}
	h.logger.Info("rpc endpoint listening", zap.String("addr", h.listener.Addr().String()))
	err := h.server.Serve(h.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the bound listener address, or "" before Listen.
func (h *HTTPServer) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Shutdown drains in-flight requests and closes the jrpc2 bridge.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	err := h.server.Shutdown(ctx)
	h.rpc.Close()
	return err
}
