package infra

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// HTTPServer wraps http.Server to provide graceful startup and shutdown helpers.
type HTTPServer struct {
	server *http.Server
	cancel context.CancelFunc
}

// NewHTTPServer creates a configured HTTP server instance. Request contexts
// derive from a base context that is canceled when shutdown begins, so
// long-lived event streams end instead of holding Shutdown open.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)

	return &HTTPServer{server: srv, cancel: cancel}
}

// Addr reports the listen address.
func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

// Start runs the HTTP server in the current goroutine. A graceful shutdown is
// not reported as an error.
func (s *HTTPServer) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	defer s.cancel()
	return s.server.Shutdown(ctx)
}
