// Package metrics serves the ingest service's Prometheus registry over HTTP.
package metrics

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the listen address and timeouts for the metrics endpoint.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server exposes /metrics for a registry on the configured address.
type Server struct {
	srv *http.Server

	// Bound address, set once the listener is up. Empty before ListenAndServe.
	addr atomic.Value
}

// New builds a metrics server for the given gatherer. The server does not
// listen until ListenAndServe is called.
func New(cfg Config, reg prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{
		srv: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// ListenAndServe binds the configured address and serves until Shutdown or
// Close is called. Port 0 picks a free port; Addr reports the bound one.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.addr.Store(ln.Addr().String())
	slog.Debug("Metrics endpoint listening", "addr", ln.Addr().String())

	return s.srv.Serve(ln)
}

// Shutdown stops the server gracefully, waiting for in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return s.srv.Close()
}

// Addr returns the bound listen address, or "" before ListenAndServe.
func (s *Server) Addr() string {
	if addr, ok := s.addr.Load().(string); ok {
		return addr
	}
	return ""
}
