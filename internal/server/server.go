// Package server exposes the service over HTTP: NDJSON streaming turn endpoints, history
// endpoints, a websocket stream, health, stats and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/tempest/internal/metrics"
	"github.com/raphaelgruber/tempest/internal/service"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server wraps the service with HTTP routing and lifecycle management.
type Server struct {
	svc      *service.Service
	metrics  *metrics.Collector
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a server. mc, limiter and logger may be nil.
func New(svc *service.Service, mc *metrics.Collector, limiter *RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}
	return &Server{
		svc:     svc,
		metrics: mc,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // front ends run on other origins on the LAN
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("POST /processVoice", s.handleProcessVoice)
	mux.HandleFunc("POST /getHistory", s.handleGetHistory)
	mux.HandleFunc("POST /deleteHistory", s.handleDeleteHistory)
	mux.HandleFunc("POST /resetVoice", s.handleResetVoice)
	mux.HandleFunc("GET /ws", s.handleWebsocket)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /stats", s.handleStats)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	return LoggingMiddleware(s.logger, s.metrics)(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
		// No write timeout: replies stream for as long as generation and synthesis take.
	}

	if s.limiter.Enabled() {
		go s.limiter.Run(ctx, 5*time.Minute, 10*time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
