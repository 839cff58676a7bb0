// Package api is the SkadiDB REST API
//
// @title           SkadiDB REST API
// @version         1.0.0
// @description     REST API for SkadiDB, an embeddable key-value store.
// @host            localhost:8080
// @BasePath        /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in              header
// @name            X-API-Key
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsUpdateInterval = 15 * time.Second

// Handler returns the router serving the API and /metrics.
func (s *Server) Handler() http.Handler {
	m := s.metrics
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Prometheus metrics endpoint (unprotected for scraping)
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, m.Registry()}
	if reg := s.store.Registry(); reg != nil {
		gatherers = append(gatherers, reg)
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(m.InstrumentAuthMiddleware(apiKeyMiddleware(s.config.APIKey)))

		r.Get("/health", m.InstrumentHandler("GET", "/api/v1/health", s.handleHealth))
		r.Get("/stats", m.InstrumentHandler("GET", "/api/v1/stats", s.handleStats))

		r.Group(func(r chi.Router) {
			r.Use(s.threadMiddleware)

			r.Put("/kv/{key}", m.InstrumentHandler("PUT", "/api/v1/kv/{key}", s.handlePut))
			r.Patch("/kv/{key}", m.InstrumentHandler("PATCH", "/api/v1/kv/{key}", s.handlePatch))
			r.Get("/kv/{key}", m.InstrumentHandler("GET", "/api/v1/kv/{key}", s.handleGet))
			r.Delete("/kv/{key}", m.InstrumentHandler("DELETE", "/api/v1/kv/{key}", s.handleDelete))
			r.Get("/scan", m.InstrumentHandler("GET", "/api/v1/scan", s.handleScan))
		})
	})

	return r
}

// StartServer serves the API until ctx is cancelled, then shuts down
// gracefully. The store stays open; closing it is the caller's job.
func StartServer(ctx context.Context, store IKVStore, config ServerConfig) error {
	server := NewServer(store, config, NewMetrics())

	addr := net.JoinHostPort(config.Bind, fmt.Sprint(config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return server.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.startMetricsUpdater(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting SkadiDB REST API server", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "server stopped")
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down server")
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.store.Stats()
			if err != nil {
				s.logger.Debug("metrics update skipped", "error", err)
				continue
			}
			s.metrics.UpdateDBStats(stats.ThreadsInUse, stats.Tree.DiskUsage)
		}
	}
}
