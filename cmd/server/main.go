package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/pgmanager/internal/config"
	"github.com/couchcryptid/pgmanager/internal/manager"
	"github.com/couchcryptid/pgmanager/internal/observability"
	"github.com/couchcryptid/pgmanager/internal/pool"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Pools
	primary, err := pool.New(ctx, cfg.PrimaryPool(), logger)
	if err != nil {
		logger.Error("create primary pool", "error", err)
		os.Exit(1) //nolint:gocritic // startup exits before meaningful defers
	}

	var read *pool.Pool
	if rc := cfg.ReadPool(); rc != nil {
		read, err = pool.New(ctx, *rc, logger)
		if err != nil {
			logger.Error("create read pool", "error", err)
			os.Exit(1)
		}
	}

	mgr := manager.New(primary, read, logger, metrics,
		manager.WithHealthCheckInterval(cfg.HealthCheckInterval))
	if err := mgr.Initialize(ctx); err != nil {
		logger.Error("initialize pool manager", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	// Pool stats collector
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				publishStats(metrics, mgr.Stats())
			}
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)
	r.Use(observability.MetricsMiddleware(metrics))
	r.Get("/healthz", observability.LivenessHandler())
	r.Get("/readyz", observability.ReadinessHandler(mgr))
	r.Get("/health", healthHandler(mgr))
	r.Get("/stats", statsHandler(mgr))
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		// Stop accepting new work first, then drain the pools via mgr.Close.
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// healthHandler runs an on-demand health check and reports 503 when the
// primary is unhealthy. An unhealthy replica alone does not fail the check;
// reads degrade rather than take the service down.
func healthHandler(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := mgr.HealthCheck(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if h.Primary.Status != manager.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	}
}

func statsHandler(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mgr.Stats())
	}
}

func publishStats(m *observability.Metrics, s manager.Stats) {
	set := func(name string, st pool.Stats) {
		m.DBPoolConnections.WithLabelValues(name, "total").Set(float64(st.Total))
		m.DBPoolConnections.WithLabelValues(name, "idle").Set(float64(st.Idle))
		m.DBPoolConnections.WithLabelValues(name, "in_use").Set(float64(st.InUse))
		m.DBPoolConnections.WithLabelValues(name, "waiting").Set(float64(st.Waiting))
	}
	set("primary", s.Primary)
	if s.Read != nil {
		set("read", *s.Read)
	}
}
