// Package monitoring wires health checks and the metrics endpoint into a
// small HTTP server served alongside the chat surface.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lewisedginton/memory_chatbot/pkg/health"
	"github.com/lewisedginton/memory_chatbot/pkg/health/checkers"
	"github.com/lewisedginton/memory_chatbot/pkg/httpmiddleware"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/metrics"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusReady     = "ready"
	statusNotReady  = "not_ready"
)

// HealthMonitor manages health checks and serves the monitoring endpoints.
type HealthMonitor struct {
	checker   *health.Checker
	metrics   *metrics.Metrics
	logger    logger.Logger
	startTime time.Time
}

// Config holds configuration for the health monitor.
type Config struct {
	Logger           logger.Logger
	Metrics          *metrics.Metrics
	OracleAPIURL     string                      // URL checked for oracle reachability
	StorageCheck     func(context.Context) error // Check of the memory storage backend
	IndexCheck       func(context.Context) error // Check of the vector index
	Timeout          time.Duration
	FailureThreshold int
}

// NewHealthMonitor creates a health monitor with the configured checks.
func NewHealthMonitor(cfg Config) *HealthMonitor {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	failureThreshold := cfg.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 3
	}

	checker := health.New(
		health.WithLogger(cfg.Logger),
		health.WithTimeout(timeout),
		health.WithFailureThreshold(failureThreshold),
	)

	// Process is alive if we can execute this check.
	checker.AddLivenessCheck(health.NewCheckFunc("process", func(context.Context) error {
		return nil
	}))

	if cfg.OracleAPIURL != "" {
		checker.AddReadinessCheck(checkers.NewHTTPChecker(cfg.OracleAPIURL, "oracle_api"))
	}
	if cfg.StorageCheck != nil {
		checker.AddReadinessCheck(health.NewCheckFunc("memory_storage", cfg.StorageCheck))
	}
	if cfg.IndexCheck != nil {
		checker.AddReadinessCheck(health.NewCheckFunc("vector_index", cfg.IndexCheck))
	}

	return &HealthMonitor{
		checker:   checker,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		startTime: time.Now(),
	}
}

// LivenessHandler returns an HTTP handler for liveness probes.
func (hm *HealthMonitor) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := hm.checker.CheckLiveness(r.Context())

		response := map[string]interface{}{
			"status":    statusHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(hm.startTime).String(),
			"checks":    status.Checks,
		}

		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			response["status"] = statusUnhealthy
			response["error"] = err.Error()
			w.WriteHeader(http.StatusServiceUnavailable)
			hm.logger.Error("Liveness check failed", logger.ErrorField(err))
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// ReadinessHandler returns an HTTP handler for readiness probes.
func (hm *HealthMonitor) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := hm.checker.CheckReadiness(r.Context())

		response := map[string]interface{}{
			"status":    statusReady,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    status.Checks,
		}

		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			response["status"] = statusNotReady
			response["error"] = err.Error()
			w.WriteHeader(http.StatusServiceUnavailable)
			hm.logger.Warn("Readiness check failed", logger.ErrorField(err))
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Serve starts the monitoring HTTP server on the given port and blocks
// until the context is cancelled or the server fails.
func (hm *HealthMonitor) Serve(ctx context.Context, port int) error {
	router := chi.NewRouter()
	httpmiddleware.WithLogger(router, hm.logger)
	router.Get("/health/live", hm.LivenessHandler())
	router.Get("/health/ready", hm.ReadinessHandler())
	if hm.metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(hm.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	hm.logger.Info("Monitoring server started", logger.IntField("port", port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
