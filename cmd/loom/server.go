package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/loomworks/loom/api"
	"github.com/loomworks/loom/config"
	"github.com/loomworks/loom/internal/metrics"
	"github.com/loomworks/loom/internal/telemetry"
	"github.com/loomworks/loom/llm"
	"github.com/loomworks/loom/persistence"
	"github.com/loomworks/loom/providers/foundry"
	"github.com/loomworks/loom/workflow"
)

// Server wires the orchestration core behind the HTTP and metrics
// listeners.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	provider  llm.Provider
	store     persistence.RunStore
	runner    *workflow.Runner
	collector *metrics.Collector

	httpServer    *http.Server
	metricsServer *http.Server

	shutdownTelemetry func(context.Context) error
}

// NewServer creates an unstarted server.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start builds the component graph and starts the listeners.
func (s *Server) Start() error {
	ctx := context.Background()

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      s.cfg.Telemetry.Enabled,
		OTLPEndpoint: s.cfg.Telemetry.OTLPEndpoint,
		ServiceName:  s.cfg.Telemetry.ServiceName,
	}, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		s.shutdownTelemetry = shutdown
	}

	s.collector = metrics.NewCollector(prometheus.DefaultRegisterer)

	base := foundry.NewProvider(foundry.Config{
		Endpoint:   s.cfg.Foundry.Endpoint,
		Deployment: s.cfg.Foundry.Deployment,
		APIKey:     s.cfg.Foundry.APIKey,
		Timeout:    s.cfg.Foundry.Timeout,
	}, s.logger)

	resilientCfg := llm.DefaultResilientConfig()
	if !s.cfg.Workflow.RetryOnce {
		resilientCfg.MaxAttempts = 1
	}
	s.provider = llm.NewResilientProvider(base, resilientCfg, s.logger)

	s.store, err = persistence.NewRunStore(persistence.Options{
		Type:    persistence.StoreType(s.cfg.Store.Type),
		BaseDir: s.cfg.Store.BaseDir,
		Path:    s.cfg.Store.Path,
		Redis: persistence.RedisOptions{
			Addr:      s.cfg.Store.Redis.Addr,
			Password:  s.cfg.Store.Redis.Password,
			DB:        s.cfg.Store.Redis.DB,
			KeyPrefix: s.cfg.Store.Redis.KeyPrefix,
		},
	}, s.logger)
	if err != nil {
		return fmt.Errorf("create run store: %w", err)
	}

	executor := workflow.NewAgentExecutor(s.provider, workflow.ExecutorConfig{
		Model:       s.cfg.Foundry.Deployment,
		TurnTimeout: s.cfg.Workflow.TurnTimeout,
	}, s.logger).WithCollector(s.collector)

	s.runner = workflow.NewRunner(executor, s.store, workflow.RunnerConfig{
		MaxConcurrentRuns: int64(s.cfg.Workflow.MaxConcurrentRuns),
	}, s.logger).WithCollector(s.collector)

	restored, err := s.runner.Restore(ctx)
	if err != nil {
		s.logger.Warn("restore runs failed", zap.Error(err))
	} else if restored > 0 {
		s.logger.Info("restored runs from store", zap.Int("count", restored))
	}

	if err := s.startHTTPServer(); err != nil {
		return err
	}
	s.startMetricsServer()
	return nil
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()
	api.NewWorkflowHandler(s.runner, s.cfg.Workflow.DefaultRounds, s.logger).Register(mux)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	go func() {
		s.logger.Info("HTTP server listening", zap.Int("port", s.cfg.Server.HTTPPort))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		Handler: mux,
	}

	go func() {
		s.logger.Info("metrics server listening", zap.Int("port", s.cfg.Server.MetricsPort))
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

// handleHealth reports liveness of the store and the model transport.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]any{"status": "ok"}
	code := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		status["status"] = "degraded"
		status["store"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if health, err := s.provider.HealthCheck(ctx); err != nil {
		status["provider"] = err.Error()
	} else {
		status["provider_latency_ms"] = health.Latency.Milliseconds()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then drains the
// listeners and closes the store.
func (s *Server) WaitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	s.logger.Info("shutdown signal received", zap.String("signal", received.String()))

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	if s.shutdownTelemetry != nil {
		if err := s.shutdownTelemetry(ctx); err != nil {
			s.logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close", zap.Error(err))
	}
}
