package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/therassist/session-coordinator/internal/analysis"
	"github.com/therassist/session-coordinator/internal/config"
	"github.com/therassist/session-coordinator/internal/control"
	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/observability"
	"github.com/therassist/session-coordinator/internal/session"
	"github.com/therassist/session-coordinator/internal/transport"
)

func newServeCmd() *cobra.Command {
	var envFile bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session control API and UI event feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile)
		},
	}

	cmd.Flags().BoolVar(&envFile, "env-file", true, "read a .env file before the environment")
	return cmd
}

func loadConfig(envFile bool) (*config.Config, error) {
	if envFile {
		return config.Load()
	}
	return config.LoadFromEnv()
}

func runServe(envFile bool) error {
	// Load configuration
	cfg, err := loadConfig(envFile)
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return err
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Str("transcription_backend", cfg.TranscriptionBackend).
		Str("analysis_url", cfg.AnalysisURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Session coordinator starting")

	backend, err := transport.New(cfg)
	if err != nil {
		return err
	}
	client := analysis.NewClientFromConfig(cfg)

	hub := control.NewHub()
	ctrl := session.NewController(
		session.OptionsFromConfig(cfg),
		session.NewConfigFactory(cfg, backend),
		client,
		session.Fanout{hub},
	)

	mux := http.NewServeMux()
	control.NewAPI(ctrl).Register(mux)
	mux.HandleFunc("/ws/session", hub.HandleWS())

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness covers the two backends every session depends on
	checks := map[string]observability.HealthCheckFunc{
		"transcription": backend.Check,
		"analysis":      client.Check,
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// gRPC health also follows the live session's transcription link
	grpcChecks := map[string]observability.HealthCheckFunc{
		"transcription": backend.Check,
		"analysis":      client.Check,
		"session":       sessionCheck(ctrl),
	}
	grpcHealth := observability.NewGRPCHealth(grpcChecks, 5*time.Second)
	go func() {
		if err := grpcHealth.Serve(ctx, fmt.Sprintf(":%s", cfg.GRPCPort)); err != nil {
			logger.Error().Err(err).Msg("gRPC health server stopped")
		}
	}()

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("feed", fmt.Sprintf("ws://localhost:%s/ws/session", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error().Err(err).Msg("Server failed to start")
		return err
	}

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := ctrl.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Session did not wind down cleanly")
	}
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}

	logger.Info().Msg("Server exited gracefully")
	return nil
}

// sessionCheck is unhealthy while a recording session has lost its
// transcription connection
func sessionCheck(ctrl *session.Controller) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		status, err := ctrl.Status(ctx)
		if err != nil {
			return false, err
		}
		if status.State == domain.SessionStateRecording && status.Connection == domain.ConnectionDisconnected {
			return false, fmt.Errorf("session %s has no transcription connection", status.SessionID)
		}
		return true, nil
	}
}
