package observability

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth serves the standard grpc.health.v1 service. The overall status
// and one status per dependency are refreshed from the readiness checks.
type GRPCHealth struct {
	server   *grpc.Server
	health   *health.Server
	checks   map[string]HealthCheckFunc
	interval time.Duration
}

// NewGRPCHealth creates a gRPC health server for the given checks
func NewGRPCHealth(checks map[string]HealthCheckFunc, interval time.Duration) *GRPCHealth {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCHealth{
		server:   srv,
		health:   hs,
		checks:   checks,
		interval: interval,
	}
}

// Refresh runs the checks once and publishes the results
func (g *GRPCHealth) Refresh(ctx context.Context) bool {
	deps, allHealthy := CheckDependencies(ctx, g.checks)
	for name, dep := range deps {
		g.health.SetServingStatus(name, servingStatus(dep.Status == "healthy"))
	}
	g.health.SetServingStatus("", servingStatus(allHealthy))
	return allHealthy
}

// Serve listens on addr until ctx is cancelled
func (g *GRPCHealth) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC health: %w", err)
	}

	logger := GetLogger()
	logger.Info().Str("addr", addr).Msg("gRPC health server listening")

	go g.watch(ctx)
	go func() {
		<-ctx.Done()
		g.health.Shutdown()
		g.server.GracefulStop()
	}()

	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("gRPC health server failed: %w", err)
	}
	return nil
}

// Server exposes the underlying health server for in-process clients
func (g *GRPCHealth) Server() healthpb.HealthServer {
	return g.health
}

func (g *GRPCHealth) watch(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		g.Refresh(checkCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func servingStatus(healthy bool) healthpb.HealthCheckResponse_ServingStatus {
	if healthy {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
