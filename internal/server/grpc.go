// Package server provides the HTTP API and a gRPC health endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer exposes the standard gRPC health service, driven by the same
// readiness check as /readyz.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	ready    ReadinessFunc
	interval time.Duration
	logger   *slog.Logger
	port     int
}

// GRPCServerConfig holds configuration for the gRPC server
type GRPCServerConfig struct {
	Port   int
	Logger *slog.Logger
	// Ready is polled every CheckInterval to set the serving status.
	Ready         ReadinessFunc
	CheckInterval time.Duration
}

// NewGRPCServer creates a new gRPC server with interceptors
func NewGRPCServer(cfg GRPCServerConfig) *GRPCServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	server := grpc.NewServer(
		grpc.UnaryInterceptor(unaryInterceptor(logger)),
		grpc.StreamInterceptor(streamInterceptor(logger)),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)

	return &GRPCServer{
		server:   server,
		health:   hs,
		ready:    cfg.Ready,
		interval: interval,
		logger:   logger,
		port:     cfg.Port,
	}
}

// Start listens and serves until Shutdown. Readiness polling stops with ctx.
func (s *GRPCServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.checkReadiness(ctx)
	go s.watchReadiness(ctx)

	s.logger.Info("starting gRPC server", "address", addr)
	if err := s.server.Serve(listener); err != nil {
		return fmt.Errorf("gRPC server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the gRPC server
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("gRPC server stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("graceful shutdown timeout, forcing stop")
		s.server.Stop()
		return ctx.Err()
	}
}

func (s *GRPCServer) watchReadiness(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkReadiness(ctx)
		}
	}
}

func (s *GRPCServer) checkReadiness(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if s.ready != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := s.ready(checkCtx)
		cancel()
		if err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.Warn("readiness check failed", "error", err)
		}
	}
	s.health.SetServingStatus("", st)
}
