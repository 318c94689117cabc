package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// FleetService is the health service name that tracks fleet store
// readiness. The empty name reports overall server health.
const FleetService = "iotshield.v1.Fleet"

// ReadinessCheck reports whether the fleet store can serve requests.
type ReadinessCheck func(ctx context.Context) error

type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	port       int

	mu       sync.Mutex
	listener net.Listener
}

// NewServer builds the health server. creds may be nil for plaintext.
func NewServer(port int, creds credentials.TransportCredentials) *Server {
	var opts []grpc.ServerOption
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}

	grpcServer := grpc.NewServer(opts...)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	s := &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		port:       port,
	}
	s.SetServing(false)
	return s
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	slog.Info("Starting gRPC health server", "addr", lis.Addr().String())

	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}
	return nil
}

func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(FleetService, status)
}

// WatchReadiness runs check every interval and mirrors the result into
// the fleet service status until ctx is done.
func (s *Server) WatchReadiness(ctx context.Context, clock clockwork.Clock, interval time.Duration, check ReadinessCheck) {
	probe := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if err := check(ctx); err != nil {
			if ctx.Err() == nil {
				slog.Warn("Fleet store not ready", "error", err)
			}
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(FleetService, status)
	}

	probe()
	ticker := clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				probe()
			}
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping gRPC health server")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slog.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		slog.Warn("gRPC server stop timeout, forcing shutdown")
		s.grpcServer.Stop()
	}

	return nil
}

func (s *Server) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}
