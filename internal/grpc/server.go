// Package grpc serves the standard grpc.health.v1 service on the gRPC port.
// Its serving status follows the node's HTTP readiness.
package grpc

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported besides the overall "" entry.
const ServiceName = "a2a.orchestrator"

// ReadyFunc reports whether the node is ready to take tasks.
type ReadyFunc func() bool

// Server is the gRPC health endpoint.
type Server struct {
	server   *grpc.Server
	health   *grpchealth.Server
	ready    ReadyFunc
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewServer creates a health server that re-evaluates ready every interval.
func NewServer(ready ReadyFunc, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := &Server{
		health:   grpchealth.NewServer(),
		ready:    ready,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	s.server = grpc.NewServer(
		grpc.UnaryInterceptor(LoggingUnaryInterceptor(logger)),
		grpc.StreamInterceptor(LoggingStreamInterceptor(logger)),
	)
	healthpb.RegisterHealthServer(s.server, s.health)
	s.update()
	return s
}

// Serve starts the gRPC server on lis and blocks until it stops.
func (s *Server) Serve(lis net.Listener) error {
	go s.watch()
	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.server.Serve(lis)
}

// GracefulStop reports NOT_SERVING to watchers and stops the server.
func (s *Server) GracefulStop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.health.Shutdown()
	s.server.GracefulStop()
}

// Server returns the underlying grpc.Server.
func (s *Server) Server() *grpc.Server {
	return s.server
}

func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.update()
		}
	}
}

func (s *Server) update() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.ready() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Check evaluates readiness now, for callers that cannot wait for the next tick.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	s.update()
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.GetStatus()
}
