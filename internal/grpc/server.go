// Package grpc exposes this service's own health over grpc.health.v1 so load
// balancers and peers can gate on it.
package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name this service reports its status under, in addition
// to the server-wide "" entry.
const ServiceName = "emergency.alerts.v1.AlertService"

const pingTimeout = 2 * time.Second

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	pinger     Pinger
	clock      clock.Clock
	interval   time.Duration
	health     *health.Server
	grpcServer *grpc.Server
}

func NewServer(pinger Pinger, clk clock.Clock, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &Server{
		pinger:     pinger,
		clock:      clk,
		interval:   interval,
		health:     health.NewServer(),
		grpcServer: grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Run keeps the reported status in line with the store until ctx is done.
func (s *Server) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Refresh pings the store once and updates the reported status.
func (s *Server) Refresh(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := s.pinger.Ping(pctx); err != nil {
		if ctx.Err() == nil {
			slog.Warn("store ping failed, reporting NOT_SERVING", "error", err)
		}
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Stop marks the server NOT_SERVING so watchers drain, then stops
// gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
