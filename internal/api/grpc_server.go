package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"offlinesync/internal/config"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// SyncHealthService is the health service name that reports whether the
// engine can replay right now: storage ready and connectivity online.
// The empty service name reports storage readiness alone.
const SyncHealthService = "offlinesync.Sync"

// GRPCServer exposes the standard gRPC health protocol for the sync daemon.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	sync     SyncService
	ready    ReadyFunc
	log      zerolog.Logger
}

func NewGRPCServer(cfg config.APIConfig, svc SyncService, ready ReadyFunc, logger *zerolog.Logger) (*GRPCServer, error) {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	auth := NewGRPCAuth(cfg)
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(LoggingUnaryInterceptor(logger), auth.Unary()),
		grpc.ChainStreamInterceptor(LoggingStreamInterceptor(logger), auth.Stream()),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	s := &GRPCServer{
		server:   grpcServer,
		health:   hs,
		listener: lis,
		sync:     svc,
		ready:    ready,
		log:      nopIfNil(logger),
	}
	s.Refresh(context.Background())
	return s, nil
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Refresh recomputes both health statuses.
func (s *GRPCServer) Refresh(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			s.log.Debug().Err(err).Msg("storage not ready")
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	syncStatus := overall
	if !s.sync.Online() {
		syncStatus = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.health.SetServingStatus("", overall)
	s.health.SetServingStatus(SyncHealthService, syncStatus)
}

// WatchHealth refreshes the statuses every interval until ctx is done.
func (s *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	return s.server.Serve(s.listener)
}

// Shutdown marks every service NOT_SERVING, then stops gracefully until ctx
// expires.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out, forcing stop")
		s.server.Stop()
	}
}
