package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"offlinesync/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	requestIDMetadataKey = "x-request-id"
	grpcHealthPrefix     = "/grpc.health.v1.Health/"
)

// GRPCAuth applies the API key check and per-client rate limit to gRPC
// calls. Health checks are always let through, like /healthz over HTTP.
type GRPCAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewGRPCAuth(cfg config.APIConfig) *GRPCAuth {
	return &GRPCAuth{cfg: cfg, clients: indexClients(cfg.Auth.APIKeys), limiter: newRateLimiter(cfg.RateLimit)}
}

func (a *GRPCAuth) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := a.check(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (a *GRPCAuth) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := a.check(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func (a *GRPCAuth) check(ctx context.Context, fullMethod string) error {
	if strings.HasPrefix(fullMethod, grpcHealthPrefix) {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)

	if a.cfg.Auth.Enabled {
		apiKey := first(md.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault)))
		extra := first(md.Get(headerName(a.cfg.Auth.HeaderExtra, apiExtraHeaderDefault)))
		if _, err := lookupClient(a.clients, apiKey, extra); err != nil {
			return grpcError(err)
		}
	}

	if a.cfg.RateLimit.RPS > 0 && !a.limiter.allow(a.clientKey(ctx, md)) {
		return grpcError(errRateLimited)
	}
	return nil
}

func (a *GRPCAuth) clientKey(ctx context.Context, md metadata.MD) string {
	if apiKey := first(md.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault))); apiKey != "" {
		return apiKey
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

// grpcError maps auth failures onto status codes.
func grpcError(err error) error {
	switch {
	case errors.Is(err, errPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, errRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Unauthenticated, err.Error())
	}
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	log := nopIfNil(logger)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, log, requestID, info.FullMethod, start, err)
		return resp, err
	}
}

func LoggingStreamInterceptor(logger *zerolog.Logger) grpc.StreamServerInterceptor {
	log := nopIfNil(logger)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		requestID := requestIDFromMetadata(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		err := handler(srv, ss)
		logCall(ss.Context(), log, requestID, info.FullMethod, start, err)
		return err
	}
}

func logCall(ctx context.Context, log zerolog.Logger, requestID, method string, start time.Time, err error) {
	remote := clientKeyUnknown
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = p.Addr.String()
	}

	event := log.Info()
	if err != nil {
		event = log.Warn()
	}
	event.
		Str("request_id", requestID).
		Str("method", method).
		Str("remote", remote).
		Str("code", status.Code(err).String()).
		Dur("duration", time.Since(start)).
		Msg("grpc request")
}

func nopIfNil(logger *zerolog.Logger) zerolog.Logger {
	if logger == nil {
		return zerolog.Nop()
	}
	return *logger
}

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if id := first(md.Get(requestIDMetadataKey)); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
