package rpc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/xid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/pavel-fokin/files-vault/internal/auth"
	"github.com/pavel-fokin/files-vault/internal/logging"
	"github.com/pavel-fokin/files-vault/internal/metrics"
)

const (
	authorizationKey = "authorization"
	requestIDKey     = "x-request-id"

	healthService = "/grpc.health.v1.Health/"
)

// interceptor pairs the unary and stream form of one concern so neither is
// forgotten when building the chain.
type interceptor struct {
	unary  grpc.UnaryServerInterceptor
	stream grpc.StreamServerInterceptor
}

// ServerOptions returns the interceptor chain for a StorageService server:
// request id, logging and metrics, request deadline, then authentication.
// A zero timeout disables the deadline.
func ServerOptions(verifier *auth.Verifier, m *metrics.Metrics, timeout time.Duration) []grpc.ServerOption {
	chain := []interceptor{
		requestID(),
		observe(m),
		deadline(timeout),
		authenticate(verifier),
	}

	unary := make([]grpc.UnaryServerInterceptor, 0, len(chain))
	stream := make([]grpc.StreamServerInterceptor, 0, len(chain))
	for _, i := range chain {
		unary = append(unary, i.unary)
		stream = append(stream, i.stream)
	}

	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
}

// serverStream overrides the context of a wrapped stream.
type serverStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *serverStream) Context() context.Context { return s.ctx }

func requestID() interceptor {
	return interceptor{
		unary: func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			id := xid.New().String()
			ctx = logging.WithRequestID(ctx, id)
			if err := grpc.SetHeader(ctx, metadata.Pairs(requestIDKey, id)); err != nil {
				slog.DebugContext(ctx, "Failed to set request id header", "error", err)
			}
			return handler(ctx, req)
		},
		stream: func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			id := xid.New().String()
			ctx := logging.WithRequestID(ss.Context(), id)
			if err := ss.SetHeader(metadata.Pairs(requestIDKey, id)); err != nil {
				slog.DebugContext(ctx, "Failed to set request id header", "error", err)
			}
			return handler(srv, &serverStream{ServerStream: ss, ctx: ctx})
		},
	}
}

// observe logs and counts every finished call and converts its error into a
// gRPC status.
func observe(m *metrics.Metrics) interceptor {
	finish := func(ctx context.Context, method string, start time.Time, err error) error {
		st := toStatus(ctx, err)
		duration := time.Since(start)

		m.Requests.WithLabelValues(method, st.Code().String()).Inc()
		m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())

		slog.InfoContext(ctx, "RPC finished",
			"method", method,
			"code", st.Code().String(),
			"duration_ms", duration.Milliseconds(),
		)

		return st.Err()
	}

	return interceptor{
		unary: func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			start := time.Now()
			resp, err := handler(ctx, req)
			if err := finish(ctx, info.FullMethod, start, err); err != nil {
				return nil, err
			}
			return resp, nil
		},
		stream: func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			start := time.Now()
			err := handler(srv, ss)
			return finish(ss.Context(), info.FullMethod, start, err)
		},
	}
}

func deadline(timeout time.Duration) interceptor {
	return interceptor{
		unary: func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			if timeout <= 0 {
				return handler(ctx, req)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return handler(ctx, req)
		},
		stream: func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			if timeout <= 0 {
				return handler(srv, ss)
			}
			ctx, cancel := context.WithTimeout(ss.Context(), timeout)
			defer cancel()
			return handler(srv, &serverStream{ServerStream: ss, ctx: ctx})
		},
	}
}

// authenticate verifies the bearer token of every call except health checks
// and stores the claims in the context.
func authenticate(verifier *auth.Verifier) interceptor {
	verify := func(ctx context.Context, method string) (context.Context, error) {
		if strings.HasPrefix(method, healthService) {
			return ctx, nil
		}

		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get(authorizationKey)
		if len(values) == 0 {
			return nil, auth.Error.New("missing authorization metadata")
		}

		claims, err := verifier.VerifyHeader(values[0])
		if err != nil {
			slog.WarnContext(ctx, "Authentication failed", "method", method, "error", err)
			return nil, err
		}
		return auth.WithCaller(ctx, claims), nil
	}

	return interceptor{
		unary: func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			ctx, err := verify(ctx, info.FullMethod)
			if err != nil {
				return nil, err
			}
			return handler(ctx, req)
		},
		stream: func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			ctx, err := verify(ss.Context(), info.FullMethod)
			if err != nil {
				return err
			}
			return handler(srv, &serverStream{ServerStream: ss, ctx: ctx})
		},
	}
}

// WithToken returns a context that sends token as a bearer credential on
// outgoing calls.
func WithToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, authorizationKey, "Bearer "+token)
}
