package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zeebo/errs"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/pavel-fokin/files-vault/internal/auth"
	"github.com/pavel-fokin/files-vault/internal/files"
	"github.com/pavel-fokin/files-vault/internal/fs"
	"github.com/pavel-fokin/files-vault/internal/logging"
	"github.com/pavel-fokin/files-vault/internal/metrics"
	"github.com/pavel-fokin/files-vault/internal/rpc"
	"github.com/pavel-fokin/files-vault/internal/sqlstore"
)

// Server owns the gRPC listener for the storage service and the admin HTTP
// listener for health and metrics.
type Server struct {
	cfg     *Config
	repo    *sqlstore.Repository
	metrics *metrics.Metrics
	grpc    *grpc.Server
	health  *health.Server
	admin   *http.Server
}

func New(cfg *Config) (*Server, error) {
	// Initialize structured logger with JSON handler
	logger := slog.New(logging.NewContextHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))
	slog.SetDefault(logger)

	// Initialize storage and repository
	storage, err := fs.NewStorage(cfg.ContentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize content directory: %w", err)
	}
	repo, err := sqlstore.NewRepository(cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	slog.Info("Repository ready", "dialect", repo.Dialect())

	verifier := auth.NewVerifier([]byte(cfg.TokenKey),
		auth.WithIssuer(cfg.TokenIssuer),
		auth.WithAudience(cfg.TokenAudience),
	)

	// Initialize file service
	fileService := files.NewService(storage, repo,
		files.WithMaxUploadSize(min(uint64(cfg.MaxUploadSize), math.MaxUint32)),
	)

	m := metrics.New()

	opts := rpc.ServerOptions(verifier, m, cfg.RequestTimeout)
	if cfg.MaxFrameSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(int(cfg.MaxFrameSize)))
	}
	grpcServer := grpc.NewServer(opts...)
	rpc.RegisterStorageServer(grpcServer, rpc.NewServer(fileService, m))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	s := &Server{
		cfg:     cfg,
		repo:    repo,
		metrics: m,
		grpc:    grpcServer,
		health:  healthServer,
	}

	if cfg.AdminAddr != "" {
		s.admin = &http.Server{
			Addr:         cfg.AdminAddr,
			Handler:      s.adminHandler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
	}

	return s, nil
}

func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	// Wrap the handler with logging middleware
	return loggingMiddleware(mux)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves gRPC on lis, and the admin endpoints when configured, until
// ctx is done or either listener fails. In-flight calls get the shutdown
// timeout to finish.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting gRPC server", "addr", lis.Addr().String())
		if err := s.grpc.Serve(lis); err != nil {
			return fmt.Errorf("failed to serve gRPC: %w", err)
		}
		return nil
	})

	if s.admin != nil {
		g.Go(func() error {
			slog.Info("Starting admin server", "addr", s.admin.Addr)
			if err := s.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to serve admin endpoints: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

func (s *Server) shutdown() {
	slog.Info("Shutting down", "timeout", s.cfg.ShutdownTimeout)
	s.health.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			slog.Error("Failed to shut down admin server", "error", err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		slog.Warn("Graceful stop timed out, closing open streams")
		s.grpc.Stop()
		<-stopped
	}
}

// Close releases everything New acquired. It is safe to call after Serve
// has returned.
func (s *Server) Close() error {
	s.grpc.Stop()
	var adminErr error
	if s.admin != nil {
		adminErr = s.admin.Close()
	}
	return errs.Combine(adminErr, s.repo.Close())
}

// loggingMiddleware logs HTTP requests with structured logging
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.InfoContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
