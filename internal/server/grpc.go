package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"StableLedger/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// In-flight submissions can wait on a core that has already stopped.
const gracefulStopTimeout = 10 * time.Second

// GRPCServer serves the ledger service over gRPC and, through the gateway
// mux, over HTTP/JSON.
type GRPCServer struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	httpServer    *http.Server
	service       LedgerServer
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// ServerDeps holds all dependencies needed by the services.
type ServerDeps struct {
	Submitter     Submitter
	Reader        Reader
	EventLog      EventLog
	HealthChecker *observability.HealthChecker
	Logger        zerolog.Logger
}

// NewGRPCServer creates a server with the ledger, health and reflection
// services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(deps.Logger)))

	service := NewLedgerService(deps.Submitter, deps.Reader, deps.EventLog)
	RegisterLedgerServer(grpcServer, service)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		service:       service,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		logger:        deps.Logger,
	}
}

// SetServing flips the gRPC health status once recovery is done.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
	s.healthServer.SetServingStatus(serviceName, st)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves on lis until ctx is cancelled.
func (s *GRPCServer) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(gracefulStopTimeout):
			s.logger.Warn().Msg("gRPC graceful stop timed out, closing connections")
			s.grpcServer.Stop()
		}
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves HTTP/JSON and the health endpoints (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// HTTPHandler returns the gateway mux with /healthz and /readyz mounted.
func (s *GRPCServer) HTTPHandler() http.Handler {
	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", NewGatewayMux(s.service))
	return httpMux
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		ev := logger.Debug()
		if code == codes.Internal || code == codes.Unknown {
			ev = logger.Error().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}
