package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/EternisAI/silo-config/internal/registration"
)

type Server struct {
	grpcServer *grpc.Server
	service    *configService
	port       int
	listener   net.Listener
}

// NewServer builds the ConfigService server. creds may be nil for plaintext.
func NewServer(port int, svc *registration.Service, tracker *liveness.Tracker, adminAPIKey string, creds credentials.TransportCredentials) *Server {
	var opts []grpc.ServerOption
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(loggingInterceptor))

	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		service:    &configService{svc: svc, tracker: tracker, adminAPIKey: adminAPIKey},
		port:       port,
	}
	s.grpcServer.RegisterService(&serviceDesc, s.service)
	return s
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	return s.Serve(lis)
}

// Serve blocks serving on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.listener = lis
	slog.Info("Starting gRPC server", "address", lis.Addr().String())

	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping gRPC server")

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

func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		slog.Warn("gRPC call failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
	} else {
		slog.Debug("gRPC call", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}
