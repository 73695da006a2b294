package server

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// grpcServiceName is the service name reported by the health service.
const grpcServiceName = "placement.v1.Placement"

// initGRPC creates the gRPC server with the standard health service.
func (s *Server) initGRPC() {
	s.grpcServer = grpc.NewServer()
	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
}

// serveGRPC marks the service as serving and serves lis in the background.
// Serve errors are sent on errCh.
func (s *Server) serveGRPC(lis net.Listener, errCh chan<- error) {
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.healthServer.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)

	s.logger.Info("gRPC health service listening", zap.String("address", lis.Addr().String()))
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
}

// stopGRPC reports NOT_SERVING to watchers and drains the gRPC server.
func (s *Server) stopGRPC() {
	s.healthServer.Shutdown()
	s.grpcServer.GracefulStop()
}
