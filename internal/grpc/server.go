package grpc

import (
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chat-relay/backend/pkg/health"
	"chat-relay/backend/pkg/logger"
)

// ServiceName is the health service name reported alongside the overall status
const ServiceName = "chatrelay.ChatRelay"

// Server exposes grpc.health.v1 mirroring the component health checker
type Server struct {
	srv    *grpc.Server
	health *grpchealth.Server
	log    *logger.Logger
}

// NewServer creates a gRPC server whose health status follows checker
func NewServer(checker *health.Checker, log *logger.Logger) *Server {
	if log == nil {
		log = logger.GetGlobal()
	}

	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{srv: srv, health: hs, log: log}
	s.setServing(checker.IsSystemHealthy())
	checker.OnChange(s.setServing)
	return s
}

func (s *Server) setServing(healthy bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if healthy {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.srv.Serve(lis)
}

// ListenAndServe listens on the TCP port and serves
func (s *Server) ListenAndServe(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Stop marks every service as not serving and drains in-flight RPCs
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
