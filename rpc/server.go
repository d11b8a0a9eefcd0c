package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/relaynet/channel-bridge/domain/connector"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported next to the overall ("")
// status.
const ServiceName = "channelbridge.Connector"

type ConnectorStatus interface {
	Status() connector.Status
}

// Server exposes the standard gRPC health service, serving while the connector
// is started.
type Server struct {
	listenAddr string
	connector  ConnectorStatus
	health     *health.Server
	grpc       *grpc.Server
	listener   net.Listener
	logger     *zap.SugaredLogger
}

func NewServer(listenAddr string, connector ConnectorStatus, logger *zap.SugaredLogger) *Server {
	return &Server{
		listenAddr: listenAddr,
		connector:  connector,
		health:     health.NewServer(),
		logger:     logger,
	}
}

func (s *Server) Start(errChan chan error) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)

	lis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %v", err)
	}
	s.grpc = srv
	s.listener = lis
	s.Refresh()

	go func() {
		if err := srv.Serve(lis); err != nil {
			errChan <- fmt.Errorf("serving grpc listener: %v", err)
		}
	}()

	s.logger.Infow("gRPC server listening", "addr", lis.Addr().String())
	return nil
}

// Addr is the bound listen address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Refresh publishes the current connector status to the health service.
func (s *Server) Refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.connector.Status() == connector.StatusStarted {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Watch refreshes the health status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh()
		}
	}
}

func (s *Server) Stop() {
	s.health.Shutdown()
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}
