package observability

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// GRPCHealthServer serves grpc.health.v1 backed by the readiness checks.
type GRPCHealthServer struct {
	server *grpc.Server
	health *health.Server
	checks map[string]HealthCheckFunc
	logger zerolog.Logger
}

// NewGRPCHealthServer creates the server. Serving status starts as
// NOT_SERVING until Refresh runs the checks.
func NewGRPCHealthServer(checks map[string]HealthCheckFunc, logger zerolog.Logger) *GRPCHealthServer {
	srv := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    30 * time.Second,
		Timeout: 5 * time.Second,
	}))
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &GRPCHealthServer{
		server: srv,
		health: hs,
		checks: checks,
		logger: logger.With().Str("component", "grpc_health").Logger(),
	}
}

// Refresh runs the readiness checks and updates the overall and
// per-dependency serving status.
func (s *GRPCHealthServer) Refresh(ctx context.Context) bool {
	ready, deps := RunChecks(ctx, s.checks)
	for name, dep := range deps {
		s.health.SetServingStatus(name, servingStatus(dep.Status == "healthy"))
	}
	s.health.SetServingStatus("", servingStatus(ready))
	return ready
}

// Watch refreshes the status every interval until ctx is done.
func (s *GRPCHealthServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
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

// Serve blocks serving gRPC on lis.
func (s *GRPCHealthServer) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
	return s.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains the server.
func (s *GRPCHealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

func servingStatus(ok bool) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if ok {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}
