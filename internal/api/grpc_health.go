package api

import (
	"context"

	"fulfillment-service/internal/resilience"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer implements the gRPC health checking protocol over the same
// checks as GET /health. Degraded still counts as serving.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	health *resilience.HealthAggregator
	logger *zap.Logger
}

// NewHealthServer creates a new health check server
func NewHealthServer(health *resilience.HealthAggregator) *HealthServer {
	return &HealthServer{
		health: health,
		logger: util.GetLogger(),
	}
}

func (h *HealthServer) status(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	report := h.health.Check(ctx)
	if report.Status == resilience.StatusUnhealthy {
		h.logger.Warn("Health check failed", zap.Any("checks", report.Checks))
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}

// Check implements the health check
func (h *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	return &grpc_health_v1.HealthCheckResponse{Status: h.status(ctx)}, nil
}

// Watch sends the current status once
func (h *HealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, server grpc_health_v1.Health_WatchServer) error {
	return server.Send(&grpc_health_v1.HealthCheckResponse{Status: h.status(server.Context())})
}
