package httpapi

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"userboard.io/internal/obs"
)

// GRPCHealth implements the standard grpc.health.v1 service on top of the
// same readiness probe as /readyz.
type GRPCHealth struct {
	grpc_health_v1.UnimplementedHealthServer

	readiness ReadinessChecker
}

func NewGRPCHealth(r ReadinessChecker) *GRPCHealth {
	if r == nil {
		r = ReadyProbe{}
	}
	return &GRPCHealth{readiness: r}
}

// Check answers for the whole server ("") or serviceName. On failure it
// returns codes.Unavailable.
func (s *GRPCHealth) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return nil, status.Errorf(codes.Unavailable, "not ready: %v", err)
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}
