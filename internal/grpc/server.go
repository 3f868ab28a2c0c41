// Package grpc exposes the service to other backends: the standard health service
// behind a shared service token, and the mapping from provisioning errors to
// gRPC status codes.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"semaphore/provisioning/internal/policy"
)

const ServiceName = "semaphore.provisioning.v1.ProvisioningService"

// NewServer builds the gRPC server. An empty serviceToken leaves it unauthenticated,
// which is only meant for local development.
func NewServer(serviceToken string) (*grpc.Server, *health.Server, error) {
	interceptors := []grpc.UnaryServerInterceptor{errorMappingInterceptor}
	if serviceToken != "" {
		interceptor, err := NewServiceAuthUnaryInterceptor(serviceToken)
		if err != nil {
			return nil, nil, err
		}
		interceptors = append([]grpc.UnaryServerInterceptor{interceptor}, interceptors...)
	}
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer, nil
}

// errorMappingInterceptor turns provisioning errors returned by handlers into
// status errors; errors that already carry a status pass through.
func errorMappingInterceptor(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err == nil {
		return resp, nil
	}
	if _, ok := status.FromError(err); ok {
		return resp, err
	}
	return resp, StatusFromError(err)
}

// StatusFromError converts a provisioning error into a gRPC status error.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(CodeFor(policy.KindOf(err)), policy.MessageOf(err))
}

func CodeFor(kind policy.Kind) codes.Code {
	switch kind {
	case policy.KindUnauthenticated:
		return codes.Unauthenticated
	case policy.KindPermissionDenied:
		return codes.PermissionDenied
	case policy.KindInvalidArgument:
		return codes.InvalidArgument
	default:
		return codes.Unknown
	}
}
