package grpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"semaphore/provisioning/internal/policy"
)

func TestServiceAuthInterceptor(t *testing.T) {
	interceptor, err := NewServiceAuthUnaryInterceptor("token")
	require.NoError(t, err)
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(serviceTokenHeader, "wrong"))
	_, err = interceptor(ctx, nil, &grpc.UnaryServerInfo{}, handler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs(serviceTokenHeader, "token"))
	resp, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	_, err = NewServiceAuthUnaryInterceptor("")
	assert.Error(t, err)
}

func TestStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{err: policy.ErrUnauthenticated, want: codes.Unauthenticated},
		{err: policy.ErrPermissionDenied, want: codes.PermissionDenied},
		{err: policy.ErrInvalidArgument, want: codes.InvalidArgument},
		{err: policy.Unknown(errors.New("db")), want: codes.Unknown},
		{err: errors.New("foreign"), want: codes.Unknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, status.Code(StatusFromError(tc.err)), "error %v", tc.err)
	}
	assert.NoError(t, StatusFromError(nil))
}

func TestErrorMappingInterceptor(t *testing.T) {
	denied := func(context.Context, interface{}) (interface{}, error) {
		return nil, &policy.Error{Kind: policy.KindPermissionDenied, Message: "Only admins can create new users"}
	}
	_, err := errorMappingInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, denied)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.PermissionDenied, st.Code())
	assert.Equal(t, "Only admins can create new users", st.Message())

	already := func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "missing")
	}
	_, err = errorMappingInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, already)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestHealthRequiresServiceToken(t *testing.T) {
	server, _, err := NewServer("token")
	require.NoError(t, err)

	listener := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	_, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), serviceTokenHeader, "token")
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
