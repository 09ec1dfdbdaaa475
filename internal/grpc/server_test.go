package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chat-relay/backend/pkg/health"
	"chat-relay/backend/pkg/logger"
)

func TestHealthFollowsChecker(t *testing.T) {
	checker := health.NewChecker(logger.Nop(), time.Minute)
	dbUp := true
	checker.RegisterDatabaseCheck(func(context.Context) error {
		if dbUp {
			return nil
		}
		return errors.New("connection refused")
	})

	srv := NewServer(checker, logger.Nop())
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	// Nothing has been checked yet so the database counts as down
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))

	checker.RunChecks(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(ServiceName))

	dbUp = false
	checker.RunChecks(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(ServiceName))
}
