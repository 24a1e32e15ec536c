package grpcapi_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/veriseal/server/internal/grpcapi"
)

func startHealth(t *testing.T, ready func(context.Context) error) healthpb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(1 << 16)
	srv := grpcapi.NewHealthServer(grpcapi.Dependencies{
		Logger:   log.New(io.Discard, "", 0),
		Ready:    ready,
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		srv.Shutdown(shutdownCtx)
		cancel()
		if err := <-served; err != nil {
			t.Errorf("serve: %v", err)
		}
	})
	return healthpb.NewHealthClient(conn)
}

func waitForStatus(t *testing.T, c healthpb.HealthClient, service string, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last healthpb.HealthCheckResponse_ServingStatus
	for time.Now().Before(deadline) {
		resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		if err == nil {
			last = resp.GetStatus()
			if last == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("service %q: expected %v, last saw %v", service, want, last)
}

func TestHealth_ServingWithoutReadyCheck(t *testing.T) {
	c := startHealth(t, nil)
	waitForStatus(t, c, "", healthpb.HealthCheckResponse_SERVING)
	waitForStatus(t, c, grpcapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
}

func TestHealth_FollowsReadiness(t *testing.T) {
	var broken atomic.Bool
	c := startHealth(t, func(context.Context) error {
		if broken.Load() {
			return errors.New("db ping failed")
		}
		return nil
	})

	waitForStatus(t, c, grpcapi.ServiceName, healthpb.HealthCheckResponse_SERVING)

	broken.Store(true)
	waitForStatus(t, c, grpcapi.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	broken.Store(false)
	waitForStatus(t, c, "", healthpb.HealthCheckResponse_SERVING)
}
