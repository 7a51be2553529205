package health

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(lis.Addr().String(), zap.NewNop())
	go srv.Serve(lis)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealthLifecycle(t *testing.T) {
	srv, client := startServer(t)

	if got := check(t, client, Service); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("got %v before model load, want NOT_SERVING", got)
	}

	srv.SetServing(true)
	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall: got %v, want SERVING", got)
	}
	if got := check(t, client, Service); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("service: got %v, want SERVING", got)
	}

	srv.SetServing(false)
	if got := check(t, client, Service); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("got %v after SetServing(false), want NOT_SERVING", got)
	}
}
