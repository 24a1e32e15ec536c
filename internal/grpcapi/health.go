package grpcapi

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported next to the overall ("") status.
const ServiceName = "veriseal.Engine"

type Dependencies struct {
	Logger *log.Logger
	Addr   string
	// Ready is polled every Interval; an error flips status to NOT_SERVING.
	Ready    func(ctx context.Context) error
	Interval time.Duration
}

// HealthServer exposes grpc.health.v1 for load balancers and orchestrators.
type HealthServer struct {
	logger   *log.Logger
	addr     string
	ready    func(ctx context.Context) error
	interval time.Duration

	grpc   *grpc.Server
	health *health.Server

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	lastSeen healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthServer(d Dependencies) *HealthServer {
	if d.Interval <= 0 {
		d.Interval = 10 * time.Second
	}
	s := &HealthServer{
		logger:   d.Logger,
		addr:     d.Addr,
		ready:    d.Ready,
		interval: d.Interval,
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Serve listens on the configured address and blocks until Shutdown.
func (s *HealthServer) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, lis)
}

func (s *HealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	s.startPolling(ctx)
	s.logger.Printf("grpc health listening on %s", lis.Addr())
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Shutdown marks every service NOT_SERVING, then drains in-flight RPCs
// until ctx expires.
func (s *HealthServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	s.stopPolling()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
		<-stopped
	}
}

func (s *HealthServer) startPolling(ctx context.Context) {
	if s.ready == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.pollLoop(ctx)
}

func (s *HealthServer) stopPolling() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *HealthServer) pollLoop(ctx context.Context) {
	defer close(s.done)

	s.poll(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *HealthServer) poll(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.ready(pctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Printf("grpc health check: %v", err)
	}
	s.setStatus(status)
}

func (s *HealthServer) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.mu.Lock()
	changed := s.lastSeen != status
	s.lastSeen = status
	s.mu.Unlock()
	if !changed {
		return
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
