// Package grpc exposes the standard gRPC health service so orchestrators can
// check the scheduler the same way they check the other services.
package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the scheduler.
const ServiceName = "postflow.scheduler.v1.Scheduler"

// Pinger checks a dependency the scheduler cannot work without.
type Pinger func(ctx context.Context) error

// HealthReporter flips the serving status according to a Pinger.
type HealthReporter struct {
	health   *health.Server
	ping     Pinger
	interval time.Duration
	logger   *slog.Logger
}

// NewServer builds a gRPC server with health and reflection registered.
func NewServer(ping Pinger, interval time.Duration, logger *slog.Logger) (*grpc.Server, *HealthReporter) {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	if interval <= 0 {
		interval = 10 * time.Second
	}
	return srv, &HealthReporter{
		health:   hs,
		ping:     ping,
		interval: interval,
		logger:   logger.With("component", "grpc_health"),
	}
}

// Check pings once and publishes the result.
func (h *HealthReporter) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if h.ping != nil {
		pingCtx, cancel := context.WithTimeout(ctx, h.interval)
		defer cancel()
		if err := h.ping(pingCtx); err != nil {
			h.logger.WarnContext(ctx, "Dependency check failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	return status
}

// Run checks every interval until ctx is done, then marks the service as
// shutting down.
func (h *HealthReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ticker.C:
			h.Check(ctx)
		case <-ctx.Done():
			h.health.Shutdown()
			return nil
		}
	}
}
