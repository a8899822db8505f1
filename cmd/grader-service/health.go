package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cosc121od/pycode/pkg/utils/logger"
)

const (
	defaultHealthInterval = 10 * time.Second
	healthPingTimeout     = 2 * time.Second
)

type servingStatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// watchHealth pings the grading store every interval and reports the grader
// NOT_SERVING while it is unreachable.
func watchHealth(ctx context.Context, setter servingStatusSetter, interval time.Duration, ping func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
		err := ping(pingCtx)
		cancel()
		if ok := err == nil; ok != serving {
			serving = ok
			status := healthpb.HealthCheckResponse_SERVING
			if !ok {
				status = healthpb.HealthCheckResponse_NOT_SERVING
				logger.Warn(ctx, "grading store unreachable", zap.Error(err))
			} else {
				logger.Info(ctx, "grading store reachable again")
			}
			setter.SetServingStatus("", status)
		}
	}
}
