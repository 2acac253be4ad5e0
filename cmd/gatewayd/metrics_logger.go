package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openfleet/device-gateway/internal/metrics"
)

// startMetricsLogger periodically logs the core pipeline counters, for
// deployments that scrape logs rather than Prometheus.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"device_messages", snap.DeviceMessages,
					"device_events", snap.DeviceEvents,
					"duplicates_rejected", snap.Duplicates,
					"invalid", snap.Invalid,
					"publish_errors", snap.PublishErrors,
					"connections_accepted", snap.Accepted,
					"connections_rejected", snap.Rejected,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
