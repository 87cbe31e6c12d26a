package workers

import (
	"context"
	"log/slog"
	"time"

	"chatsync/observability"
)

// TelemetryWorker samples the engine and process on a fixed cadence so the
// debug endpoints always serve a recent snapshot.
type TelemetryWorker struct {
	log      *slog.Logger
	interval time.Duration
	monitor  *observability.Monitor
	source   observability.StatsSource
}

func NewTelemetryWorker(log *slog.Logger,
	interval time.Duration,
	monitor *observability.Monitor,
	source observability.StatsSource) *TelemetryWorker {
	return &TelemetryWorker{
		log:      log,
		interval: interval,
		monitor:  monitor,
		source:   source,
	}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.monitor.Sample(w.source)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.monitor.Sample(w.source)
		}
	}
}
