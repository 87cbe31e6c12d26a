package observability

import (
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
)

// EngineStats is what the engine exposes for sampling.
type EngineStats struct {
	Connections int
	Rooms       int
	Degraded    bool
}

// StatsSource is implemented by the sync engine.
type StatsSource interface {
	Stats() EngineStats
}

// Monitor keeps the latest engine + process snapshot for the debug
// dashboard. Sampling runs on the telemetry worker's cadence, never on the
// hot path.
type Monitor struct {
	log  *slog.Logger
	proc *process.Process

	mu     sync.RWMutex
	latest map[string]any
}

func NewMonitor(log *slog.Logger) *Monitor {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("process stats unavailable", "error", err)
	}
	return &Monitor{log: log, proc: proc, latest: make(map[string]any)}
}

func (m *Monitor) Sample(src StatsSource) {
	stats := src.Stats()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snapshot := map[string]any{
		"connections": stats.Connections,
		"rooms":       stats.Rooms,
		"degraded":    stats.Degraded,
		"goroutines":  runtime.NumGoroutine(),
		"alloc_mb":    memStats.Alloc / 1024 / 1024,
		"num_gc":      memStats.NumGC,
		"sampled_at":  time.Now().UTC().Format(time.RFC3339),
	}
	if m.proc != nil {
		if cpu, err := m.proc.CPUPercent(); err == nil {
			snapshot["cpu_percent"] = cpu
		}
		if mem, err := m.proc.MemoryInfo(); err == nil {
			snapshot["rss_mb"] = mem.RSS / 1024 / 1024
		}
	}

	m.mu.Lock()
	m.latest = snapshot
	m.mu.Unlock()
}

// Snapshot returns the last sampled stats; safe for concurrent readers.
func (m *Monitor) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.latest))
	for k, v := range m.latest {
		out[k] = v
	}
	return out
}
