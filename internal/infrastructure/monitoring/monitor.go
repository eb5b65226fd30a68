package monitoring

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics holds the raw counters. All fields are manipulated atomically.
type Metrics struct {
	RequestsTotal   uint64
	RequestsSuccess uint64
	RequestsFailed  uint64

	ToolCallsTotal   uint64
	ToolCallsSuccess uint64
	ToolCallsFailed  uint64
	ToolRetriesTotal uint64

	ModelCallsTotal uint64

	SecurityBlocksTotal uint64
	ErrorsTotal         uint64

	ActiveSessions int64
	DocsCached     int64

	RequestLatencySum   uint64
	RequestLatencyCount uint64
	ToolLatencySum      uint64
	ToolLatencyCount    uint64

	StartTime time.Time
}

// Monitor collects process metrics without external dependencies.
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
	mu      sync.RWMutex

	history      []Snapshot
	historyLimit int
}

// Snapshot is one point-in-time reading for trend views.
type Snapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	RequestsPerSecond float64   `json:"requests_per_second"`
	ToolCallsPerSec   float64   `json:"tool_calls_per_second"`
	AvgLatencyMs      float64   `json:"avg_latency_ms"`
	ActiveSessions    int64     `json:"active_sessions"`
	MemoryMB          float64   `json:"memory_mb"`
	Goroutines        int       `json:"goroutines"`
}

// NewMonitor creates a monitor.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics:      &Metrics{StartTime: time.Now()},
		logger:       logger,
		history:      make([]Snapshot, 0, 100),
		historyLimit: 100,
	}
}

func (m *Monitor) IncRequestTotal()    { atomic.AddUint64(&m.metrics.RequestsTotal, 1) }
func (m *Monitor) IncRequestSuccess()  { atomic.AddUint64(&m.metrics.RequestsSuccess, 1) }
func (m *Monitor) IncRequestFailed()   { atomic.AddUint64(&m.metrics.RequestsFailed, 1) }
func (m *Monitor) IncToolCallTotal()   { atomic.AddUint64(&m.metrics.ToolCallsTotal, 1) }
func (m *Monitor) IncToolCallSuccess() { atomic.AddUint64(&m.metrics.ToolCallsSuccess, 1) }
func (m *Monitor) IncToolCallFailed()  { atomic.AddUint64(&m.metrics.ToolCallsFailed, 1) }
func (m *Monitor) IncToolRetry()       { atomic.AddUint64(&m.metrics.ToolRetriesTotal, 1) }
func (m *Monitor) IncModelCall()       { atomic.AddUint64(&m.metrics.ModelCallsTotal, 1) }
func (m *Monitor) IncSecurityBlock()   { atomic.AddUint64(&m.metrics.SecurityBlocksTotal, 1) }
func (m *Monitor) IncError()           { atomic.AddUint64(&m.metrics.ErrorsTotal, 1) }

func (m *Monitor) SetActiveSessions(n int64) {
	atomic.StoreInt64(&m.metrics.ActiveSessions, n)
}

func (m *Monitor) SetDocsCached(n int64) {
	atomic.StoreInt64(&m.metrics.DocsCached, n)
}

func (m *Monitor) RecordRequestLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

func (m *Monitor) RecordToolLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.ToolLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.ToolLatencyCount, 1)
}

// GetStats returns the current readings as a flat map.
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime)
	reqTotal := atomic.LoadUint64(&m.metrics.RequestsTotal)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6
	}

	return map[string]interface{}{
		"uptime_seconds":        uptime.Seconds(),
		"requests_total":        reqTotal,
		"requests_success":      atomic.LoadUint64(&m.metrics.RequestsSuccess),
		"requests_failed":       atomic.LoadUint64(&m.metrics.RequestsFailed),
		"tool_calls_total":      atomic.LoadUint64(&m.metrics.ToolCallsTotal),
		"tool_calls_success":    atomic.LoadUint64(&m.metrics.ToolCallsSuccess),
		"tool_calls_failed":     atomic.LoadUint64(&m.metrics.ToolCallsFailed),
		"tool_retries_total":    atomic.LoadUint64(&m.metrics.ToolRetriesTotal),
		"model_calls_total":     atomic.LoadUint64(&m.metrics.ModelCallsTotal),
		"security_blocks_total": atomic.LoadUint64(&m.metrics.SecurityBlocksTotal),
		"errors_total":          atomic.LoadUint64(&m.metrics.ErrorsTotal),
		"active_sessions":       atomic.LoadInt64(&m.metrics.ActiveSessions),
		"docs_cached":           atomic.LoadInt64(&m.metrics.DocsCached),
		"avg_latency_ms":        avgLatency,
		"memory_mb":             float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":            runtime.NumGoroutine(),
	}
}

// TakeSnapshot records one reading into the bounded history.
func (m *Monitor) TakeSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime).Seconds()
	reqTotal := atomic.LoadUint64(&m.metrics.RequestsTotal)
	toolTotal := atomic.LoadUint64(&m.metrics.ToolCallsTotal)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6
	}

	snapshot := Snapshot{
		Timestamp:         time.Now(),
		RequestsPerSecond: float64(reqTotal) / uptime,
		ToolCallsPerSec:   float64(toolTotal) / uptime,
		AvgLatencyMs:      avgLatency,
		ActiveSessions:    atomic.LoadInt64(&m.metrics.ActiveSessions),
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
	}

	m.mu.Lock()
	m.history = append(m.history, snapshot)
	if len(m.history) > m.historyLimit {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	return snapshot
}

// History returns a copy of the recorded snapshots.
func (m *Monitor) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// StartCollector snapshots on a fixed interval until ctx is done.
func (m *Monitor) StartCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.TakeSnapshot()
		}
	}
}
