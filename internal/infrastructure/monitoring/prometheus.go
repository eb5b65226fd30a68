package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler serves the counters in Prometheus text exposition
// format. A handful of Fprintf calls keeps the full client_golang
// dependency out of the tree. Mount at "/metrics".
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			{"vertexmcp_requests_total", "Total number of requests processed", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
			{"vertexmcp_requests_success_total", "Total successful requests", "counter", atomic.LoadUint64(&m.metrics.RequestsSuccess)},
			{"vertexmcp_requests_failed_total", "Total failed requests", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},

			{"vertexmcp_tool_calls_total", "Total tool calls executed", "counter", atomic.LoadUint64(&m.metrics.ToolCallsTotal)},
			{"vertexmcp_tool_calls_success_total", "Total successful tool calls", "counter", atomic.LoadUint64(&m.metrics.ToolCallsSuccess)},
			{"vertexmcp_tool_calls_failed_total", "Total failed tool calls", "counter", atomic.LoadUint64(&m.metrics.ToolCallsFailed)},
			{"vertexmcp_tool_retries_total", "Total tool call retries", "counter", atomic.LoadUint64(&m.metrics.ToolRetriesTotal)},

			{"vertexmcp_model_calls_total", "Total model calls", "counter", atomic.LoadUint64(&m.metrics.ModelCallsTotal)},

			{"vertexmcp_security_blocks_total", "Total requests blocked by URL validation", "counter", atomic.LoadUint64(&m.metrics.SecurityBlocksTotal)},
			{"vertexmcp_errors_total", "Total errors encountered", "counter", atomic.LoadUint64(&m.metrics.ErrorsTotal)},

			{"vertexmcp_active_sessions", "Number of active sessions", "gauge", atomic.LoadInt64(&m.metrics.ActiveSessions)},
			{"vertexmcp_docs_cached", "Number of cached search documents", "gauge", atomic.LoadInt64(&m.metrics.DocsCached)},
			{"vertexmcp_uptime_seconds", "Process uptime in seconds", "gauge", uptime},

			{"vertexmcp_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"vertexmcp_memory_sys_bytes", "Total memory obtained from OS", "gauge", memStats.Sys},
			{"vertexmcp_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"vertexmcp_gc_pause_total_ns", "Total GC pause time in nanoseconds", "counter", memStats.PauseTotalNs},
			{"vertexmcp_gc_cycles_total", "Total number of completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		reqCount := atomic.LoadUint64(&m.metrics.RequestLatencyCount)
		if reqCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(reqCount) / 1e6
			fmt.Fprintf(w, "# HELP vertexmcp_request_latency_avg_ms Average request latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE vertexmcp_request_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "vertexmcp_request_latency_avg_ms %f\n\n", avgMs)
		}

		toolCount := atomic.LoadUint64(&m.metrics.ToolLatencyCount)
		if toolCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.ToolLatencySum)) / float64(toolCount) / 1e6
			fmt.Fprintf(w, "# HELP vertexmcp_tool_latency_avg_ms Average tool execution latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE vertexmcp_tool_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "vertexmcp_tool_latency_avg_ms %f\n\n", avgMs)
		}
	})
}
