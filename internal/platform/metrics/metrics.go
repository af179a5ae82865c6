// Package metrics provides observability for the simulation server.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Collector gathers performance metrics.
type Collector struct {
	// Tick metrics
	TickCount      int64
	TickLatencySum int64 // nanoseconds
	TickLatencyMax int64
	LastTickTime   time.Time

	// Event metrics
	EventsWritten    int64
	EventWriteLatSum int64
	EventWriteLatMax int64
	EventWriteErrors int64

	// WebSocket metrics
	WSConnectionsActive int64
	WSMessagesIn        int64
	WSMessagesOut       int64
	WSErrors            int64

	// Planner metrics
	PlansMade      int64
	Replans        int64
	PlanFailures   int64
	NodesExpanded  int64
	PlanLatencySum int64
	UnitsArrived   int64

	// System
	StartTime time.Time
	mu        sync.RWMutex
}

// Global collector instance
var collector = NewCollector()

// NewCollector returns an empty collector. Tests use private collectors.
func NewCollector() *Collector {
	return &Collector{StartTime: time.Now()}
}

// Get returns the global collector.
func Get() *Collector {
	return collector
}

func storeMax(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur || atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// RecordTick records a tick cycle completion.
func (c *Collector) RecordTick(latency time.Duration) {
	atomic.AddInt64(&c.TickCount, 1)
	atomic.AddInt64(&c.TickLatencySum, int64(latency))
	storeMax(&c.TickLatencyMax, int64(latency))

	c.mu.Lock()
	c.LastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordEventWrite records an event write to durable storage.
func (c *Collector) RecordEventWrite(latency time.Duration, err error) {
	atomic.AddInt64(&c.EventsWritten, 1)
	atomic.AddInt64(&c.EventWriteLatSum, int64(latency))
	storeMax(&c.EventWriteLatMax, int64(latency))

	if err != nil {
		atomic.AddInt64(&c.EventWriteErrors, 1)
	}
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.WSConnectionsActive, delta)
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		atomic.AddInt64(&c.WSMessagesIn, 1)
	} else {
		atomic.AddInt64(&c.WSMessagesOut, 1)
	}
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	atomic.AddInt64(&c.WSErrors, 1)
}

// RecordPlan records one A* search. replan is false for a unit's first plan.
func (c *Collector) RecordPlan(expanded int, latency time.Duration, replan bool, err error) {
	atomic.AddInt64(&c.NodesExpanded, int64(expanded))
	atomic.AddInt64(&c.PlanLatencySum, int64(latency))
	if err != nil {
		atomic.AddInt64(&c.PlanFailures, 1)
		return
	}
	atomic.AddInt64(&c.PlansMade, 1)
	if replan {
		atomic.AddInt64(&c.Replans, 1)
	}
}

// RecordArrival records a unit reaching its objective.
func (c *Collector) RecordArrival() {
	atomic.AddInt64(&c.UnitsArrived, 1)
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]any {
	c.mu.RLock()
	lastTick := c.LastTickTime
	c.mu.RUnlock()

	tickCount := atomic.LoadInt64(&c.TickCount)
	eventsWritten := atomic.LoadInt64(&c.EventsWritten)
	searches := atomic.LoadInt64(&c.PlansMade) + atomic.LoadInt64(&c.PlanFailures)

	// Calculate averages
	var tickAvg, eventAvg, planAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.TickLatencySum)) / float64(tickCount) / 1e6 // ms
	}
	if eventsWritten > 0 {
		eventAvg = float64(atomic.LoadInt64(&c.EventWriteLatSum)) / float64(eventsWritten) / 1e6
	}
	if searches > 0 {
		planAvg = float64(atomic.LoadInt64(&c.PlanLatencySum)) / float64(searches) / 1e6
	}

	return map[string]any{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"tick": map[string]any{
			"count":          tickCount,
			"avg_latency_ms": tickAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.TickLatencyMax)) / 1e6,
			"last_tick":      lastTick.Format(time.RFC3339),
		},

		"events": map[string]any{
			"written":          eventsWritten,
			"avg_write_lat_ms": eventAvg,
			"max_write_lat_ms": float64(atomic.LoadInt64(&c.EventWriteLatMax)) / 1e6,
			"errors":           atomic.LoadInt64(&c.EventWriteErrors),
		},

		"websocket": map[string]any{
			"active_connections": atomic.LoadInt64(&c.WSConnectionsActive),
			"messages_in":        atomic.LoadInt64(&c.WSMessagesIn),
			"messages_out":       atomic.LoadInt64(&c.WSMessagesOut),
			"errors":             atomic.LoadInt64(&c.WSErrors),
		},

		"planner": map[string]any{
			"plans":          atomic.LoadInt64(&c.PlansMade),
			"replans":        atomic.LoadInt64(&c.Replans),
			"failures":       atomic.LoadInt64(&c.PlanFailures),
			"nodes_expanded": atomic.LoadInt64(&c.NodesExpanded),
			"avg_latency_ms": planAvg,
			"units_arrived":  atomic.LoadInt64(&c.UnitsArrived),
		},
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// Handler serves the global collector.
func Handler() http.HandlerFunc {
	return collector.Handler()
}

// PrometheusHandler returns metrics in Prometheus text format.
func (c *Collector) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		counter := func(name, help string, v int64) {
			fmt.Fprintf(w, "# HELP %s %s\n", name, help)
			fmt.Fprintf(w, "# TYPE %s counter\n", name)
			fmt.Fprintf(w, "%s %d\n\n", name, v)
		}

		counter("coasim_tick_count", "Total tick cycles", atomic.LoadInt64(&c.TickCount))

		fmt.Fprintf(w, "# HELP coasim_tick_latency_max_ms Maximum tick latency\n")
		fmt.Fprintf(w, "# TYPE coasim_tick_latency_max_ms gauge\n")
		fmt.Fprintf(w, "coasim_tick_latency_max_ms %.2f\n\n", float64(atomic.LoadInt64(&c.TickLatencyMax))/1e6)

		counter("coasim_events_written", "Total events written", atomic.LoadInt64(&c.EventsWritten))
		counter("coasim_event_write_errors", "Total event write errors", atomic.LoadInt64(&c.EventWriteErrors))

		fmt.Fprintf(w, "# HELP coasim_ws_connections Active WebSocket connections\n")
		fmt.Fprintf(w, "# TYPE coasim_ws_connections gauge\n")
		fmt.Fprintf(w, "coasim_ws_connections %d\n\n", atomic.LoadInt64(&c.WSConnectionsActive))

		fmt.Fprintf(w, "# HELP coasim_ws_messages_total Total WebSocket messages\n")
		fmt.Fprintf(w, "# TYPE coasim_ws_messages_total counter\n")
		fmt.Fprintf(w, "coasim_ws_messages_total{direction=\"in\"} %d\n", atomic.LoadInt64(&c.WSMessagesIn))
		fmt.Fprintf(w, "coasim_ws_messages_total{direction=\"out\"} %d\n\n", atomic.LoadInt64(&c.WSMessagesOut))

		counter("coasim_plans_total", "Successful A* plans", atomic.LoadInt64(&c.PlansMade))
		counter("coasim_replans_total", "Plans made after a unit's first plan", atomic.LoadInt64(&c.Replans))
		counter("coasim_plan_failures_total", "A* searches that found no path", atomic.LoadInt64(&c.PlanFailures))
		counter("coasim_nodes_expanded_total", "A* nodes expanded", atomic.LoadInt64(&c.NodesExpanded))
		counter("coasim_units_arrived_total", "Units that reached their objective", atomic.LoadInt64(&c.UnitsArrived))
	}
}

// PrometheusHandler serves the global collector in Prometheus text format.
func PrometheusHandler() http.HandlerFunc {
	return collector.PrometheusHandler()
}
