package metrics

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordPlan(t *testing.T) {
	c := NewCollector()
	c.RecordPlan(10, time.Millisecond, false, nil)
	c.RecordPlan(20, time.Millisecond, true, nil)
	c.RecordPlan(5, time.Millisecond, true, errors.New("no path"))

	if c.PlansMade != 2 || c.Replans != 1 || c.PlanFailures != 1 {
		t.Errorf("plans=%d replans=%d failures=%d", c.PlansMade, c.Replans, c.PlanFailures)
	}
	if c.NodesExpanded != 35 {
		t.Errorf("NodesExpanded = %d, want 35", c.NodesExpanded)
	}
}

func TestTickMaxLatency(t *testing.T) {
	c := NewCollector()
	c.RecordTick(3 * time.Millisecond)
	c.RecordTick(1 * time.Millisecond)
	if c.TickLatencyMax != int64(3*time.Millisecond) {
		t.Errorf("TickLatencyMax = %d", c.TickLatencyMax)
	}
	if c.TickCount != 2 {
		t.Errorf("TickCount = %d, want 2", c.TickCount)
	}
}

func TestJSONHandler(t *testing.T) {
	c := NewCollector()
	c.RecordArrival()
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	planner, ok := body["planner"].(map[string]any)
	if !ok {
		t.Fatalf("planner section missing: %v", body)
	}
	if planner["units_arrived"].(float64) != 1 {
		t.Errorf("units_arrived = %v", planner["units_arrived"])
	}
}

func TestPrometheusHandler(t *testing.T) {
	c := NewCollector()
	c.RecordWSMessage(true)
	rec := httptest.NewRecorder()
	c.PrometheusHandler()(rec, httptest.NewRequest("GET", "/metrics/prom", nil))

	out := rec.Body.String()
	for _, want := range []string{
		"coasim_tick_count 0",
		`coasim_ws_messages_total{direction="in"} 1`,
		"# TYPE coasim_replans_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
