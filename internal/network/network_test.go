package network

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/harness"
	"github.com/coasim/coasim/internal/platform/logger"
	"github.com/coasim/coasim/internal/platform/metrics"
	"github.com/coasim/coasim/internal/scenario"
)

const fieldScenario = `
name: field
map: |
  .....
  .....
  .....
units:
  - id: B1
    side: BLUE
    start: [0, 1]
    objective: [4, 1]
`

const sealedScenario = `
name: sealed
map: |
  ..#..
  ..#..
units:
  - id: B1
    side: BLUE
    start: [0, 0]
    objective: [4, 0]
`

func newSim(t *testing.T, doc string) *harness.Sim {
	t.Helper()
	scn, err := scenario.Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	sim, err := harness.Build(scn, logger.Discard(), harness.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return sim
}

func newMux(sim *harness.Sim) *http.ServeMux {
	ops := NewOperator(sim.Engine, sim.Commander, logger.Discard())
	mux := http.NewServeMux()
	NewOpsAPI(ops, logger.Discard()).RegisterRoutes(mux)
	NewReplayHandler(sim.EventLog, logger.Discard()).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestObstacleOrders(t *testing.T) {
	sim := newSim(t, fieldScenario)
	mux := newMux(sim)

	tests := []struct {
		name string
		req  any
		want int
	}{
		{"add free cell", ObstacleRequest{Action: "add", At: grid.Point{X: 2, Y: 0}}, http.StatusOK},
		{"add on unit", ObstacleRequest{Action: "add", At: grid.Point{X: 0, Y: 1}}, http.StatusConflict},
		{"add on objective", ObstacleRequest{Action: "add", At: grid.Point{X: 4, Y: 1}}, http.StatusConflict},
		{"add out of bounds", ObstacleRequest{Action: "add", At: grid.Point{X: 9, Y: 9}}, http.StatusConflict},
		{"clear", ObstacleRequest{Action: "clear", At: grid.Point{X: 2, Y: 0}}, http.StatusOK},
		{"bad action", ObstacleRequest{Action: "paint"}, http.StatusBadRequest},
		{"bad body", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodPost, "/api/obstacles", tt.req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	if rec := do(t, mux, http.MethodGet, "/api/obstacles", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", rec.Code)
	}
	if n := len(sim.EventLog.GetByType(events.EventTypeOrderRejected)); n != 3 {
		t.Errorf("%d rejections, want 3", n)
	}
	if sim.Engine.Snapshot().Grid.Blocked(grid.Point{X: 2, Y: 0}) {
		t.Error("cleared cell still blocked")
	}
}

func TestStateEndpoint(t *testing.T) {
	sim := newSim(t, fieldScenario)
	mux := newMux(sim)
	if _, err := sim.Engine.Step(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := do(t, mux, http.MethodGet, "/api/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap struct {
		Tick  int64 `json:"tick"`
		Width int   `json:"width"`
		Units []struct {
			ID       string     `json:"id"`
			Position grid.Point `json:"position"`
		} `json:"units"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Tick != 1 || snap.Width != 5 || len(snap.Units) != 1 || snap.Units[0].Position != (grid.Point{X: 1, Y: 1}) {
		t.Errorf("state = %+v", snap)
	}
}

func TestObjectiveAndPlanOrders(t *testing.T) {
	sim := newSim(t, fieldScenario)
	mux := newMux(sim)

	if rec := do(t, mux, http.MethodPost, "/api/objective", ObjectiveRequest{UnitID: "R9"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown unit status = %d", rec.Code)
	}
	if rec := do(t, mux, http.MethodPost, "/api/objective", ObjectiveRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing unit status = %d", rec.Code)
	}
	rec := do(t, mux, http.MethodPost, "/api/objective", ObjectiveRequest{UnitID: "B1", Objective: grid.Point{X: 2, Y: 2}})
	if rec.Code != http.StatusOK {
		t.Fatalf("objective status = %d (%s)", rec.Code, rec.Body.String())
	}
	if u, _ := sim.Engine.Snapshot().Unit("B1"); u.Objective != (grid.Point{X: 2, Y: 2}) {
		t.Errorf("objective = %v", u.Objective)
	}

	rec = do(t, mux, http.MethodPost, "/api/plan", PlanRequest{UnitID: "B1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("plan status = %d (%s)", rec.Code, rec.Body.String())
	}
	var plan struct {
		Length int          `json:"length"`
		Path   []grid.Point `json:"path"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &plan); err != nil {
		t.Fatal(err)
	}
	if plan.Length != 3 || plan.Path[len(plan.Path)-1] != (grid.Point{X: 2, Y: 2}) {
		t.Errorf("plan = %+v", plan)
	}
	if u, _ := sim.Engine.Snapshot().Unit("B1"); len(u.Path) != 4 {
		t.Errorf("forced plan not applied: %v", u.Path)
	}

	if rec := do(t, mux, http.MethodPost, "/api/plan", PlanRequest{UnitID: "R9"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown plan status = %d", rec.Code)
	}
}

func TestForcePlanWithoutRoute(t *testing.T) {
	sim := newSim(t, sealedScenario)
	rec := do(t, newMux(sim), http.MethodPost, "/api/plan", PlanRequest{UnitID: "B1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if u, _ := sim.Engine.Snapshot().Unit("B1"); u.Status != "BLOCKED" {
		t.Errorf("status = %s, want BLOCKED", u.Status)
	}
}

func TestReplayFilters(t *testing.T) {
	sim := newSim(t, fieldScenario)
	mux := newMux(sim)
	for i := 0; i < 3; i++ {
		if _, err := sim.Engine.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	rec := do(t, mux, http.MethodGet, "/api/replay?unit=B1&type=UNIT_MOVED", nil)
	var resp ReplayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalEvents != 3 || resp.FilteredBy != "unit=B1 type=UNIT_MOVED" {
		t.Errorf("total=%d filter=%q", resp.TotalEvents, resp.FilteredBy)
	}
	for _, e := range resp.Events {
		if !strings.HasPrefix(e.Summary, "B1 moved") || e.Impact != "PROGRESS" {
			t.Errorf("event %+v", e)
		}
	}

	rec = do(t, mux, http.MethodGet, "/api/replay?since_tick=3&type=TIME_TICK", nil)
	resp = ReplayResponse{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.TotalEvents != 1 {
		t.Errorf("since_tick=3 ticks = %d, want 1", resp.TotalEvents)
	}

	if rec := do(t, mux, http.MethodGet, "/api/replay?since_tick=-1", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since_tick status = %d", rec.Code)
	}
	if rec := do(t, mux, http.MethodGet, "/api/recap?unit=B1", nil); rec.Code != http.StatusNotImplemented {
		t.Errorf("recap without storage status = %d", rec.Code)
	}
}

type wsMessage struct {
	Type    string          `json:"type"`
	Tick    int64           `json:"tick"`
	Payload json.RawMessage `json:"payload"`
}

// wsReader queues messages per type so tests can wait for them in any order.
type wsReader struct {
	t      *testing.T
	conn   *websocket.Conn
	queued map[string][]wsMessage
}

func newWSReader(t *testing.T, conn *websocket.Conn) *wsReader {
	return &wsReader{t: t, conn: conn, queued: make(map[string][]wsMessage)}
}

func (r *wsReader) until(msgType string) wsMessage {
	r.t.Helper()
	r.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(r.queued[msgType]) == 0 {
		var msg wsMessage
		if err := r.conn.ReadJSON(&msg); err != nil {
			r.t.Fatalf("waiting for %s: %v", msgType, err)
		}
		r.queued[msg.Type] = append(r.queued[msg.Type], msg)
	}
	msg := r.queued[msgType][0]
	r.queued[msgType] = r.queued[msgType][1:]
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketCommandsAndState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim := newSim(t, fieldScenario)
	m := metrics.NewCollector()
	hub := NewHub(logger.Discard(), m, NewOperator(sim.Engine, sim.Commander, logger.Discard()))
	hub.SetCommandInterval(time.Hour)
	go hub.Run(ctx)
	hub.StartEventPoller(ctx, sim.EventLog, 10*time.Millisecond)
	sim.Engine.OnTick(hub.BroadcastState)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 1 })
	rd := newWSReader(t, conn)

	if err := conn.WriteJSON(Command{Type: CmdAddObstacle, At: grid.Point{X: 2, Y: 0}}); err != nil {
		t.Fatal(err)
	}
	ack := rd.until(MsgTypeAck)
	var res CommandResult
	if err := json.Unmarshal(ack.Payload, &res); err != nil || res.EventID == "" {
		t.Errorf("ack = %s", ack.Payload)
	}

	// Rate limited.
	conn.WriteJSON(Command{Type: CmdClearObstacle, At: grid.Point{X: 2, Y: 0}})
	nack := rd.until(MsgTypeError)
	if !strings.Contains(string(nack.Payload), "rate limit") {
		t.Errorf("error = %s", nack.Payload)
	}

	if _, err := sim.Engine.Step(ctx); err != nil {
		t.Fatal(err)
	}
	state := rd.until(MsgTypeState)
	if state.Tick != 1 {
		t.Errorf("state tick = %d", state.Tick)
	}

	ev := rd.until(MsgTypeEvent)
	var e events.SimEvent
	if err := json.Unmarshal(ev.Payload, &e); err != nil || e.Type == events.EventTypeTimeTick {
		t.Errorf("event = %s", ev.Payload)
	}

	if !sim.Engine.Snapshot().Grid.Blocked(grid.Point{X: 2, Y: 0}) {
		t.Error("ADD_OBSTACLE not applied")
	}
	if n := atomic.LoadInt64(&m.WSMessagesIn); n < 2 {
		t.Errorf("messages in = %d", n)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}
