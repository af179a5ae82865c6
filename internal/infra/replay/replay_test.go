package replay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/harness"
	"github.com/coasim/coasim/internal/infra/storage"
	"github.com/coasim/coasim/internal/platform/logger"
	"github.com/coasim/coasim/internal/scenario"
)

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "r1"+Extension)
	w, err := Create(path, Header{RunID: "r1", Scenario: "tiny", Map: "...\n"})
	if err != nil {
		t.Fatal(err)
	}

	in := []events.SimEvent{
		events.New(events.EventTypeTimeTick, events.ActorSystem, "", 1, events.TimeTickPayload{Tick: 1}),
		events.New(events.EventTypeUnitMoved, "B1", "", 1, events.MovePayload{From: grid.Point{X: 0}, To: grid.Point{X: 1}}),
	}
	for _, e := range in {
		if err := w.Append(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := w.Append(in[0]); !errors.Is(err, ErrClosed) {
		t.Errorf("append after close: %v", err)
	}

	hdr, out, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.RunID != "r1" || hdr.Scenario != "tiny" || hdr.StartedAt.IsZero() {
		t.Errorf("header = %+v", hdr)
	}
	if len(out) != len(in) {
		t.Fatalf("read %d events, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].ID != in[i].ID || out[i].Type != in[i].Type || out[i].Tick != in[i].Tick {
			t.Errorf("event %d = %+v, want %+v", i, out[i], in[i])
		}
	}
	var move events.MovePayload
	if err := events.DecodePayload(out[1].Payload, &move); err != nil || move.To != (grid.Point{X: 1}) {
		t.Errorf("move payload %+v, err %v", move, err)
	}
}

func TestReaderRequiresHeader(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	enc.Write([]byte(`{"event":{"id":"x","type":"TIME_TICK","tick":1}}` + "\n"))
	enc.Close()

	if _, err := NewReader(&buf); !errors.Is(err, ErrNoHeader) {
		t.Errorf("err = %v, want ErrNoHeader", err)
	}
}

func TestMissingFile(t *testing.T) {
	if _, _, err := ReadAll(filepath.Join(t.TempDir(), "nope"+Extension)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v", err)
	}
}

func TestReplayedLogRebuildsFinalState(t *testing.T) {
	scn, err := scenario.Load(filepath.Join("..", "..", "..", "scenarios", "02_wall.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "wall"+Extension)
	w, err := Create(path, Header{RunID: "wall", Scenario: scn.Name, Map: scn.Grid().String()})
	if err != nil {
		t.Fatal(err)
	}

	sim, err := harness.Build(scn, logger.Discard(), harness.Options{Persister: w})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := sim.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	sim.EventLog.Close()
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	hdr, evs, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != rep.Events {
		t.Fatalf("log has %d events, run had %d", len(evs), rep.Events)
	}
	initial, err := grid.Parse(hdr.Map)
	if err != nil {
		t.Fatal(err)
	}
	state, err := storage.Replay(evs, initial)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Complete || state.Tick != rep.Ticks {
		t.Errorf("rebuilt complete=%v tick=%d, want tick %d", state.Complete, state.Tick, rep.Ticks)
	}
	for _, want := range rep.Final.Units {
		got := state.Units[want.ID]
		if got == nil || got.Position != want.Position || got.Status != want.Status {
			t.Errorf("%s rebuilt %+v, engine %+v", want.ID, got, want)
		}
	}
}

var errDiskFull = errors.New("disk full")

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, errDiskFull }

func TestCloseReportsUnflushedTail(t *testing.T) {
	w := &Writer{w: bufio.NewWriter(errWriter{})}
	if _, err := w.w.WriteString(`{"event":{}}`); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); !errors.Is(err, errDiskFull) {
		t.Errorf("Close = %v, want %v", err, errDiskFull)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
