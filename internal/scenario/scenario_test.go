package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/engine"
)

const ambush = `
name: ambush
map: |
  .....
  .....
  .....
units:
  - id: B1
    callsign: Alpha
    side: BLUE
    start: [0, 1]
    objective: [4, 1]
    sensor_range: 3
  - id: R1
    side: RED
    start: [4, 2]
    objective: [0, 2]
schedule:
  - tick: 2
    action: add
    at: [2, 1]
expect:
  all_arrive: true
  min_replans: 1
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(ambush))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Name != "ambush" || s.MaxTicks != DefaultMaxTicks {
		t.Errorf("name=%q max_ticks=%d", s.Name, s.MaxTicks)
	}
	if g := s.Grid(); g.Width() != 5 || g.Height() != 3 {
		t.Errorf("grid %dx%d, want 5x3", g.Width(), g.Height())
	}

	units := s.Units()
	if len(units) != 2 {
		t.Fatalf("units = %d", len(units))
	}
	b1, r1 := units[0], units[1]
	if b1.Side != unit.SideBlue || b1.Position != (grid.Point{Y: 1}) || b1.Objective != (grid.Point{X: 4, Y: 1}) || b1.SensorRange != 3 {
		t.Errorf("B1 = %+v", b1)
	}
	if r1.Callsign != "R1" || r1.SensorRange != unit.DefaultSensorRange {
		t.Errorf("R1 defaults = %+v", r1)
	}

	sched := s.Schedule()
	want := engine.TerrainChange{Tick: 2, Action: engine.ChangeAdd, At: grid.Point{X: 2, Y: 1}}
	if len(sched) != 1 || sched[0] != want {
		t.Errorf("schedule = %+v", sched)
	}
	if !s.Expect.AllArrive || s.Expect.MinReplans != 1 {
		t.Errorf("expect = %+v", s.Expect)
	}
}

func TestGridIsACopy(t *testing.T) {
	s, err := Parse([]byte(ambush))
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Grid().Block(grid.Point{})
	if s.Grid().Blocked(grid.Point{}) {
		t.Error("Grid() leaked the scenario's terrain")
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not yaml", "name: [", "decode yaml"},
		{"missing units", "name: x\nmap: '..'\n", "units"},
		{"unknown field", "name: x\nmap: '..'\ncolour: red\nunits: [{id: B1, side: BLUE, start: [0,0], objective: [1,0]}]\n", "colour"},
		{"bad side", "name: x\nmap: '..'\nunits: [{id: B1, side: GREEN, start: [0,0], objective: [1,0]}]\n", "side"},
		{"bad action", "name: x\nmap: '..'\nunits: [{id: B1, side: BLUE, start: [0,0], objective: [1,0]}]\nschedule: [{tick: 1, action: melt, at: [0,0]}]\n", "action"},
		{"bad map char", "name: x\nmap: '.x'\nunits: [{id: B1, side: BLUE, start: [0,0], objective: [0,0]}]\n", "map"},
		{"start on wall", "name: x\nmap: '#.'\nunits: [{id: B1, side: BLUE, start: [0,0], objective: [1,0]}]\n", "start"},
		{"objective outside", "name: x\nmap: '..'\nunits: [{id: B1, side: BLUE, start: [0,0], objective: [5,0]}]\n", "objective"},
		{"duplicate id", "name: x\nmap: '...'\nunits: [{id: B1, side: BLUE, start: [0,0], objective: [1,0]}, {id: B1, side: RED, start: [2,0], objective: [1,0]}]\n", "duplicate"},
		{"shared start", "name: x\nmap: '...'\nunits: [{id: B1, side: BLUE, start: [0,0], objective: [1,0]}, {id: B2, side: RED, start: [0,0], objective: [2,0]}]\n", "start on"},
		{"schedule outside", "name: x\nmap: '..'\nunits: [{id: B1, side: BLUE, start: [0,0], objective: [1,0]}]\nschedule: [{tick: 1, action: add, at: [3,3]}]\n", "schedule[0]"},
		{"unknown unreachable", "name: x\nmap: '..'\nunits: [{id: B1, side: BLUE, start: [0,0], objective: [1,0]}]\nexpect: {unreachable: [Z9]}\n", "Z9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
			if tt.name != "not yaml" && !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("b.yaml", ambush)
	write("a.yml", "name: first\nmap: '..'\nunits: [{id: B1, side: BLUE, start: [0,0], objective: [1,0]}]\n")
	write("notes.txt", "ignored")

	got, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "first" || got[1].Name != "ambush" {
		t.Fatalf("loaded %d scenarios", len(got))
	}
	if got[1].Path != filepath.Join(dir, "b.yaml") {
		t.Errorf("path = %q", got[1].Path)
	}
}

func TestBundledScenariosAreValid(t *testing.T) {
	all, err := LoadDir(filepath.Join("..", "..", "scenarios"))
	if err != nil {
		t.Fatal(err)
	}
	if len(all) == 0 {
		t.Fatal("no bundled scenarios found")
	}
}
