package perception

import (
	"testing"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/engine"
	"github.com/coasim/coasim/internal/platform/logger"
)

func world(t *testing.T, rows string, units ...*unit.Unit) *engine.World {
	t.Helper()
	g, err := grid.Parse(rows)
	if err != nil {
		t.Fatal(err)
	}
	w := engine.NewWorld(g)
	for _, u := range units {
		w.Units[u.ID] = u
	}
	return w
}

func TestObserveReportsDifferencesWithinRange(t *testing.T) {
	b1 := unit.New("B1", "", unit.SideBlue, grid.Point{X: 2, Y: 2}, grid.Point{})
	b1.SensorRange = 1
	w := world(t, ".....\n..#..\n.#...\n.....\n....#", b1)

	belief, _ := grid.Parse(".....\n.....\n.....\n...#.\n.....")
	obs := NewPerceiver(logger.Discard()).Observe(w, b1, belief)

	want := []Sighting{
		{At: grid.Point{X: 2, Y: 1}, Blocked: true},
		{At: grid.Point{X: 1, Y: 2}, Blocked: true},
	}
	if len(obs.Sightings) != len(want) {
		t.Fatalf("sightings = %+v, want %+v", obs.Sightings, want)
	}
	for i := range want {
		if obs.Sightings[i] != want[i] {
			t.Errorf("sighting %d = %+v, want %+v", i, obs.Sightings[i], want[i])
		}
	}
}

func TestObserveSeesClearedCells(t *testing.T) {
	b1 := unit.New("B1", "", unit.SideBlue, grid.Point{}, grid.Point{X: 2})
	w := world(t, "...", b1)
	belief, _ := grid.Parse(".#.")

	obs := NewPerceiver(logger.Discard()).Observe(w, b1, belief)
	if len(obs.Sightings) != 1 || obs.Sightings[0] != (Sighting{At: grid.Point{X: 1}}) {
		t.Errorf("sightings = %+v", obs.Sightings)
	}
}

func TestObserveOccupancy(t *testing.T) {
	b1 := unit.New("B1", "", unit.SideBlue, grid.Point{}, grid.Point{X: 5})
	b2 := unit.New("B2", "", unit.SideBlue, grid.Point{X: 5, Y: 1}, grid.Point{})
	r1 := unit.New("R1", "", unit.SideRed, grid.Point{X: 1, Y: 1}, grid.Point{})
	r2 := unit.New("R2", "", unit.SideRed, grid.Point{X: 4, Y: 1}, grid.Point{})
	w := world(t, "......\n......", b1, b2, r1, r2)

	obs := NewPerceiver(logger.Discard()).Observe(w, b1, w.Grid)

	// B2 is friendly, R1 in range, R2 neither.
	want := []grid.Point{{X: 1, Y: 1}, {X: 5, Y: 1}}
	if len(obs.Occupied) != 2 || obs.Occupied[0] != want[0] || obs.Occupied[1] != want[1] {
		t.Errorf("occupied = %v, want %v", obs.Occupied, want)
	}
	if obs.IsOccupied(grid.Point{X: 4, Y: 1}) {
		t.Error("R2 is out of range and hostile")
	}
	if id, ok := obs.HolderOf(grid.Point{X: 1, Y: 1}); !ok || id != "R1" {
		t.Errorf("holder of (1,1) = %q, %v", id, ok)
	}
	if _, ok := obs.HolderOf(grid.Point{X: 4, Y: 1}); ok {
		t.Error("R2 should not be a contact")
	}
}

func TestRangeHasFloorOfOne(t *testing.T) {
	u := unit.New("B1", "", unit.SideBlue, grid.Point{}, grid.Point{})
	u.SensorRange = 0
	if Range(u) != 1 {
		t.Errorf("range = %d, want 1", Range(u))
	}
	u.SensorRange = 3
	if Range(u) != 3 {
		t.Errorf("range = %d, want 3", Range(u))
	}
}
