package engine

import (
	"sort"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
)

// World is the ground truth: the real terrain and every unit.
// Only engine systems mutate it.
type World struct {
	Grid  *grid.Grid
	Units map[string]*unit.Unit

	sync func()
}

// NewWorld wraps a terrain grid with an empty roster.
func NewWorld(g *grid.Grid) *World {
	return &World{Grid: g, Units: make(map[string]*unit.Unit)}
}

// Sync applies every event appended so far, so a controller acting for
// several units sees the effect of earlier decisions in the same tick.
func (w *World) Sync() {
	if w.sync != nil {
		w.sync()
	}
}

// UnitAt returns the unit standing on p, if any.
func (w *World) UnitAt(p grid.Point) (*unit.Unit, bool) {
	for _, u := range w.Units {
		if u.Position == p {
			return u, true
		}
	}
	return nil, false
}

// IsObjective reports whether any unit is heading for p.
func (w *World) IsObjective(p grid.Point) bool {
	for _, u := range w.Units {
		if u.Objective == p {
			return true
		}
	}
	return false
}

// SortedUnits returns the roster ordered by ID, for deterministic iteration.
func (w *World) SortedUnits() []*unit.Unit {
	out := make([]*unit.Unit, 0, len(w.Units))
	for _, u := range w.Units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllArrived reports whether every unit is on its objective.
// An empty roster has not arrived anywhere.
func (w *World) AllArrived() bool {
	if len(w.Units) == 0 {
		return false
	}
	for _, u := range w.Units {
		if !u.Arrived() {
			return false
		}
	}
	return true
}

// Snapshot is a deep copy of the world, safe to hand to other goroutines.
type Snapshot struct {
	Tick     int64        `json:"tick"`
	Width    int          `json:"width"`
	Height   int          `json:"height"`
	Rows     [][]int      `json:"rows"`
	Units    []*unit.Unit `json:"units"`
	Complete bool         `json:"complete"`

	Grid *grid.Grid `json:"-"`
}

func (w *World) snapshot(tick int64, complete bool) Snapshot {
	g := w.Grid.Clone()
	sorted := w.SortedUnits()
	units := make([]*unit.Unit, len(sorted))
	for i, u := range sorted {
		units[i] = u.Clone()
	}
	return Snapshot{
		Tick:     tick,
		Width:    g.Width(),
		Height:   g.Height(),
		Rows:     g.Rows(),
		Units:    units,
		Complete: complete,
		Grid:     g,
	}
}

// Unit finds a unit in the snapshot by ID.
func (s Snapshot) Unit(id string) (*unit.Unit, bool) {
	for _, u := range s.Units {
		if u.ID == id {
			return u, true
		}
	}
	return nil, false
}
