// Package perception provides the "eyes" of a unit.
//
// A unit sees the real terrain within its sensor range (Manhattan distance)
// and reports every cell where the truth differs from what its side
// believes. It also knows where friendly units are, since they share a net.
package perception

import (
	"sort"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/engine"
	"github.com/coasim/coasim/internal/platform/logger"
)

// Sighting is a cell whose real state differs from belief.
type Sighting struct {
	At      grid.Point `json:"at"`
	Blocked bool       `json:"blocked"`
}

// Contact is another unit the observer knows the position of.
type Contact struct {
	ID string     `json:"id"`
	At grid.Point `json:"at"`
}

// Observation is what one unit knows this tick.
type Observation struct {
	UnitID    string       `json:"unit_id"`
	Position  grid.Point   `json:"position"`
	Sightings []Sighting   `json:"sightings,omitempty"`
	Occupied  []grid.Point `json:"occupied,omitempty"` // Cells holding other units the unit knows of
	Contacts  []Contact    `json:"contacts,omitempty"` // Same units as Occupied, with their IDs
}

// HolderOf returns the ID of the known unit standing on p.
func (o Observation) HolderOf(p grid.Point) (string, bool) {
	for _, c := range o.Contacts {
		if c.At == p {
			return c.ID, true
		}
	}
	return "", false
}

// Range is how far u sees. A unit always sees the cells next to it.
func Range(u *unit.Unit) int {
	if u.SensorRange < 1 {
		return 1
	}
	return u.SensorRange
}

// IsOccupied reports whether another known unit stands on p.
func (o Observation) IsOccupied(p grid.Point) bool {
	for _, q := range o.Occupied {
		if q == p {
			return true
		}
	}
	return false
}

// Perceiver compares ground truth with belief.
type Perceiver struct {
	logger *logger.Logger
}

// NewPerceiver creates a new perception module.
func NewPerceiver(log *logger.Logger) *Perceiver {
	return &Perceiver{logger: log}
}

// Observe scans the unit's sensor range in row-major order.
func (p *Perceiver) Observe(w *engine.World, u *unit.Unit, belief grid.Walkable) Observation {
	obs := Observation{UnitID: u.ID, Position: u.Position}

	r := Range(u)
	for y := u.Position.Y - r; y <= u.Position.Y+r; y++ {
		for x := u.Position.X - r; x <= u.Position.X+r; x++ {
			cell := grid.Point{X: x, Y: y}
			if !w.Grid.InBounds(cell) || grid.Manhattan(u.Position, cell) > r {
				continue
			}
			truthBlocked := w.Grid.Blocked(cell)
			if truthBlocked == belief.Passable(cell) {
				obs.Sightings = append(obs.Sightings, Sighting{At: cell, Blocked: truthBlocked})
			}
		}
	}

	for _, other := range w.SortedUnits() {
		if other.ID == u.ID {
			continue
		}
		if other.Side == u.Side || grid.Manhattan(u.Position, other.Position) <= r {
			obs.Contacts = append(obs.Contacts, Contact{ID: other.ID, At: other.Position})
		}
	}
	sort.Slice(obs.Contacts, func(i, j int) bool {
		a, b := obs.Contacts[i].At, obs.Contacts[j].At
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	for _, c := range obs.Contacts {
		obs.Occupied = append(obs.Occupied, c.At)
	}

	if len(obs.Sightings) > 0 {
		p.logger.Event("PERCEPTION", u.ID, "sightings in range")
	}
	return obs
}
