// Package unit defines the core domain entity for a simulated unit.
// This package is PURE and must NOT import any infrastructure packages (network, events, platform).
package unit

import "github.com/coasim/coasim/internal/domain/grid"

// Side is the force a unit belongs to. Units of one side share map knowledge.
type Side string

const (
	SideBlue Side = "BLUE"
	SideRed  Side = "RED"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBlue || s == SideRed
}

// Status is the unit's movement state.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusMoving  Status = "MOVING"
	StatusHolding Status = "HOLDING" // Waiting on a friendly unit
	StatusBlocked Status = "BLOCKED" // No known route to the objective
	StatusArrived Status = "ARRIVED"
)

// DefaultSensorRange lets a unit always see the cell it is about to enter.
const DefaultSensorRange = 2

// Unit represents one autonomous agent on the grid.
type Unit struct {
	ID          string       `json:"id"`
	Callsign    string       `json:"callsign"`
	Side        Side         `json:"side"`
	Position    grid.Point   `json:"position"`
	Objective   grid.Point   `json:"objective"`
	Path        []grid.Point `json:"path,omitempty"`
	PathIndex   int          `json:"path_index"` // Index of Position within Path
	Status      Status       `json:"status"`
	SensorRange int          `json:"sensor_range"`

	// Counters
	Waits   int  `json:"waits"`   // Consecutive ticks held by a friendly unit
	Replans int  `json:"replans"` // Plans made after the first one
	Moves   int  `json:"moves"`
	Planned bool `json:"planned"` // At least one plan made
}

// New creates a unit at start heading for objective.
func New(id, callsign string, side Side, start, objective grid.Point) *Unit {
	u := &Unit{
		ID:          id,
		Callsign:    callsign,
		Side:        side,
		Position:    start,
		Objective:   objective,
		Status:      StatusIdle,
		SensorRange: DefaultSensorRange,
	}
	if start == objective {
		u.Status = StatusArrived
	}
	return u
}

// Arrived reports whether the unit stands on its objective.
func (u *Unit) Arrived() bool {
	return u.Position == u.Objective
}

// AssignPath replaces the current plan. The path must start at Position.
func (u *Unit) AssignPath(path []grid.Point) {
	u.Path = append([]grid.Point(nil), path...)
	u.PathIndex = 0
	if u.Planned {
		u.Replans++
	}
	u.Planned = true
}

// ClearPath drops the current plan.
func (u *Unit) ClearPath() {
	u.Path = nil
	u.PathIndex = 0
}

// NextStep returns the next cell along the path.
func (u *Unit) NextStep() (grid.Point, bool) {
	if u.PathIndex+1 >= len(u.Path) {
		return grid.Point{}, false
	}
	return u.Path[u.PathIndex+1], true
}

// RemainingPath returns the path from the current position onwards.
func (u *Unit) RemainingPath() []grid.Point {
	if u.PathIndex >= len(u.Path) {
		return nil
	}
	return u.Path[u.PathIndex:]
}

// Advance moves the unit to an adjacent cell. If the cell is the next path
// step the path index follows; otherwise the path is dropped.
func (u *Unit) Advance(to grid.Point) {
	if next, ok := u.NextStep(); ok && next == to {
		u.PathIndex++
	} else {
		u.ClearPath()
	}
	u.Position = to
	u.Moves++
	u.Waits = 0
	if u.Arrived() {
		u.Status = StatusArrived
	} else {
		u.Status = StatusMoving
	}
}

// SetObjective retargets the unit and drops its plan.
func (u *Unit) SetObjective(p grid.Point) {
	u.Objective = p
	u.ClearPath()
	if u.Arrived() {
		u.Status = StatusArrived
	} else {
		u.Status = StatusIdle
	}
}

// Clone returns a deep copy.
func (u *Unit) Clone() *Unit {
	c := *u
	c.Path = append([]grid.Point(nil), u.Path...)
	return &c
}
