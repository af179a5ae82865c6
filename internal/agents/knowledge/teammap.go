// Package knowledge holds what each side believes about the terrain.
//
// All units of one side share a TeamMap: an obstacle spotted by one unit
// is immediately known to the rest, and plans are made against belief,
// never against ground truth.
package knowledge

import (
	"sync"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
)

// TeamMap is one side's believed grid. Safe for concurrent use.
type TeamMap struct {
	mu        sync.RWMutex
	side      unit.Side
	published *grid.Grid
	belief    *grid.Grid
	version   int64
}

// NewTeamMap seeds a side's belief from the initial map.
func NewTeamMap(side unit.Side, initial *grid.Grid) *TeamMap {
	return &TeamMap{side: side, published: initial.Clone(), belief: initial.Clone()}
}

// Side returns the owning side.
func (m *TeamMap) Side() unit.Side {
	return m.side
}

// Learn records whether p is blocked. It reports whether belief changed.
func (m *TeamMap) Learn(p grid.Point, blocked bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.belief.InBounds(p) || m.belief.Blocked(p) == blocked {
		return false
	}
	if blocked {
		_ = m.belief.Block(p)
	} else {
		_ = m.belief.Clear(p)
	}
	m.version++
	return true
}

// ForgetObstacles drops every obstacle the side learned that is not on the
// published map, except cells inSight reports as currently observed.
// It returns how many cells were forgotten.
func (m *TeamMap) ForgetObstacles(inSight func(grid.Point) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range m.belief.BlockedCells() {
		if m.published.Blocked(p) || (inSight != nil && inSight(p)) {
			continue
		}
		_ = m.belief.Clear(p)
		n++
	}
	if n > 0 {
		m.version++
	}
	return n
}

// Version increases on every change of belief.
func (m *TeamMap) Version() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// InBounds implements grid.Walkable.
func (m *TeamMap) InBounds(p grid.Point) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.belief.InBounds(p)
}

// Passable implements grid.Walkable.
func (m *TeamMap) Passable(p grid.Point) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.belief.Passable(p)
}

// Grid returns a copy of the believed grid.
func (m *TeamMap) Grid() *grid.Grid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.belief.Clone()
}

// Book keeps one TeamMap per side, created on first use from the same
// initial map.
type Book struct {
	mu      sync.Mutex
	initial *grid.Grid
	maps    map[unit.Side]*TeamMap
}

// NewBook creates an empty book over the initial map.
func NewBook(initial *grid.Grid) *Book {
	return &Book{initial: initial.Clone(), maps: make(map[unit.Side]*TeamMap)}
}

// For returns the side's map.
func (b *Book) For(side unit.Side) *TeamMap {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.maps[side]
	if !ok {
		m = NewTeamMap(side, b.initial)
		b.maps[side] = m
	}
	return m
}
