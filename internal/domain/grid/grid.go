// Package grid defines the occupancy grid units operate on.
// This package is PURE and must NOT import any infrastructure packages.
package grid

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Free    = 0
	Blocked = 1
)

var (
	ErrEmptyGrid   = errors.New("grid: empty grid")
	ErrRaggedRows  = errors.New("grid: rows have different lengths")
	ErrBadCell     = errors.New("grid: unknown cell value")
	ErrOutOfBounds = errors.New("grid: point out of bounds")
)

// Point is a cell coordinate. X is the column, Y is the row.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Add returns p shifted by d.
func (p Point) Add(d Point) Point {
	return Point{X: p.X + d.X, Y: p.Y + d.Y}
}

// Manhattan returns the 4-connected distance between a and b.
func Manhattan(a, b Point) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

// Adjacent reports whether a and b are direct 4-neighbours.
func Adjacent(a, b Point) bool {
	return Manhattan(a, b) == 1
}

// Directions in fixed order: right, left, down, up.
var Directions = [4]Point{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}}

// Walkable is what path search needs to know about terrain.
type Walkable interface {
	InBounds(p Point) bool
	Passable(p Point) bool
}

// Grid is a Width x Height occupancy grid addressed as cells[y][x].
type Grid struct {
	width  int
	height int
	cells  [][]int
}

// New creates an empty (all free) grid.
func New(width, height int) (*Grid, error) {
	if width < 1 || height < 1 {
		return nil, ErrEmptyGrid
	}
	cells := make([][]int, height)
	for y := range cells {
		cells[y] = make([]int, width)
	}
	return &Grid{width: width, height: height, cells: cells}, nil
}

// FromRows builds a grid from rows of 0 (free) and 1 (blocked). The rows are copied.
func FromRows(rows [][]int) (*Grid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrEmptyGrid
	}
	g, err := New(len(rows[0]), len(rows))
	if err != nil {
		return nil, err
	}
	for y, row := range rows {
		if len(row) != g.width {
			return nil, fmt.Errorf("row %d: %w", y, ErrRaggedRows)
		}
		for x, v := range row {
			if v != Free && v != Blocked {
				return nil, fmt.Errorf("cell (%d,%d)=%d: %w", x, y, v, ErrBadCell)
			}
			g.cells[y][x] = v
		}
	}
	return g, nil
}

// Parse reads a text map: '.' is free, '#' is blocked.
// Blank lines and surrounding whitespace are ignored.
func Parse(text string) (*Grid, error) {
	var rows [][]int
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		row := make([]int, 0, len(line))
		for _, r := range line {
			switch r {
			case '.':
				row = append(row, Free)
			case '#':
				row = append(row, Blocked)
			default:
				return nil, fmt.Errorf("row %d: %q: %w", len(rows), r, ErrBadCell)
			}
		}
		rows = append(rows, row)
	}
	return FromRows(rows)
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return g.height }

func (g *Grid) InBounds(p Point) bool {
	return p.X >= 0 && p.X < g.width && p.Y >= 0 && p.Y < g.height
}

// Passable reports whether p is in bounds and free.
func (g *Grid) Passable(p Point) bool {
	return g.InBounds(p) && g.cells[p.Y][p.X] == Free
}

// Blocked reports whether p is in bounds and blocked.
func (g *Grid) Blocked(p Point) bool {
	return g.InBounds(p) && g.cells[p.Y][p.X] == Blocked
}

// Block marks p as an obstacle.
func (g *Grid) Block(p Point) error {
	return g.set(p, Blocked)
}

// Clear removes an obstacle at p.
func (g *Grid) Clear(p Point) error {
	return g.set(p, Free)
}

func (g *Grid) set(p Point, v int) error {
	if !g.InBounds(p) {
		return fmt.Errorf("%s: %w", p, ErrOutOfBounds)
	}
	g.cells[p.Y][p.X] = v
	return nil
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := &Grid{width: g.width, height: g.height, cells: make([][]int, g.height)}
	for y := range g.cells {
		out.cells[y] = append([]int(nil), g.cells[y]...)
	}
	return out
}

// Rows returns a copy of the cells as rows of 0/1.
func (g *Grid) Rows() [][]int {
	return g.Clone().cells
}

// Neighbors returns the passable 4-neighbours of p in Directions order.
func (g *Grid) Neighbors(p Point) []Point {
	return Neighbors(g, p)
}

// BlockedCells lists every obstacle in row-major order.
func (g *Grid) BlockedCells() []Point {
	var out []Point
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			if g.cells[y][x] == Blocked {
				out = append(out, Point{X: x, Y: y})
			}
		}
	}
	return out
}

// String renders the grid in the format Parse accepts.
func (g *Grid) String() string {
	var sb strings.Builder
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			if g.cells[y][x] == Blocked {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Neighbors returns the passable 4-neighbours of p on any Walkable.
func Neighbors(w Walkable, p Point) []Point {
	out := make([]Point, 0, 4)
	for _, d := range Directions {
		np := p.Add(d)
		if w.Passable(np) {
			out = append(out, np)
		}
	}
	return out
}
