// Package pathfinding implements A* search over occupancy grids.
//
// Paths are 4-connected with unit step cost and a Manhattan heuristic, so
// every path returned is a shortest one. Search order is deterministic:
// ties on f are broken by the lower heuristic, then by insertion order.
package pathfinding

import (
	"container/heap"
	"context"
	"errors"
	"fmt"

	"github.com/coasim/coasim/internal/domain/grid"
)

var (
	ErrNoPath          = errors.New("pathfinding: no path to goal")
	ErrOutOfBounds     = errors.New("pathfinding: endpoint out of bounds")
	ErrBlockedEndpoint = errors.New("pathfinding: endpoint is blocked")
	ErrSearchLimit     = errors.New("pathfinding: expansion limit reached")
)

// Result carries a path and search statistics.
type Result struct {
	Path     []grid.Point `json:"path"`
	Cost     int          `json:"cost"`
	Expanded int          `json:"expanded"`
}

// Planner runs A* with optional limits. The zero value has no limit.
type Planner struct {
	MaxExpansions int
}

// AStar finds a shortest path from start to goal, both included.
// It returns ErrNoPath when the goal cannot be reached.
func AStar(w grid.Walkable, start, goal grid.Point) ([]grid.Point, error) {
	res, err := Planner{}.Plan(context.Background(), w, start, goal)
	if err != nil {
		return nil, err
	}
	return res.Path, nil
}

// Plan runs the search. The context is checked between expansions.
func (pl Planner) Plan(ctx context.Context, w grid.Walkable, start, goal grid.Point) (Result, error) {
	if err := checkEndpoint(w, start, "start"); err != nil {
		return Result{}, err
	}
	if err := checkEndpoint(w, goal, "goal"); err != nil {
		return Result{}, err
	}
	if start == goal {
		return Result{Path: []grid.Point{start}}, nil
	}

	open := &openSet{}
	seq := 0
	push := func(p grid.Point, g int) {
		heap.Push(open, &node{p: p, g: g, h: grid.Manhattan(p, goal), seq: seq})
		seq++
	}

	bestG := map[grid.Point]int{start: 0}
	cameFrom := make(map[grid.Point]grid.Point)
	closed := make(map[grid.Point]bool)
	push(start, 0)

	expanded := 0
	for open.Len() > 0 {
		cur := heap.Pop(open).(*node)
		if closed[cur.p] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Result{Expanded: expanded}, err
		}
		if cur.p == goal {
			return Result{
				Path:     reconstruct(cameFrom, start, goal),
				Cost:     cur.g,
				Expanded: expanded,
			}, nil
		}
		closed[cur.p] = true
		expanded++
		if pl.MaxExpansions > 0 && expanded > pl.MaxExpansions {
			return Result{Expanded: expanded}, ErrSearchLimit
		}

		for _, next := range grid.Neighbors(w, cur.p) {
			if closed[next] {
				continue
			}
			g := cur.g + 1
			if old, seen := bestG[next]; seen && g >= old {
				continue
			}
			bestG[next] = g
			cameFrom[next] = cur.p
			push(next, g)
		}
	}

	return Result{Expanded: expanded}, ErrNoPath
}

func checkEndpoint(w grid.Walkable, p grid.Point, name string) error {
	if !w.InBounds(p) {
		return fmt.Errorf("%s %s: %w", name, p, ErrOutOfBounds)
	}
	if !w.Passable(p) {
		return fmt.Errorf("%s %s: %w", name, p, ErrBlockedEndpoint)
	}
	return nil
}

func reconstruct(cameFrom map[grid.Point]grid.Point, start, goal grid.Point) []grid.Point {
	path := []grid.Point{goal}
	for p := goal; p != start; {
		p = cameFrom[p]
		path = append(path, p)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type node struct {
	p   grid.Point
	g   int
	h   int
	seq int
}

type openSet []*node

func (s openSet) Len() int { return len(s) }

func (s openSet) Less(i, j int) bool {
	fi, fj := s[i].g+s[i].h, s[j].g+s[j].h
	if fi != fj {
		return fi < fj
	}
	if s[i].h != s[j].h {
		return s[i].h < s[j].h
	}
	return s[i].seq < s[j].seq
}

func (s openSet) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s *openSet) Push(x any) { *s = append(*s, x.(*node)) }

func (s *openSet) Pop() any {
	old := *s
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*s = old[:len(old)-1]
	return n
}
