package pathfinding

import (
	"context"
	"errors"
	"testing"

	"github.com/coasim/coasim/internal/domain/grid"
)

func emptyGrid(t *testing.T, w, h int) *grid.Grid {
	t.Helper()
	g, err := grid.New(w, h)
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	return g
}

func assertValidPath(t *testing.T, g grid.Walkable, start, goal grid.Point, path []grid.Point) {
	t.Helper()
	if err := ValidatePath(g, start, goal, path); err != nil {
		t.Fatalf("invalid path %v: %v", path, err)
	}
}

func TestAStarStraightLineNoObstacles(t *testing.T) {
	g := emptyGrid(t, 5, 5)
	start, goal := grid.Point{X: 0, Y: 0}, grid.Point{X: 4, Y: 0}

	path, err := AStar(g, start, goal)
	if err != nil {
		t.Fatalf("AStar: %v", err)
	}
	assertValidPath(t, g, start, goal, path)

	// 4 moves -> 5 points.
	if len(path) != 5 {
		t.Errorf("len(path) = %d, want 5", len(path))
	}
}

func TestAStarAroundWall(t *testing.T) {
	g := emptyGrid(t, 5, 5)
	for x := 1; x <= 3; x++ {
		_ = g.Block(grid.Point{X: x, Y: 0})
	}
	start, goal := grid.Point{X: 0, Y: 0}, grid.Point{X: 4, Y: 0}

	path, err := AStar(g, start, goal)
	if err != nil {
		t.Fatalf("AStar: %v", err)
	}
	assertValidPath(t, g, start, goal, path)
	if len(path) != 7 {
		t.Errorf("len(path) = %d, want 7 (shortest detour)", len(path))
	}
}

func TestAStarNoPath(t *testing.T) {
	g := emptyGrid(t, 3, 3)
	_ = g.Block(grid.Point{X: 1, Y: 2})
	_ = g.Block(grid.Point{X: 2, Y: 1})

	path, err := AStar(g, grid.Point{X: 0, Y: 0}, grid.Point{X: 2, Y: 2})
	if !errors.Is(err, ErrNoPath) {
		t.Fatalf("err = %v, want ErrNoPath", err)
	}
	if path != nil {
		t.Errorf("path = %v, want nil", path)
	}
}

func TestAStarReplanAvoidsNewObstacle(t *testing.T) {
	g := emptyGrid(t, 5, 5)
	start, goal := grid.Point{X: 0, Y: 2}, grid.Point{X: 4, Y: 2}

	path1, err := AStar(g, start, goal)
	if err != nil {
		t.Fatalf("initial plan: %v", err)
	}
	assertValidPath(t, g, start, goal, path1)

	g2 := g.Clone()
	blocked := grid.Point{X: 2, Y: 2}
	_ = g2.Block(blocked)

	if idx := PathBlocked(g2, path1, 0); idx < 0 {
		t.Fatalf("expected the new obstacle to invalidate the first path")
	}

	path2, err := AStar(g2, start, goal)
	if err != nil {
		t.Fatalf("replan: %v", err)
	}
	assertValidPath(t, g2, start, goal, path2)

	if Contains(path2, blocked) {
		t.Errorf("replanned path %v goes through %v", path2, blocked)
	}
	if len(path2) <= len(path1) {
		t.Errorf("detour length %d should exceed original %d", len(path2), len(path1))
	}
}

func TestAStarEndpoints(t *testing.T) {
	g := emptyGrid(t, 3, 3)
	_ = g.Block(grid.Point{X: 1, Y: 1})

	tests := []struct {
		name       string
		start, end grid.Point
		want       error
	}{
		{"start out of bounds", grid.Point{X: -1, Y: 0}, grid.Point{X: 2, Y: 2}, ErrOutOfBounds},
		{"goal out of bounds", grid.Point{X: 0, Y: 0}, grid.Point{X: 3, Y: 0}, ErrOutOfBounds},
		{"goal blocked", grid.Point{X: 0, Y: 0}, grid.Point{X: 1, Y: 1}, ErrBlockedEndpoint},
		{"start blocked", grid.Point{X: 1, Y: 1}, grid.Point{X: 0, Y: 0}, ErrBlockedEndpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := AStar(g, tt.start, tt.end); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAStarStartIsGoal(t *testing.T) {
	g := emptyGrid(t, 2, 2)
	p := grid.Point{X: 1, Y: 1}
	path, err := AStar(g, p, p)
	if err != nil {
		t.Fatalf("AStar: %v", err)
	}
	if len(path) != 1 || path[0] != p {
		t.Errorf("path = %v, want [%v]", path, p)
	}
}

func TestAStarIsDeterministic(t *testing.T) {
	g := emptyGrid(t, 6, 6)
	start, goal := grid.Point{X: 0, Y: 0}, grid.Point{X: 5, Y: 5}
	first, err := AStar(g, start, goal)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, _ := AStar(g, start, goal)
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d differs at step %d: %v vs %v", i, j, again, first)
			}
		}
	}
}

func TestPlannerExpansionLimit(t *testing.T) {
	g := emptyGrid(t, 20, 20)
	pl := Planner{MaxExpansions: 3}
	_, err := pl.Plan(context.Background(), g, grid.Point{X: 0, Y: 0}, grid.Point{X: 19, Y: 19})
	if !errors.Is(err, ErrSearchLimit) {
		t.Errorf("err = %v, want ErrSearchLimit", err)
	}
}

func TestPlannerHonoursCancellation(t *testing.T) {
	// The goal is walled off, so the search would have to exhaust the
	// open region; a cancelled context stops it early.
	g := emptyGrid(t, 40, 40)
	for y := 0; y < 40; y++ {
		_ = g.Block(grid.Point{X: 38, Y: y})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Planner{}.Plan(ctx, g, grid.Point{X: 0, Y: 0}, grid.Point{X: 39, Y: 39})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	// A search short enough to finish in a handful of expansions still
	// reports the cancellation.
	small := emptyGrid(t, 5, 5)
	res, err := Planner{}.Plan(ctx, small, grid.Point{X: 0, Y: 0}, grid.Point{X: 4, Y: 4})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("small grid: err = %v, want context.Canceled", err)
	}
	if res.Path != nil {
		t.Errorf("small grid: got path %v from a cancelled search", res.Path)
	}
}

func TestPlannerSpiral(t *testing.T) {
	g, err := grid.Parse(`
		..........
		.########.
		.#......#.
		.#.####.#.
		.#.#..#.#.
		.#.#.##.#.
		.#.#....#.
		.#.######.
		.#........
		.#########
	`)
	if err != nil {
		t.Fatal(err)
	}
	start, goal := grid.Point{X: 0, Y: 0}, grid.Point{X: 4, Y: 4}
	res, err := Planner{}.Plan(context.Background(), g, start, goal)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	assertValidPath(t, g, start, goal, res.Path)
	if res.Cost != len(res.Path)-1 {
		t.Errorf("cost %d does not match path length %d", res.Cost, len(res.Path))
	}
	if res.Expanded == 0 {
		t.Errorf("expected expansions to be counted")
	}
}

func TestValidatePathRejectsGaps(t *testing.T) {
	g := emptyGrid(t, 3, 1)
	path := []grid.Point{{X: 0, Y: 0}, {X: 2, Y: 0}}
	if err := ValidatePath(g, path[0], path[1], path); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("err = %v, want ErrInvalidPath", err)
	}
}
