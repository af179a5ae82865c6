package pathfinding

import (
	"errors"
	"fmt"

	"github.com/coasim/coasim/internal/domain/grid"
)

var ErrInvalidPath = errors.New("pathfinding: invalid path")

// ValidatePath checks that path starts at start, ends at goal, stays on
// passable cells and only takes 4-connected steps.
func ValidatePath(w grid.Walkable, start, goal grid.Point, path []grid.Point) error {
	if len(path) == 0 {
		return fmt.Errorf("empty path: %w", ErrInvalidPath)
	}
	if path[0] != start {
		return fmt.Errorf("path starts at %s, want %s: %w", path[0], start, ErrInvalidPath)
	}
	if last := path[len(path)-1]; last != goal {
		return fmt.Errorf("path ends at %s, want %s: %w", last, goal, ErrInvalidPath)
	}
	for i, p := range path {
		if !w.InBounds(p) {
			return fmt.Errorf("step %d %s out of bounds: %w", i, p, ErrInvalidPath)
		}
		if !w.Passable(p) {
			return fmt.Errorf("step %d %s is blocked: %w", i, p, ErrInvalidPath)
		}
		if i > 0 && !grid.Adjacent(path[i-1], p) {
			return fmt.Errorf("step %d %s not adjacent to %s: %w", i, p, path[i-1], ErrInvalidPath)
		}
	}
	return nil
}

// PathBlocked returns the first index at or after from whose cell is no
// longer passable, or -1 if the rest of the path is clear.
func PathBlocked(w grid.Walkable, path []grid.Point, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(path); i++ {
		if !w.Passable(path[i]) {
			return i
		}
	}
	return -1
}

// Contains reports whether p is on the path.
func Contains(path []grid.Point, p grid.Point) bool {
	for _, q := range path {
		if q == p {
			return true
		}
	}
	return false
}
