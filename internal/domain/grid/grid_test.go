package grid

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	g, err := Parse(`
		.#.
		...
	`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.Width() != 3 || g.Height() != 2 {
		t.Fatalf("size = %dx%d, want 3x2", g.Width(), g.Height())
	}
	if !g.Blocked(Point{X: 1, Y: 0}) {
		t.Errorf("expected (1,0) to be blocked")
	}
	if !g.Passable(Point{X: 1, Y: 1}) {
		t.Errorf("expected (1,1) to be passable")
	}
	if got, want := g.String(), ".#.\n...\n"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"empty", "\n  \n", ErrEmptyGrid},
		{"ragged", "..\n...", ErrRaggedRows},
		{"bad rune", "..x", ErrBadCell},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.text); !errors.Is(err, tt.want) {
				t.Errorf("Parse(%q) err = %v, want %v", tt.text, err, tt.want)
			}
		})
	}
}

func TestFromRowsRejectsUnknownValues(t *testing.T) {
	if _, err := FromRows([][]int{{0, 2}}); !errors.Is(err, ErrBadCell) {
		t.Errorf("expected ErrBadCell, got %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	g, _ := New(3, 3)
	c := g.Clone()
	if err := c.Block(Point{X: 1, Y: 1}); err != nil {
		t.Fatal(err)
	}
	if g.Blocked(Point{X: 1, Y: 1}) {
		t.Errorf("blocking the clone changed the original")
	}
}

func TestBlockOutOfBounds(t *testing.T) {
	g, _ := New(2, 2)
	if err := g.Block(Point{X: 2, Y: 0}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestNeighborsOrderAndFiltering(t *testing.T) {
	g, _ := Parse(`
		...
		..#
		...
	`)
	got := g.Neighbors(Point{X: 1, Y: 1})
	want := []Point{{X: 0, Y: 1}, {X: 1, Y: 2}, {X: 1, Y: 0}}
	if len(got) != len(want) {
		t.Fatalf("Neighbors = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Neighbors[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	corner := g.Neighbors(Point{X: 0, Y: 0})
	if len(corner) != 2 {
		t.Errorf("corner neighbours = %v, want 2", corner)
	}
}

func TestOverlay(t *testing.T) {
	g, _ := New(3, 1)
	o := NewOverlay(g, Point{X: 1, Y: 0})
	if o.Passable(Point{X: 1, Y: 0}) {
		t.Errorf("overlay cell should be impassable")
	}
	if !g.Passable(Point{X: 1, Y: 0}) {
		t.Errorf("overlay must not mutate base grid")
	}
	if o.Passable(Point{X: 5, Y: 0}) {
		t.Errorf("out of bounds should be impassable")
	}
}

func TestAdjacent(t *testing.T) {
	if !Adjacent(Point{X: 0, Y: 0}, Point{X: 0, Y: 1}) {
		t.Errorf("vertical neighbours should be adjacent")
	}
	if Adjacent(Point{X: 0, Y: 0}, Point{X: 1, Y: 1}) {
		t.Errorf("diagonal cells are not adjacent")
	}
	if Adjacent(Point{X: 2, Y: 2}, Point{X: 2, Y: 2}) {
		t.Errorf("a cell is not adjacent to itself")
	}
}
