package grid

// Overlay marks extra cells as blocked on top of a base Walkable without
// mutating it.
type Overlay struct {
	base    Walkable
	blocked map[Point]bool
}

// NewOverlay wraps base; every point in blocked becomes impassable.
func NewOverlay(base Walkable, blocked ...Point) *Overlay {
	o := &Overlay{base: base, blocked: make(map[Point]bool, len(blocked))}
	for _, p := range blocked {
		o.blocked[p] = true
	}
	return o
}

// Add blocks one more point.
func (o *Overlay) Add(p Point) {
	o.blocked[p] = true
}

func (o *Overlay) InBounds(p Point) bool {
	return o.base.InBounds(p)
}

func (o *Overlay) Passable(p Point) bool {
	if o.blocked[p] {
		return false
	}
	return o.base.Passable(p)
}
