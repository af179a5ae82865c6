// Package cognition provides the "brain" of a unit.
//
// Each tick a unit either follows its plan, re-plans, waits for a friendly
// unit to clear the way, or reports that it has no route. Plans are always
// made against the side's believed map.
package cognition

import (
	"context"
	"time"

	"github.com/coasim/coasim/internal/agents/perception"
	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/pathfinding"
	"github.com/coasim/coasim/internal/platform/logger"
)

// Action is what a unit does this tick.
type Action string

const (
	ActionMove    Action = "MOVE"
	ActionWait    Action = "WAIT"    // Next cell held by another unit
	ActionHold    Action = "HOLD"    // On objective, nothing to do
	ActionBlocked Action = "BLOCKED" // No known route
)

// Reasons for planning.
const (
	ReasonInitial   = "initial plan"
	ReasonNoPath    = "no current path"
	ReasonObjective = "objective changed"
	ReasonObstacle  = "obstacle on route"
	ReasonDetour    = "detour around units"
	ReasonForced    = "operator request"
)

// DefaultMaxWaits is how long a unit waits behind another before detouring.
const DefaultMaxWaits = 2

// Plan is the outcome of one A* search.
type Plan struct {
	Path     []grid.Point  `json:"path"`
	Replan   bool          `json:"replan"` // The unit had planned before
	Reason   string        `json:"reason"`
	Expanded int           `json:"expanded"`
	Latency  time.Duration `json:"latency"`
	Err      error         `json:"-"`
}

// Decision is the planned action for one unit.
type Decision struct {
	UnitID string     `json:"unit_id"`
	Action Action     `json:"action"`
	Next   grid.Point `json:"next"`
	Plan   *Plan      `json:"plan,omitempty"` // Set when a search ran this tick
	Reason string     `json:"reason"`
}

// Planner is the decision-making core.
type Planner struct {
	logger   *logger.Logger
	search   pathfinding.Planner
	maxWaits int
}

// NewPlanner creates a planner. maxExpansions of zero means no search limit.
func NewPlanner(log *logger.Logger, maxWaits, maxExpansions int) *Planner {
	if maxWaits <= 0 {
		maxWaits = DefaultMaxWaits
	}
	return &Planner{
		logger:   log,
		search:   pathfinding.Planner{MaxExpansions: maxExpansions},
		maxWaits: maxWaits,
	}
}

// Decide chooses the unit's action for this tick. The unit is not modified.
func (p *Planner) Decide(ctx context.Context, u *unit.Unit, belief grid.Walkable, obs perception.Observation) Decision {
	d := Decision{UnitID: u.ID}
	if u.Arrived() {
		d.Action = ActionHold
		d.Reason = "on objective"
		return d
	}

	path, idx := u.Path, u.PathIndex
	if reason := p.needsPlan(u, belief); reason != "" {
		plan := p.Search(ctx, u, belief, reason)
		d.Plan = &plan
		if plan.Err != nil {
			d.Action = ActionBlocked
			d.Reason = plan.Err.Error()
			return d
		}
		path, idx = plan.Path, 0
	}

	next := path[idx+1]
	if !obs.IsOccupied(next) {
		d.Action = ActionMove
		d.Next = next
		return d
	}

	if u.Waits < p.maxWaits {
		d.Action = ActionWait
		d.Reason = "cell " + next.String() + " occupied"
		return d
	}

	// Waited long enough: route around every unit we know of.
	detour := p.Search(ctx, u, grid.NewOverlay(belief, obs.Occupied...), ReasonDetour)
	if detour.Err == nil && !obs.IsOccupied(detour.Path[1]) {
		d.Plan = &detour
		d.Action = ActionMove
		d.Next = detour.Path[1]
		return d
	}

	// Head-on with no way round: the unit with the higher ID gives way.
	if holder, ok := obs.HolderOf(next); ok && holder < u.ID {
		if cell, ok := sidestep(u, belief, obs, next); ok {
			d.Action = ActionMove
			d.Next = cell
			d.Reason = "giving way to " + holder
			return d
		}
	}
	d.Action = ActionWait
	d.Reason = "no detour around " + next.String()
	return d
}

// Stuck reports whether a unit has waited so long that its side's picture
// of the terrain is worth questioning.
func (p *Planner) Stuck(u *unit.Unit, d Decision) bool {
	return d.Action == ActionWait && u.Waits >= 2*p.maxWaits
}

// sidestep picks a free cell next to the unit, backing straight away from
// blocker when it can.
func sidestep(u *unit.Unit, belief grid.Walkable, obs perception.Observation, blocker grid.Point) (grid.Point, bool) {
	away := grid.Point{X: 2*u.Position.X - blocker.X, Y: 2*u.Position.Y - blocker.Y}
	candidates := []grid.Point{away}
	for _, dir := range grid.Directions {
		candidates = append(candidates, u.Position.Add(dir))
	}
	for _, c := range candidates {
		if c == blocker || obs.IsOccupied(c) || !belief.Passable(c) {
			continue
		}
		return c, true
	}
	return grid.Point{}, false
}

// needsPlan returns why the unit must re-plan, or "" to keep its path.
func (p *Planner) needsPlan(u *unit.Unit, belief grid.Walkable) string {
	switch {
	case !u.Planned:
		return ReasonInitial
	case len(u.RemainingPath()) < 2:
		return ReasonNoPath
	case u.Path[len(u.Path)-1] != u.Objective:
		return ReasonObjective
	case pathfinding.PathBlocked(belief, u.Path, u.PathIndex+1) >= 0:
		return ReasonObstacle
	}
	return ""
}

// Search runs A* from the unit's position to its objective.
func (p *Planner) Search(ctx context.Context, u *unit.Unit, w grid.Walkable, reason string) Plan {
	start := time.Now()
	res, err := p.search.Plan(ctx, w, u.Position, u.Objective)
	plan := Plan{
		Path:     res.Path,
		Replan:   u.Planned,
		Reason:   reason,
		Expanded: res.Expanded,
		Latency:  time.Since(start),
		Err:      err,
	}
	if err != nil {
		p.logger.Warnf("COGNITION: %s has no route %s->%s: %v", u.ID, u.Position, u.Objective, err)
	}
	return plan
}
