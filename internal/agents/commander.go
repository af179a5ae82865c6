// Package agents runs the Perceive -> Decide -> Act loop for every unit.
package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/coasim/coasim/internal/agents/action"
	"github.com/coasim/coasim/internal/agents/cognition"
	"github.com/coasim/coasim/internal/agents/knowledge"
	"github.com/coasim/coasim/internal/agents/perception"
	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/engine"
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/platform/logger"
	"github.com/coasim/coasim/internal/platform/metrics"
)

var ErrUnknownUnit = errors.New("agents: unknown unit")

// Config tunes unit behaviour.
type Config struct {
	MaxWaits      int // Ticks a unit waits behind another before detouring
	MaxExpansions int // A* node budget per search, 0 for none
}

// Commander is the orchestrator for every unit. It implements
// engine.Controller.
type Commander struct {
	perceiver *perception.Perceiver
	planner   *cognition.Planner
	executor  *action.Executor
	book      *knowledge.Book
	logger    *logger.Logger
}

// NewCommander creates the unit orchestrator. initial is the map every side
// starts out believing.
func NewCommander(eventLog *events.EventLog, initial *grid.Grid, log *logger.Logger, m *metrics.Collector, cfg Config) *Commander {
	return &Commander{
		perceiver: perception.NewPerceiver(log),
		planner:   cognition.NewPlanner(log, cfg.MaxWaits, cfg.MaxExpansions),
		executor:  action.NewExecutor(eventLog, log, m),
		book:      knowledge.NewBook(initial),
		logger:    log,
	}
}

// TeamMap returns what a side currently believes.
func (c *Commander) TeamMap(side unit.Side) *knowledge.TeamMap {
	return c.book.For(side)
}

// OnTimeTick runs one cycle for every unit, in ID order. Each unit's events
// are applied before the next unit decides.
func (c *Commander) OnTimeTick(ctx context.Context, tick int64, w *engine.World) {
	for _, u := range w.SortedUnits() {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.runCycle(ctx, tick, w, u); err != nil {
			c.logger.Errorf("Unit %s cycle failed: %v", u.ID, err)
		}
		w.Sync()
	}
}

// runCycle executes one Perception-Cognition-Action cycle.
func (c *Commander) runCycle(ctx context.Context, tick int64, w *engine.World, u *unit.Unit) (cognition.Decision, error) {
	// 1. PERCEIVE
	belief, obs := c.observe(tick, w, u)

	// 2. DECIDE
	decision := c.planner.Decide(ctx, u, belief, obs)
	if c.planner.Stuck(u, decision) {
		// Obstacles out of sight may have been cleared since they were seen.
		r := perception.Range(u)
		inSight := func(p grid.Point) bool { return grid.Manhattan(u.Position, p) <= r }
		if n := belief.ForgetObstacles(inSight); n > 0 {
			c.logger.Event("BELIEF_RESET", u.ID, fmt.Sprintf("%s forgot %d obstacles", u.Side, n))
			decision = c.planner.Decide(ctx, u, belief, obs)
		}
	}

	// 3. ACT
	if err := c.executor.Execute(ctx, tick, u, decision); err != nil {
		return decision, err
	}
	return decision, nil
}

// observe folds the unit's sightings into its side's map.
func (c *Commander) observe(tick int64, w *engine.World, u *unit.Unit) (*knowledge.TeamMap, perception.Observation) {
	belief := c.book.For(u.Side)
	obs := c.perceiver.Observe(w, u, belief)
	for _, s := range obs.Sightings {
		if belief.Learn(s.At, s.Blocked) {
			c.executor.ReportSighting(tick, u, s)
		}
	}
	return belief, obs
}

// ForcePlan makes a unit plan immediately, without moving. Call it with
// the engine lock held, e.g. through engine.Apply.
func (c *Commander) ForcePlan(ctx context.Context, w *engine.World, tick int64, unitID string) (*cognition.Plan, error) {
	u, ok := w.Units[unitID]
	if !ok {
		return nil, fmt.Errorf("force plan %s: %w", unitID, ErrUnknownUnit)
	}
	belief, _ := c.observe(tick, w, u)

	plan := c.planner.Search(ctx, u, belief, cognition.ReasonForced)
	c.executor.RecordPlan(tick, u, plan)
	if plan.Err != nil {
		if err := c.executor.Execute(ctx, tick, u, cognition.Decision{
			UnitID: u.ID,
			Action: cognition.ActionBlocked,
			Reason: plan.Err.Error(),
		}); err != nil {
			return nil, err
		}
		return &plan, plan.Err
	}
	return &plan, nil
}
