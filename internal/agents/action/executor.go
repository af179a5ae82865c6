// Package action provides the "hands" of a unit.
//
// Decisions become events in the EventLog; the engine applies them. Nothing
// here touches the world directly.
package action

import (
	"context"
	"fmt"

	"github.com/coasim/coasim/internal/agents/cognition"
	"github.com/coasim/coasim/internal/agents/perception"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/platform/logger"
	"github.com/coasim/coasim/internal/platform/metrics"
)

// Executor translates decisions into events.
type Executor struct {
	eventLog *events.EventLog
	logger   *logger.Logger
	metrics  *metrics.Collector
}

// NewExecutor creates a new action executor.
func NewExecutor(el *events.EventLog, log *logger.Logger, m *metrics.Collector) *Executor {
	return &Executor{
		eventLog: el,
		logger:   log,
		metrics:  m,
	}
}

// ReportSighting records that a unit's side learned about a cell.
func (e *Executor) ReportSighting(tick int64, u *unit.Unit, s perception.Sighting) {
	eventType := events.EventTypeObstacleSpotted
	source := "sensor"
	if !s.Blocked {
		source = "sensor:cleared"
	}
	e.eventLog.Append(events.New(eventType, u.ID, "", tick, events.ObstaclePayload{
		At:     s.At,
		Source: source,
		Side:   string(u.Side),
	}))
}

// Execute appends the events for one decision, in order: plan first, then
// the action taken on it.
func (e *Executor) Execute(ctx context.Context, tick int64, u *unit.Unit, d cognition.Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if d.Plan != nil {
		e.RecordPlan(tick, u, *d.Plan)
	}

	switch d.Action {
	case cognition.ActionMove:
		e.eventLog.Append(events.New(events.EventTypeUnitMoved, u.ID, "", tick,
			events.MovePayload{From: u.Position, To: d.Next}))
	case cognition.ActionWait:
		e.eventLog.Append(events.New(events.EventTypeUnitHolding, u.ID, "", tick,
			events.HoldPayload{At: u.Position, Reason: d.Reason}))
	case cognition.ActionBlocked:
		// Blocked units retry every tick; only the transition is an event.
		if u.Status != unit.StatusBlocked {
			e.eventLog.Append(events.New(events.EventTypeUnitBlocked, u.ID, "", tick,
				events.HoldPayload{At: u.Position, Reason: d.Reason}))
		}
	case cognition.ActionHold:
		return nil
	default:
		return fmt.Errorf("action: unknown action %q for %s", d.Action, u.ID)
	}
	return nil
}

// RecordPlan emits PATH_PLANNED or PATH_REPLANNED for a successful search
// and records planner metrics for every search.
func (e *Executor) RecordPlan(tick int64, u *unit.Unit, plan cognition.Plan) {
	e.metrics.RecordPlan(plan.Expanded, plan.Latency, plan.Replan, plan.Err)
	if plan.Err != nil {
		return
	}

	eventType := events.EventTypePathPlanned
	if plan.Replan {
		eventType = events.EventTypePathReplanned
	}
	e.eventLog.Append(events.New(eventType, u.ID, "", tick, events.PathPayload{
		Path:     plan.Path,
		Length:   len(plan.Path) - 1,
		Expanded: plan.Expanded,
		Reason:   plan.Reason,
	}))
	e.logger.Event(string(eventType), u.ID, fmt.Sprintf("%d steps (%s)", len(plan.Path)-1, plan.Reason))
}
