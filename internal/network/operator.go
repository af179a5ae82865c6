package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/coasim/coasim/internal/agents"
	"github.com/coasim/coasim/internal/agents/cognition"
	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/engine"
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/platform/logger"
)

// ErrRejected is returned when the engine refused an operator order.
var ErrRejected = errors.New("order rejected")

// Operator turns operator commands into events. WebSocket clients and the
// REST API share it.
type Operator struct {
	engine    *engine.Engine
	commander *agents.Commander
	logger    *logger.Logger
}

// NewOperator creates a command front-end for a running engine.
func NewOperator(eng *engine.Engine, cmd *agents.Commander, log *logger.Logger) *Operator {
	return &Operator{engine: eng, commander: cmd, logger: log}
}

// State returns a deep copy of the world.
func (o *Operator) State() engine.Snapshot {
	return o.engine.Snapshot()
}

// AddObstacle blocks a cell on the ground truth.
func (o *Operator) AddObstacle(at grid.Point) (events.SimEvent, error) {
	return o.order(events.EventTypeObstacleAdded, "", events.ObstaclePayload{At: at, Source: "operator"})
}

// ClearObstacle frees a cell on the ground truth.
func (o *Operator) ClearObstacle(at grid.Point) (events.SimEvent, error) {
	return o.order(events.EventTypeObstacleCleared, "", events.ObstaclePayload{At: at, Source: "operator"})
}

// SetObjective retargets a unit.
func (o *Operator) SetObjective(unitID string, at grid.Point) (events.SimEvent, error) {
	if _, ok := o.State().Unit(unitID); !ok {
		return events.SimEvent{}, fmt.Errorf("set objective %s: %w", unitID, agents.ErrUnknownUnit)
	}
	return o.order(events.EventTypeObjectiveChanged, unitID, events.ObjectivePayload{Objective: at})
}

// ForcePlan makes a unit plan immediately against its side's map.
func (o *Operator) ForcePlan(ctx context.Context, unitID string) (*cognition.Plan, error) {
	var plan *cognition.Plan
	var err error
	o.engine.Apply(func(w *engine.World, tick int64) {
		plan, err = o.commander.ForcePlan(ctx, w, tick, unitID)
	})
	if err == nil {
		o.logger.Event("FORCE_PLAN", events.ActorOperator, unitID)
	}
	return plan, err
}

// order appends an operator event, lets the engine apply it and reports
// whether it was refused.
func (o *Operator) order(eventType events.EventType, targetID string, payload any) (events.SimEvent, error) {
	el := o.engine.EventLog()
	var ev events.SimEvent
	var offset int
	o.engine.Apply(func(w *engine.World, tick int64) {
		offset = el.Len()
		ev = events.New(eventType, events.ActorOperator, targetID, tick, payload)
		el.Append(ev)
	})

	for _, e := range el.Since(offset) {
		if e.Type != events.EventTypeOrderRejected {
			continue
		}
		var reject events.RejectPayload
		if err := events.DecodePayload(e.Payload, &reject); err == nil && reject.EventID == ev.ID {
			return ev, fmt.Errorf("%s: %w: %s", eventType, ErrRejected, reject.Reason)
		}
	}
	o.logger.Event(string(eventType), events.ActorOperator, targetID)
	return ev, nil
}
