package engine

import (
	"fmt"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/platform/logger"
	"github.com/coasim/coasim/internal/platform/metrics"
)

// MovementSystem applies unit decisions to the world.
// Agents only emit events; this is where positions, plans and status change.
type MovementSystem struct {
	eventLog *events.EventLog
	logger   *logger.Logger
	metrics  *metrics.Collector
	world    *World
}

// NewMovementSystem creates a new movement manager.
func NewMovementSystem(eventLog *events.EventLog, log *logger.Logger, m *metrics.Collector, world *World) *MovementSystem {
	return &MovementSystem{
		eventLog: eventLog,
		logger:   log,
		metrics:  m,
		world:    world,
	}
}

// OnPathPlanned installs a new plan on the unit.
func (ms *MovementSystem) OnPathPlanned(event events.SimEvent) {
	u, ok := ms.unit(event)
	if !ok {
		return
	}
	var payload events.PathPayload
	if err := events.DecodePayload(event.Payload, &payload); err != nil {
		ms.reject(event, "malformed payload")
		return
	}
	if len(payload.Path) == 0 || payload.Path[0] != u.Position {
		ms.reject(event, fmt.Sprintf("path does not start at %s", u.Position))
		return
	}
	u.AssignPath(payload.Path)
	if !u.Arrived() {
		u.Status = unit.StatusMoving
	}
}

// OnUnitMoved advances the unit one cell if the move is legal.
func (ms *MovementSystem) OnUnitMoved(event events.SimEvent) {
	u, ok := ms.unit(event)
	if !ok {
		return
	}
	var payload events.MovePayload
	if err := events.DecodePayload(event.Payload, &payload); err != nil {
		ms.reject(event, "malformed payload")
		return
	}
	if reason := ms.checkMove(u, payload.From, payload.To); reason != "" {
		ms.reject(event, reason)
		return
	}

	u.Advance(payload.To)
	ms.logger.Event(string(event.Type), u.ID, payload.From.String()+"->"+payload.To.String())

	if u.Arrived() {
		ms.metrics.RecordArrival()
		ms.eventLog.Append(events.New(events.EventTypeUnitArrived, u.ID, "", event.Tick,
			events.ArrivalPayload{At: u.Position, Moves: u.Moves, Replans: u.Replans}))
	}
}

func (ms *MovementSystem) checkMove(u *unit.Unit, from, to grid.Point) string {
	switch {
	case u.Arrived():
		return "unit already on objective"
	case from != u.Position:
		return fmt.Sprintf("unit is at %s, not %s", u.Position, from)
	case !grid.Adjacent(from, to):
		return fmt.Sprintf("%s is not adjacent to %s", to, from)
	case !ms.world.Grid.Passable(to):
		return fmt.Sprintf("cell %s is blocked", to)
	}
	if other, ok := ms.world.UnitAt(to); ok {
		return fmt.Sprintf("cell %s occupied by %s", to, other.ID)
	}
	return ""
}

// OnUnitHolding records a unit waiting for a friendly unit to clear its way.
func (ms *MovementSystem) OnUnitHolding(event events.SimEvent) {
	u, ok := ms.unit(event)
	if !ok {
		return
	}
	u.Waits++
	u.Status = unit.StatusHolding
}

// OnUnitBlocked records that a unit knows no route to its objective.
func (ms *MovementSystem) OnUnitBlocked(event events.SimEvent) {
	u, ok := ms.unit(event)
	if !ok {
		return
	}
	u.ClearPath()
	u.Status = unit.StatusBlocked
}

// OnObjectiveChanged retargets a unit.
func (ms *MovementSystem) OnObjectiveChanged(event events.SimEvent) {
	u, ok := ms.world.Units[event.TargetID]
	if !ok {
		ms.reject(event, "unknown unit "+event.TargetID)
		return
	}
	var payload events.ObjectivePayload
	if err := events.DecodePayload(event.Payload, &payload); err != nil {
		ms.reject(event, "malformed payload")
		return
	}
	if !ms.world.Grid.Passable(payload.Objective) {
		ms.reject(event, fmt.Sprintf("objective %s is not passable", payload.Objective))
		return
	}
	u.SetObjective(payload.Objective)
	ms.logger.Infof("OBJECTIVE: %s now heading for %s", u.ID, payload.Objective)
}

// unit resolves the acting unit. Events from unknown actors are rejected.
func (ms *MovementSystem) unit(event events.SimEvent) (*unit.Unit, bool) {
	u, ok := ms.world.Units[event.ActorID]
	if !ok {
		ms.reject(event, "unknown unit "+event.ActorID)
	}
	return u, ok
}

func (ms *MovementSystem) reject(event events.SimEvent, reason string) {
	ms.logger.Warnf("MOVEMENT: rejected %s from %s: %s", event.Type, event.ActorID, reason)
	ms.eventLog.Append(events.New(events.EventTypeOrderRejected, events.ActorSystem, event.ActorID, event.Tick,
		events.RejectPayload{EventID: event.ID, Order: event.Type, Reason: reason}))
}
