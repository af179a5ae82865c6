package engine

import (
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/platform/logger"
)

// TerrainSystem applies obstacle events to the ground-truth grid.
type TerrainSystem struct {
	eventLog *events.EventLog
	logger   *logger.Logger
	world    *World
}

// NewTerrainSystem creates a new terrain manager.
func NewTerrainSystem(eventLog *events.EventLog, log *logger.Logger, world *World) *TerrainSystem {
	return &TerrainSystem{
		eventLog: eventLog,
		logger:   log,
		world:    world,
	}
}

// OnObstacleAdded blocks a cell unless a unit stands on it or is heading for it.
func (ts *TerrainSystem) OnObstacleAdded(event events.SimEvent) {
	var payload events.ObstaclePayload
	if err := events.DecodePayload(event.Payload, &payload); err != nil {
		ts.reject(event, "malformed payload")
		return
	}

	switch {
	case !ts.world.Grid.InBounds(payload.At):
		ts.reject(event, "cell "+payload.At.String()+" out of bounds")
	case ts.world.IsObjective(payload.At):
		ts.reject(event, "cell "+payload.At.String()+" is an objective")
	default:
		if u, ok := ts.world.UnitAt(payload.At); ok {
			ts.reject(event, "cell "+payload.At.String()+" occupied by "+u.ID)
			return
		}
		if ts.world.Grid.Blocked(payload.At) {
			return
		}
		_ = ts.world.Grid.Block(payload.At)
		ts.logger.Event(string(event.Type), event.ActorID, payload.At.String())
	}
}

// OnObstacleCleared frees a cell.
func (ts *TerrainSystem) OnObstacleCleared(event events.SimEvent) {
	var payload events.ObstaclePayload
	if err := events.DecodePayload(event.Payload, &payload); err != nil {
		ts.reject(event, "malformed payload")
		return
	}
	if err := ts.world.Grid.Clear(payload.At); err != nil {
		ts.reject(event, "cell "+payload.At.String()+" out of bounds")
		return
	}
	ts.logger.Event(string(event.Type), event.ActorID, payload.At.String())
}

func (ts *TerrainSystem) reject(event events.SimEvent, reason string) {
	ts.logger.Warnf("TERRAIN: rejected %s from %s: %s", event.Type, event.ActorID, reason)
	ts.eventLog.Append(events.New(events.EventTypeOrderRejected, events.ActorTerrain, event.ActorID, event.Tick,
		events.RejectPayload{EventID: event.ID, Order: event.Type, Reason: reason}))
}
