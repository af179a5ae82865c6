package engine

import (
	"sort"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/platform/logger"
)

// ChangeAction is what a scheduled terrain change does to its cell.
type ChangeAction string

const (
	ChangeAdd   ChangeAction = "add"
	ChangeClear ChangeAction = "clear"
)

// TerrainChange is one scripted obstacle appearing or disappearing.
type TerrainChange struct {
	Tick   int64        `json:"tick" yaml:"tick"`
	Action ChangeAction `json:"action" yaml:"action"`
	At     grid.Point   `json:"at" yaml:"at"`
}

// ScheduleSystem turns scripted terrain changes into obstacle events.
// It listens to TIME_TICK and never touches the grid itself.
type ScheduleSystem struct {
	eventLog *events.EventLog
	logger   *logger.Logger
	changes  []TerrainChange
}

// NewScheduleSystem creates a schedule. Changes are fired in tick order,
// ties keep their given order.
func NewScheduleSystem(eventLog *events.EventLog, log *logger.Logger, changes []TerrainChange) *ScheduleSystem {
	sorted := append([]TerrainChange(nil), changes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Tick < sorted[j].Tick })
	return &ScheduleSystem{
		eventLog: eventLog,
		logger:   log,
		changes:  sorted,
	}
}

// Pending returns the changes not yet due at tick.
func (ss *ScheduleSystem) Pending(tick int64) int {
	n := 0
	for _, c := range ss.changes {
		if c.Tick > tick {
			n++
		}
	}
	return n
}

// OnTimeTick emits the changes due this tick.
func (ss *ScheduleSystem) OnTimeTick(event events.SimEvent) {
	var payload events.TimeTickPayload
	if err := events.DecodePayload(event.Payload, &payload); err != nil {
		return
	}

	for _, c := range ss.changes {
		if c.Tick != payload.Tick {
			continue
		}
		eventType := events.EventTypeObstacleAdded
		if c.Action == ChangeClear {
			eventType = events.EventTypeObstacleCleared
		}
		ss.logger.Infof("SCHEDULE: %s at %s (tick %d)", c.Action, c.At, c.Tick)
		ss.eventLog.Append(events.New(eventType, events.ActorSchedule, "", payload.Tick,
			events.ObstaclePayload{At: c.At, Source: "schedule"}))
	}
}
