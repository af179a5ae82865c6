package engine

import (
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/platform/logger"
)

// CompletionSystem announces the end of a run once every unit has arrived.
// It fires at most once.
type CompletionSystem struct {
	eventLog *events.EventLog
	logger   *logger.Logger
	world    *World
	done     bool
}

// NewCompletionSystem creates a new completion watcher.
func NewCompletionSystem(eventLog *events.EventLog, log *logger.Logger, world *World) *CompletionSystem {
	return &CompletionSystem{
		eventLog: eventLog,
		logger:   log,
		world:    world,
	}
}

// Check emits SCENARIO_COMPLETE the first time all units are on their objectives.
func (cs *CompletionSystem) Check(tick int64) bool {
	if cs.done || !cs.world.AllArrived() {
		return cs.done
	}
	cs.done = true

	replans := 0
	for _, u := range cs.world.Units {
		replans += u.Replans
	}
	cs.logger.Infof("COMPLETE: all %d units arrived at tick %d (%d replans)", len(cs.world.Units), tick, replans)
	cs.eventLog.Append(events.New(events.EventTypeScenarioComplete, events.ActorSystem, "", tick,
		events.CompletePayload{Ticks: tick, Units: len(cs.world.Units), Replans: replans}))
	return true
}

// Done reports whether completion has been announced.
func (cs *CompletionSystem) Done() bool {
	return cs.done
}
