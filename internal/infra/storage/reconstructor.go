// Package storage - reconstructor.go
// Rebuilds run state from the event log: state = f(events).
package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/engine"
	"github.com/coasim/coasim/internal/events"
)

// UnitState is a unit as seen through the event log.
type UnitState struct {
	ID        string      `json:"id"`
	Callsign  string      `json:"callsign"`
	Side      string      `json:"side"`
	Position  grid.Point  `json:"position"`
	Objective grid.Point  `json:"objective"`
	Status    unit.Status `json:"status"`
	Moves     int         `json:"moves"`
	Replans   int         `json:"replans"`
	Waits     int         `json:"waits"`

	planned bool
}

// RebuiltState is the world reconstructed from a run's events.
type RebuiltState struct {
	Grid     *grid.Grid
	Units    map[string]*UnitState
	Tick     int64
	Complete bool
	Rejected int // Events refused by the engine, skipped during the fold
}

// SortedUnits returns the units ordered by ID.
func (s *RebuiltState) SortedUnits() []*UnitState {
	out := make([]*UnitState, 0, len(s.Units))
	for _, u := range s.Units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UnitSnapshots flattens the state for the snapshot repository.
func (s *RebuiltState) UnitSnapshots(runID string) []UnitSnapshot {
	var snaps []UnitSnapshot
	for _, u := range s.SortedUnits() {
		snaps = append(snaps, UnitSnapshot{
			UnitID:     u.ID,
			RunID:      runID,
			Callsign:   u.Callsign,
			Side:       u.Side,
			X:          u.Position.X,
			Y:          u.Position.Y,
			ObjectiveX: u.Objective.X,
			ObjectiveY: u.Objective.Y,
			Status:     string(u.Status),
			Moves:      u.Moves,
			Replans:    u.Replans,
			Tick:       s.Tick,
		})
	}
	return snaps
}

// Snapshot presents the rebuilt state the way the engine reports a live world.
// Planned paths are not part of the log and come back empty.
func (s *RebuiltState) Snapshot() engine.Snapshot {
	g := s.Grid.Clone()
	sorted := s.SortedUnits()
	units := make([]*unit.Unit, len(sorted))
	for i, u := range sorted {
		units[i] = &unit.Unit{
			ID:          u.ID,
			Callsign:    u.Callsign,
			Side:        unit.Side(u.Side),
			Position:    u.Position,
			Objective:   u.Objective,
			Status:      u.Status,
			SensorRange: unit.DefaultSensorRange,
			Waits:       u.Waits,
			Replans:     u.Replans,
			Moves:       u.Moves,
			Planned:     u.planned,
		}
	}
	return engine.Snapshot{
		Tick:     s.Tick,
		Width:    g.Width(),
		Height:   g.Height(),
		Rows:     g.Rows(),
		Units:    units,
		Complete: s.Complete,
		Grid:     g,
	}
}

// Replay folds events over the initial terrain. Events that the engine
// refused (referenced by an ORDER_REJECTED) are skipped, so the result
// matches what the engine applied. initial is not modified.
func Replay(evs []events.SimEvent, initial *grid.Grid) (*RebuiltState, error) {
	if initial == nil {
		return nil, fmt.Errorf("replay: nil initial grid")
	}

	refused := make(map[string]bool)
	for _, e := range evs {
		if e.Type != events.EventTypeOrderRejected {
			continue
		}
		var p events.RejectPayload
		if err := events.DecodePayload(e.Payload, &p); err == nil && p.EventID != "" {
			refused[p.EventID] = true
		}
	}

	state := &RebuiltState{
		Grid:  initial.Clone(),
		Units: make(map[string]*UnitState),
	}
	for _, e := range evs {
		if refused[e.ID] {
			state.Rejected++
			continue
		}
		if err := state.apply(e); err != nil {
			return nil, fmt.Errorf("replay %s %s: %w", e.Type, e.ID, err)
		}
	}
	return state, nil
}

func (s *RebuiltState) apply(e events.SimEvent) error {
	if e.Tick > s.Tick {
		s.Tick = e.Tick
	}

	switch e.Type {
	case events.EventTypeUnitSpawned:
		var p events.SpawnPayload
		if err := events.DecodePayload(e.Payload, &p); err != nil {
			return err
		}
		u := &UnitState{
			ID:        e.ActorID,
			Callsign:  p.Callsign,
			Side:      p.Side,
			Position:  p.Position,
			Objective: p.Objective,
			Status:    unit.StatusIdle,
		}
		if u.Position == u.Objective {
			u.Status = unit.StatusArrived
		}
		// A resumed run spawns its units again; their history carries over.
		if prev, ok := s.Units[u.ID]; ok {
			u.Moves, u.Replans, u.planned = prev.Moves, prev.Replans, prev.planned
		}
		s.Units[u.ID] = u

	case events.EventTypeObstacleAdded, events.EventTypeObstacleCleared:
		var p events.ObstaclePayload
		if err := events.DecodePayload(e.Payload, &p); err != nil {
			return err
		}
		if e.Type == events.EventTypeObstacleAdded {
			_ = s.Grid.Block(p.At)
		} else {
			_ = s.Grid.Clear(p.At)
		}

	case events.EventTypePathPlanned, events.EventTypePathReplanned:
		u := s.Units[e.ActorID]
		if u == nil {
			return nil
		}
		if u.planned {
			u.Replans++
		}
		u.planned = true
		if u.Position != u.Objective {
			u.Status = unit.StatusMoving
		}

	case events.EventTypeUnitMoved:
		u := s.Units[e.ActorID]
		if u == nil {
			return nil
		}
		var p events.MovePayload
		if err := events.DecodePayload(e.Payload, &p); err != nil {
			return err
		}
		u.Position = p.To
		u.Moves++
		u.Waits = 0
		if u.Position == u.Objective {
			u.Status = unit.StatusArrived
		} else {
			u.Status = unit.StatusMoving
		}

	case events.EventTypeUnitHolding:
		if u := s.Units[e.ActorID]; u != nil {
			u.Waits++
			u.Status = unit.StatusHolding
		}

	case events.EventTypeUnitBlocked:
		if u := s.Units[e.ActorID]; u != nil {
			u.Status = unit.StatusBlocked
		}

	case events.EventTypeUnitArrived:
		if u := s.Units[e.ActorID]; u != nil {
			u.Status = unit.StatusArrived
		}

	case events.EventTypeObjectiveChanged:
		u := s.Units[e.TargetID]
		if u == nil {
			return nil
		}
		var p events.ObjectivePayload
		if err := events.DecodePayload(e.Payload, &p); err != nil {
			return err
		}
		u.Objective = p.Objective
		if u.Position == u.Objective {
			u.Status = unit.StatusArrived
		} else {
			u.Status = unit.StatusIdle
		}

	case events.EventTypeScenarioComplete:
		s.Complete = true
	}
	return nil
}

// Reconstructor rebuilds run state from stored events.
// This is used for:
// 1. The recap shown when an operator reconnects
// 2. Snapshot rebuilding after a restart
// 3. Auditing and debugging
type Reconstructor struct {
	eventRepo EventRepository
	runRepo   RunRepository
}

// NewReconstructor creates a new state reconstructor.
func NewReconstructor(eventRepo EventRepository, runRepo RunRepository) *Reconstructor {
	return &Reconstructor{eventRepo: eventRepo, runRepo: runRepo}
}

// RecapEvent is a simplified event for the recap view.
type RecapEvent struct {
	Tick      int64  `json:"tick"`
	EventType string `json:"event_type"`
	Summary   string `json:"summary"` // Human-readable description
	Impact    string `json:"impact"`  // "PROGRESS", "SETBACK", "NEUTRAL"
}

// RebuildRun reconstructs the whole run from its stored events.
func (r *Reconstructor) RebuildRun(ctx context.Context, runID string) (*RebuiltState, error) {
	run, err := r.runRepo.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	initial, err := grid.Parse(run.Map)
	if err != nil {
		return nil, fmt.Errorf("run %s map: %w", runID, err)
	}
	records, err := r.eventRepo.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}
	evs := make([]events.SimEvent, len(records))
	for i, rec := range records {
		evs[i] = rec.Event()
	}
	return Replay(evs, initial)
}

// RebuildUnitState reconstructs one unit's current state.
func (r *Reconstructor) RebuildUnitState(ctx context.Context, runID, unitID string) (*UnitState, error) {
	state, err := r.RebuildRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	u, ok := state.Units[unitID]
	if !ok {
		return nil, fmt.Errorf("unit %s in run %s: %w", unitID, runID, ErrNotFound)
	}
	return u, nil
}

// GenerateRecap lists what happened to a unit from sinceTick onwards,
// including terrain changes that affect everyone.
func (r *Reconstructor) GenerateRecap(ctx context.Context, runID, unitID string, sinceTick int64) ([]RecapEvent, error) {
	records, err := r.eventRepo.GetByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	return Recap(records, unitID, sinceTick), nil
}

// Recap filters and summarises records for one unit.
func Recap(records []EventRecord, unitID string, sinceTick int64) []RecapEvent {
	evs := make([]events.SimEvent, len(records))
	for i, rec := range records {
		evs[i] = rec.Event()
	}
	return RecapEvents(evs, unitID, sinceTick)
}

// RecapEvents is Recap over in-memory events.
func RecapEvents(evs []events.SimEvent, unitID string, sinceTick int64) []RecapEvent {
	var recap []RecapEvent
	for _, e := range evs {
		if e.Tick < sinceTick || !relevant(e, unitID) {
			continue
		}
		summary, impact := Describe(e)
		recap = append(recap, RecapEvent{
			Tick:      e.Tick,
			EventType: string(e.Type),
			Summary:   summary,
			Impact:    impact,
		})
	}
	return recap
}

func relevant(e events.SimEvent, unitID string) bool {
	switch e.Type {
	case events.EventTypeTimeTick:
		return false
	case events.EventTypeObstacleAdded, events.EventTypeObstacleCleared, events.EventTypeScenarioComplete:
		return true
	}
	return e.ActorID == unitID || e.TargetID == unitID
}

// Describe returns a one-line summary of an event and its impact on the
// course of action.
func Describe(e events.SimEvent) (summary, impact string) {
	return summarizeEvent(e), determineImpact(string(e.Type))
}

// summarizeEvent creates a human-readable summary.
func summarizeEvent(e events.SimEvent) string {
	switch e.Type {
	case events.EventTypeUnitSpawned:
		var p events.SpawnPayload
		_ = events.DecodePayload(e.Payload, &p)
		return fmt.Sprintf("%s deployed at %s, objective %s.", e.ActorID, p.Position, p.Objective)
	case events.EventTypeObstacleAdded, events.EventTypeObstacleCleared, events.EventTypeObstacleSpotted:
		var p events.ObstaclePayload
		_ = events.DecodePayload(e.Payload, &p)
		switch e.Type {
		case events.EventTypeObstacleAdded:
			return fmt.Sprintf("Obstacle appeared at %s.", p.At)
		case events.EventTypeObstacleCleared:
			return fmt.Sprintf("Obstacle at %s was cleared.", p.At)
		}
		if p.Source == "sensor:cleared" {
			return fmt.Sprintf("%s saw that %s is open.", e.ActorID, p.At)
		}
		return fmt.Sprintf("%s spotted an obstacle at %s.", e.ActorID, p.At)
	case events.EventTypePathPlanned, events.EventTypePathReplanned:
		var p events.PathPayload
		_ = events.DecodePayload(e.Payload, &p)
		verb := "planned"
		if e.Type == events.EventTypePathReplanned {
			verb = "re-planned"
		}
		return fmt.Sprintf("%s %s a %d-step route (%s).", e.ActorID, verb, p.Length, p.Reason)
	case events.EventTypeUnitMoved:
		var p events.MovePayload
		_ = events.DecodePayload(e.Payload, &p)
		return fmt.Sprintf("%s moved %s -> %s.", e.ActorID, p.From, p.To)
	case events.EventTypeUnitHolding:
		return fmt.Sprintf("%s held position.", e.ActorID)
	case events.EventTypeUnitBlocked:
		return fmt.Sprintf("%s has no known route to its objective.", e.ActorID)
	case events.EventTypeUnitArrived:
		return fmt.Sprintf("%s reached its objective.", e.ActorID)
	case events.EventTypeObjectiveChanged:
		var p events.ObjectivePayload
		_ = events.DecodePayload(e.Payload, &p)
		return fmt.Sprintf("%s was ordered to %s.", e.TargetID, p.Objective)
	case events.EventTypeOrderRejected:
		var p events.RejectPayload
		_ = events.DecodePayload(e.Payload, &p)
		return fmt.Sprintf("%s refused: %s.", p.Order, p.Reason)
	case events.EventTypeScenarioComplete:
		return "All units reached their objectives."
	default:
		return string(e.Type)
	}
}

// determineImpact classifies the event impact.
func determineImpact(eventType string) string {
	switch events.EventType(eventType) {
	case events.EventTypeUnitMoved, events.EventTypeUnitArrived, events.EventTypeScenarioComplete,
		events.EventTypeObstacleCleared:
		return "PROGRESS"
	case events.EventTypeObstacleAdded, events.EventTypeUnitBlocked, events.EventTypeOrderRejected,
		events.EventTypeUnitHolding:
		return "SETBACK"
	default:
		return "NEUTRAL"
	}
}
