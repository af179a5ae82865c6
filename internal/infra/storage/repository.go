// Package storage provides the persistence layer for the simulation server.
// This package implements the repository pattern to keep the domain pure.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/events"
)

var ErrNotFound = errors.New("storage: not found")

// EventRecord mirrors the domain event structure for persistence.
type EventRecord struct {
	ID        string         `json:"id" db:"id"`
	RunID     string         `json:"run_id" db:"run_id"`
	Seq       int64          `json:"seq" db:"seq"` // Position in the run's log
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
	EventType string         `json:"event_type" db:"event_type"`
	ActorID   string         `json:"actor_id" db:"actor_id"`
	TargetID  string         `json:"target_id" db:"target_id"`
	Payload   map[string]any `json:"payload" db:"payload"`
	Tick      int64          `json:"tick" db:"tick"`
}

// RecordFromEvent flattens a domain event for storage.
func RecordFromEvent(runID string, seq int64, e events.SimEvent) (EventRecord, error) {
	rec := EventRecord{
		ID:        e.ID,
		RunID:     runID,
		Seq:       seq,
		Timestamp: e.Timestamp,
		EventType: string(e.Type),
		ActorID:   e.ActorID,
		TargetID:  e.TargetID,
		Tick:      e.Tick,
	}
	if e.Payload != nil {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return rec, fmt.Errorf("failed to marshal payload: %w", err)
		}
		if err := json.Unmarshal(b, &rec.Payload); err != nil {
			return rec, fmt.Errorf("payload of %s is not an object: %w", e.Type, err)
		}
	}
	return rec, nil
}

// Event converts the record back to a domain event. The payload stays a
// generic map; use events.DecodePayload to get a typed payload.
func (r EventRecord) Event() events.SimEvent {
	e := events.SimEvent{
		ID:        r.ID,
		Timestamp: r.Timestamp,
		Type:      events.EventType(r.EventType),
		ActorID:   r.ActorID,
		TargetID:  r.TargetID,
		Tick:      r.Tick,
	}
	if r.Payload != nil {
		e.Payload = r.Payload
	}
	return e
}

// EventRepository defines the interface for event persistence.
type EventRepository interface {
	// Append adds a new event to the immutable ledger.
	Append(ctx context.Context, event EventRecord) error

	// GetByRunID retrieves all events for a run, in log order.
	GetByRunID(ctx context.Context, runID string) ([]EventRecord, error)

	// GetByActorID retrieves all events performed by an actor.
	GetByActorID(ctx context.Context, runID, actorID string) ([]EventRecord, error)

	// GetByTick retrieves all events recorded during one tick.
	GetByTick(ctx context.Context, runID string, tick int64) ([]EventRecord, error)

	// GetByEventType retrieves all events of a specific type.
	GetByEventType(ctx context.Context, runID string, eventType string) ([]EventRecord, error)

	// LastOfType returns the most recent event of a type, or ErrNotFound.
	LastOfType(ctx context.Context, runID string, eventType string) (*EventRecord, error)
}

// UnitSnapshot is the latest known state of a unit for quick reads.
type UnitSnapshot struct {
	UnitID      string    `json:"unit_id" db:"unit_id"`
	RunID       string    `json:"run_id" db:"run_id"`
	Callsign    string    `json:"callsign" db:"callsign"`
	Side        string    `json:"side" db:"side"`
	X           int       `json:"x" db:"x"`
	Y           int       `json:"y" db:"y"`
	ObjectiveX  int       `json:"objective_x" db:"objective_x"`
	ObjectiveY  int       `json:"objective_y" db:"objective_y"`
	Status      string    `json:"status" db:"status"`
	Moves       int       `json:"moves" db:"moves"`
	Replans     int       `json:"replans" db:"replans"`
	Tick        int64     `json:"tick" db:"tick"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}

// SnapshotOf flattens a live unit for the snapshot repository.
func SnapshotOf(runID string, tick int64, u *unit.Unit) UnitSnapshot {
	return UnitSnapshot{
		UnitID:     u.ID,
		RunID:      runID,
		Callsign:   u.Callsign,
		Side:       string(u.Side),
		X:          u.Position.X,
		Y:          u.Position.Y,
		ObjectiveX: u.Objective.X,
		ObjectiveY: u.Objective.Y,
		Status:     string(u.Status),
		Moves:      u.Moves,
		Replans:    u.Replans,
		Tick:       tick,
	}
}

// SnapshotRepository defines the interface for unit state snapshots.
type SnapshotRepository interface {
	// Upsert updates or inserts a unit snapshot.
	Upsert(ctx context.Context, snapshot UnitSnapshot) error

	// GetByUnitID retrieves one unit's snapshot, or ErrNotFound.
	GetByUnitID(ctx context.Context, runID, unitID string) (*UnitSnapshot, error)

	// GetByRunID retrieves all snapshots for a run, ordered by unit ID.
	GetByRunID(ctx context.Context, runID string) ([]UnitSnapshot, error)
}

// Run is one execution of a scenario.
type Run struct {
	ID         string     `json:"id" db:"id"`
	Scenario   string     `json:"scenario" db:"scenario"`
	Map        string     `json:"map" db:"map"` // Initial terrain, for reconstruction
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Ticks      int64      `json:"ticks" db:"ticks"`
	Completed  bool       `json:"completed" db:"completed"`
}

// RunRepository records runs.
type RunRepository interface {
	Create(ctx context.Context, run Run) error
	Finish(ctx context.Context, runID string, ticks int64, completed bool) error
	Get(ctx context.Context, runID string) (*Run, error)
}
