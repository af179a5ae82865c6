package events

import (
	"encoding/json"
	"fmt"

	"github.com/coasim/coasim/internal/domain/grid"
)

// TimeTickPayload is attached to every TIME_TICK event.
type TimeTickPayload struct {
	Tick int64 `json:"tick"`
}

// SpawnPayload announces a unit entering the simulation.
type SpawnPayload struct {
	Callsign  string     `json:"callsign"`
	Side      string     `json:"side"`
	Position  grid.Point `json:"position"`
	Objective grid.Point `json:"objective"`
}

// ObstaclePayload carries a terrain change or a sighting.
type ObstaclePayload struct {
	At     grid.Point `json:"at"`
	Source string     `json:"source,omitempty"` // schedule, operator, sensor
	Side   string     `json:"side,omitempty"`   // For sightings: whose map learned it
}

// PathPayload records a plan.
type PathPayload struct {
	Path     []grid.Point `json:"path"`
	Length   int          `json:"length"` // Number of moves
	Expanded int          `json:"expanded"`
	Reason   string       `json:"reason"`
}

// MovePayload records a single-cell move.
type MovePayload struct {
	From grid.Point `json:"from"`
	To   grid.Point `json:"to"`
}

// HoldPayload explains why a unit did not move.
type HoldPayload struct {
	At     grid.Point `json:"at"`
	Reason string     `json:"reason"`
}

// ArrivalPayload records a unit reaching its objective.
type ArrivalPayload struct {
	At      grid.Point `json:"at"`
	Moves   int        `json:"moves"`
	Replans int        `json:"replans"`
}

// ObjectivePayload retargets a unit.
type ObjectivePayload struct {
	Objective grid.Point `json:"objective"`
}

// RejectPayload explains why an order or terrain change was refused.
type RejectPayload struct {
	EventID string    `json:"event_id"` // The refused event
	Order   EventType `json:"order"`
	Reason  string    `json:"reason"`
}

// CompletePayload closes a scenario run.
type CompletePayload struct {
	Ticks   int64 `json:"ticks"`
	Units   int   `json:"units"`
	Replans int   `json:"replans"`
}

// DecodePayload converts a payload into out. It accepts both typed payloads
// and the generic maps produced by decoding persisted JSON.
func DecodePayload(raw any, out any) error {
	if raw == nil {
		return fmt.Errorf("decode payload: empty payload")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
