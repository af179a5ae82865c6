// Package events provides the Event Sourcing system for the simulation.
// Every state change is recorded here first; engine systems react to it.
package events

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of a simulation event.
type EventType string

const (
	EventTypeTimeTick         EventType = "TIME_TICK"
	EventTypeUnitSpawned      EventType = "UNIT_SPAWNED"
	EventTypeObstacleAdded    EventType = "OBSTACLE_ADDED"
	EventTypeObstacleCleared  EventType = "OBSTACLE_CLEARED"
	EventTypeObstacleSpotted  EventType = "OBSTACLE_SPOTTED"
	EventTypePathPlanned      EventType = "PATH_PLANNED"
	EventTypePathReplanned    EventType = "PATH_REPLANNED"
	EventTypeUnitMoved        EventType = "UNIT_MOVED"
	EventTypeUnitHolding      EventType = "UNIT_HOLDING"
	EventTypeUnitBlocked      EventType = "UNIT_BLOCKED"
	EventTypeUnitArrived      EventType = "UNIT_ARRIVED"
	EventTypeObjectiveChanged EventType = "OBJECTIVE_CHANGED"
	EventTypeOrderRejected    EventType = "ORDER_REJECTED"
	EventTypeScenarioComplete EventType = "SCENARIO_COMPLETE"
)

// Well-known actor IDs for events not caused by a unit.
const (
	ActorSystem   = "SYSTEM_CLOCK"
	ActorTerrain  = "SYSTEM_TERRAIN"
	ActorSchedule = "SYSTEM_SCHEDULE"
	ActorOperator = "OPERATOR"
)

// SimEvent represents an immutable record of something that happened.
type SimEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	ActorID   string    `json:"actor_id"`            // Who performed the action
	TargetID  string    `json:"target_id,omitempty"` // Who was affected (optional)
	Payload   any       `json:"payload,omitempty"`   // Event-specific data
	Tick      int64     `json:"tick"`
}

// New stamps an event with a fresh ID and the current time.
func New(eventType EventType, actorID, targetID string, tick int64, payload any) SimEvent {
	return SimEvent{
		ID:        GenerateEventID(),
		Timestamp: time.Now(),
		Type:      eventType,
		ActorID:   actorID,
		TargetID:  targetID,
		Payload:   payload,
		Tick:      tick,
	}
}

// EventPersister defines how an event is durably stored.
type EventPersister interface {
	Append(event SimEvent) error
}

// MultiPersister writes every event to each persister in turn.
type MultiPersister []EventPersister

func (m MultiPersister) Append(event SimEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Append(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EventLog is the in-memory append-only log of simulation events.
type EventLog struct {
	mu        sync.RWMutex
	events    []SimEvent
	persister EventPersister
	onError   func(SimEvent, error)

	queue   chan SimEvent
	once    sync.Once
	pending sync.WaitGroup
	closed  bool
}

// persistQueueSize bounds how far persistence may lag behind the log.
const persistQueueSize = 1024

// NewEventLog creates a new event log with an optional persister.
func NewEventLog(persister EventPersister) *EventLog {
	return &EventLog{
		events:    make([]SimEvent, 0),
		persister: persister,
	}
}

// OnPersistError registers a callback for write-through failures.
func (el *EventLog) OnPersistError(fn func(SimEvent, error)) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.onError = fn
}

// Append adds a new event to the log. Events are immutable once appended.
func (el *EventLog) Append(event SimEvent) {
	if event.ID == "" {
		event.ID = GenerateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	el.mu.Lock()
	el.events = append(el.events, event)
	persist := el.persister != nil && !el.closed
	if persist {
		el.pending.Add(1)
	}
	el.mu.Unlock()

	if !persist {
		return
	}
	el.once.Do(el.startWriter)
	el.queue <- event
}

// startWriter runs a single background writer so persisted order matches log order.
func (el *EventLog) startWriter() {
	el.queue = make(chan SimEvent, persistQueueSize)
	go func() {
		for e := range el.queue {
			if err := el.persister.Append(e); err != nil {
				el.mu.RLock()
				onError := el.onError
				el.mu.RUnlock()
				if onError != nil {
					onError(e, err)
				}
			}
			el.pending.Done()
		}
	}()
}

// Flush waits for pending persister writes.
func (el *EventLog) Flush() {
	el.pending.Wait()
}

// Close flushes pending writes and stops the background writer.
// Events appended afterwards are kept in memory only.
func (el *EventLog) Close() {
	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return
	}
	el.closed = true
	el.mu.Unlock()

	el.Flush()
	el.once.Do(func() {})
	if el.queue != nil {
		close(el.queue)
	}
}

// Len returns the number of events in the log.
func (el *EventLog) Len() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.events)
}

// Since returns a copy of the events from offset onwards.
func (el *EventLog) Since(offset int) []SimEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(el.events) {
		return nil
	}
	return append([]SimEvent(nil), el.events[offset:]...)
}

// GetByActor returns all events performed by a specific actor.
func (el *EventLog) GetByActor(actorID string) []SimEvent {
	return el.filter(func(e SimEvent) bool { return e.ActorID == actorID })
}

// GetByTick returns all events recorded during a tick.
func (el *EventLog) GetByTick(tick int64) []SimEvent {
	return el.filter(func(e SimEvent) bool { return e.Tick == tick })
}

// GetByType returns all events of one type.
func (el *EventLog) GetByType(eventType EventType) []SimEvent {
	return el.filter(func(e SimEvent) bool { return e.Type == eventType })
}

func (el *EventLog) filter(keep func(SimEvent) bool) []SimEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []SimEvent
	for _, e := range el.events {
		if keep(e) {
			result = append(result, e)
		}
	}
	return result
}

// Replay returns the full history of events for state reconstruction.
func (el *EventLog) Replay() []SimEvent {
	return el.Since(0)
}

// GenerateEventID creates a unique event identifier.
func GenerateEventID() string {
	return uuid.NewString()
}
