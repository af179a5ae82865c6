package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/platform/logger"
	"github.com/coasim/coasim/internal/platform/metrics"
)

var (
	ErrDuplicateUnit = errors.New("engine: duplicate unit id")
	ErrBadPlacement  = errors.New("engine: unit placed on an impassable cell")
)

// Controller decides what units do. Controllers run after the systems have
// reacted to TIME_TICK and only act by appending events.
type Controller interface {
	OnTimeTick(ctx context.Context, tick int64, w *World)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records tick and arrival metrics on m instead of the global collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTickInterval sets the real-time pace used by Start.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithSchedule scripts terrain changes.
func WithSchedule(changes []TerrainChange) Option {
	return func(e *Engine) { e.schedule = changes }
}

// Engine is the central orchestrator that wires the event log to the world.
type Engine struct {
	mu       sync.Mutex
	eventLog *events.EventLog
	logger   *logger.Logger
	metrics  *metrics.Collector
	ticker   *Ticker
	interval time.Duration
	schedule []TerrainChange

	// Sub-systems
	scheduleSystem   *ScheduleSystem
	terrainSystem    *TerrainSystem
	movementSystem   *MovementSystem
	completionSystem *CompletionSystem

	controllers []Controller
	tickHooks   []func(Snapshot)

	// State
	world              *World
	lastProcessedEvent int
}

// NewEngine initializes the world and its systems over the terrain g.
func NewEngine(eventLog *events.EventLog, log *logger.Logger, g *grid.Grid, opts ...Option) *Engine {
	e := &Engine{
		eventLog: eventLog,
		logger:   log,
		metrics:  metrics.Get(),
		interval: DefaultTickInterval,
		world:    NewWorld(g),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.ticker = NewTicker(eventLog, log, e.interval)
	e.scheduleSystem = NewScheduleSystem(eventLog, log, e.schedule)
	e.terrainSystem = NewTerrainSystem(eventLog, log, e.world)
	e.movementSystem = NewMovementSystem(eventLog, log, e.metrics, e.world)
	e.completionSystem = NewCompletionSystem(eventLog, log, e.world)
	e.world.sync = e.drain
	e.lastProcessedEvent = eventLog.Len()

	return e
}

// AddController attaches a unit controller. Controllers run in attach order.
func (e *Engine) AddController(c Controller) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.controllers = append(e.controllers, c)
}

// OnTick registers a callback that receives a snapshot after every tick.
// Callbacks run outside the engine lock.
func (e *Engine) OnTick(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickHooks = append(e.tickHooks, fn)
}

// RegisterUnit adds a unit to the world and announces it.
func (e *Engine) RegisterUnit(u *unit.Unit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.world.Units[u.ID]; exists {
		return fmt.Errorf("register %s: %w", u.ID, ErrDuplicateUnit)
	}
	if !e.world.Grid.Passable(u.Position) {
		return fmt.Errorf("register %s at %s: %w", u.ID, u.Position, ErrBadPlacement)
	}
	if !e.world.Grid.Passable(u.Objective) {
		return fmt.Errorf("register %s objective %s: %w", u.ID, u.Objective, ErrBadPlacement)
	}
	if other, ok := e.world.UnitAt(u.Position); ok {
		return fmt.Errorf("register %s at %s, held by %s: %w", u.ID, u.Position, other.ID, ErrBadPlacement)
	}

	e.world.Units[u.ID] = u
	e.eventLog.Append(events.New(events.EventTypeUnitSpawned, u.ID, "", e.ticker.CurrentTick(), events.SpawnPayload{
		Callsign:  u.Callsign,
		Side:      string(u.Side),
		Position:  u.Position,
		Objective: u.Objective,
	}))
	e.drain()
	e.logger.Info("Unit registered with engine: " + u.ID)
	return nil
}

// Start spawns the real-time ticker and the operator event loop.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Starting simulation engine...")

	go e.ticker.Start(ctx, func(ctx context.Context) {
		if _, err := e.Step(ctx); err != nil {
			e.logger.Errorf("Tick failed: %v", err)
		}
	})

	go e.processEvents(ctx)
}

// Stop halts the real-time ticker.
func (e *Engine) Stop() {
	e.ticker.Stop()
}

// Step advances the simulation by one tick: systems react to TIME_TICK,
// controllers decide, and every event produced is applied in log order.
// Step is deterministic for a given world, schedule and controller set.
func (e *Engine) Step(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	start := time.Now()

	tick := e.ticker.Tick().Tick
	e.drain()

	for _, c := range e.controllers {
		c.OnTimeTick(ctx, tick, e.world)
		e.drain()
	}

	if e.completionSystem.Check(tick) {
		e.drain()
	}

	snap := e.world.snapshot(tick, e.completionSystem.Done())
	hooks := append([]func(Snapshot){}, e.tickHooks...)
	e.metrics.RecordTick(time.Since(start))
	e.mu.Unlock()

	for _, fn := range hooks {
		fn(snap)
	}
	return snap, ctx.Err()
}

// processEvents applies operator events that arrive between ticks.
func (e *Engine) processEvents(ctx context.Context) {
	pollInterval := time.NewTicker(100 * time.Millisecond)
	defer pollInterval.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("EventProcessor stopped.")
			return
		case <-pollInterval.C:
			e.mu.Lock()
			e.drain()
			e.mu.Unlock()
		}
	}
}

// drain dispatches events until the log stops growing. Caller holds e.mu.
func (e *Engine) drain() {
	for {
		pending := e.eventLog.Since(e.lastProcessedEvent)
		if len(pending) == 0 {
			return
		}
		e.lastProcessedEvent += len(pending)
		for _, event := range pending {
			e.dispatch(event)
		}
	}
}

// dispatch routes events to the appropriate sub-systems.
func (e *Engine) dispatch(event events.SimEvent) {
	switch event.Type {
	case events.EventTypeTimeTick:
		e.scheduleSystem.OnTimeTick(event)
	case events.EventTypeObstacleAdded:
		e.terrainSystem.OnObstacleAdded(event)
	case events.EventTypeObstacleCleared:
		e.terrainSystem.OnObstacleCleared(event)
	case events.EventTypePathPlanned, events.EventTypePathReplanned:
		e.movementSystem.OnPathPlanned(event)
	case events.EventTypeUnitMoved:
		e.movementSystem.OnUnitMoved(event)
	case events.EventTypeUnitHolding:
		e.movementSystem.OnUnitHolding(event)
	case events.EventTypeUnitBlocked:
		e.movementSystem.OnUnitBlocked(event)
	case events.EventTypeObjectiveChanged:
		e.movementSystem.OnObjectiveChanged(event)
	}
}

// Apply runs fn against the live world under the engine lock, then applies
// any events fn appended. Used for out-of-band commands like forced plans.
func (e *Engine) Apply(fn func(w *World, tick int64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.world, e.ticker.CurrentTick())
	e.drain()
}

// Snapshot returns a deep copy of the current world.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.world.snapshot(e.ticker.CurrentTick(), e.completionSystem.Done())
}

// CurrentTick returns the last completed tick.
func (e *Engine) CurrentTick() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticker.CurrentTick()
}

// Done reports whether every unit has arrived.
func (e *Engine) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completionSystem.Done()
}

// PendingChanges returns how many scheduled terrain changes are still to come.
func (e *Engine) PendingChanges() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduleSystem.Pending(e.ticker.CurrentTick())
}

// OverrideTick lets bootstrapping code restore the clock directly.
func (e *Engine) OverrideTick(tick int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticker.SetTick(tick)
}

// EventLog exposes the log so clients can inject operator events.
func (e *Engine) EventLog() *events.EventLog {
	return e.eventLog
}
