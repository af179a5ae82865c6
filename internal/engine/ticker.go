package engine

import (
	"context"
	"time"

	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/platform/logger"
)

// DefaultTickInterval is how often the world advances in real time.
const DefaultTickInterval = 500 * time.Millisecond

// Ticker manages the simulation clock.
// It does NOT know about units or terrain - only time progression.
// Tick and SetTick are called with the engine lock held.
type Ticker struct {
	eventLog   *events.EventLog
	logger     *logger.Logger
	interval   time.Duration
	tickNumber int64
	stopChan   chan struct{}
}

// NewTicker creates a new simulation ticker.
func NewTicker(eventLog *events.EventLog, log *logger.Logger, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Ticker{
		eventLog: eventLog,
		logger:   log,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start paces the simulation, calling onTick once per interval. Call in a goroutine.
func (t *Ticker) Start(ctx context.Context, onTick func(context.Context)) {
	t.logger.Infof("Ticker started (interval %s).", t.interval)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Ticker stopped by context.")
			return
		case <-t.stopChan:
			t.logger.Info("Ticker stopped manually.")
			return
		case <-ticker.C:
			onTick(ctx)
		}
	}
}

// Stop gracefully stops the ticker.
func (t *Ticker) Stop() {
	close(t.stopChan)
}

// Tick advances the clock by one and emits the TIME_TICK event.
func (t *Ticker) Tick() events.TimeTickPayload {
	t.tickNumber++
	payload := events.TimeTickPayload{Tick: t.tickNumber}
	t.eventLog.Append(events.New(events.EventTypeTimeTick, events.ActorSystem, "", t.tickNumber, payload))
	return payload
}

// SetTick restores the clock, e.g. after loading persisted state.
func (t *Ticker) SetTick(n int64) {
	t.tickNumber = n
}

// CurrentTick returns the last emitted tick.
func (t *Ticker) CurrentTick() int64 {
	return t.tickNumber
}
