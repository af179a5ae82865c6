package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/platform/metrics"
)

// SQLiteEventRepository implements EventRepository for SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

const eventColumns = `id, run_id, seq, timestamp, event_type, actor_id, target_id, payload, tick`

func (r *SQLiteEventRepository) Append(ctx context.Context, event EventRecord) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `INSERT INTO events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.RunID, event.Seq, event.Timestamp, event.EventType, event.ActorID,
		event.TargetID, string(payloadBytes), event.Tick,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) getMany(ctx context.Context, where string, args ...any) ([]EventRecord, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + where + ` ORDER BY seq ASC`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, e)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (EventRecord, error) {
	var e EventRecord
	var payloadStr string
	err := s.Scan(
		&e.ID, &e.RunID, &e.Seq, &e.Timestamp, &e.EventType, &e.ActorID,
		&e.TargetID, &payloadStr, &e.Tick,
	)
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(payloadStr), &e.Payload); err != nil {
		return e, fmt.Errorf("event %s payload: %w", e.ID, err)
	}
	return e, nil
}

func (r *SQLiteEventRepository) GetByRunID(ctx context.Context, runID string) ([]EventRecord, error) {
	return r.getMany(ctx, `run_id = ?`, runID)
}

func (r *SQLiteEventRepository) GetByActorID(ctx context.Context, runID, actorID string) ([]EventRecord, error) {
	return r.getMany(ctx, `run_id = ? AND actor_id = ?`, runID, actorID)
}

func (r *SQLiteEventRepository) GetByTick(ctx context.Context, runID string, tick int64) ([]EventRecord, error) {
	return r.getMany(ctx, `run_id = ? AND tick = ?`, runID, tick)
}

func (r *SQLiteEventRepository) GetByEventType(ctx context.Context, runID string, eventType string) ([]EventRecord, error) {
	return r.getMany(ctx, `run_id = ? AND event_type = ?`, runID, eventType)
}

func (r *SQLiteEventRepository) LastOfType(ctx context.Context, runID string, eventType string) (*EventRecord, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE run_id = ? AND event_type = ? ORDER BY seq DESC LIMIT 1`
	e, err := scanEvent(r.db.QueryRowContext(ctx, query, runID, eventType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("last %s in run %s: %w", eventType, runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// EventPersister writes a run's events through to an EventRepository.
// It implements events.EventPersister; the event log calls it from a single
// goroutine, so sequence numbers follow log order.
type EventPersister struct {
	repo    EventRepository
	runID   string
	seq     int64
	metrics *metrics.Collector
	timeout time.Duration
}

// NewEventPersister creates a persister for one run. m may be nil.
func NewEventPersister(repo EventRepository, runID string, m *metrics.Collector) *EventPersister {
	return &EventPersister{repo: repo, runID: runID, metrics: m, timeout: 5 * time.Second}
}

// ContinueFrom numbers the next event seq+1, for a resumed run.
func (p *EventPersister) ContinueFrom(seq int64) {
	atomic.StoreInt64(&p.seq, seq)
}

// Append implements events.EventPersister.
func (p *EventPersister) Append(e events.SimEvent) error {
	seq := atomic.AddInt64(&p.seq, 1)
	rec, err := RecordFromEvent(p.runID, seq, e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	err = p.repo.Append(ctx, rec)
	if p.metrics != nil {
		p.metrics.RecordEventWrite(time.Since(start), err)
	}
	return err
}

// ---------------------------------------------------------
// SQLiteSnapshotRepository
// ---------------------------------------------------------

type SQLiteSnapshotRepository struct {
	db *sql.DB
}

func NewSQLiteSnapshotRepository(db *sql.DB) *SQLiteSnapshotRepository {
	return &SQLiteSnapshotRepository{db: db}
}

const unitColumns = `unit_id, run_id, callsign, side, x, y, objective_x, objective_y, status, moves, replans, tick, last_updated`

func (r *SQLiteSnapshotRepository) Upsert(ctx context.Context, s UnitSnapshot) error {
	if s.LastUpdated.IsZero() {
		s.LastUpdated = time.Now()
	}
	query := `
		INSERT INTO units (` + unitColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, unit_id) DO UPDATE SET
			callsign=excluded.callsign,
			side=excluded.side,
			x=excluded.x,
			y=excluded.y,
			objective_x=excluded.objective_x,
			objective_y=excluded.objective_y,
			status=excluded.status,
			moves=excluded.moves,
			replans=excluded.replans,
			tick=excluded.tick,
			last_updated=excluded.last_updated
	`
	_, err := r.db.ExecContext(ctx, query,
		s.UnitID, s.RunID, s.Callsign, s.Side, s.X, s.Y, s.ObjectiveX, s.ObjectiveY,
		s.Status, s.Moves, s.Replans, s.Tick, s.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert unit %s: %w", s.UnitID, err)
	}
	return nil
}

func scanUnit(s scanner) (UnitSnapshot, error) {
	var u UnitSnapshot
	err := s.Scan(&u.UnitID, &u.RunID, &u.Callsign, &u.Side, &u.X, &u.Y, &u.ObjectiveX, &u.ObjectiveY,
		&u.Status, &u.Moves, &u.Replans, &u.Tick, &u.LastUpdated)
	return u, err
}

func (r *SQLiteSnapshotRepository) GetByUnitID(ctx context.Context, runID, unitID string) (*UnitSnapshot, error) {
	query := `SELECT ` + unitColumns + ` FROM units WHERE run_id = ? AND unit_id = ?`
	u, err := scanUnit(r.db.QueryRowContext(ctx, query, runID, unitID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unit %s in run %s: %w", unitID, runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *SQLiteSnapshotRepository) GetByRunID(ctx context.Context, runID string) ([]UnitSnapshot, error) {
	query := `SELECT ` + unitColumns + ` FROM units WHERE run_id = ? ORDER BY unit_id ASC`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []UnitSnapshot
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, u)
	}
	return snaps, rows.Err()
}

// ---------------------------------------------------------
// SQLiteRunRepository
// ---------------------------------------------------------

type SQLiteRunRepository struct {
	db *sql.DB
}

func NewSQLiteRunRepository(db *sql.DB) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

func (r *SQLiteRunRepository) Create(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, scenario, map, started_at, ticks, completed) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scenario, run.Map, run.StartedAt, run.Ticks, run.Completed,
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

func (r *SQLiteRunRepository) Finish(ctx context.Context, runID string, ticks int64, completed bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, ticks = ?, completed = ? WHERE id = ?`,
		time.Now(), ticks, completed, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRunRepository) Get(ctx context.Context, runID string) (*Run, error) {
	var run Run
	var finished sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, scenario, map, started_at, finished_at, ticks, completed FROM runs WHERE id = ?`, runID,
	).Scan(&run.ID, &run.Scenario, &run.Map, &run.StartedAt, &finished, &run.Ticks, &run.Completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}
