// Package harness runs scenarios headlessly and checks their expectations.
package harness

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/coasim/coasim/internal/agents"
	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/engine"
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/platform/logger"
	"github.com/coasim/coasim/internal/platform/metrics"
	"github.com/coasim/coasim/internal/scenario"
)

// Options wire optional infrastructure into a run.
type Options struct {
	Persister events.EventPersister // Nil keeps events in memory only
	Metrics   *metrics.Collector    // Nil gives each run a private collector
	Agents    agents.Config

	TickInterval time.Duration // Real-time pace for Engine.Start; zero keeps the engine default
	Restore      *Restore      // Nil starts the scenario from its initial state
}

// Restore is a saved world to continue a run from.
type Restore struct {
	Grid  *grid.Grid
	Units []*unit.Unit
	Tick  int64
}

// Sim is a fully wired simulation for one scenario.
type Sim struct {
	Scenario  *scenario.Scenario
	EventLog  *events.EventLog
	Engine    *engine.Engine
	Commander *agents.Commander
	Metrics   *metrics.Collector
}

// Build wires event log, engine and commander for a scenario.
func Build(scn *scenario.Scenario, log *logger.Logger, opts Options) (*Sim, error) {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewCollector()
	}
	el := events.NewEventLog(opts.Persister)
	g := scn.Grid()
	units := scn.Units()
	if opts.Restore != nil {
		g = opts.Restore.Grid.Clone()
		units = opts.Restore.Units
	}

	engOpts := []engine.Option{engine.WithMetrics(m), engine.WithSchedule(scn.Schedule())}
	if opts.TickInterval > 0 {
		engOpts = append(engOpts, engine.WithTickInterval(opts.TickInterval))
	}
	eng := engine.NewEngine(el, log, g, engOpts...)
	// Sides start from the published map, not from ground truth.
	cmd := agents.NewCommander(el, scn.Grid(), log, m, opts.Agents)
	eng.AddController(cmd)

	if opts.Restore != nil {
		eng.OverrideTick(opts.Restore.Tick)
	}
	for _, u := range units {
		if err := eng.RegisterUnit(u); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scn.Name, err)
		}
	}
	return &Sim{Scenario: scn, EventLog: el, Engine: eng, Commander: cmd, Metrics: m}, nil
}

// Result captures the outcome of one expectation.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// Report summarises a run.
type Report struct {
	Scenario  string          `json:"scenario"`
	Ticks     int64           `json:"ticks"`
	Completed bool            `json:"completed"`
	Stalled   bool            `json:"stalled"` // Every unit left is blocked and no terrain change is coming
	Replans   int             `json:"replans"`
	Events    int             `json:"events"`
	Results   []Result        `json:"results"`
	Final     engine.Snapshot `json:"final"`
}

// Passed reports whether every expectation held.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Print writes a human-readable summary.
func (r *Report) Print(w io.Writer) {
	status := "PASS"
	if !r.Passed() {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s: %d ticks, %d replans, %d events\n", status, r.Scenario, r.Ticks, r.Replans, r.Events)
	for _, res := range r.Results {
		mark := "ok  "
		if !res.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "   [%s] %-14s %s\n", mark, res.Name, res.Reason)
	}
}

// Runner executes scenarios.
type Runner struct {
	logger *logger.Logger
	opts   Options
}

// NewRunner creates a runner. Every run gets its own event log and engine.
func NewRunner(log *logger.Logger, opts Options) *Runner {
	return &Runner{logger: log, opts: opts}
}

// Run steps the scenario until it completes, stalls or reaches max_ticks,
// then checks its expectations.
func (r *Runner) Run(ctx context.Context, scn *scenario.Scenario) (*Report, error) {
	sim, err := Build(scn, r.logger, r.opts)
	if err != nil {
		return nil, err
	}
	return sim.Run(ctx)
}

// Run drives an already built simulation.
func (s *Sim) Run(ctx context.Context) (*Report, error) {
	rep := &Report{Scenario: s.Scenario.Name}
	inv := &invariants{}

	snap := s.Engine.Snapshot()
	for snap.Tick < s.Scenario.MaxTicks {
		var err error
		snap, err = s.Engine.Step(ctx)
		if err != nil {
			return nil, fmt.Errorf("scenario %s tick %d: %w", s.Scenario.Name, snap.Tick, err)
		}
		inv.check(snap)
		if snap.Complete {
			break
		}
		if stalled(snap) && s.Engine.PendingChanges() == 0 {
			rep.Stalled = true
			break
		}
	}

	rep.Ticks = snap.Tick
	rep.Completed = snap.Complete
	rep.Final = snap
	rep.Events = s.EventLog.Len()
	for _, u := range snap.Units {
		rep.Replans += u.Replans
	}
	rep.Results = append(inv.results(), expectations(s.Scenario.Expect, rep)...)
	return rep, nil
}

// stalled reports whether nothing can move without a terrain change.
func stalled(snap engine.Snapshot) bool {
	for _, u := range snap.Units {
		if !u.Arrived() && u.Status != unit.StatusBlocked {
			return false
		}
	}
	return true
}

// invariants tracks properties that must hold on every tick.
type invariants struct {
	collision string
	onWall    string
}

func (inv *invariants) check(snap engine.Snapshot) {
	seen := make(map[grid.Point]string, len(snap.Units))
	for _, u := range snap.Units {
		if other, dup := seen[u.Position]; dup && inv.collision == "" {
			inv.collision = fmt.Sprintf("tick %d: %s and %s share %s", snap.Tick, other, u.ID, u.Position)
		}
		seen[u.Position] = u.ID
		if snap.Grid.Blocked(u.Position) && inv.onWall == "" {
			inv.onWall = fmt.Sprintf("tick %d: %s on obstacle %s", snap.Tick, u.ID, u.Position)
		}
	}
}

func (inv *invariants) results() []Result {
	return []Result{
		check("no_collisions", inv.collision == "", inv.collision, "units never shared a cell"),
		check("no_wall_walk", inv.onWall == "", inv.onWall, "no unit entered an obstacle"),
	}
}

func expectations(exp scenario.Expectations, rep *Report) []Result {
	var out []Result
	if exp.AllArrive {
		var missing []string
		for _, u := range rep.Final.Units {
			if !u.Arrived() {
				missing = append(missing, u.ID)
			}
		}
		out = append(out, check("all_arrive", len(missing) == 0,
			"not arrived: "+strings.Join(missing, ", "), "every unit on its objective"))
	}
	if exp.MaxTicks > 0 {
		ok := rep.Completed && rep.Ticks <= exp.MaxTicks
		out = append(out, check("max_ticks", ok,
			fmt.Sprintf("completed=%v after %d ticks, limit %d", rep.Completed, rep.Ticks, exp.MaxTicks),
			fmt.Sprintf("completed in %d ticks", rep.Ticks)))
	}
	if exp.MinReplans > 0 {
		out = append(out, check("min_replans", rep.Replans >= exp.MinReplans,
			fmt.Sprintf("%d replans, want at least %d", rep.Replans, exp.MinReplans),
			fmt.Sprintf("%d replans", rep.Replans)))
	}
	for _, id := range exp.Unreachable {
		u, ok := rep.Final.Unit(id)
		passed := ok && !u.Arrived() && u.Status == unit.StatusBlocked
		state := "missing"
		if ok {
			state = string(u.Status)
		}
		out = append(out, check("unreachable", passed, id+" is "+state, id+" reported no route"))
	}
	return out
}

func check(name string, passed bool, failReason, passReason string) Result {
	if passed {
		return Result{Name: name, Passed: true, Reason: passReason}
	}
	return Result{Name: name, Passed: false, Reason: failReason}
}
