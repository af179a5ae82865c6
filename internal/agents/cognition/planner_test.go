package cognition

import (
	"context"
	"errors"
	"testing"

	"github.com/coasim/coasim/internal/agents/perception"
	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/pathfinding"
	"github.com/coasim/coasim/internal/platform/logger"
)

func mustGrid(t *testing.T, rows string) *grid.Grid {
	t.Helper()
	g, err := grid.Parse(rows)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func newPlanner() *Planner {
	return NewPlanner(logger.Discard(), 2, 0)
}

func TestDecideInitialPlanAndMove(t *testing.T) {
	g := mustGrid(t, ".....\n.....\n.....\n.....\n.....")
	u := unit.New("B1", "", unit.SideBlue, grid.Point{}, grid.Point{X: 4})

	d := newPlanner().Decide(context.Background(), u, g, perception.Observation{})
	if d.Action != ActionMove || d.Next != (grid.Point{X: 1}) {
		t.Fatalf("decision = %+v", d)
	}
	if d.Plan == nil || d.Plan.Replan || d.Plan.Reason != ReasonInitial {
		t.Fatalf("plan = %+v", d.Plan)
	}
	if len(d.Plan.Path) != 5 {
		t.Errorf("path length = %d, want 5", len(d.Plan.Path))
	}
}

func TestDecideKeepsValidPath(t *testing.T) {
	g := mustGrid(t, "...")
	u := unit.New("B1", "", unit.SideBlue, grid.Point{}, grid.Point{X: 2})
	u.AssignPath([]grid.Point{{X: 0}, {X: 1}, {X: 2}})

	d := newPlanner().Decide(context.Background(), u, g, perception.Observation{})
	if d.Plan != nil {
		t.Errorf("unexpected re-plan: %+v", d.Plan)
	}
	if d.Action != ActionMove || d.Next != (grid.Point{X: 1}) {
		t.Errorf("decision = %+v", d)
	}
}

func TestDecideReplansAroundBelievedObstacle(t *testing.T) {
	g := mustGrid(t, ".....\n.....\n.....\n.....\n.....")
	u := unit.New("B1", "", unit.SideBlue, grid.Point{Y: 2}, grid.Point{X: 4, Y: 2})
	first, err := pathfinding.AStar(g, u.Position, u.Objective)
	if err != nil {
		t.Fatal(err)
	}
	u.AssignPath(first)

	_ = g.Block(grid.Point{X: 2, Y: 2})
	d := newPlanner().Decide(context.Background(), u, g, perception.Observation{})

	if d.Plan == nil || !d.Plan.Replan || d.Plan.Reason != ReasonObstacle {
		t.Fatalf("plan = %+v", d.Plan)
	}
	if pathfinding.Contains(d.Plan.Path, grid.Point{X: 2, Y: 2}) {
		t.Errorf("re-planned path crosses the obstacle: %v", d.Plan.Path)
	}
	if len(d.Plan.Path) <= len(first) {
		t.Errorf("detour should be longer: %d vs %d", len(d.Plan.Path), len(first))
	}
}

func TestDecideReplansOnObjectiveChange(t *testing.T) {
	g := mustGrid(t, "...\n...")
	u := unit.New("B1", "", unit.SideBlue, grid.Point{}, grid.Point{X: 2})
	u.AssignPath([]grid.Point{{X: 0}, {X: 1}, {X: 2}})
	u.Objective = grid.Point{Y: 1}

	d := newPlanner().Decide(context.Background(), u, g, perception.Observation{})
	if d.Plan == nil || d.Plan.Reason != ReasonObjective || d.Next != (grid.Point{Y: 1}) {
		t.Errorf("decision = %+v", d)
	}
}

func TestDecideBlocked(t *testing.T) {
	g := mustGrid(t, "...\n..#\n.#.")
	u := unit.New("B1", "", unit.SideBlue, grid.Point{}, grid.Point{X: 2, Y: 2})

	d := newPlanner().Decide(context.Background(), u, g, perception.Observation{})
	if d.Action != ActionBlocked {
		t.Fatalf("action = %s, want BLOCKED", d.Action)
	}
	if d.Plan == nil || !errors.Is(d.Plan.Err, pathfinding.ErrNoPath) {
		t.Errorf("plan = %+v", d.Plan)
	}
}

func TestDecideHoldsOnObjective(t *testing.T) {
	g := mustGrid(t, "..")
	u := unit.New("B1", "", unit.SideBlue, grid.Point{X: 1}, grid.Point{X: 1})
	if d := newPlanner().Decide(context.Background(), u, g, perception.Observation{}); d.Action != ActionHold {
		t.Errorf("action = %s, want HOLD", d.Action)
	}
}

func TestDecideWaitsThenDetours(t *testing.T) {
	g := mustGrid(t, "....\n....")
	u := unit.New("B1", "", unit.SideBlue, grid.Point{}, grid.Point{X: 3})
	u.AssignPath([]grid.Point{{X: 0}, {X: 1}, {X: 2}, {X: 3}})
	obs := perception.Observation{Occupied: []grid.Point{{X: 1}}}
	p := newPlanner()

	for waits := 0; waits < 2; waits++ {
		u.Waits = waits
		if d := p.Decide(context.Background(), u, g, obs); d.Action != ActionWait {
			t.Fatalf("waits=%d: action = %s, want WAIT", waits, d.Action)
		}
	}

	u.Waits = 2
	d := p.Decide(context.Background(), u, g, obs)
	if d.Action != ActionMove || d.Next != (grid.Point{Y: 1}) {
		t.Fatalf("decision = %+v, want detour via (0,1)", d)
	}
	if d.Plan == nil || d.Plan.Reason != ReasonDetour || pathfinding.Contains(d.Plan.Path, grid.Point{X: 1}) {
		t.Errorf("plan = %+v", d.Plan)
	}
}

func TestDecideWaitsWhenNoDetour(t *testing.T) {
	g := mustGrid(t, "....")
	u := unit.New("B1", "", unit.SideBlue, grid.Point{}, grid.Point{X: 3})
	u.AssignPath([]grid.Point{{X: 0}, {X: 1}, {X: 2}, {X: 3}})
	u.Waits = 5

	d := newPlanner().Decide(context.Background(), u, g, perception.Observation{Occupied: []grid.Point{{X: 1}}})
	if d.Action != ActionWait || d.Plan != nil {
		t.Errorf("decision = %+v, want plain WAIT", d)
	}
}

func TestDecideGivesWayHeadOn(t *testing.T) {
	g := mustGrid(t, ".....")
	r1 := unit.New("R1", "", unit.SideRed, grid.Point{X: 2}, grid.Point{})
	r1.AssignPath([]grid.Point{{X: 2}, {X: 1}, {X: 0}})
	r1.Waits = 2
	obs := perception.Observation{
		Occupied: []grid.Point{{X: 1}},
		Contacts: []perception.Contact{{ID: "B1", At: grid.Point{X: 1}}},
	}

	d := newPlanner().Decide(context.Background(), r1, g, obs)
	if d.Action != ActionMove || d.Next != (grid.Point{X: 3}) {
		t.Fatalf("decision = %+v, want to back off to (3,0)", d)
	}
	if d.Plan != nil {
		t.Errorf("giving way should not plan: %+v", d.Plan)
	}

	// The unit with the lower ID holds its ground.
	b1 := unit.New("B1", "", unit.SideBlue, grid.Point{X: 2}, grid.Point{})
	b1.AssignPath([]grid.Point{{X: 2}, {X: 1}, {X: 0}})
	b1.Waits = 2
	obs.Contacts[0].ID = "R1"
	if d := newPlanner().Decide(context.Background(), b1, g, obs); d.Action != ActionWait {
		t.Errorf("decision = %+v, want WAIT", d)
	}
}

func TestStuckAfterTwiceMaxWaits(t *testing.T) {
	p := newPlanner()
	u := unit.New("B1", "", unit.SideBlue, grid.Point{}, grid.Point{X: 3})
	wait := Decision{Action: ActionWait}

	u.Waits = 3
	if p.Stuck(u, wait) {
		t.Error("3 waits should not count as stuck")
	}
	u.Waits = 4
	if !p.Stuck(u, wait) {
		t.Error("4 waits should count as stuck")
	}
	if p.Stuck(u, Decision{Action: ActionMove}) {
		t.Error("a moving unit is not stuck")
	}
}
