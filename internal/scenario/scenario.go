// Package scenario loads scripted simulation runs from YAML.
//
// A scenario carries the terrain, the units and their objectives, terrain
// changes scheduled by tick, and the outcome the run is expected to reach.
// Files are checked against an embedded JSON Schema first, then semantically.
package scenario

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/engine"
)

// DefaultMaxTicks bounds runs that do not set max_ticks.
const DefaultMaxTicks = 200

var ErrInvalid = errors.New("scenario: invalid")

//go:embed scenario.schema.json
var schemaText string

var schema = jsonschema.MustCompileString("scenario.schema.json", schemaText)

// Coord is a point written as [x, y].
type Coord [2]int

// Point converts to a grid point.
func (c Coord) Point() grid.Point {
	return grid.Point{X: c[0], Y: c[1]}
}

// UnitSpec places one unit.
type UnitSpec struct {
	ID          string `yaml:"id" json:"id"`
	Callsign    string `yaml:"callsign,omitempty" json:"callsign,omitempty"`
	Side        string `yaml:"side" json:"side"`
	Start       Coord  `yaml:"start" json:"start"`
	Objective   Coord  `yaml:"objective" json:"objective"`
	SensorRange int    `yaml:"sensor_range,omitempty" json:"sensor_range,omitempty"`
}

// ChangeSpec is a scheduled terrain change.
type ChangeSpec struct {
	Tick   int64  `yaml:"tick" json:"tick"`
	Action string `yaml:"action" json:"action"`
	At     Coord  `yaml:"at" json:"at"`
}

// Expectations describe a passing run.
type Expectations struct {
	AllArrive   bool     `yaml:"all_arrive,omitempty" json:"all_arrive,omitempty"`
	MaxTicks    int64    `yaml:"max_ticks,omitempty" json:"max_ticks,omitempty"`
	MinReplans  int      `yaml:"min_replans,omitempty" json:"min_replans,omitempty"`
	Unreachable []string `yaml:"unreachable,omitempty" json:"unreachable,omitempty"` // Units expected never to arrive
}

// Scenario is one scripted run.
type Scenario struct {
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Map         string       `yaml:"map" json:"map"`
	MaxTicks    int64        `yaml:"max_ticks,omitempty" json:"max_ticks,omitempty"`
	UnitSpecs   []UnitSpec   `yaml:"units" json:"units"`
	Changes     []ChangeSpec `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Expect      Expectations `yaml:"expect,omitempty" json:"expect,omitempty"`

	Path string     `yaml:"-" json:"-"`
	grid *grid.Grid `yaml:"-" json:"-"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

// LoadDir loads every .yaml and .yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]*Scenario, 0, len(names))
	for _, name := range names {
		s, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if s.MaxTicks == 0 {
		s.MaxTicks = DefaultMaxTicks
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// validateSchema checks the document against the embedded schema. YAML is
// round-tripped through JSON so numbers have the types the validator expects.
func validateSchema(doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (s *Scenario) validate() error {
	g, err := grid.Parse(s.Map)
	if err != nil {
		return fmt.Errorf("%w: map: %v", ErrInvalid, err)
	}

	ids := make(map[string]bool, len(s.UnitSpecs))
	starts := make(map[grid.Point]string, len(s.UnitSpecs))
	for _, u := range s.UnitSpecs {
		if ids[u.ID] {
			return fmt.Errorf("%w: duplicate unit id %q", ErrInvalid, u.ID)
		}
		ids[u.ID] = true
		if !unit.Side(u.Side).Valid() {
			return fmt.Errorf("%w: unit %s: unknown side %q", ErrInvalid, u.ID, u.Side)
		}
		for name, c := range map[string]Coord{"start": u.Start, "objective": u.Objective} {
			if !g.Passable(c.Point()) {
				return fmt.Errorf("%w: unit %s: %s %s is out of bounds or blocked", ErrInvalid, u.ID, name, c.Point())
			}
		}
		if other, taken := starts[u.Start.Point()]; taken {
			return fmt.Errorf("%w: units %s and %s start on %s", ErrInvalid, other, u.ID, u.Start.Point())
		}
		starts[u.Start.Point()] = u.ID
	}

	for i, c := range s.Changes {
		if !g.InBounds(c.At.Point()) {
			return fmt.Errorf("%w: schedule[%d]: %s out of bounds", ErrInvalid, i, c.At.Point())
		}
	}
	for _, id := range s.Expect.Unreachable {
		if !ids[id] {
			return fmt.Errorf("%w: expect.unreachable: unknown unit %q", ErrInvalid, id)
		}
	}

	s.grid = g
	return nil
}

// Grid returns a fresh copy of the initial terrain.
func (s *Scenario) Grid() *grid.Grid {
	return s.grid.Clone()
}

// Units builds new units at their starting positions.
func (s *Scenario) Units() []*unit.Unit {
	out := make([]*unit.Unit, 0, len(s.UnitSpecs))
	for _, spec := range s.UnitSpecs {
		callsign := spec.Callsign
		if callsign == "" {
			callsign = spec.ID
		}
		u := unit.New(spec.ID, callsign, unit.Side(spec.Side), spec.Start.Point(), spec.Objective.Point())
		if spec.SensorRange > 0 {
			u.SensorRange = spec.SensorRange
		}
		out = append(out, u)
	}
	return out
}

// Schedule converts the scripted changes for the engine.
func (s *Scenario) Schedule() []engine.TerrainChange {
	out := make([]engine.TerrainChange, 0, len(s.Changes))
	for _, c := range s.Changes {
		out = append(out, engine.TerrainChange{
			Tick:   c.Tick,
			Action: engine.ChangeAction(c.Action),
			At:     c.At.Point(),
		})
	}
	return out
}
