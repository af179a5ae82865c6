// Package viewer is the interactive terminal view of a local simulation.
//
// It follows The Elm Architecture used by bubbletea: Model holds a harness
// simulation, Update reacts to keys and pacing ticks, View renders the
// current snapshot.
package viewer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/coasim/coasim/internal/engine"
	"github.com/coasim/coasim/internal/events"
	"github.com/coasim/coasim/internal/harness"
	"github.com/coasim/coasim/internal/infra/storage"
	"github.com/coasim/coasim/internal/platform/logger"
	"github.com/coasim/coasim/internal/render"
	"github.com/coasim/coasim/internal/scenario"
)

// Pacing bounds
const (
	DefaultInterval = 400 * time.Millisecond
	MinInterval     = 50 * time.Millisecond
	MaxInterval     = 3200 * time.Millisecond
)

const recentEvents = 8

var (
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	logStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

type keyMap struct {
	Play   key.Binding
	Step   key.Binding
	Faster key.Binding
	Slower key.Binding
	Reset  key.Binding
	Paths  key.Binding
	Help   key.Binding
	Quit   key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.Step, k.Reset, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Play, k.Step, k.Reset},
		{k.Faster, k.Slower, k.Paths},
		{k.Help, k.Quit},
	}
}

func defaultKeys() keyMap {
	return keyMap{
		Play:   key.NewBinding(key.WithKeys(" ", "p"), key.WithHelp("space", "play/pause")),
		Step:   key.NewBinding(key.WithKeys("n", "right"), key.WithHelp("n", "step")),
		Faster: key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "faster")),
		Slower: key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "slower")),
		Reset:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
		Paths:  key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "toggle paths")),
		Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// tickMsg paces playback. gen discards ticks from an earlier play session.
type tickMsg struct{ gen int }

// Model is the bubbletea model for one scenario.
type Model struct {
	scn    *scenario.Scenario
	logger *logger.Logger
	opts   harness.Options

	sim      *harness.Sim
	snap     engine.Snapshot
	seen     int // Events already shown
	recent   []string
	playing  bool
	gen      int
	interval time.Duration
	paths    bool
	err      error

	keys   keyMap
	help   help.Model
	width  int
	height int
}

// New builds a model with the scenario loaded and paused at tick 0.
func New(scn *scenario.Scenario, log *logger.Logger, opts harness.Options) (*Model, error) {
	m := &Model{
		scn:      scn,
		logger:   log,
		opts:     opts,
		interval: DefaultInterval,
		paths:    true,
		keys:     defaultKeys(),
		help:     help.New(),
	}
	if err := m.reset(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) reset() error {
	sim, err := harness.Build(m.scn, m.logger, m.opts)
	if err != nil {
		return err
	}
	m.sim = sim
	m.snap = sim.Engine.Snapshot()
	m.seen = 0
	m.recent = nil
	m.playing = false
	m.gen++
	m.err = nil
	m.collectEvents()
	return nil
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		if !m.playing || msg.gen != m.gen {
			return m, nil
		}
		m.step()
		if m.finished() {
			m.playing = false
			return m, nil
		}
		return m, m.tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Play):
			if m.finished() {
				return m, nil
			}
			m.playing = !m.playing
			m.gen++
			if m.playing {
				return m, m.tick()
			}
		case key.Matches(msg, m.keys.Step):
			m.playing = false
			m.gen++
			if !m.finished() {
				m.step()
			}
		case key.Matches(msg, m.keys.Faster):
			m.interval = max(MinInterval, m.interval/2)
		case key.Matches(msg, m.keys.Slower):
			m.interval = min(MaxInterval, m.interval*2)
		case key.Matches(msg, m.keys.Reset):
			if err := m.reset(); err != nil {
				m.err = err
			}
		case key.Matches(msg, m.keys.Paths):
			m.paths = !m.paths
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
	}
	return m, nil
}

func (m *Model) tick() tea.Cmd {
	gen := m.gen
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{gen: gen}
	})
}

func (m *Model) step() {
	snap, err := m.sim.Engine.Step(context.Background())
	if err != nil {
		m.err = err
		m.playing = false
		m.logger.Errorf("step: %v", err)
		return
	}
	m.snap = snap
	m.collectEvents()
}

func (m *Model) collectEvents() {
	fresh := m.sim.EventLog.Since(m.seen)
	m.seen += len(fresh)
	for _, e := range fresh {
		if e.Type == events.EventTypeTimeTick {
			continue
		}
		summary, _ := storage.Describe(e)
		m.recent = append(m.recent, fmt.Sprintf("t%-3d %s", e.Tick, summary))
	}
	if len(m.recent) > recentEvents {
		m.recent = m.recent[len(m.recent)-recentEvents:]
	}
}

func (m *Model) finished() bool {
	return m.snap.Complete || m.snap.Tick >= m.scn.MaxTicks
}

// Snapshot returns the world as last shown.
func (m *Model) Snapshot() engine.Snapshot {
	return m.snap
}

// Playing reports whether playback is running.
func (m *Model) Playing() bool {
	return m.playing
}

// Interval returns the playback pace.
func (m *Model) Interval() time.Duration {
	return m.interval
}

// View implements tea.Model.
func (m *Model) View() string {
	state := "PAUSED"
	switch {
	case m.snap.Complete:
		state = "COMPLETE"
	case m.finished():
		state = "TICK LIMIT"
	case m.playing:
		state = "PLAYING"
	}
	status := fmt.Sprintf("%s  %s/tick", statusStyle.Render(state), m.interval)
	if m.err != nil {
		status += "  " + statusStyle.Render("error: "+m.err.Error())
	}

	log := "no events yet"
	if len(m.recent) > 0 {
		log = strings.Join(m.recent, "\n")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		render.Frame(m.scn.Name, m.snap, render.Options{ShowPaths: m.paths}),
		status,
		logStyle.Render(log),
		footerStyle.Render(m.help.View(m.keys)),
	)
}
