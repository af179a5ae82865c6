// Package render draws simulation snapshots for terminals and logs.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/domain/unit"
	"github.com/coasim/coasim/internal/engine"
)

// Glyphs
const (
	GlyphFree      = '.'
	GlyphObstacle  = '#'
	GlyphPath      = '*'
	GlyphObjective = 'X'
)

// Options control how a snapshot is drawn.
type Options struct {
	Plain     bool // No ANSI styling
	ShowPaths bool // Mark each unit's remaining planned path
}

var (
	freeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))
	obstacleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Bold(true)
	pathStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD166"))
	objectiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#06D6A0")).Bold(true)
	blueStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	redStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	boxStyle       = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

type cell struct {
	glyph rune
	style lipgloss.Style
}

// Map draws the grid with units, objectives and optionally planned paths.
// Units win over objectives, objectives over paths, paths over terrain.
func Map(snap engine.Snapshot, opts Options) string {
	cells := make([][]cell, snap.Height)
	for y := range cells {
		cells[y] = make([]cell, snap.Width)
		for x := range cells[y] {
			if y < len(snap.Rows) && x < len(snap.Rows[y]) && snap.Rows[y][x] != grid.Free {
				cells[y][x] = cell{GlyphObstacle, obstacleStyle}
			} else {
				cells[y][x] = cell{GlyphFree, freeStyle}
			}
		}
	}
	put := func(p grid.Point, c cell) {
		if p.Y >= 0 && p.Y < snap.Height && p.X >= 0 && p.X < snap.Width {
			cells[p.Y][p.X] = c
		}
	}

	if opts.ShowPaths {
		for _, u := range snap.Units {
			for _, p := range u.RemainingPath() {
				put(p, cell{GlyphPath, pathStyle})
			}
		}
	}
	for _, u := range snap.Units {
		if !u.Arrived() {
			put(u.Objective, cell{GlyphObjective, objectiveStyle})
		}
	}
	for _, u := range snap.Units {
		put(u.Position, cell{unitGlyph(u), sideStyle(u.Side)})
	}

	var b strings.Builder
	for y, row := range cells {
		if y > 0 {
			b.WriteByte('\n')
		}
		for _, c := range row {
			if opts.Plain {
				b.WriteRune(c.glyph)
			} else {
				b.WriteString(c.style.Render(string(c.glyph)))
			}
		}
	}
	return b.String()
}

func unitGlyph(u *unit.Unit) rune {
	g := 'B'
	if u.Side == unit.SideRed {
		g = 'R'
	}
	if u.Arrived() {
		g += 'a' - 'A'
	}
	return g
}

func sideStyle(s unit.Side) lipgloss.Style {
	if s == unit.SideRed {
		return redStyle
	}
	return blueStyle
}

// Legend explains the map glyphs on one line.
func Legend(opts Options) string {
	items := []struct {
		glyph string
		style lipgloss.Style
		label string
	}{
		{"B", blueStyle, "blue"},
		{"R", redStyle, "red"},
		{"b/r", hintStyle, "arrived"},
		{"X", objectiveStyle, "objective"},
		{"*", pathStyle, "path"},
		{"#", obstacleStyle, "obstacle"},
	}
	parts := make([]string, len(items))
	for i, it := range items {
		g := it.glyph
		if !opts.Plain {
			g = it.style.Render(g)
		}
		parts[i] = g + " " + it.label
	}
	return strings.Join(parts, "  ")
}

// Status renders a table with one row per unit.
func Status(snap engine.Snapshot, opts Options) string {
	lines := []string{fmt.Sprintf("%-4s %-10s %-5s %-8s %-8s %-8s %5s %7s %5s",
		"ID", "CALLSIGN", "SIDE", "POS", "OBJ", "STATUS", "MOVES", "REPLANS", "WAITS")}
	for _, u := range snap.Units {
		lines = append(lines, fmt.Sprintf("%-4s %-10s %-5s %-8s %-8s %-8s %5d %7d %5d",
			u.ID, u.Callsign, u.Side, u.Position, u.Objective, u.Status, u.Moves, u.Replans, u.Waits))
	}
	if opts.Plain {
		return strings.Join(lines, "\n")
	}
	lines[0] = headerStyle.Render(lines[0])
	return strings.Join(lines, "\n")
}

// Frame lays out map, legend and unit table the way the viewers show them.
func Frame(title string, snap engine.Snapshot, opts Options) string {
	header := fmt.Sprintf("%s  tick %d", title, snap.Tick)
	if snap.Complete {
		header += "  COMPLETE"
	}
	if opts.Plain {
		return strings.Join([]string{header, Map(snap, opts), Legend(opts), Status(snap, opts)}, "\n\n")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render(header),
		lipgloss.JoinHorizontal(lipgloss.Top,
			boxStyle.Render(Map(snap, opts)),
			boxStyle.Render(Status(snap, opts)),
		),
		hintStyle.Render(Legend(Options{Plain: true})),
	)
}
