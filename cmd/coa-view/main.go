// Package main - coa-view
// Interactive terminal viewer: runs a scenario locally and lets you play,
// pause, step and reset it.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/coasim/coasim/internal/agents"
	"github.com/coasim/coasim/internal/harness"
	"github.com/coasim/coasim/internal/platform/logger"
	"github.com/coasim/coasim/internal/scenario"
	"github.com/coasim/coasim/internal/viewer"
)

func main() {
	logPath := flag.String("log", "coa-view.log", "log file; the terminal belongs to the viewer")
	maxWaits := flag.Int("max-waits", 0, "ticks a unit waits behind a friendly unit, 0 for the default")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: coa-view [flags] scenario.yaml")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	scn, err := scenario.Load(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading scenario: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewFileLogger(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	model, err := viewer.New(scn, log, harness.Options{Agents: agents.Config{MaxWaits: *maxWaits}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building simulation: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running viewer: %v\n", err)
		os.Exit(1)
	}
}
