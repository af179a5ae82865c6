// Package main - scenario-runner
// Runs scenarios headlessly and checks their expectations.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coasim/coasim/internal/agents"
	"github.com/coasim/coasim/internal/harness"
	"github.com/coasim/coasim/internal/infra/replay"
	"github.com/coasim/coasim/internal/platform/logger"
	"github.com/coasim/coasim/internal/render"
	"github.com/coasim/coasim/internal/scenario"
)

func main() {
	dir := flag.String("dir", "scenarios", "directory of scenarios, used when no files are given")
	showMap := flag.Bool("map", false, "print the final map of each scenario")
	asJSON := flag.Bool("json", false, "print reports as JSON")
	verbose := flag.Bool("v", false, "log engine and agent activity")
	replayDir := flag.String("replay-dir", "", "write a replay log per scenario into this directory")
	maxWaits := flag.Int("max-waits", 0, "ticks a unit waits behind a friendly unit, 0 for the default")
	flag.Parse()

	scenarios, err := loadScenarios(*dir, flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "scenario-runner:", err)
		os.Exit(2)
	}

	log := logger.Discard()
	if *verbose {
		log = logger.NewLogger()
	}

	fmt.Println("COA SCENARIO SUITE")
	fmt.Println(strings.Repeat("=", 60))

	ctx := context.Background()
	var reports []*harness.Report
	passed, failed := 0, 0
	for _, scn := range scenarios {
		rep, err := run(ctx, scn, log, *replayDir, agents.Config{MaxWaits: *maxWaits})
		if err != nil {
			fmt.Fprintf(os.Stderr, "scenario %s: %v\n", scn.Name, err)
			failed++
			continue
		}
		reports = append(reports, rep)
		if rep.Passed() {
			passed++
		} else {
			failed++
		}
		if *asJSON {
			continue
		}
		rep.Print(os.Stdout)
		if *showMap {
			fmt.Println(render.Map(rep.Final, render.Options{Plain: true}))
			fmt.Println()
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(reports)
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("   passed: %d\n", passed)
	fmt.Printf("   failed: %d\n", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func loadScenarios(dir string, files []string) ([]*scenario.Scenario, error) {
	if len(files) == 0 {
		return scenario.LoadDir(dir)
	}
	out := make([]*scenario.Scenario, 0, len(files))
	for _, f := range files {
		s, err := scenario.Load(f)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func run(ctx context.Context, scn *scenario.Scenario, log *logger.Logger, replayDir string, cfg agents.Config) (*harness.Report, error) {
	opts := harness.Options{Agents: cfg}
	var w *replay.Writer
	if replayDir != "" {
		if err := os.MkdirAll(replayDir, 0o755); err != nil {
			return nil, err
		}
		var err error
		w, err = replay.Create(filepath.Join(replayDir, scn.Name+replay.Extension), replay.Header{
			RunID:     scn.Name,
			Scenario:  scn.Name,
			Map:       scn.Grid().String(),
			StartedAt: time.Now(),
		})
		if err != nil {
			return nil, err
		}
		opts.Persister = w
	}

	sim, err := harness.Build(scn, log, opts)
	if err != nil {
		return nil, err
	}
	rep, err := sim.Run(ctx)
	sim.EventLog.Close()
	if w != nil {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}
	return rep, err
}
