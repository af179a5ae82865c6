// Package main - coa-replay
// Reads a replay log, rebuilds the final state and prints what happened.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/coasim/coasim/internal/domain/grid"
	"github.com/coasim/coasim/internal/infra/replay"
	"github.com/coasim/coasim/internal/infra/storage"
	"github.com/coasim/coasim/internal/render"
)

func main() {
	unitID := flag.String("unit", "", "only recap this unit")
	since := flag.Int64("since", 0, "recap events from this tick on")
	plain := flag.Bool("plain", false, "disable colour")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: coa-replay [flags] run%s\n", replay.Extension)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *unitID, *since, render.Options{Plain: *plain}); err != nil {
		fmt.Fprintln(os.Stderr, "coa-replay:", err)
		os.Exit(1)
	}
}

func run(path, unitID string, since int64, opts render.Options) error {
	hdr, evs, err := replay.ReadAll(path)
	if err != nil {
		return err
	}
	initial, err := grid.Parse(hdr.Map)
	if err != nil {
		return fmt.Errorf("replay header map: %w", err)
	}
	state, err := storage.Replay(evs, initial)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s (%s), started %s\n", hdr.RunID, hdr.Scenario, hdr.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("%d events, %d refused by the engine\n\n", len(evs), state.Rejected)

	units := []string{unitID}
	if unitID == "" {
		units = units[:0]
		for _, u := range state.SortedUnits() {
			units = append(units, u.ID)
		}
	}
	for _, id := range units {
		if _, ok := state.Units[id]; !ok {
			return fmt.Errorf("unit %s not in run", id)
		}
		fmt.Printf("-- %s\n", id)
		for _, r := range storage.RecapEvents(evs, id, since) {
			fmt.Printf("  t%-4d %-8s %s\n", r.Tick, strings.ToLower(r.Impact), r.Summary)
		}
		fmt.Println()
	}

	fmt.Println(render.Frame(hdr.Scenario, state.Snapshot(), opts))
	return nil
}
