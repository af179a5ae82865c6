package config

import "fmt"

// Tuning holds channel sizes for a load profile.
type Tuning struct {
	BroadcastBuffer  int
	ClientSendBuffer int
}

// DefaultTuning returns sensible defaults for a single operator console.
func DefaultTuning() Tuning {
	return Tuning{
		BroadcastBuffer:  256,
		ClientSendBuffer: 64,
	}
}

// StressTestTuning returns aggressive settings for the agitator.
func StressTestTuning() Tuning {
	return Tuning{
		BroadcastBuffer:  4096,
		ClientSendBuffer: 512,
	}
}

// LowResourceTuning returns minimal settings for development.
func LowResourceTuning() Tuning {
	return Tuning{
		BroadcastBuffer:  16,
		ClientSendBuffer: 8,
	}
}

// ProfileTuning resolves a profile name.
func ProfileTuning(name string) (Tuning, error) {
	switch name {
	case ProfileDefault, "":
		return DefaultTuning(), nil
	case ProfileStressTest:
		return StressTestTuning(), nil
	case ProfileLowResource:
		return LowResourceTuning(), nil
	}
	return Tuning{}, fmt.Errorf("%w %q", ErrUnknownProfile, name)
}

// Recommendations provides suggestions based on observed metrics.
type Recommendations struct {
	IncreaseBroadcastBuffer bool
	IncreaseClientBuffer    bool
	RaiseExpansionBudget    bool
	Notes                   []string
}

// Analyze examines a metrics snapshot and returns tuning recommendations.
func Analyze(metrics map[string]any) *Recommendations {
	rec := &Recommendations{}

	if tick, ok := metrics["tick"].(map[string]any); ok {
		if maxLat, ok := tick["max_latency_ms"].(float64); ok && maxLat > 100 {
			rec.IncreaseBroadcastBuffer = true
			rec.Notes = append(rec.Notes, "Tick latency exceeds 100ms - broadcasts may back up")
		}
	}

	if evs, ok := metrics["events"].(map[string]any); ok {
		if errs, ok := evs["errors"].(int64); ok && errs > 0 {
			rec.Notes = append(rec.Notes, "Event write errors detected - check the database")
		}
	}

	if ws, ok := metrics["websocket"].(map[string]any); ok {
		if errs, ok := ws["errors"].(int64); ok && errs > 0 {
			rec.IncreaseClientBuffer = true
			rec.Notes = append(rec.Notes, "WebSocket errors detected - increase client send buffer")
		}
	}

	if planner, ok := metrics["planner"].(map[string]any); ok {
		if fails, ok := planner["failures"].(int64); ok && fails > 0 {
			rec.RaiseExpansionBudget = true
			rec.Notes = append(rec.Notes, "Planner failures detected - check max_expansions")
		}
	}

	return rec
}

// Apply modifies t based on recommendations.
func (t Tuning) Apply(rec *Recommendations) Tuning {
	if rec.IncreaseBroadcastBuffer {
		t.BroadcastBuffer *= 2
	}
	if rec.IncreaseClientBuffer {
		t.ClientSendBuffer *= 2
	}
	return t
}
