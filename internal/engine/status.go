package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/dokzlo13/dimmerd/internal/cycle"
)

// TargetStatus describes one cycling target.
type TargetStatus struct {
	Kind        cycle.Kind      `json:"kind"`
	TargetID    string          `json:"target_id"`
	Period      float64         `json:"period_s"`
	Tick        float64         `json:"tick_s"`
	Min         int             `json:"value_min"`
	Max         int             `json:"value_max"`
	Mode        cycle.PhaseMode `json:"phase_mode"`
	PhaseOffset float64         `json:"phase_offset"`
	PhaseOrigin float64         `json:"phase_origin"`
	StartTime   time.Time       `json:"start_time"`
	MinDelta    int             `json:"min_delta"`
	LastApplied *int            `json:"last_applied_value"`
	Current     int             `json:"current_value"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	LoopRunning bool               `json:"loop_running"`
	Active      map[cycle.Kind]int `json:"active"`
	Targets     []TargetStatus     `json:"targets"`
	Time        time.Time          `json:"time"`
}

// Status reports the loop state and every registered target.
func (e *Engine) Status() Status {
	now := e.now()
	s := Status{
		Active:  make(map[cycle.Kind]int, len(cycle.Kinds)),
		Targets: []TargetStatus{},
		Time:    now,
	}
	if e.loop != nil {
		s.LoopRunning = e.loop.IsRunning()
	}

	for _, en := range e.registry.SnapshotAll() {
		s.Active[en.Kind]++
		s.Targets = append(s.Targets, TargetStatus{
			Kind:        en.Kind,
			TargetID:    en.TargetID,
			Period:      en.Period.Seconds(),
			Tick:        en.Tick.Seconds(),
			Min:         en.Min,
			Max:         en.Max,
			Mode:        en.Mode,
			PhaseOffset: en.PhaseOffset,
			PhaseOrigin: en.PhaseOrigin,
			StartTime:   en.StartTime,
			MinDelta:    en.MinDelta,
			LastApplied: en.LastApplied,
			Current:     en.Value(now),
		})
	}
	for _, k := range cycle.Kinds {
		if _, ok := s.Active[k]; !ok {
			s.Active[k] = 0
		}
	}
	return s
}

// Format renders the status as a human-readable table.
func (s Status) Format() string {
	var sb strings.Builder

	state := "stopped"
	if s.LoopRunning {
		state = "running"
	}
	sb.WriteString(fmt.Sprintf("Cycling loop: %s (brightness: %d, color_temp: %d)\n",
		state, s.Active[cycle.KindBrightness], s.Active[cycle.KindColorTemperature]))
	sb.WriteString(fmt.Sprintf("%-11s %-20s %-8s %-7s %-12s %-16s %-8s %-6s %s\n",
		"KIND", "TARGET", "PERIOD", "TICK", "RANGE", "MODE", "CURRENT", "LAST", "RUNNING"))
	sb.WriteString(strings.Repeat("-", 104) + "\n")

	for _, t := range s.Targets {
		last := "-"
		if t.LastApplied != nil {
			last = fmt.Sprintf("%d", *t.LastApplied)
		}
		sb.WriteString(fmt.Sprintf("%-11s %-20s %-8s %-7s %-12s %-16s %-8d %-6s %s\n",
			t.Kind,
			t.TargetID,
			fmt.Sprintf("%gs", t.Period),
			fmt.Sprintf("%gs", t.Tick),
			fmt.Sprintf("%d-%d", t.Min, t.Max),
			t.Mode,
			t.Current,
			last,
			s.Time.Sub(t.StartTime).Truncate(time.Second),
		))
	}

	if len(s.Targets) == 0 {
		sb.WriteString("Nothing is cycling\n")
	}

	return sb.String()
}
