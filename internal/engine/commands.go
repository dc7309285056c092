package engine

import (
	"github.com/dokzlo13/dimmerd/internal/cycle"
)

// Command is one of the commands accepted by Engine.Dispatch.
type Command interface {
	command()
}

// StartCommand starts cycling targets. Nil fields take the configured defaults.
// Durations are in seconds.
type StartCommand struct {
	Kind        cycle.Kind `json:"-"`
	Targets     []string   `json:"targets"`
	Period      *float64   `json:"period,omitempty"`
	Tick        *float64   `json:"tick_interval,omitempty"`
	Min         *int       `json:"value_min,omitempty"`
	Max         *int       `json:"value_max,omitempty"`
	PhaseMode   *string    `json:"phase_mode,omitempty"`
	PhaseOffset *float64   `json:"phase_offset,omitempty"`
	SyncGroup   *bool      `json:"sync_group,omitempty"`
	MinDelta    *int       `json:"min_delta,omitempty"`
	Source      string     `json:"-"`
}

// StopCommand stops cycling the listed targets.
type StopCommand struct {
	Kind    cycle.Kind `json:"-"`
	Targets []string   `json:"targets"`
	Source  string     `json:"-"`
}

// StopAllCommand stops every target of a kind.
type StopAllCommand struct {
	Kind   cycle.Kind `json:"-"`
	Source string     `json:"-"`
}

// StatusCommand reports the loop and registry state.
type StatusCommand struct{}

// IsCyclingCommand asks whether any of the targets is cycling.
type IsCyclingCommand struct {
	Kind    cycle.Kind `json:"-"`
	Targets []string   `json:"targets"`
}

func (StartCommand) command()     {}
func (StopCommand) command()      {}
func (StopAllCommand) command()   {}
func (StatusCommand) command()    {}
func (IsCyclingCommand) command() {}

// TargetError is a per-target start failure.
type TargetError struct {
	Target string `json:"target"`
	Error  string `json:"error"`
}

// StartResult reports the outcome of a start command.
type StartResult struct {
	RequestID string        `json:"request_id"`
	Kind      cycle.Kind    `json:"kind"`
	Started   []string      `json:"started"`
	Failed    []TargetError `json:"failed,omitempty"`
}

// Reply is the outcome of a dispatched command. Only the field matching the
// command is set.
type Reply struct {
	RequestID string       `json:"request_id"`
	Start     *StartResult `json:"start,omitempty"`
	Stopped   *int         `json:"stopped,omitempty"`
	Cycling   *bool        `json:"cycling,omitempty"`
	Status    *Status      `json:"status,omitempty"`
}
