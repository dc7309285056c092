// Package cycle holds the cycling data model: kinds, phase modes, entries,
// the phase calculator and the per-kind registry.
package cycle

import (
	"fmt"
	"time"
)

// Kind is the dimension being cycled.
type Kind string

const (
	KindBrightness       Kind = "brightness"
	KindColorTemperature Kind = "color_temp"
)

// Kinds lists every kind in evaluation order.
var Kinds = []Kind{KindBrightness, KindColorTemperature}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindBrightness:
		return KindBrightness, nil
	case KindColorTemperature:
		return KindColorTemperature, nil
	case "ccw", "ct", "color_temperature":
		return KindColorTemperature, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidParameter, s)
	}
}

// PhaseMode selects how the phase origin is resolved when an entry is created.
type PhaseMode string

const (
	PhaseSyncToCurrent PhaseMode = "sync_to_current"
	PhaseAbsolute      PhaseMode = "absolute"
	PhaseRelative      PhaseMode = "relative"
)

// ParsePhaseMode converts a string into a PhaseMode.
func ParsePhaseMode(s string) (PhaseMode, error) {
	switch PhaseMode(s) {
	case PhaseSyncToCurrent, PhaseAbsolute, PhaseRelative:
		return PhaseMode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown phase mode %q", ErrInvalidParameter, s)
	}
}

// Entry is one actively cycling target.
//
// PhaseOrigin is resolved once when the entry is created and never changes;
// the wave advances only through the time elapsed since StartTime.
type Entry struct {
	Kind        Kind
	TargetID    string
	Period      time.Duration
	Tick        time.Duration
	Min         int
	Max         int
	Mode        PhaseMode
	PhaseOffset float64
	PhaseOrigin float64
	StartTime   time.Time
	MinDelta    int

	// LastApplied is nil until the first successful application.
	LastApplied *int

	// seq orders entries by insertion and identifies this instance, so a
	// value computed for a replaced entry is never recorded on its successor.
	seq uint64
}

// Seq returns the registry sequence number of the entry.
func (e Entry) Seq() uint64 {
	return e.seq
}

// Value computes the output of the entry at now.
func (e Entry) Value(now time.Time) int {
	return Value(now.Sub(e.StartTime), e.Period, e.PhaseOrigin, e.Min, e.Max)
}

// ShouldApply reports whether value differs enough from the last applied value.
func (e Entry) ShouldApply(value int) bool {
	if e.LastApplied == nil {
		return true
	}
	return abs(value-*e.LastApplied) >= e.MinDelta
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	clone := e
	if e.LastApplied != nil {
		v := *e.LastApplied
		clone.LastApplied = &v
	}
	return clone
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
