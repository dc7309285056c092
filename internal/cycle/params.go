package cycle

import (
	"fmt"
	"time"
)

// Bounds of the codomain accepted for each kind.
const (
	MinBrightness = 1
	MaxBrightness = 255

	MinColorTemp = 1000
	MaxColorTemp = 20000
)

// Params holds the start parameters shared by every target of one start call.
type Params struct {
	Kind        Kind
	Period      time.Duration
	Tick        time.Duration
	Min         int
	Max         int
	Mode        PhaseMode
	PhaseOffset float64
	SyncGroup   bool
	MinDelta    int
}

// Validate rejects malformed parameters.
func (p Params) Validate() error {
	if p.Period <= 0 {
		return fmt.Errorf("%w: period must be positive, got %s", ErrInvalidParameter, p.Period)
	}
	if p.Tick <= 0 {
		return fmt.Errorf("%w: tick interval must be positive, got %s", ErrInvalidParameter, p.Tick)
	}
	if p.Min >= p.Max {
		return fmt.Errorf("%w: value_min (%d) must be less than value_max (%d)", ErrInvalidParameter, p.Min, p.Max)
	}
	if p.MinDelta < 0 {
		return fmt.Errorf("%w: min_delta must not be negative, got %d", ErrInvalidParameter, p.MinDelta)
	}
	if _, err := ParsePhaseMode(string(p.Mode)); err != nil {
		return err
	}

	lo, hi := Range(p.Kind)
	if lo == 0 && hi == 0 {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidParameter, p.Kind)
	}
	if p.Min < lo || p.Max > hi {
		return fmt.Errorf("%w: %s range [%d, %d] outside [%d, %d]", ErrInvalidParameter, p.Kind, p.Min, p.Max, lo, hi)
	}
	return nil
}

// Range returns the accepted codomain bounds for a kind.
func Range(kind Kind) (lo, hi int) {
	switch kind {
	case KindBrightness:
		return MinBrightness, MaxBrightness
	case KindColorTemperature:
		return MinColorTemp, MaxColorTemp
	default:
		return 0, 0
	}
}

// NewEntry builds an entry for target from the parameters and a resolved origin.
func (p Params) NewEntry(target string, origin float64, start time.Time) Entry {
	return Entry{
		Kind:        p.Kind,
		TargetID:    target,
		Period:      p.Period,
		Tick:        p.Tick,
		Min:         p.Min,
		Max:         p.Max,
		Mode:        p.Mode,
		PhaseOffset: p.PhaseOffset,
		PhaseOrigin: origin,
		StartTime:   start,
		MinDelta:    p.MinDelta,
	}
}
