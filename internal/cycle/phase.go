package cycle

import (
	"math"
	"time"
)

// Value maps elapsed time onto the sine wave and returns the integer output
// clamped to [min, max].
func Value(elapsed, period time.Duration, origin float64, min, max int) int {
	theta := 2*math.Pi*(elapsed.Seconds()/period.Seconds()) + origin
	return valueAt(theta, min, max)
}

func valueAt(theta float64, min, max int) int {
	span := float64(max - min)
	v := int(math.Round(float64(min) + span*(1+math.Sin(theta))/2))
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ResolveOrigin computes the phase origin for the Absolute and Relative modes.
// elapsedAtStart is the time-phase already accumulated when the entry is
// created, which is zero for fresh entries.
func ResolveOrigin(mode PhaseMode, offset float64, elapsedAtStart, period time.Duration) float64 {
	switch mode {
	case PhaseRelative:
		return 2*math.Pi*(elapsedAtStart.Seconds()/period.Seconds()) + offset
	default:
		return offset
	}
}

// SyncOrigin inverts the wave against the observed value v0 so that the wave
// starts at v0. The rising branch is always chosen; at the range boundaries
// the origin is exactly -π/2 or π/2.
func SyncOrigin(v0, min, max int) float64 {
	if max <= min {
		return 0
	}
	s := 2*float64(v0-min)/float64(max-min) - 1
	if s < -1 {
		s = -1
	}
	if s > 1 {
		s = 1
	}
	return math.Asin(s)
}
