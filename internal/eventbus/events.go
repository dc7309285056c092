package eventbus

import (
	"github.com/dokzlo13/dimmerd/internal/cycle"
)

// FromChange converts a registry change into a bus event.
func FromChange(c cycle.Change) Event {
	ev := Event{
		Kind:     string(c.Kind),
		TargetID: c.TargetID,
	}

	switch c.Op {
	case cycle.OpAdded:
		ev.Type = EventCycleStarted
		if e := c.Entry; e != nil {
			ev.Data = map[string]any{
				"period_s":     e.Period.Seconds(),
				"tick_s":       e.Tick.Seconds(),
				"value_min":    e.Min,
				"value_max":    e.Max,
				"phase_mode":   string(e.Mode),
				"phase_origin": e.PhaseOrigin,
				"min_delta":    e.MinDelta,
			}
		}
	case cycle.OpRemoved:
		ev.Type = EventCycleStopped
	case cycle.OpCleared:
		ev.Type = EventCyclesCleared
		ev.Data = map[string]any{"count": c.Count}
	case cycle.OpLost:
		ev.Type = EventTargetLost
	}
	return ev
}

// Forward publishes every change of registry on bus.
func Forward(registry *cycle.Registry, bus *Bus) {
	registry.Subscribe(func(c cycle.Change) {
		bus.Publish(FromChange(c))
	})
}
