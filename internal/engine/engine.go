// Package engine implements the cycling command set on top of the registry
// and the scheduling loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dimmerd/internal/cycle"
)

// Reader reads the current value of a target for phase synchronisation.
// It returns an error wrapping cycle.ErrNoCurrentValue when the target exists
// but has no value (light off); any other error makes the target unavailable.
type Reader interface {
	ReadCurrentValue(ctx context.Context, kind cycle.Kind, target string) (int, error)
}

// Loop is the scheduling loop as seen by the engine.
type Loop interface {
	IsRunning() bool
	Stop()
}

// Loader loads persisted registries.
type Loader interface {
	Load() (map[cycle.Kind][]cycle.Entry, error)
}

// Defaults are applied to start fields the caller leaves out.
type Defaults struct {
	Period      time.Duration
	Tick        time.Duration
	Brightness  [2]int
	ColorTemp   [2]int
	Mode        cycle.PhaseMode
	PhaseOffset float64
	SyncGroup   bool
	MinDelta    int
}

// DefaultDefaults returns the built-in start defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Period:     10 * time.Second,
		Tick:       250 * time.Millisecond,
		Brightness: [2]int{3, 255},
		ColorTemp:  [2]int{2700, 6500},
		Mode:       cycle.PhaseSyncToCurrent,
		SyncGroup:  true,
		MinDelta:   1,
	}
}

// Engine dispatches commands against the registry.
type Engine struct {
	registry *cycle.Registry
	reader   Reader
	loop     Loop
	defaults Defaults
	now      func() time.Time
}

// New creates an engine. loop may be nil until the scheduler is wired.
func New(registry *cycle.Registry, reader Reader, loop Loop, defaults Defaults) *Engine {
	return &Engine{
		registry: registry,
		reader:   reader,
		loop:     loop,
		defaults: defaults,
		now:      time.Now,
	}
}

// Registry returns the registry the engine operates on.
func (e *Engine) Registry() *cycle.Registry {
	return e.registry
}

// Dispatch executes cmd.
func (e *Engine) Dispatch(ctx context.Context, cmd Command) (*Reply, error) {
	reply := &Reply{RequestID: uuid.NewString()}

	switch c := cmd.(type) {
	case StartCommand:
		res, err := e.start(ctx, reply.RequestID, c)
		if err != nil {
			return nil, err
		}
		reply.Start = res

	case StopCommand:
		n, err := e.stop(reply.RequestID, c)
		if err != nil {
			return nil, err
		}
		reply.Stopped = &n

	case StopAllCommand:
		n, err := e.stopAll(reply.RequestID, c)
		if err != nil {
			return nil, err
		}
		reply.Stopped = &n

	case IsCyclingCommand:
		cycling := e.IsCycling(c.Kind, c.Targets)
		reply.Cycling = &cycling

	case StatusCommand:
		status := e.Status()
		reply.Status = &status

	default:
		return nil, fmt.Errorf("%w: unsupported command %T", cycle.ErrInvalidParameter, cmd)
	}

	return reply, nil
}

// Params merges the command fields with the defaults.
func (e *Engine) Params(c StartCommand) (cycle.Params, error) {
	kind, err := cycle.ParseKind(string(c.Kind))
	if err != nil {
		return cycle.Params{}, err
	}

	d := e.defaults
	p := cycle.Params{
		Kind:        kind,
		Period:      d.Period,
		Tick:        d.Tick,
		Mode:        d.Mode,
		PhaseOffset: d.PhaseOffset,
		SyncGroup:   d.SyncGroup,
		MinDelta:    d.MinDelta,
	}
	if kind == cycle.KindColorTemperature {
		p.Min, p.Max = d.ColorTemp[0], d.ColorTemp[1]
	} else {
		p.Min, p.Max = d.Brightness[0], d.Brightness[1]
	}

	if c.Period != nil {
		if p.Period, err = seconds("period", *c.Period); err != nil {
			return cycle.Params{}, err
		}
	}
	if c.Tick != nil {
		if p.Tick, err = seconds("tick_interval", *c.Tick); err != nil {
			return cycle.Params{}, err
		}
	}
	if c.Min != nil {
		p.Min = *c.Min
	}
	if c.Max != nil {
		p.Max = *c.Max
	}
	if c.PhaseMode != nil {
		mode, err := cycle.ParsePhaseMode(*c.PhaseMode)
		if err != nil {
			return cycle.Params{}, err
		}
		p.Mode = mode
	}
	if c.PhaseOffset != nil {
		p.PhaseOffset = *c.PhaseOffset
	}
	if c.SyncGroup != nil {
		p.SyncGroup = *c.SyncGroup
	}
	if c.MinDelta != nil {
		p.MinDelta = *c.MinDelta
	}

	if err := p.Validate(); err != nil {
		return cycle.Params{}, err
	}
	return p, nil
}

func (e *Engine) start(ctx context.Context, requestID string, c StartCommand) (*StartResult, error) {
	p, err := e.Params(c)
	if err != nil {
		return nil, err
	}
	targets := unique(c.Targets)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", cycle.ErrInvalidParameter)
	}

	res := &StartResult{RequestID: requestID, Kind: p.Kind, Started: []string{}}
	now := e.now()

	origins := make(map[string]float64, len(targets))
	switch {
	case p.Mode != cycle.PhaseSyncToCurrent:
		origin := cycle.ResolveOrigin(p.Mode, p.PhaseOffset, 0, p.Period)
		for _, t := range targets {
			origins[t] = origin
		}

	case p.SyncGroup:
		// The first readable target sets the origin for the whole group.
		var (
			origin float64
			synced bool
		)
		for _, t := range targets {
			if !synced {
				o, err := e.syncOrigin(ctx, p, t)
				if err != nil {
					res.Failed = append(res.Failed, TargetError{Target: t, Error: err.Error()})
					continue
				}
				origin, synced = o, true
			}
			origins[t] = origin
		}

	default:
		for _, t := range targets {
			o, err := e.syncOrigin(ctx, p, t)
			if err != nil {
				res.Failed = append(res.Failed, TargetError{Target: t, Error: err.Error()})
				continue
			}
			origins[t] = o
		}
	}

	for _, t := range targets {
		origin, ok := origins[t]
		if !ok {
			continue
		}
		if err := e.registry.Add(p.NewEntry(t, origin, now)); err != nil {
			log.Warn().Err(err).Str("target", t).Msg("Cycle started but could not be persisted")
		}
		res.Started = append(res.Started, t)
	}

	log.Info().
		Str("request_id", requestID).
		Str("source", c.Source).
		Str("kind", string(p.Kind)).
		Strs("started", res.Started).
		Int("failed", len(res.Failed)).
		Dur("period", p.Period).
		Int("min", p.Min).
		Int("max", p.Max).
		Str("phase_mode", string(p.Mode)).
		Msg("Started cycle")

	for _, f := range res.Failed {
		log.Warn().Str("request_id", requestID).Str("target", f.Target).Str("error", f.Error).Msg("Target could not be started")
	}

	return res, nil
}

// syncOrigin reads the current value of target and inverts the wave against it.
// A target without a current value starts from the bottom of the range.
func (e *Engine) syncOrigin(ctx context.Context, p cycle.Params, target string) (float64, error) {
	if e.reader == nil {
		return 0, fmt.Errorf("%w: no reader configured", cycle.ErrTargetUnavailable)
	}

	v0, err := e.reader.ReadCurrentValue(ctx, p.Kind, target)
	switch {
	case err == nil:
	case errors.Is(err, cycle.ErrNoCurrentValue):
		log.Debug().Str("target", target).Msg("No current value, starting from range minimum")
		v0 = p.Min
	case errors.Is(err, cycle.ErrTargetUnavailable):
		return 0, err
	default:
		return 0, fmt.Errorf("%w: %v", cycle.ErrTargetUnavailable, err)
	}
	return cycle.SyncOrigin(v0, p.Min, p.Max), nil
}

func (e *Engine) stop(requestID string, c StopCommand) (int, error) {
	kind, err := cycle.ParseKind(string(c.Kind))
	if err != nil {
		return 0, err
	}
	c.Kind = kind

	var (
		stopped  int
		firstErr error
	)
	for _, t := range unique(c.Targets) {
		removed, err := e.registry.Remove(c.Kind, t)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if !removed {
			log.Warn().Str("request_id", requestID).Str("kind", string(c.Kind)).Str("target", t).Msg("Target is not cycling")
			continue
		}
		stopped++
	}

	log.Info().
		Str("request_id", requestID).
		Str("source", c.Source).
		Str("kind", string(c.Kind)).
		Int("stopped", stopped).
		Msg("Stopped cycle")

	// A persistence failure does not undo the removal.
	if firstErr != nil {
		log.Warn().Err(firstErr).Str("request_id", requestID).Msg("Stop not persisted")
	}
	return stopped, nil
}

func (e *Engine) stopAll(requestID string, c StopAllCommand) (int, error) {
	kind, err := cycle.ParseKind(string(c.Kind))
	if err != nil {
		return 0, err
	}
	c.Kind = kind

	n, err := e.registry.RemoveAll(c.Kind)
	if err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("Stop all not persisted")
	}

	log.Info().
		Str("request_id", requestID).
		Str("source", c.Source).
		Str("kind", string(c.Kind)).
		Int("stopped", n).
		Msg("Stopped all cycles")
	return n, nil
}

// IsCycling reports whether any of targets is cycling in kind.
func (e *Engine) IsCycling(kind cycle.Kind, targets []string) bool {
	if e == nil {
		return false
	}
	if k, err := cycle.ParseKind(string(kind)); err == nil {
		kind = k
	}
	return e.registry.ContainsAny(kind, targets)
}

// Restore loads persisted registries. It does not start the loop.
func (e *Engine) Restore(loader Loader) (int, error) {
	loaded, err := loader.Load()
	if err != nil {
		return 0, fmt.Errorf("failed to load registry: %w", err)
	}

	total := 0
	for _, kind := range cycle.Kinds {
		entries := loaded[kind]
		if err := e.registry.Restore(kind, entries); err != nil {
			return total, err
		}
		if len(entries) == 0 {
			continue
		}

		ids := make([]string, 0, len(entries))
		for _, en := range entries {
			ids = append(ids, en.TargetID)
		}
		log.Info().Str("kind", string(kind)).Strs("targets", ids).Msg("Restored cycles")
		total += len(entries)
	}
	return total, nil
}

// Shutdown stops the loop and saves the registries once more so the latest
// applied values survive the restart.
func (e *Engine) Shutdown() error {
	if e.loop != nil {
		e.loop.Stop()
	}
	if err := e.registry.Flush(); err != nil {
		return fmt.Errorf("failed to flush registry: %w", err)
	}
	log.Info().Msg("Registry flushed")
	return nil
}

func unique(targets []string) []string {
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// seconds converts s to a duration rounded to the nearest nanosecond.
func seconds(name string, s float64) (time.Duration, error) {
	ns := math.Round(s * float64(time.Second))
	if math.IsNaN(ns) || ns >= float64(math.MaxInt64) || ns <= float64(math.MinInt64) {
		return 0, fmt.Errorf("%w: %s %g s is out of range", cycle.ErrInvalidParameter, name, s)
	}
	return time.Duration(ns), nil
}
