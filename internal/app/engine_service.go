package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dimmerd/internal/config"
	"github.com/dokzlo13/dimmerd/internal/cycle"
	"github.com/dokzlo13/dimmerd/internal/engine"
	"github.com/dokzlo13/dimmerd/internal/scheduler"
	"github.com/dokzlo13/dimmerd/internal/storage"
	"github.com/dokzlo13/dimmerd/internal/telemetry"
)

// Collaborator reads and applies target values.
type Collaborator interface {
	engine.Reader
	scheduler.Applier
}

// EngineService wraps the cycling loop and the command engine.
type EngineService struct {
	Scheduler *scheduler.Scheduler
	Engine    *engine.Engine
	store     *storage.CycleStore
}

// NewEngineService wires the scheduler and the engine to registry.
func NewEngineService(
	cfg *config.Config,
	registry *cycle.Registry,
	target Collaborator,
	store *storage.CycleStore,
	metrics *telemetry.Metrics,
) (*EngineService, error) {
	defaults, err := DefaultsFromConfig(cfg.Engine.Defaults)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(registry, target, scheduler.Config{
		DefaultTick:  cfg.Engine.DefaultTick.Duration(),
		ApplyTimeout: cfg.Engine.ApplyTimeout.Duration(),
	}, metrics)

	return &EngineService{
		Scheduler: sched,
		Engine:    engine.New(registry, target, sched, defaults),
		store:     store,
	}, nil
}

// DefaultsFromConfig converts the configured start defaults.
func DefaultsFromConfig(c config.StartDefaults) (engine.Defaults, error) {
	d := engine.DefaultDefaults()

	d.Period = c.Period.Duration()
	d.Tick = c.Tick.Duration()
	d.Brightness = [2]int{c.Brightness.Min, c.Brightness.Max}
	d.ColorTemp = [2]int{c.ColorTemp.Min, c.ColorTemp.Max}
	d.PhaseOffset = c.PhaseOffset
	if c.PhaseMode != "" {
		mode, err := cycle.ParsePhaseMode(c.PhaseMode)
		if err != nil {
			return engine.Defaults{}, fmt.Errorf("invalid engine.defaults.phase_mode: %w", err)
		}
		d.Mode = mode
	}
	if c.SyncGroup != nil {
		d.SyncGroup = *c.SyncGroup
	}
	if c.MinDelta != nil {
		d.MinDelta = *c.MinDelta
	}

	for _, kind := range cycle.Kinds {
		p := cycle.Params{Kind: kind, Period: d.Period, Tick: d.Tick, Mode: d.Mode, MinDelta: d.MinDelta}
		p.Min, p.Max = d.Brightness[0], d.Brightness[1]
		if kind == cycle.KindColorTemperature {
			p.Min, p.Max = d.ColorTemp[0], d.ColorTemp[1]
		}
		if err := p.Validate(); err != nil {
			return engine.Defaults{}, fmt.Errorf("invalid engine.defaults for %s: %w", kind, err)
		}
	}
	return d, nil
}

// Restore loads the persisted registries. The loop is not started.
func (s *EngineService) Restore() error {
	n, err := s.Engine.Restore(s.store)
	if err != nil {
		return err
	}
	if n == 0 {
		log.Info().Msg("No persisted cycles to restore")
	}
	return nil
}

// Start runs the loop if anything is cycling.
func (s *EngineService) Start(ctx context.Context) {
	s.Scheduler.Start(ctx)
}

// Shutdown stops the loop and flushes the registries.
func (s *EngineService) Shutdown() error {
	return s.Engine.Shutdown()
}
