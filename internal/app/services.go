package app

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dimmerd/internal/config"
	"github.com/dokzlo13/dimmerd/internal/cycle"
	"github.com/dokzlo13/dimmerd/internal/db"
	"github.com/dokzlo13/dimmerd/internal/eventbus"
	"github.com/dokzlo13/dimmerd/internal/ledger"
	"github.com/dokzlo13/dimmerd/internal/storage"
	"github.com/dokzlo13/dimmerd/internal/telemetry"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Store   *storage.Store
	Cycles  *storage.CycleStore
	Bus     *eventbus.Bus
	Metrics *telemetry.Metrics

	Registry *cycle.Registry

	// High-level services
	Hue    *HueService
	Engine *EngineService
	Ledger *LedgerService
	Lua    *LuaService
	API    *APIService
	MQTT   *MQTTService

	ready atomic.Bool
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Store = storage.NewStore(database.DB)
	s.Cycles = storage.NewCycleStore(s.Store)
	s.Registry = cycle.NewRegistry(s.Cycles)
	s.Metrics = telemetry.New()

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	eventbus.Forward(s.Registry, s.Bus)

	s.Ledger = NewLedgerService(cfg, ledger.New(database.DB))
	s.Hue = NewHueService(cfg)

	s.Engine, err = NewEngineService(cfg, s.Registry, s.Hue.Adapter, s.Cycles, s.Metrics)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Lua = NewLuaService(cfg, s.Engine.Engine)
	s.API = NewAPIService(cfg, s.Engine.Engine, s.Metrics, s.ready.Load)
	s.MQTT = NewMQTTService(cfg, s.Engine.Engine, s.Registry)

	return s, nil
}

// Start starts all services in the correct order. Persisted cycles are
// restored and the boot script runs before the loop starts.
func (s *Services) Start(ctx context.Context) error {
	s.API.Start(ctx)

	if err := s.Hue.Start(ctx); err != nil {
		return err
	}

	if err := s.Engine.Restore(); err != nil {
		return err
	}

	s.Ledger.Start(ctx, s.Bus)

	if err := s.Lua.LoadScript(ctx); err != nil {
		return err
	}
	s.Lua.Start(ctx, s.Bus)

	if err := s.MQTT.Start(ctx, s.Bus); err != nil {
		return err
	}

	s.Engine.Start(ctx)
	s.ready.Store(true)
	return nil
}

// Stop stops the loop, persists the registries and releases all resources.
func (s *Services) Stop() error {
	s.ready.Store(false)

	// The Lua worker is stopped before the registry flush.
	if s.Lua != nil {
		s.Lua.Close()
	}

	var err error
	if s.Engine != nil {
		err = s.Engine.Shutdown()
	}
	s.Close()
	return err
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
