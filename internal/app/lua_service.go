package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dimmerd/internal/config"
	"github.com/dokzlo13/dimmerd/internal/eventbus"
	luart "github.com/dokzlo13/dimmerd/internal/lua"
	"github.com/dokzlo13/dimmerd/internal/lua/modules"
)

// LuaService runs the optional boot script.
type LuaService struct {
	cfg     *config.Config
	Runtime *luart.Runtime
}

// NewLuaService creates a new LuaService. Without a script the runtime is not created.
func NewLuaService(cfg *config.Config, d modules.Dispatcher) *LuaService {
	s := &LuaService{cfg: cfg}
	if cfg.Script != "" {
		s.Runtime = luart.NewRuntime(d)
	}
	return s
}

// LoadScript executes the boot script. Must be called before Start.
func (s *LuaService) LoadScript(ctx context.Context) error {
	if s.Runtime == nil {
		return nil
	}
	return s.Runtime.LoadScript(ctx, s.cfg.Script)
}

// Start forwards subscribed events to the script and starts the Lua worker.
func (s *LuaService) Start(ctx context.Context, bus *eventbus.Bus) {
	if s.Runtime == nil {
		return
	}

	if n := s.Runtime.Subscribe(ctx, bus); n > 0 {
		log.Info().Int("event_types", n).Msg("Lua event handlers registered")
	}
	go s.Runtime.Run(ctx)
}

// Close closes the Lua runtime.
func (s *LuaService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}
