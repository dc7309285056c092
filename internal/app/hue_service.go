package app

import (
	"context"
	"fmt"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dimmerd/internal/config"
	"github.com/dokzlo13/dimmerd/internal/hue"
)

// HueService wraps the bridge client and the value adapter.
type HueService struct {
	cfg *config.Config

	Bridge  *huego.Bridge
	Adapter *hue.Adapter
}

// NewHueService creates the bridge client. Nothing is contacted until Start.
func NewHueService(cfg *config.Config) *HueService {
	bridge := hue.Connect(cfg.Hue.Bridge, cfg.Hue.Token)
	adapter := hue.NewAdapter(bridge, cfg.Hue.RateLimitRPS, cfg.Hue.Transition.Duration()).
		WithReadTimeout(cfg.Hue.Timeout.Duration())

	return &HueService{
		cfg:     cfg,
		Bridge:  bridge,
		Adapter: adapter,
	}
}

// Start checks that the bridge answers with the configured token.
func (s *HueService) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Hue.Timeout.Duration())
	defer cancel()

	lights, err := s.Bridge.GetLightsContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Hue bridge %s: %w", s.cfg.Hue.Bridge, err)
	}

	log.Info().Str("bridge", s.cfg.Hue.Bridge).Int("lights", len(lights)).Msg("Connected to Hue bridge")
	return nil
}
