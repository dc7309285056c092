package app

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dimmerd/internal/config"
	"github.com/dokzlo13/dimmerd/internal/cycle"
	"github.com/dokzlo13/dimmerd/internal/eventbus"
	"github.com/dokzlo13/dimmerd/internal/mqtt"
)

// MQTTService connects the command topics and the retained state topics.
type MQTTService struct {
	cfg    *config.Config
	engine mqtt.Dispatcher
	client atomic.Pointer[mqtt.Client]
	state  *mqtt.StatePublisher
}

// NewMQTTService creates a new MQTTService.
func NewMQTTService(cfg *config.Config, d mqtt.Dispatcher, registry *cycle.Registry) *MQTTService {
	s := &MQTTService{cfg: cfg, engine: d}
	s.state = mqtt.NewStatePublisher(s, cfg.MQTT.Prefix, registry)
	return s
}

// Start connects to the broker, subscribes to commands and starts mirroring state.
func (s *MQTTService) Start(ctx context.Context, bus *eventbus.Bus) error {
	if !s.cfg.MQTT.Enabled {
		log.Debug().Msg("MQTT disabled")
		return nil
	}

	client, err := mqtt.Connect(s.cfg.MQTT, func() {
		// Republish on reconnect; the first connect is synced below.
		if s.client.Load() != nil {
			go s.state.Sync()
		}
	})
	if err != nil {
		return err
	}
	s.client.Store(client)

	handler := mqtt.NewCommandHandler(ctx, s.engine, s.cfg.MQTT.Prefix)
	if err := client.Subscribe(handler.Filter(), handler.Handle); err != nil {
		return err
	}

	bus.SubscribeAll(s.state.Handle)
	s.state.Sync()
	return nil
}

// Publish implements mqtt.Publisher for the state publisher.
func (s *MQTTService) Publish(topic string, payload []byte, retained bool) error {
	client := s.client.Load()
	if client == nil {
		return mqtt.ErrNotConnected
	}
	return client.Publish(topic, payload, retained)
}

// Close disconnects from the broker.
func (s *MQTTService) Close() {
	if client := s.client.Load(); client != nil {
		client.Close()
	}
}
