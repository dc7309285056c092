package mqtt

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dimmerd/internal/cycle"
	"github.com/dokzlo13/dimmerd/internal/eventbus"
)

const stateCycling = "cycling"

// StatePublisher mirrors the registries as retained state topics.
// An empty retained payload clears the topic on the broker. Events only name
// the target to refresh; the published state is read from the registry, so
// events handled out of order still converge.
type StatePublisher struct {
	pub      Publisher
	topics   Topics
	registry *cycle.Registry

	mu      sync.Mutex
	tracked map[cycle.Kind]map[string]struct{}
}

// NewStatePublisher creates a publisher writing through pub.
func NewStatePublisher(pub Publisher, prefix string, registry *cycle.Registry) *StatePublisher {
	return &StatePublisher{
		pub:      pub,
		topics:   Topics{Prefix: prefix},
		registry: registry,
		tracked:  make(map[cycle.Kind]map[string]struct{}),
	}
}

// Sync publishes the state of every registered target. Used after restore
// and on every reconnect.
func (p *StatePublisher) Sync() {
	for _, e := range p.registry.SnapshotAll() {
		p.set(e.Kind, e.TargetID)
	}
}

// Handle applies one bus event.
func (p *StatePublisher) Handle(ev eventbus.Event) {
	kind := cycle.Kind(ev.Kind)

	switch ev.Type {
	case eventbus.EventCycleStarted, eventbus.EventCycleStopped, eventbus.EventTargetLost:
		p.refresh(kind, ev.TargetID)
	case eventbus.EventCyclesCleared:
		p.mu.Lock()
		targets := make([]string, 0, len(p.tracked[kind]))
		for t := range p.tracked[kind] {
			targets = append(targets, t)
		}
		p.mu.Unlock()

		for _, t := range targets {
			p.refresh(kind, t)
		}
	}
}

func (p *StatePublisher) refresh(kind cycle.Kind, target string) {
	if p.registry.Contains(kind, target) {
		p.set(kind, target)
		return
	}
	p.clear(kind, target)
}

func (p *StatePublisher) set(kind cycle.Kind, target string) {
	p.mu.Lock()
	if p.tracked[kind] == nil {
		p.tracked[kind] = make(map[string]struct{})
	}
	p.tracked[kind][target] = struct{}{}
	p.mu.Unlock()

	p.publish(kind, target, []byte(stateCycling))
}

func (p *StatePublisher) clear(kind cycle.Kind, target string) {
	p.mu.Lock()
	delete(p.tracked[kind], target)
	p.mu.Unlock()

	p.publish(kind, target, nil)
}

func (p *StatePublisher) publish(kind cycle.Kind, target string, payload []byte) {
	topic := p.topics.State(kind, target)
	if err := p.pub.Publish(topic, payload, true); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to publish cycling state")
	}
}
