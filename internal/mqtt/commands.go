package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dimmerd/internal/cycle"
	"github.com/dokzlo13/dimmerd/internal/engine"
)

// Dispatcher executes engine commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd engine.Command) (*engine.Reply, error)
}

// CommandHandler turns command messages into engine commands. The payload
// is the same JSON body the HTTP API accepts.
type CommandHandler struct {
	ctx    context.Context
	engine Dispatcher
	topics Topics
}

// NewCommandHandler creates a handler dispatching with ctx.
func NewCommandHandler(ctx context.Context, d Dispatcher, prefix string) *CommandHandler {
	return &CommandHandler{ctx: ctx, engine: d, topics: Topics{Prefix: prefix}}
}

// Filter is the topic filter to subscribe the handler to.
func (h *CommandHandler) Filter() string {
	return h.topics.Commands()
}

// Handle processes one command message.
func (h *CommandHandler) Handle(topic string, payload []byte) error {
	kind, op, err := h.topics.ParseCommand(topic)
	if err != nil {
		return err
	}

	cmd, err := decodeCommand(kind, op, payload)
	if err != nil {
		return err
	}

	reply, err := h.engine.Dispatch(h.ctx, cmd)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, kind, err)
	}

	ev := log.Debug().Str("request_id", reply.RequestID).Str("topic", topic)
	if reply.Start != nil {
		ev = ev.Strs("started", reply.Start.Started).Int("failed", len(reply.Start.Failed))
	}
	if reply.Stopped != nil {
		ev = ev.Int("stopped", *reply.Stopped)
	}
	ev.Msg("MQTT command handled")
	return nil
}

func decodeCommand(kind cycle.Kind, op string, payload []byte) (engine.Command, error) {
	switch op {
	case OpStart:
		var cmd engine.StartCommand
		if err := decodePayload(payload, &cmd); err != nil {
			return nil, err
		}
		cmd.Kind, cmd.Source = kind, "mqtt"
		return cmd, nil

	case OpStop:
		var cmd engine.StopCommand
		if err := decodePayload(payload, &cmd); err != nil {
			return nil, err
		}
		cmd.Kind, cmd.Source = kind, "mqtt"
		return cmd, nil

	default:
		return engine.StopAllCommand{Kind: kind, Source: "mqtt"}, nil
	}
}

// decodePayload decodes a JSON payload into v. An empty payload leaves v untouched.
func decodePayload(payload []byte, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON payload: %v", cycle.ErrInvalidParameter, err)
	}
	return nil
}
