package modules

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/dimmerd/internal/eventbus"
)

// EventsModule lets scripts react to cycle events:
//
//	events.on("target_lost", function(ev)
//	    log.warn("Lost " .. ev.target_id)
//	end)
//
// Handlers run on the Lua worker; Handle must only be called from there.
type EventsModule struct {
	mu       sync.RWMutex
	handlers map[eventbus.EventType][]*lua.LFunction
}

// NewEventsModule creates a new events module
func NewEventsModule() *EventsModule {
	return &EventsModule{handlers: make(map[eventbus.EventType][]*lua.LFunction)}
}

// Loader is the module loader for Lua
func (m *EventsModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "on", L.NewFunction(m.on))
	for _, t := range eventbus.AllEventTypes {
		L.SetField(mod, string(t), lua.LString(t))
	}

	L.Push(mod)
	return 1
}

// on(event_type, fn)
func (m *EventsModule) on(L *lua.LState) int {
	name := eventbus.EventType(L.CheckString(1))
	fn := L.CheckFunction(2)

	if !knownEvent(name) {
		L.ArgError(1, "unknown event type: "+string(name))
		return 0
	}

	m.mu.Lock()
	m.handlers[name] = append(m.handlers[name], fn)
	m.mu.Unlock()

	log.Debug().Str("event", string(name)).Msg("Registered Lua event handler")
	return 0
}

// Subscribed returns the event types with at least one handler.
func (m *EventsModule) Subscribed() []eventbus.EventType {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []eventbus.EventType
	for _, t := range eventbus.AllEventTypes {
		if len(m.handlers[t]) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Handle calls every handler registered for ev.Type. Handler errors are
// logged and do not stop the remaining handlers.
func (m *EventsModule) Handle(L *lua.LState, ev eventbus.Event) {
	m.mu.RLock()
	handlers := append([]*lua.LFunction(nil), m.handlers[ev.Type]...)
	m.mu.RUnlock()

	for _, fn := range handlers {
		tbl := L.NewTable()
		L.SetField(tbl, "type", lua.LString(ev.Type))
		L.SetField(tbl, "kind", lua.LString(ev.Kind))
		L.SetField(tbl, "target_id", lua.LString(ev.TargetID))
		L.SetField(tbl, "time", lua.LString(ev.Time.Format(time.RFC3339)))
		L.SetField(tbl, "data", MapToLuaTable(L, ev.Data))

		if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl); err != nil {
			log.Error().Err(err).Str("event", string(ev.Type)).Msg("Lua event handler failed")
		}
	}
}

func knownEvent(t eventbus.EventType) bool {
	for _, known := range eventbus.AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}
