package modules

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/dimmerd/internal/cycle"
	"github.com/dokzlo13/dimmerd/internal/engine"
)

// Dispatcher executes engine commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd engine.Command) (*engine.Reply, error)
}

// DimmerModule provides dimmer.* functions to Lua.
//
// Calls that can fail return (result, error_string):
//
//	local res, err = dimmer.start{targets = {"1", "2"}, kind = "brightness", period = 30}
//	if err then
//	    log.error("Start failed: " .. err)
//	end
type DimmerModule struct {
	engine Dispatcher
}

// NewDimmerModule creates a new dimmer module
func NewDimmerModule(d Dispatcher) *DimmerModule {
	return &DimmerModule{engine: d}
}

// Loader is the module loader for Lua
func (m *DimmerModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "start", L.NewFunction(m.start))
	L.SetField(mod, "stop", L.NewFunction(m.stop))
	L.SetField(mod, "stop_all", L.NewFunction(m.stopAll))
	L.SetField(mod, "is_cycling", L.NewFunction(m.isCycling))
	L.SetField(mod, "status", L.NewFunction(m.status))

	L.Push(mod)
	return 1
}

// start{targets=..., kind=..., period=..., ...} -> (result, err)
func (m *DimmerModule) start(L *lua.LState) int {
	opts := L.CheckTable(1)

	cmd := engine.StartCommand{
		Kind:        optKind(L, opts),
		Targets:     StringList(L.GetField(opts, "targets")),
		Period:      optNumber(L, opts, "period"),
		Tick:        optNumber(L, opts, "tick_interval"),
		Min:         optInt(L, opts, "value_min"),
		Max:         optInt(L, opts, "value_max"),
		PhaseOffset: optNumber(L, opts, "phase_offset"),
		MinDelta:    optInt(L, opts, "min_delta"),
		Source:      "lua",
	}
	if v, ok := L.GetField(opts, "phase_mode").(lua.LString); ok {
		s := string(v)
		cmd.PhaseMode = &s
	}
	if v, ok := L.GetField(opts, "sync_group").(lua.LBool); ok {
		b := bool(v)
		cmd.SyncGroup = &b
	}

	reply, err := m.engine.Dispatch(luaContext(L), cmd)
	if err != nil {
		return pushError(L, err)
	}

	res := reply.Start
	failed := L.NewTable()
	for _, f := range res.Failed {
		entry := L.NewTable()
		L.SetField(entry, "target", lua.LString(f.Target))
		L.SetField(entry, "error", lua.LString(f.Error))
		failed.Append(entry)
	}

	tbl := L.NewTable()
	L.SetField(tbl, "request_id", lua.LString(res.RequestID))
	L.SetField(tbl, "kind", lua.LString(res.Kind))
	L.SetField(tbl, "started", GoToLuaValue(L, res.Started))
	L.SetField(tbl, "failed", failed)

	L.Push(tbl)
	L.Push(lua.LNil)
	return 2
}

// stop{targets=..., kind=...} -> (count, err)
func (m *DimmerModule) stop(L *lua.LState) int {
	opts := L.CheckTable(1)

	reply, err := m.engine.Dispatch(luaContext(L), engine.StopCommand{
		Kind:    optKind(L, opts),
		Targets: StringList(L.GetField(opts, "targets")),
		Source:  "lua",
	})
	if err != nil {
		return pushError(L, err)
	}

	L.Push(lua.LNumber(*reply.Stopped))
	L.Push(lua.LNil)
	return 2
}

// stop_all(kind) -> (count, err)
func (m *DimmerModule) stopAll(L *lua.LState) int {
	kind := cycle.Kind(L.OptString(1, string(cycle.KindBrightness)))

	reply, err := m.engine.Dispatch(luaContext(L), engine.StopAllCommand{Kind: kind, Source: "lua"})
	if err != nil {
		return pushError(L, err)
	}

	L.Push(lua.LNumber(*reply.Stopped))
	L.Push(lua.LNil)
	return 2
}

// is_cycling(kind, targets) -> bool
func (m *DimmerModule) isCycling(L *lua.LState) int {
	kind := cycle.Kind(L.CheckString(1))
	targets := StringList(L.Get(2))

	reply, err := m.engine.Dispatch(luaContext(L), engine.IsCyclingCommand{Kind: kind, Targets: targets})
	if err != nil {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(*reply.Cycling))
	return 1
}

// status() -> table
func (m *DimmerModule) status(L *lua.LState) int {
	reply, err := m.engine.Dispatch(luaContext(L), engine.StatusCommand{})
	if err != nil {
		return pushError(L, err)
	}

	v, err := StructToLua(L, reply.Status)
	if err != nil {
		return pushError(L, err)
	}
	L.Push(v)
	L.Push(lua.LNil)
	return 2
}

// luaContext returns the context set on the state by the runtime.
func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

func optKind(L *lua.LState, opts *lua.LTable) cycle.Kind {
	if v, ok := L.GetField(opts, "kind").(lua.LString); ok {
		return cycle.Kind(v)
	}
	return cycle.KindBrightness
}

func optNumber(L *lua.LState, opts *lua.LTable, name string) *float64 {
	v, ok := L.GetField(opts, name).(lua.LNumber)
	if !ok {
		return nil
	}
	f := float64(v)
	return &f
}

func optInt(L *lua.LState, opts *lua.LTable, name string) *int {
	v, ok := L.GetField(opts, name).(lua.LNumber)
	if !ok {
		return nil
	}
	i := int(v)
	return &i
}
