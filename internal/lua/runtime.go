// Package lua runs the optional boot script and script event handlers.
package lua

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/dimmerd/internal/eventbus"
	"github.com/dokzlo13/dimmerd/internal/lua/modules"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = fmt.Errorf("lua runtime closed")

// LuaWork represents work to be executed on the Lua VM.
// All Lua execution after the boot script goes through the work queue.
type LuaWork func(ctx context.Context)

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L *lua.LState

	dimmerModule *modules.DimmerModule
	eventsModule *modules.EventsModule

	workQueue chan LuaWork

	mu      sync.Mutex
	running bool
	closed  bool
	done    chan struct{}

	closing   chan struct{}
	closeOnce sync.Once
}

// NewRuntime creates a new Lua runtime with the dimmer, events and log modules.
func NewRuntime(d modules.Dispatcher) *Runtime {
	r := &Runtime{
		L:            lua.NewState(),
		dimmerModule: modules.NewDimmerModule(d),
		eventsModule: modules.NewEventsModule(),
		workQueue:    make(chan LuaWork, 100),
		done:         make(chan struct{}),
		closing:      make(chan struct{}),
	}

	r.L.PreloadModule("log", modules.NewLogModule().Loader)
	r.L.PreloadModule("dimmer", r.dimmerModule.Loader)
	r.L.PreloadModule("events", r.eventsModule.Loader)

	return r
}

// Close stops accepting new work, waits for Run to return and closes the
// Lua state. It is safe to call more than once.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)

		r.mu.Lock()
		r.closed = true
		running := r.running
		r.mu.Unlock()

		if running {
			<-r.done
		}
		r.L.Close()
	})
}

// Do queues work to be executed on the Lua VM (non-blocking).
// Returns false if the runtime is closing, the queue is full or ctx is done.
func (r *Runtime) Do(ctx context.Context, work LuaWork) bool {
	select {
	case <-r.closing:
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	default:
	}

	select {
	case <-r.closing:
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping Lua work")
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// Run processes queued work until ctx is cancelled or the runtime is closed.
// It is the only goroutine that touches the VM after the boot script.
// Run returns immediately on a closed runtime.
func (r *Runtime) Run(ctx context.Context) {
	r.mu.Lock()
	if r.closed || r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

func (r *Runtime) executeWork(ctx context.Context, work LuaWork) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()
	r.L.SetContext(ctx)
	defer r.L.RemoveContext()
	work(ctx)
}

// LoadScript executes the boot script. It must be called before Run.
func (r *Runtime) LoadScript(ctx context.Context, path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")

	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}

	log.Info().Msg("Lua script loaded successfully")
	return nil
}

// DoString executes a chunk of Lua code. It must not run concurrently with Run.
func (r *Runtime) DoString(ctx context.Context, code string) error {
	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	if err := r.L.DoString(code); err != nil {
		return fmt.Errorf("failed to execute Lua code: %w", err)
	}
	return nil
}

// Subscribe forwards the bus events the script registered handlers for to
// the Lua worker. Call it after the boot script.
func (r *Runtime) Subscribe(ctx context.Context, bus *eventbus.Bus) int {
	types := r.eventsModule.Subscribed()
	for _, t := range types {
		bus.Subscribe(t, func(ev eventbus.Event) {
			r.Do(ctx, func(context.Context) {
				r.eventsModule.Handle(r.L, ev)
			})
		})
	}
	return len(types)
}
