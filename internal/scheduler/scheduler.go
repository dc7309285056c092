// Package scheduler runs the single shared cycling loop.
//
// One goroutine services every registered target. On each wake it snapshots the
// registry, evaluates the entries whose own tick interval has elapsed, and pushes
// values that moved by at least min_delta to the Applier. The loop exits after a
// tick that leaves both registries empty and is restarted by the next addition.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dimmerd/internal/cycle"
	"github.com/dokzlo13/dimmerd/internal/telemetry"
)

// Default configuration
const (
	DefaultTick         = 250 * time.Millisecond
	DefaultApplyTimeout = 2 * time.Second
)

// Applier pushes a computed value to an external target.
// It returns an error wrapping cycle.ErrTargetNotFound when the target is gone;
// any other error is treated as transient.
type Applier interface {
	ApplyValue(ctx context.Context, kind cycle.Kind, target string, value int) error
}

// Config holds scheduler settings.
type Config struct {
	// DefaultTick is the wake cadence used when no entry asks for a faster one.
	DefaultTick time.Duration
	// ApplyTimeout bounds every apply call so one slow target cannot stall the loop.
	ApplyTimeout time.Duration
}

type evalKey struct {
	kind   cycle.Kind
	target string
	seq    uint64
}

// Scheduler owns the cycling loop lifecycle.
type Scheduler struct {
	registry *cycle.Registry
	applier  Applier
	metrics  *telemetry.Metrics
	now      func() time.Time

	defaultTick  time.Duration
	applyTimeout time.Duration

	mu      sync.Mutex
	ctx     context.Context // lifetime bound by Start
	stopped bool
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	loops   int

	wake chan struct{}

	// Owned by the loop goroutine.
	lastEval map[evalKey]time.Time
	failing  map[evalKey]bool
}

// New creates a scheduler for registry. The loop does not run until Start is called.
func New(registry *cycle.Registry, applier Applier, cfg Config, metrics *telemetry.Metrics) *Scheduler {
	if cfg.DefaultTick <= 0 {
		cfg.DefaultTick = DefaultTick
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = DefaultApplyTimeout
	}

	s := &Scheduler{
		registry:     registry,
		applier:      applier,
		metrics:      metrics,
		now:          time.Now,
		defaultTick:  cfg.DefaultTick,
		applyTimeout: cfg.ApplyTimeout,
		wake:         make(chan struct{}, 1),
		lastEval:     make(map[evalKey]time.Time),
		failing:      make(map[evalKey]bool),
	}

	registry.Subscribe(s.onChange)
	return s
}

// Start binds the scheduler to ctx and launches the loop if there is anything to cycle.
// Calling Start again after Stop re-enables it.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.stopped = false
	s.mu.Unlock()

	s.EnsureRunning()
}

// EnsureRunning starts the loop unless it is already running, the registry is
// empty, or the scheduler has not been started. It is idempotent.
func (s *Scheduler) EnsureRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil || s.stopped || s.running || s.ctx.Err() != nil {
		return
	}
	if s.registry.Empty() {
		return
	}

	loopCtx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	s.loops++
	s.metrics.SetRunning(true)

	go s.run(loopCtx, done)
}

// Stop cancels the loop and waits for the in-flight tick to finish.
// The scheduler stays stopped until Start is called again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsRunning reports whether the loop goroutine is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Loops returns how many loop goroutines have been started so far.
func (s *Scheduler) Loops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loops
}

// Done returns a channel closed when the current loop exits, or nil if no loop ever ran.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scheduler) onChange(c cycle.Change) {
	if c.Op == cycle.OpAdded {
		s.EnsureRunning()
	}
	s.notifyWake()
}

// notifyWake makes a sleeping loop re-evaluate its cadence immediately
func (s *Scheduler) notifyWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	log.Info().Msg("Cycling loop started")

	for {
		interval := s.tick(ctx, s.now())

		if s.finishIfEmpty(done) {
			log.Info().Msg("Cycling loop stopped: nothing left to cycle")
			return
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.exit(done)
			log.Info().Msg("Cycling loop cancelled")
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// finishIfEmpty marks the loop stopped when both registries are empty.
// The check and the state change happen under s.mu so a concurrent
// EnsureRunning either sees the loop running or starts a new one.
func (s *Scheduler) finishIfEmpty(done chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.Empty() {
		return false
	}
	if s.done == done {
		s.running = false
		s.metrics.SetRunning(false)
	}
	return true
}

func (s *Scheduler) exit(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done {
		s.running = false
		s.metrics.SetRunning(false)
	}
}

// tick evaluates every due entry once and returns the interval until the next wake.
func (s *Scheduler) tick(ctx context.Context, now time.Time) time.Duration {
	started := time.Now()
	entries := s.registry.SnapshotAll()
	interval := s.interval(entries)

	seen := make(map[evalKey]struct{}, len(entries))
	active := make(map[cycle.Kind]int, len(cycle.Kinds))

	for _, e := range entries {
		key := evalKey{kind: e.Kind, target: e.TargetID, seq: e.Seq()}
		seen[key] = struct{}{}
		active[e.Kind]++

		if ctx.Err() != nil {
			continue
		}
		if last, ok := s.lastEval[key]; ok && !s.due(last, e.Tick, interval, now) {
			continue
		}
		s.lastEval[key] = now
		s.evaluate(ctx, key, e, now)
	}

	for key := range s.lastEval {
		if _, ok := seen[key]; !ok {
			delete(s.lastEval, key)
			delete(s.failing, key)
		}
	}

	for _, k := range cycle.Kinds {
		s.metrics.SetActive(string(k), active[k])
	}
	s.metrics.TickCompleted(time.Since(started).Seconds())
	return interval
}

// due reports whether an entry last evaluated at last should run at now.
// Half a wake interval of slack absorbs timer jitter.
func (s *Scheduler) due(last time.Time, tick, interval time.Duration, now time.Time) bool {
	return !now.Add(interval / 2).Before(last.Add(tick))
}

// interval is the smallest tick interval among entries, or the default when there are none.
func (s *Scheduler) interval(entries []cycle.Entry) time.Duration {
	if len(entries) == 0 {
		return s.defaultTick
	}
	min := entries[0].Tick
	for _, e := range entries[1:] {
		if e.Tick < min {
			min = e.Tick
		}
	}
	if min <= 0 {
		return s.defaultTick
	}
	return min
}

func (s *Scheduler) evaluate(ctx context.Context, key evalKey, e cycle.Entry, now time.Time) {
	value := e.Value(now)
	kind := string(e.Kind)

	if !e.ShouldApply(value) {
		s.metrics.Suppressed(kind)
		return
	}

	err := s.apply(ctx, e, value)
	switch {
	case err == nil:
		s.registry.SetLastApplied(e.Kind, e.TargetID, e.Seq(), value)
		s.metrics.Applied(kind)
		if s.failing[key] {
			delete(s.failing, key)
			log.Info().Str("kind", kind).Str("target", e.TargetID).Msg("Target recovered")
		}
		log.Debug().
			Str("kind", kind).
			Str("target", e.TargetID).
			Int("value", value).
			Msg("Applied value")

	case cycle.IsNotFound(err):
		log.Warn().
			Err(err).
			Str("kind", kind).
			Str("target", e.TargetID).
			Msg("Target not found, removing from registry")
		s.metrics.TargetLost(kind)
		if _, dropErr := s.registry.Drop(e.Kind, e.TargetID, e.Seq()); dropErr != nil {
			log.Error().Err(dropErr).Str("target", e.TargetID).Msg("Failed to persist removal of lost target")
		}

	default:
		s.metrics.ApplyFailed(kind)
		if !s.failing[key] {
			s.failing[key] = true
			log.Warn().
				Err(err).
				Str("kind", kind).
				Str("target", e.TargetID).
				Int("value", value).
				Msg("Failed to apply value, will retry")
		}
	}
}

// apply calls the applier with a per-call timeout. A panic is reported as a transient error.
func (s *Scheduler) apply(ctx context.Context, e cycle.Entry, value int) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.applyTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("apply panicked: %v", r)
		}
	}()

	return s.applier.ApplyValue(ctx, e.Kind, e.TargetID, value)
}
