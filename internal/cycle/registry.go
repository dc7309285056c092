package cycle

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Op identifies a registry mutation.
type Op string

const (
	OpAdded   Op = "added"
	OpRemoved Op = "removed"
	OpCleared Op = "cleared"
	OpLost    Op = "lost" // removed because the target vanished
)

// Change describes a registry mutation delivered to listeners.
type Change struct {
	Op       Op
	Kind     Kind
	TargetID string // empty for OpCleared
	Count    int    // entries removed by OpCleared
	Entry    *Entry // set for OpAdded
}

// Saver persists the full entry list of one kind.
type Saver interface {
	Save(kind Kind, entries []Entry) error
}

// Registry maps target ids to entries, one map per kind.
//
// Readers get copies, so a snapshot is never affected by later mutations.
// Every mutating call persists the affected kind before returning.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]*Entry
	seq     uint64

	// saveMu orders saves; the snapshot is taken under it so the last save
	// to finish always carries the newest state.
	saveMu sync.Mutex
	saver  Saver

	listenersMu sync.RWMutex
	listeners   []func(Change)
}

// NewRegistry creates an empty registry. saver may be nil.
func NewRegistry(saver Saver) *Registry {
	r := &Registry{
		entries: make(map[Kind]map[string]*Entry, len(Kinds)),
		saver:   saver,
	}
	for _, k := range Kinds {
		r.entries[k] = make(map[string]*Entry)
	}
	return r
}

// Subscribe registers fn to be called after every mutation.
// Listeners run synchronously on the mutating goroutine and must not block.
func (r *Registry) Subscribe(fn func(Change)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

// Add inserts e, replacing any entry for the same (kind, target).
// The entry stays registered even if persisting it fails.
func (r *Registry) Add(e Entry) error {
	if err := checkKind(e.Kind); err != nil {
		return err
	}

	stored := e.Clone()
	r.mu.Lock()
	r.seq++
	stored.seq = r.seq
	r.entries[e.Kind][stored.TargetID] = &stored
	added := stored.Clone()
	r.mu.Unlock()

	saveErr := r.persist(e.Kind)
	r.notify(Change{Op: OpAdded, Kind: e.Kind, TargetID: e.TargetID, Entry: &added})
	return saveErr
}

// Remove deletes the entry for (kind, target). Removing an absent target is a no-op.
func (r *Registry) Remove(kind Kind, target string) (bool, error) {
	return r.remove(kind, target, 0, OpRemoved)
}

// Drop removes the entry only if it is still the instance identified by seq.
// The scheduler uses it for targets that vanished.
func (r *Registry) Drop(kind Kind, target string, seq uint64) (bool, error) {
	return r.remove(kind, target, seq, OpLost)
}

func (r *Registry) remove(kind Kind, target string, seq uint64, op Op) (bool, error) {
	if err := checkKind(kind); err != nil {
		return false, err
	}

	r.mu.Lock()
	m := r.entries[kind]
	e, ok := m[target]
	if ok && seq != 0 && e.seq != seq {
		ok = false
	}
	if ok {
		delete(m, target)
	}
	r.mu.Unlock()

	if !ok {
		return false, nil
	}

	saveErr := r.persist(kind)
	r.notify(Change{Op: op, Kind: kind, TargetID: target})
	return true, saveErr
}

// RemoveAll clears every entry of kind and returns how many were removed.
func (r *Registry) RemoveAll(kind Kind) (int, error) {
	if err := checkKind(kind); err != nil {
		return 0, err
	}

	r.mu.Lock()
	n := len(r.entries[kind])
	r.entries[kind] = make(map[string]*Entry)
	r.mu.Unlock()

	saveErr := r.persist(kind)
	r.notify(Change{Op: OpCleared, Kind: kind, Count: n})
	return n, saveErr
}

// Restore replaces the content of kind with previously persisted entries.
// It neither saves nor notifies listeners.
func (r *Registry) Restore(kind Kind, entries []Entry) error {
	if err := checkKind(kind); err != nil {
		return err
	}

	m := make(map[string]*Entry, len(entries))
	r.mu.Lock()
	for _, e := range entries {
		stored := e.Clone()
		stored.Kind = kind
		r.seq++
		stored.seq = r.seq
		m[stored.TargetID] = &stored
	}
	r.entries[kind] = m
	r.mu.Unlock()
	return nil
}

// SetLastApplied records value as applied to the entry instance identified by seq.
// It returns false if the entry was removed or replaced meanwhile.
func (r *Registry) SetLastApplied(kind Kind, target string, seq uint64, value int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[kind][target]
	if !ok || e.seq != seq {
		return false
	}
	v := value
	e.LastApplied = &v
	return true
}

// Snapshot returns copies of the entries of kind in insertion order.
func (r *Registry) Snapshot(kind Kind) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(kind)
}

// SnapshotAll returns the entries of every kind, brightness first.
func (r *Registry) SnapshotAll() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []Entry
	for _, k := range Kinds {
		all = append(all, r.snapshotLocked(k)...)
	}
	return all
}

func (r *Registry) snapshotLocked(kind Kind) []Entry {
	m := r.entries[kind]
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Get returns a copy of the entry for (kind, target).
func (r *Registry) Get(kind Kind, target string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[kind][target]
	if !ok {
		return Entry{}, false
	}
	return e.Clone(), true
}

// Contains reports whether target is cycling in kind.
func (r *Registry) Contains(kind Kind, target string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[kind][target]
	return ok
}

// ContainsAny reports whether any of targets is cycling in kind.
func (r *Registry) ContainsAny(kind Kind, targets []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range targets {
		if _, ok := r.entries[kind][t]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of entries of kind.
func (r *Registry) Len(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[kind])
}

// Empty reports whether every kind is empty.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.entries {
		if len(m) > 0 {
			return false
		}
	}
	return true
}

// Flush persists every kind.
func (r *Registry) Flush() error {
	var firstErr error
	for _, k := range Kinds {
		if err := r.persist(k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) persist(kind Kind) error {
	if r.saver == nil {
		return nil
	}

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	entries := r.Snapshot(kind)
	if err := r.saver.Save(kind, entries); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to persist registry")
		return fmt.Errorf("failed to persist %s registry: %w", kind, err)
	}
	return nil
}

func (r *Registry) notify(c Change) {
	r.listenersMu.RLock()
	listeners := r.listeners
	r.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
}

func checkKind(kind Kind) error {
	for _, k := range Kinds {
		if k == kind {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidParameter, kind)
}
