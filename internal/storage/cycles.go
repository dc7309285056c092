package storage

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dimmerd/internal/cycle"
)

// CycleKind is the resource_state kind under which registries are stored.
// Each cycle kind is one row, keyed by the cycle kind name.
const CycleKind = "cycle_registry"

// CycleFormatVersion is the current registry document version.
const CycleFormatVersion = 1

// CycleDocument is the persisted form of one registry kind.
type CycleDocument struct {
	Version int           `json:"version"`
	SavedAt time.Time     `json:"saved_at"`
	Entries []CycleRecord `json:"entries"`
}

// CycleRecord is the persisted form of one entry.
type CycleRecord struct {
	TargetID    string    `json:"target_id"`
	Period      float64   `json:"period_s"`
	Tick        float64   `json:"tick_s"`
	Min         int       `json:"value_min"`
	Max         int       `json:"value_max"`
	Mode        string    `json:"phase_mode"`
	PhaseOffset float64   `json:"phase_offset"`
	PhaseOrigin float64   `json:"phase_origin"`
	StartTime   time.Time `json:"start_time"`
	MinDelta    int       `json:"min_delta"`
	LastApplied *int      `json:"last_applied_value"`
}

// CycleStore persists cycle registries. It implements cycle.Saver.
type CycleStore struct {
	typed *TypedStore[CycleDocument]
	now   func() time.Time
}

// NewCycleStore creates a registry store on top of store.
func NewCycleStore(store *Store) *CycleStore {
	return &CycleStore{
		typed: NewTypedStore[CycleDocument](store, CycleKind),
		now:   time.Now,
	}
}

// Save replaces the stored entries of kind.
func (s *CycleStore) Save(kind cycle.Kind, entries []cycle.Entry) error {
	doc := CycleDocument{
		Version: CycleFormatVersion,
		SavedAt: s.now().UTC(),
		Entries: make([]CycleRecord, 0, len(entries)),
	}
	for _, e := range entries {
		doc.Entries = append(doc.Entries, toRecord(e))
	}
	return s.typed.Set(string(kind), doc)
}

// Load returns the stored entries of every kind. Kinds with nothing stored are absent.
func (s *CycleStore) Load() (map[cycle.Kind][]cycle.Entry, error) {
	out := make(map[cycle.Kind][]cycle.Entry, len(cycle.Kinds))
	for _, kind := range cycle.Kinds {
		entries, err := s.LoadKind(kind)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			out[kind] = entries
		}
	}
	return out, nil
}

// LoadKind returns the stored entries of one kind in their saved order.
// Records that fail validation are skipped with a warning.
func (s *CycleStore) LoadKind(kind cycle.Kind) ([]cycle.Entry, error) {
	doc, found, err := s.typed.Get(string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s registry: %w", kind, err)
	}
	if !found {
		return nil, nil
	}
	if doc.Version > CycleFormatVersion {
		return nil, fmt.Errorf("%s registry has unsupported version %d", kind, doc.Version)
	}

	entries := make([]cycle.Entry, 0, len(doc.Entries))
	for _, r := range doc.Entries {
		e, err := fromRecord(kind, r)
		if err != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Str("target", r.TargetID).Msg("Skipping invalid stored entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear removes the stored entries of kind, or of every kind when kind is empty.
func (s *CycleStore) Clear(kind cycle.Kind) error {
	if kind == "" {
		return s.typed.Clear()
	}
	return s.typed.Delete(string(kind))
}

func toRecord(e cycle.Entry) CycleRecord {
	r := CycleRecord{
		TargetID:    e.TargetID,
		Period:      e.Period.Seconds(),
		Tick:        e.Tick.Seconds(),
		Min:         e.Min,
		Max:         e.Max,
		Mode:        string(e.Mode),
		PhaseOffset: e.PhaseOffset,
		PhaseOrigin: e.PhaseOrigin,
		StartTime:   e.StartTime.UTC(),
		MinDelta:    e.MinDelta,
	}
	if e.LastApplied != nil {
		v := *e.LastApplied
		r.LastApplied = &v
	}
	return r
}

func fromRecord(kind cycle.Kind, r CycleRecord) (cycle.Entry, error) {
	mode, err := cycle.ParsePhaseMode(r.Mode)
	if err != nil {
		return cycle.Entry{}, err
	}

	p := cycle.Params{
		Kind:        kind,
		Period:      seconds(r.Period),
		Tick:        seconds(r.Tick),
		Min:         r.Min,
		Max:         r.Max,
		Mode:        mode,
		PhaseOffset: r.PhaseOffset,
		MinDelta:    r.MinDelta,
	}
	if r.TargetID == "" {
		return cycle.Entry{}, fmt.Errorf("%w: empty target id", cycle.ErrInvalidParameter)
	}
	if err := p.Validate(); err != nil {
		return cycle.Entry{}, err
	}

	e := p.NewEntry(r.TargetID, r.PhaseOrigin, r.StartTime)
	if r.LastApplied != nil {
		v := *r.LastApplied
		e.LastApplied = &v
	}
	return e, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
