package cycle

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSaver struct {
	mu    sync.Mutex
	saves map[Kind][][]Entry
	err   error
}

func newRecordingSaver() *recordingSaver {
	return &recordingSaver{saves: make(map[Kind][][]Entry)}
}

func (s *recordingSaver) Save(kind Kind, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves[kind] = append(s.saves[kind], entries)
	return s.err
}

func (s *recordingSaver) count(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves[kind])
}

func (s *recordingSaver) last(kind Kind) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	saves := s.saves[kind]
	if len(saves) == 0 {
		return nil
	}
	return saves[len(saves)-1]
}

func testEntry(kind Kind, target string) Entry {
	return Entry{
		Kind:      kind,
		TargetID:  target,
		Period:    10 * time.Second,
		Tick:      250 * time.Millisecond,
		Min:       3,
		Max:       255,
		Mode:      PhaseAbsolute,
		StartTime: time.Unix(1700000000, 0),
		MinDelta:  1,
	}
}

func TestRegistryAddReplacesEntry(t *testing.T) {
	saver := newRecordingSaver()
	r := NewRegistry(saver)

	require.NoError(t, r.Add(testEntry(KindBrightness, "1")))
	replacement := testEntry(KindBrightness, "1")
	replacement.Period = 20 * time.Second
	require.NoError(t, r.Add(replacement))

	entries := r.Snapshot(KindBrightness)
	require.Len(t, entries, 1)
	assert.Equal(t, 20*time.Second, entries[0].Period)
	assert.Equal(t, 2, saver.count(KindBrightness))
	assert.Equal(t, 0, saver.count(KindColorTemperature), "kinds persist independently")
}

func TestRegistryKindsAreIndependent(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Add(testEntry(KindBrightness, "1")))
	require.NoError(t, r.Add(testEntry(KindColorTemperature, "1")))

	assert.True(t, r.Contains(KindBrightness, "1"))
	assert.True(t, r.Contains(KindColorTemperature, "1"))

	_, err := r.Remove(KindBrightness, "1")
	require.NoError(t, err)
	assert.False(t, r.Contains(KindBrightness, "1"))
	assert.True(t, r.Contains(KindColorTemperature, "1"))
	assert.False(t, r.Empty())
}

func TestRegistryRemoveAbsentIsNoop(t *testing.T) {
	saver := newRecordingSaver()
	r := NewRegistry(saver)
	require.NoError(t, r.Add(testEntry(KindBrightness, "1")))

	var changes []Change
	r.Subscribe(func(c Change) { changes = append(changes, c) })

	removed, err := r.Remove(KindBrightness, "missing")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 1, r.Len(KindBrightness))
	assert.Equal(t, 1, saver.count(KindBrightness))
	assert.Empty(t, changes)
}

func TestRegistryRemoveAll(t *testing.T) {
	saver := newRecordingSaver()
	r := NewRegistry(saver)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Add(testEntry(KindBrightness, fmt.Sprint(i))))
	}
	require.NoError(t, r.Add(testEntry(KindColorTemperature, "x")))

	n, err := r.RemoveAll(KindBrightness)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, r.Len(KindBrightness))
	assert.Equal(t, 1, r.Len(KindColorTemperature))
	assert.Empty(t, saver.last(KindBrightness))
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Add(testEntry(KindBrightness, "a")))
	require.NoError(t, r.Add(testEntry(KindBrightness, "b")))

	snap := r.Snapshot(KindBrightness)
	require.Len(t, snap, 2)

	_, err := r.Remove(KindBrightness, "a")
	require.NoError(t, err)
	require.True(t, r.SetLastApplied(KindBrightness, "b", snap[1].Seq(), 42))

	assert.Equal(t, "a", snap[0].TargetID)
	assert.Nil(t, snap[1].LastApplied, "snapshot must not observe later updates")
}

func TestRegistrySnapshotOrder(t *testing.T) {
	r := NewRegistry(nil)
	ids := []string{"z", "a", "m", "b"}
	for _, id := range ids {
		require.NoError(t, r.Add(testEntry(KindBrightness, id)))
	}

	snap := r.Snapshot(KindBrightness)
	got := make([]string, len(snap))
	for i, e := range snap {
		got[i] = e.TargetID
	}
	assert.Equal(t, ids, got)
}

func TestRegistrySetLastAppliedIgnoresReplacedEntry(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Add(testEntry(KindBrightness, "1")))
	old := r.Snapshot(KindBrightness)[0]

	require.NoError(t, r.Add(testEntry(KindBrightness, "1")))

	assert.False(t, r.SetLastApplied(KindBrightness, "1", old.Seq(), 99))
	e, ok := r.Get(KindBrightness, "1")
	require.True(t, ok)
	assert.Nil(t, e.LastApplied)
}

func TestRegistryDropOnlyMatchingInstance(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Add(testEntry(KindBrightness, "1")))
	old := r.Snapshot(KindBrightness)[0]
	require.NoError(t, r.Add(testEntry(KindBrightness, "1")))

	dropped, err := r.Drop(KindBrightness, "1", old.Seq())
	require.NoError(t, err)
	assert.False(t, dropped)
	assert.True(t, r.Contains(KindBrightness, "1"))

	current := r.Snapshot(KindBrightness)[0]
	dropped, err = r.Drop(KindBrightness, "1", current.Seq())
	require.NoError(t, err)
	assert.True(t, dropped)
	assert.False(t, r.Contains(KindBrightness, "1"))
}

func TestRegistryNotifiesListeners(t *testing.T) {
	r := NewRegistry(nil)
	var changes []Change
	r.Subscribe(func(c Change) { changes = append(changes, c) })

	require.NoError(t, r.Add(testEntry(KindBrightness, "1")))
	_, _ = r.Remove(KindBrightness, "1")
	require.NoError(t, r.Add(testEntry(KindColorTemperature, "2")))
	_, _ = r.RemoveAll(KindColorTemperature)

	require.Len(t, changes, 4)
	assert.Equal(t, OpAdded, changes[0].Op)
	assert.NotNil(t, changes[0].Entry)
	assert.Equal(t, OpRemoved, changes[1].Op)
	assert.Equal(t, OpAdded, changes[2].Op)
	assert.Equal(t, OpCleared, changes[3].Op)
	assert.Equal(t, 1, changes[3].Count)
}

func TestRegistrySaveFailureKeepsEntry(t *testing.T) {
	saver := newRecordingSaver()
	saver.err = errors.New("disk full")
	r := NewRegistry(saver)

	err := r.Add(testEntry(KindBrightness, "1"))
	require.Error(t, err)
	assert.True(t, r.Contains(KindBrightness, "1"))
}

func TestRegistryRestore(t *testing.T) {
	saver := newRecordingSaver()
	r := NewRegistry(saver)

	last := 77
	e := testEntry(KindColorTemperature, "5")
	e.LastApplied = &last
	require.NoError(t, r.Restore(KindColorTemperature, []Entry{e}))

	got, ok := r.Get(KindColorTemperature, "5")
	require.True(t, ok)
	require.NotNil(t, got.LastApplied)
	assert.Equal(t, 77, *got.LastApplied)
	assert.Equal(t, 0, saver.count(KindColorTemperature), "restore does not save")
}

func TestRegistryUnknownKind(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Add(testEntry("saturation", "1"))
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestRegistryConcurrentMutationAndSnapshot(t *testing.T) {
	saver := newRecordingSaver()
	r := NewRegistry(saver)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("%d-%d", w, i%5)
				_ = r.Add(testEntry(KindBrightness, id))
				_, _ = r.Remove(KindBrightness, id)
			}
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, e := range r.SnapshotAll() {
				r.SetLastApplied(e.Kind, e.TargetID, e.Seq(), i)
			}
		}
	}()
	wg.Wait()

	assert.True(t, r.Empty())
	assert.Empty(t, saver.last(KindBrightness), "the last save carries the final state")
}
