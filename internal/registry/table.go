package registry

import (
	"sort"
	"sync"
)

// cloner is implemented by every entity the registry stores
type cloner[T any] interface {
	Clone() T
}

type entry[T cloner[T]] struct {
	mu    sync.RWMutex
	value T
}

// table is an id-keyed index whose entries carry their own lock. The index
// lock is held only to find or insert entries, never while an entity is
// being mutated, so updates to unrelated entities never serialize.
type table[T cloner[T]] struct {
	mu    sync.RWMutex
	items map[string]*entry[T]
}

func newTable[T cloner[T]]() *table[T] {
	return &table[T]{items: make(map[string]*entry[T])}
}

func (t *table[T]) lookup(id string) (*entry[T], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.items[id]
	return e, ok
}

// insert adds value under id; returns false if id is taken
func (t *table[T]) insert(id string, value T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.items[id]; exists {
		return false
	}
	t.items[id] = &entry[T]{value: value}
	return true
}

// upsert inserts or replaces value under id
func (t *table[T]) upsert(id string, value T) {
	t.mu.Lock()
	e, exists := t.items[id]
	if !exists {
		t.items[id] = &entry[T]{value: value}
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	e.mu.Lock()
	e.value = value
	e.mu.Unlock()
}

func (t *table[T]) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, id)
}

func (t *table[T]) get(id string) (T, bool) {
	e, ok := t.lookup(id)
	if !ok {
		var zero T
		return zero, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value.Clone(), true
}

// update applies fn to a working copy under the entity lock and commits the
// copy only if fn succeeds, so a failed update leaves no partial state.
func (t *table[T]) update(id string, fn func(v *T) error) (T, bool, error) {
	var zero T
	e, ok := t.lookup(id)
	if !ok {
		return zero, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.value.Clone()
	if err := fn(&working); err != nil {
		return zero, true, err
	}
	e.value = working
	return working.Clone(), true, nil
}

// snapshot copies every entity. Each copy is internally consistent; the
// set as a whole is taken entity by entity.
func (t *table[T]) snapshot(keep func(v *T) bool) []T {
	t.mu.RLock()
	entries := make([]*entry[T], 0, len(t.items))
	ids := make([]string, 0, len(t.items))
	for id, e := range t.items {
		ids = append(ids, id)
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	sort.Sort(byID[T]{ids: ids, entries: entries})

	out := make([]T, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		v := e.value.Clone()
		e.mu.RUnlock()
		if keep == nil || keep(&v) {
			out = append(out, v)
		}
	}
	return out
}

func (t *table[T]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

type byID[T cloner[T]] struct {
	ids     []string
	entries []*entry[T]
}

func (b byID[T]) Len() int           { return len(b.ids) }
func (b byID[T]) Less(i, j int) bool { return b.ids[i] < b.ids[j] }
func (b byID[T]) Swap(i, j int) {
	b.ids[i], b.ids[j] = b.ids[j], b.ids[i]
	b.entries[i], b.entries[j] = b.entries[j], b.entries[i]
}
