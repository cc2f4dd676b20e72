package track

import (
	"fmt"
	"sort"

	"github.com/l1jgo/worldsync/internal/codec"
)

// Map is a tracked string-keyed map. It remembers which keys were set and
// which were deleted since the last flush, plus the key set as of that
// flush, so a key added and deleted inside one cycle ships nothing.
type Map[V any] struct {
	entries map[string]V
	set     map[string]struct{}
	deleted map[string]struct{}
	known   map[string]struct{}

	// Build turns a plain value from an OpMapSet into a V. Without it Apply
	// only accepts values that already are a V.
	Build func(key string, v any) (V, error)
}

func NewMap[V any]() *Map[V] {
	return &Map[V]{
		entries: make(map[string]V),
		set:     make(map[string]struct{}),
		deleted: make(map[string]struct{}),
		known:   make(map[string]struct{}),
	}
}

func (m *Map[V]) Len() int { return len(m.entries) }

func (m *Map[V]) Get(key string) (V, bool) {
	v, ok := m.entries[key]
	return v, ok
}

func (m *Map[V]) Has(key string) bool {
	_, ok := m.entries[key]
	return ok
}

// Set adds or overwrites key. An overwritten value ships in full.
func (m *Map[V]) Set(key string, v V) {
	m.entries[key] = v
	m.set[key] = struct{}{}
	delete(m.deleted, key)
}

// Delete removes key and reports whether it was present. A key that did
// not exist at the last flush leaves no trace.
func (m *Map[V]) Delete(key string) bool {
	if _, ok := m.entries[key]; !ok {
		return false
	}
	delete(m.entries, key)
	delete(m.set, key)
	if _, ok := m.known[key]; ok {
		m.deleted[key] = struct{}{}
	}
	return true
}

// Keys returns the keys in sorted order.
func (m *Map[V]) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Each calls fn for every entry in unspecified order.
func (m *Map[V]) Each(fn func(key string, v V)) {
	for k, v := range m.entries {
		fn(k, v)
	}
}

// Pending returns the keys set and deleted since the last flush, sorted.
func (m *Map[V]) Pending() (set, deleted []string) {
	return sortedKeys(m.set), sortedKeys(m.deleted)
}

// Commit ends the cycle without building operations: pending sets and
// deletes are returned, set values have their own dirty state cleared, and
// the key set becomes the new baseline. Callers that ship set values as full
// snapshots through another channel use Commit in place of Flush, after
// draining entries they did not set.
func (m *Map[V]) Commit() (set, deleted []string) {
	set, deleted = m.Pending()
	for _, k := range set {
		resetOf(m.entries[k])
		m.known[k] = struct{}{}
	}
	for _, k := range deleted {
		delete(m.known, k)
	}
	clear(m.set)
	clear(m.deleted)
	return set, deleted
}

// Flush recurses into entries untouched this cycle, then emits one OpMapSet
// per set key with its current value and one OpMapDelete per deleted key.
func (m *Map[V]) Flush(path Path, patch Patch) Patch {
	for _, k := range m.Keys() {
		if _, ok := m.set[k]; ok {
			continue
		}
		if t, ok := any(m.entries[k]).(Trackable); ok {
			patch = t.Flush(path.Child(k), patch)
		}
	}
	for _, k := range sortedKeys(m.set) {
		v := m.entries[k]
		patch = append(patch, Op{Kind: OpMapSet, Path: path, Key: k, Value: snapshotOf(v)})
		resetOf(v)
		m.known[k] = struct{}{}
	}
	for _, k := range sortedKeys(m.deleted) {
		patch = append(patch, Op{Kind: OpMapDelete, Path: path, Key: k})
		delete(m.known, k)
	}
	clear(m.set)
	clear(m.deleted)
	return patch
}

// Snapshot returns map[string]any of plain values.
func (m *Map[V]) Snapshot() any {
	out := make(map[string]any, len(m.entries))
	for k, v := range m.entries {
		out[k] = snapshotOf(v)
	}
	return out
}

func (m *Map[V]) Dirty() bool {
	if len(m.set) > 0 || len(m.deleted) > 0 {
		return true
	}
	for _, v := range m.entries {
		if dirtyOf(v) {
			return true
		}
	}
	return false
}

func (m *Map[V]) Reset() {
	clear(m.set)
	clear(m.deleted)
	clear(m.known)
	for k, v := range m.entries {
		m.known[k] = struct{}{}
		resetOf(v)
	}
}

func (m *Map[V]) Resolve(seg string) (any, bool) {
	v, ok := m.entries[seg]
	return v, ok
}

// SetAny stores a plain value, converting it with Build when set.
func (m *Map[V]) SetAny(key string, v any) error {
	if m.Build != nil {
		built, err := m.Build(key, v)
		if err != nil {
			return err
		}
		m.Set(key, built)
		return nil
	}
	typed, ok := v.(V)
	if !ok {
		return fmt.Errorf("%w: map value for %q is %T", codec.ErrValueType, key, v)
	}
	m.Set(key, typed)
	return nil
}

// DeleteKey is Delete for Apply; a missing key is ErrPathNotFound.
func (m *Map[V]) DeleteKey(key string) error {
	if !m.Delete(key) {
		return fmt.Errorf("%w: key %q", ErrPathNotFound, key)
	}
	return nil
}

func sortedKeys(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
