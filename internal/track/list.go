package track

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/l1jgo/worldsync/internal/codec"
)

// List is an ordered tracked sequence. Any mutation marks the whole list
// dirty and the next flush ships its full contents; lists are expected to
// stay small (a path, a hotbar).
type List[T any] struct {
	items []T
	dirty bool
}

func NewList[T any](items ...T) *List[T] {
	return &List[T]{items: append([]T(nil), items...)}
}

func (l *List[T]) Len() int { return len(l.items) }
func (l *List[T]) At(i int) T { return l.items[i] }
func (l *List[T]) Items() []T { return append([]T(nil), l.items...) }

func (l *List[T]) SetAt(i int, v T) {
	l.items[i] = v
	l.dirty = true
}

func (l *List[T]) Append(v ...T) {
	l.items = append(l.items, v...)
	l.dirty = true
}

// RemoveAt deletes the element at i, preserving order.
func (l *List[T]) RemoveAt(i int) {
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.dirty = true
}

func (l *List[T]) Clear() {
	if len(l.items) == 0 {
		return
	}
	l.items = l.items[:0]
	l.dirty = true
}

func (l *List[T]) Replace(items []T) {
	l.items = append(l.items[:0], items...)
	l.dirty = true
}

// ReplaceAny replaces the contents from plain values, as found in an
// OpListReplace.
func (l *List[T]) ReplaceAny(elems []any) error {
	items := make([]T, len(elems))
	for i, e := range elems {
		v, ok := e.(T)
		if !ok {
			return fmt.Errorf("%w: list element %d is %T", codec.ErrValueType, i, e)
		}
		items[i] = v
	}
	l.Replace(items)
	return nil
}

func (l *List[T]) Flush(path Path, patch Patch) Patch {
	if l.dirty {
		patch = append(patch, Op{Kind: OpListReplace, Path: path, Elements: l.snapshot()})
		l.dirty = false
		for _, it := range l.items {
			resetOf(it)
		}
		return patch
	}
	for i, it := range l.items {
		if t, ok := any(it).(Trackable); ok {
			patch = t.Flush(path.Child(strconv.Itoa(i)), patch)
		}
	}
	return patch
}

func (l *List[T]) snapshot() []any {
	out := make([]any, len(l.items))
	for i, it := range l.items {
		out[i] = snapshotOf(it)
	}
	return out
}

func (l *List[T]) Snapshot() any { return l.snapshot() }

func (l *List[T]) Dirty() bool {
	if l.dirty {
		return true
	}
	for _, it := range l.items {
		if dirtyOf(it) {
			return true
		}
	}
	return false
}

func (l *List[T]) Reset() {
	l.dirty = false
	for _, it := range l.items {
		resetOf(it)
	}
}

func (l *List[T]) Resolve(seg string) (any, bool) {
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 || i >= len(l.items) {
		return nil, false
	}
	return l.items[i], true
}

// Set is an unordered tracked collection of distinct values. Like List it
// ships whole; a nested change in any element ships the whole set too, since
// set members have no address a replica could share.
type Set[T comparable] struct {
	items map[T]struct{}
	dirty bool
}

func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items))}
	for _, it := range items {
		s.items[it] = struct{}{}
	}
	return s
}

func (s *Set[T]) Len() int { return len(s.items) }

func (s *Set[T]) Has(v T) bool {
	_, ok := s.items[v]
	return ok
}

func (s *Set[T]) Add(v T) {
	if _, ok := s.items[v]; ok {
		return
	}
	s.items[v] = struct{}{}
	s.dirty = true
}

func (s *Set[T]) Delete(v T) bool {
	if _, ok := s.items[v]; !ok {
		return false
	}
	delete(s.items, v)
	s.dirty = true
	return true
}

func (s *Set[T]) Clear() {
	if len(s.items) == 0 {
		return
	}
	clear(s.items)
	s.dirty = true
}

// Values returns the members in snapshot order.
func (s *Set[T]) Values() []T {
	out := make([]T, 0, len(s.items))
	for v := range s.items {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(snapshotOf(out[i])) < fmt.Sprint(snapshotOf(out[j]))
	})
	return out
}

func (s *Set[T]) ReplaceAny(elems []any) error {
	next := make(map[T]struct{}, len(elems))
	for i, e := range elems {
		v, ok := e.(T)
		if !ok {
			return fmt.Errorf("%w: set element %d is %T", codec.ErrValueType, i, e)
		}
		next[v] = struct{}{}
	}
	s.items = next
	s.dirty = true
	return nil
}

func (s *Set[T]) Flush(path Path, patch Patch) Patch {
	if !s.Dirty() {
		return patch
	}
	patch = append(patch, Op{Kind: OpSetReplace, Path: path, Elements: s.snapshot()})
	s.Reset()
	return patch
}

func (s *Set[T]) snapshot() []any {
	vals := s.Values()
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = snapshotOf(v)
	}
	return out
}

func (s *Set[T]) Snapshot() any { return s.snapshot() }

func (s *Set[T]) Dirty() bool {
	if s.dirty {
		return true
	}
	for v := range s.items {
		if dirtyOf(v) {
			return true
		}
	}
	return false
}

func (s *Set[T]) Reset() {
	s.dirty = false
	for v := range s.items {
		resetOf(v)
	}
}
