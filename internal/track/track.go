// Package track implements dirty-tracking containers. Each container records
// mutations cheaply and drains them into a path-addressed Patch on Flush.
//
// Containers are owned by the simulation loop and are not safe for
// concurrent use.
package track

import (
	"errors"
	"fmt"
	"strings"

	"github.com/l1jgo/worldsync/internal/codec"
)

// ErrPathNotFound is returned by Apply when an operation's path does not
// resolve against the target replica.
var ErrPathNotFound = errors.New("track: path not found")

// Path addresses a container relative to the flush root. Segments are field
// names, map keys or list indices.
type Path []string

// Child returns a new path extended by seg. The receiver is never aliased.
func (p Path) Child(seg string) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = seg
	return out
}

func (p Path) String() string { return "/" + strings.Join(p, "/") }

// OpKind identifies a patch fragment.
type OpKind uint8

const (
	OpAssign OpKind = iota + 1
	OpListReplace
	OpSetReplace
	OpMapSet
	OpMapDelete
)

func (k OpKind) String() string {
	switch k {
	case OpAssign:
		return "assign"
	case OpListReplace:
		return "list-replace"
	case OpSetReplace:
		return "set-replace"
	case OpMapSet:
		return "map-set"
	case OpMapDelete:
		return "map-delete"
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Op is one fragment of a Patch. Which payload field is meaningful depends
// on Kind:
//
//	OpAssign                     Changes
//	OpListReplace, OpSetReplace  Elements
//	OpMapSet                     Key, Value
//	OpMapDelete                  Key
type Op struct {
	Kind     OpKind
	Path     Path
	Changes  codec.Fields
	Elements []any
	Key      string
	Value    any
}

// Patch is the ordered list of fragments produced by one Flush.
type Patch []Op

// Trackable is implemented by every container in this package.
type Trackable interface {
	// Flush appends the container's pending changes to patch, addressed at
	// path, and clears them.
	Flush(path Path, patch Patch) Patch
	// Snapshot returns the full plain value without touching dirty state.
	Snapshot() any
	// Dirty reports whether a Flush would emit anything.
	Dirty() bool
	// Reset clears pending changes without emitting them.
	Reset()
}

// snapshotOf returns the plain value of v, which may or may not be tracked.
func snapshotOf(v any) any {
	if t, ok := v.(Trackable); ok {
		return t.Snapshot()
	}
	return codec.CloneValue(v)
}

func dirtyOf(v any) bool {
	if t, ok := v.(Trackable); ok {
		return t.Dirty()
	}
	return false
}

func resetOf(v any) {
	if t, ok := v.(Trackable); ok {
		t.Reset()
	}
}
