package track

import (
	"fmt"

	"github.com/l1jgo/worldsync/internal/codec"
)

// Resolver looks up the container addressed by one path segment.
type Resolver interface {
	Resolve(seg string) (any, bool)
}

// Assigner accepts an OpAssign change record.
type Assigner interface {
	Assign(changes codec.Fields) error
}

// Replacer accepts the contents of an OpListReplace or OpSetReplace.
type Replacer interface {
	ReplaceAny(elems []any) error
}

// KeyedSetter accepts OpMapSet and OpMapDelete.
type KeyedSetter interface {
	SetAny(key string, v any) error
	DeleteKey(key string) error
}

// Apply replays patch, produced by another replica's Flush, against root.
// Operations apply in order; the first failure stops the replay.
func Apply(root Resolver, patch Patch) error {
	for i, op := range patch {
		target, err := walk(root, op.Path)
		if err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
		}
		switch op.Kind {
		case OpAssign:
			a, ok := target.(Assigner)
			if !ok {
				return fmt.Errorf("op %d: %w: %s is not an object", i, ErrPathNotFound, op.Path)
			}
			err = a.Assign(op.Changes.Clone())
		case OpListReplace, OpSetReplace:
			r, ok := target.(Replacer)
			if !ok {
				return fmt.Errorf("op %d: %w: %s is not a list or set", i, ErrPathNotFound, op.Path)
			}
			err = r.ReplaceAny(codec.CloneValue(op.Elements).([]any))
		case OpMapSet, OpMapDelete:
			m, ok := target.(KeyedSetter)
			if !ok {
				return fmt.Errorf("op %d: %w: %s is not a map", i, ErrPathNotFound, op.Path)
			}
			if op.Kind == OpMapSet {
				err = m.SetAny(op.Key, codec.CloneValue(op.Value))
			} else {
				err = m.DeleteKey(op.Key)
			}
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("op %d (%s %s): %w", i, op.Kind, op.Path, err)
		}
	}
	return nil
}

func walk(root Resolver, path Path) (any, error) {
	var cur any = root
	for _, seg := range path {
		r, ok := cur.(Resolver)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		next, ok := r.Resolve(seg)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		cur = next
	}
	return cur, nil
}
