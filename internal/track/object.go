package track

import (
	"fmt"

	"github.com/l1jgo/worldsync/internal/codec"
)

// Object is a tracked record whose fields are declared by a codec.Object.
// Scalar assignments are collected into a change record holding the final
// value per field; object-typed fields, and list or set fields built from
// tracked containers, are nested Trackables that keep their own dirty state.
type Object struct {
	schema   *codec.Object
	values   map[string]any
	children map[string]Trackable
	changes  codec.Fields
}

// NewObject builds a tracked object from a complete plain value. Nested
// object fields may be given as codec.Fields or as *Object; list and set
// fields may be given as []any or as *List / *Set. Values are coerced to the
// exact types the schema decodes to.
func NewObject(schema *codec.Object, init codec.Fields) (*Object, error) {
	o := &Object{
		schema:   schema,
		values:   make(map[string]any, len(schema.Fields())),
		children: make(map[string]Trackable),
	}
	if len(init) != len(schema.Fields()) {
		return nil, fmt.Errorf("%w: %s has %d fields, value has %d",
			codec.ErrFieldCount, schema.Name(), len(schema.Fields()), len(init))
	}
	for _, fd := range schema.Fields() {
		v, ok := init[fd.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s missing field %q", codec.ErrFieldCount, schema.Name(), fd.Name)
		}
		if err := o.place(fd, v); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// place stores v for fd without recording a change.
func (o *Object) place(fd codec.Field, v any) error {
	if nested, ok := fd.Codec.(*codec.Object); ok {
		switch t := v.(type) {
		case *Object:
			o.children[fd.Name] = t
			return nil
		case codec.Fields, map[string]any:
			f, _ := t.(codec.Fields)
			if f == nil {
				f = codec.Fields(t.(map[string]any))
			}
			child, err := NewObject(nested, f)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", o.schema.Name(), fd.Name, err)
			}
			o.children[fd.Name] = child
			return nil
		default:
			return fmt.Errorf("%w: %s.%s wants an object, got %T", codec.ErrValueType, o.schema.Name(), fd.Name, v)
		}
	}
	if tr, ok := v.(Trackable); ok {
		o.children[fd.Name] = tr
		return nil
	}
	cv, err := codec.Coerce(fd.Codec, v)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", o.schema.Name(), fd.Name, err)
	}
	o.values[fd.Name] = cv
	return nil
}

// Schema returns the object's declared layout.
func (o *Object) Schema() *codec.Object { return o.schema }

// Get returns the current value of a field. Nested containers are returned
// as their tracked type; use Snapshot for plain values.
func (o *Object) Get(name string) any {
	if c, ok := o.children[name]; ok {
		return c
	}
	return o.values[name]
}

// Child returns the nested tracked object stored in field name.
func (o *Object) Child(name string) *Object {
	c, _ := o.children[name].(*Object)
	return c
}

func (o *Object) Float32(name string) float32 { f, _ := o.values[name].(float32); return f }
func (o *Object) Float64(name string) float64 { f, _ := o.values[name].(float64); return f }
func (o *Object) Int16(name string) int16 { n, _ := o.values[name].(int16); return n }
func (o *Object) Int32(name string) int32 { n, _ := o.values[name].(int32); return n }
func (o *Object) Uint32(name string) uint32 { n, _ := o.values[name].(uint32); return n }
func (o *Object) Text(name string) string { s, _ := o.values[name].(string); return s }
func (o *Object) Bool(name string) bool { b, _ := o.values[name].(bool); return b }

// Set assigns a field and marks it dirty. Assigning codec.Fields to an
// object-typed field updates the nested object in place, so only the named
// sub-fields become dirty. Assigning an *Object or a tracked container
// replaces the nested value wholesale; its full snapshot ships on the next
// flush. Assigning []any to a tracked list or set field replaces its
// contents.
func (o *Object) Set(name string, v any) error {
	fd, ok := o.schema.Field(name)
	if !ok {
		return fmt.Errorf("%w: %s has no field %q", codec.ErrFieldCount, o.schema.Name(), name)
	}
	if cur, ok := o.children[name]; ok {
		switch t := v.(type) {
		case Trackable:
			if _, isObj := fd.Codec.(*codec.Object); isObj {
				if _, ok := t.(*Object); !ok {
					return fmt.Errorf("%w: %s.%s wants an object, got %T", codec.ErrValueType, o.schema.Name(), name, v)
				}
			}
			o.children[name] = t
			t.Reset()
			o.record(name, t.Snapshot())
			return nil
		case codec.Fields:
			if child, ok := cur.(*Object); ok {
				return child.Assign(t)
			}
		case map[string]any:
			if child, ok := cur.(*Object); ok {
				return child.Assign(codec.Fields(t))
			}
		case []any:
			if r, ok := cur.(Replacer); ok {
				return r.ReplaceAny(t)
			}
		}
		return fmt.Errorf("%w: cannot assign %T to %s.%s", codec.ErrValueType, v, o.schema.Name(), name)
	}
	if tr, ok := v.(Trackable); ok {
		// plain field turning into a tracked one
		o.children[name] = tr
		delete(o.values, name)
		tr.Reset()
		o.record(name, tr.Snapshot())
		return nil
	}
	cv, err := codec.Coerce(fd.Codec, v)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", o.schema.Name(), name, err)
	}
	if same(o.values[name], cv) {
		return nil
	}
	o.values[name] = cv
	o.record(name, cv)
	return nil
}

// Assign sets every field in changes. Nested codec.Fields are merged into
// the nested object rather than replacing it, which makes Assign the inverse
// of a folded partial change.
func (o *Object) Assign(changes codec.Fields) error {
	for name, v := range changes {
		if err := o.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (o *Object) record(name string, v any) {
	if o.changes == nil {
		o.changes = make(codec.Fields, 4)
	}
	o.changes[name] = v
}

// Flush emits one OpAssign for the changed scalar fields, then recurses into
// nested containers in declared field order.
func (o *Object) Flush(path Path, patch Patch) Patch {
	if len(o.changes) > 0 {
		patch = append(patch, Op{Kind: OpAssign, Path: path, Changes: o.changes})
		o.changes = nil
	}
	for _, fd := range o.schema.Fields() {
		if c, ok := o.children[fd.Name]; ok {
			patch = c.Flush(path.Child(fd.Name), patch)
		}
	}
	return patch
}

// Snapshot returns the complete plain value as codec.Fields.
func (o *Object) Snapshot() any { return o.Fields() }

// Fields is Snapshot with a concrete type.
func (o *Object) Fields() codec.Fields {
	out := make(codec.Fields, len(o.values)+len(o.children))
	for k, v := range o.values {
		out[k] = codec.CloneValue(v)
	}
	for k, c := range o.children {
		out[k] = c.Snapshot()
	}
	return out
}

func (o *Object) Dirty() bool {
	if len(o.changes) > 0 {
		return true
	}
	for _, c := range o.children {
		if c.Dirty() {
			return true
		}
	}
	return false
}

func (o *Object) Reset() {
	o.changes = nil
	for _, c := range o.children {
		c.Reset()
	}
}

// FlushFields flushes the object and folds the result into one nested
// partial value: changed scalars at their own level, nested objects as
// nested codec.Fields holding only their changed fields, and list or set
// fields as their full contents. It returns nil when nothing changed.
func (o *Object) FlushFields() codec.Fields {
	patch := o.Flush(nil, nil)
	if len(patch) == 0 {
		return nil
	}
	return o.fold(patch)
}

func (o *Object) fold(patch Patch) codec.Fields {
	out := codec.Fields{}
	for _, op := range patch {
		node, dst := o, out
		whole := false
		for _, seg := range op.Path {
			child, isObj := node.children[seg].(*Object)
			if !isObj {
				// Lists, sets and anything addressed below them ship whole.
				dst[seg] = snapshotOf(node.children[seg])
				whole = true
				break
			}
			sub, ok := dst[seg].(codec.Fields)
			if !ok {
				sub = codec.Fields{}
				dst[seg] = sub
			}
			node, dst = child, sub
		}
		if whole || op.Kind != OpAssign {
			continue
		}
		for k, v := range op.Changes {
			if prev, ok := dst[k].(codec.Fields); ok {
				if next, ok := v.(codec.Fields); ok {
					mergeFields(prev, next)
					continue
				}
			}
			dst[k] = codec.CloneValue(v)
		}
	}
	return out
}

func mergeFields(dst, src codec.Fields) {
	for k, v := range src {
		if prev, ok := dst[k].(codec.Fields); ok {
			if next, ok := v.(codec.Fields); ok {
				mergeFields(prev, next)
				continue
			}
		}
		dst[k] = codec.CloneValue(v)
	}
}

// Resolve returns the nested container for seg. A plain list or set field
// resolves to a reference that accepts replace operations, so replicas that
// hold the field untracked still apply them.
func (o *Object) Resolve(seg string) (any, bool) {
	if c, ok := o.children[seg]; ok {
		return c, true
	}
	if _, ok := o.values[seg]; ok {
		return fieldRef{o: o, name: seg}, true
	}
	return nil, false
}

type fieldRef struct {
	o    *Object
	name string
}

func (f fieldRef) ReplaceAny(elems []any) error { return f.o.Set(f.name, elems) }

// same reports whether two scalar values are equal. Composite values are
// never considered equal so they are always recorded.
func same(a, b any) bool {
	switch a.(type) {
	case bool, uint8, int16, uint16, int32, uint32, int64, float32, float64, string:
		return a == b
	}
	return false
}
