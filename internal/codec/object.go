package codec

import (
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// ReservedTypeIDs is the first TypeID kept for protocol messages. Object
// schemas are numbered from 1 up to, but excluding, this value.
const ReservedTypeIDs TypeID = 0xFF00

// Field is one declared (name, codec) pair of an object schema.
type Field struct {
	Name  string
	Codec Codec
}

// F is shorthand for declaring a field.
func F(name string, c Codec) Field { return Field{Name: name, Codec: c} }

// Object is a registered composite schema. Its full encoding is the TypeID
// followed by every field in declared order.
type Object struct {
	id       TypeID
	name     string
	fields   []Field
	index    map[string]int
	sorted   []int // field indices in name order; partial encodings follow it
	registry *Registry
	partial  *Partial
}

func (o *Object) TypeID() TypeID  { return o.id }
func (o *Object) Name() string    { return o.name }
func (o *Object) Fields() []Field { return o.fields }
func (o *Object) String() string  { return fmt.Sprintf("object<%s#%d>", o.name, o.id) }

// Field returns the declared field by name.
func (o *Object) Field(name string) (Field, bool) {
	i, ok := o.index[name]
	if !ok {
		return Field{}, false
	}
	return o.fields[i], true
}

// Partial returns the partial codec of this object.
func (o *Object) Partial() *Partial { return o.partial }

func (o *Object) SizeOf(v any) int {
	f, _ := asFields(v)
	size := 2
	for _, fd := range o.fields {
		size += fd.Codec.SizeOf(f[fd.Name])
	}
	return size
}

func (o *Object) Encode(w *Writer, v any) error {
	f, ok := asFields(v)
	if !ok {
		return typeErr(o.name, v)
	}
	if len(f) != len(o.fields) {
		return fmt.Errorf("%w: %s has %d fields, value has %d", ErrFieldCount, o.name, len(o.fields), len(f))
	}
	w.WriteU16(uint16(o.id))
	for _, fd := range o.fields {
		val, present := f[fd.Name]
		if !present {
			return fmt.Errorf("%w: %s missing field %q", ErrFieldCount, o.name, fd.Name)
		}
		if err := fd.Codec.Encode(w, val); err != nil {
			return fmt.Errorf("%s.%s: %w", o.name, fd.Name, err)
		}
	}
	return nil
}

// Decode reads the leading TypeID and decodes with whichever schema it
// names, so a field declared as one object may carry a registered variant.
func (o *Object) Decode(r *Reader) (any, error) {
	id, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	schema, err := o.registry.Lookup(TypeID(id))
	if err != nil {
		return nil, err
	}
	return schema.decodeBody(r)
}

func (o *Object) decodeBody(r *Reader) (Fields, error) {
	out := make(Fields, len(o.fields))
	for _, fd := range o.fields {
		v, err := fd.Codec.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", o.name, fd.Name, err)
		}
		out[fd.Name] = v
	}
	return out, nil
}

// Registry hands out TypeIDs and resolves them during decode. Build it at
// startup; it is read-only afterwards and safe for concurrent decoders.
type Registry struct {
	next    TypeID
	byID    map[TypeID]*Object
	objects []*Object
}

func NewRegistry() *Registry {
	return &Registry{
		next: 1,
		byID: make(map[TypeID]*Object, 16),
	}
}

// Object registers a new object schema. It panics on duplicate field names
// or when the TypeID space is exhausted; both are startup programming errors.
func (r *Registry) Object(name string, fields ...Field) *Object {
	if r.next >= ReservedTypeIDs {
		panic("codec: type id space exhausted")
	}
	o := &Object{
		id:       r.next,
		name:     name,
		fields:   fields,
		index:    make(map[string]int, len(fields)),
		sorted:   make([]int, len(fields)),
		registry: r,
	}
	for i, fd := range fields {
		if _, dup := o.index[fd.Name]; dup {
			panic(fmt.Sprintf("codec: duplicate field %q in %s", fd.Name, name))
		}
		o.index[fd.Name] = i
		o.sorted[i] = i
	}
	sort.Slice(o.sorted, func(a, b int) bool {
		return fields[o.sorted[a]].Name < fields[o.sorted[b]].Name
	})
	o.partial = &Partial{obj: o}
	r.next++
	r.byID[o.id] = o
	r.objects = append(r.objects, o)
	return o
}

// Lookup resolves a TypeID.
func (r *Registry) Lookup(id TypeID) (*Object, error) {
	o, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTypeID, id)
	}
	return o, nil
}

// Decode reads one full object of whichever registered schema its TypeID
// names.
func (r *Registry) Decode(rd *Reader) (*Object, Fields, error) {
	id, err := rd.ReadU16()
	if err != nil {
		return nil, nil, err
	}
	o, err := r.Lookup(TypeID(id))
	if err != nil {
		return nil, nil, err
	}
	f, err := o.decodeBody(rd)
	return o, f, err
}

// DecodePartial is Decode for the partial layout.
func (r *Registry) DecodePartial(rd *Reader) (*Object, Fields, error) {
	id, err := rd.ReadU16()
	if err != nil {
		return nil, nil, err
	}
	o, err := r.Lookup(TypeID(id))
	if err != nil {
		return nil, nil, err
	}
	f, err := o.partial.decodeBody(rd)
	return o, f, err
}

// Len returns the number of registered schemas.
func (r *Registry) Len() int { return len(r.objects) }

// Fingerprint hashes every schema's id, name and field layout. Two
// processes with equal fingerprints agree on every TypeID.
func (r *Registry) Fingerprint() [32]byte {
	h, _ := blake2b.New256(nil)
	var id [2]byte
	for _, o := range r.objects {
		binary.LittleEndian.PutUint16(id[:], uint16(o.id))
		h.Write(id[:])
		h.Write([]byte(o.name))
		for _, fd := range o.fields {
			h.Write([]byte{0})
			h.Write([]byte(fd.Name))
			h.Write([]byte{':'})
			h.Write([]byte(fd.Codec.String()))
		}
		h.Write([]byte{'\n'})
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
