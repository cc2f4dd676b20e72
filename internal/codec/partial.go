package codec

import "fmt"

// Partial encodes a subset of an object's fields: TypeID, a presence bitset
// of ceil(n/8) bytes (bit i set when the i-th field in name order is
// present, LSB first), then the present fields in that same order.
//
// Fields declared as objects are themselves encoded partially, so a change
// to movement.x ships only x.
type Partial struct {
	obj *Object
}

func (p *Partial) Object() *Object { return p.obj }
func (p *Partial) String() string  { return "partial<" + p.obj.String() + ">" }

func (p *Partial) bitsetSize() int { return (len(p.obj.fields) + 7) / 8 }

func (p *Partial) SizeOf(v any) int {
	f, _ := asFields(v)
	size := 2 + p.bitsetSize()
	for _, i := range p.obj.sorted {
		fd := p.obj.fields[i]
		val, present := f[fd.Name]
		if !present {
			continue
		}
		if nested, ok := fd.Codec.(*Object); ok {
			size += nested.partial.SizeOf(val)
			continue
		}
		size += fd.Codec.SizeOf(val)
	}
	return size
}

func (p *Partial) Encode(w *Writer, v any) error {
	f, ok := asFields(v)
	if !ok {
		return typeErr("partial "+p.obj.name, v)
	}
	bits := make([]byte, p.bitsetSize())
	matched := 0
	for idx, i := range p.obj.sorted {
		if _, present := f[p.obj.fields[i].Name]; present {
			bits[idx>>3] |= 1 << (idx & 7)
			matched++
		}
	}
	if matched != len(f) {
		return fmt.Errorf("%w: %s has no field for %d of %d changed keys", ErrFieldCount, p.obj.name, len(f)-matched, len(f))
	}
	w.WriteU16(uint16(p.obj.id))
	w.WriteBytes(bits)
	for _, i := range p.obj.sorted {
		fd := p.obj.fields[i]
		val, present := f[fd.Name]
		if !present {
			continue
		}
		var err error
		if nested, ok := fd.Codec.(*Object); ok {
			err = nested.partial.Encode(w, val)
		} else {
			err = fd.Codec.Encode(w, val)
		}
		if err != nil {
			return fmt.Errorf("%s.%s: %w", p.obj.name, fd.Name, err)
		}
	}
	return nil
}

// Decode reads the TypeID first and decodes with that schema's partial
// layout; the returned Fields holds only the present fields.
func (p *Partial) Decode(r *Reader) (any, error) {
	id, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	schema, err := p.obj.registry.Lookup(TypeID(id))
	if err != nil {
		return nil, err
	}
	return schema.partial.decodeBody(r)
}

func (p *Partial) decodeBody(r *Reader) (Fields, error) {
	n := p.bitsetSize()
	bits, err := r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	// Bits past the declared field count mean the sender had a different layout.
	if rem := len(p.obj.fields) & 7; rem != 0 && n > 0 && bits[n-1]>>rem != 0 {
		return nil, fmt.Errorf("%w: %s presence bitset has bits beyond %d fields", ErrFieldCount, p.obj.name, len(p.obj.fields))
	}
	out := make(Fields)
	for idx, i := range p.obj.sorted {
		if bits[idx>>3]&(1<<(idx&7)) == 0 {
			continue
		}
		fd := p.obj.fields[i]
		var v any
		if nested, ok := fd.Codec.(*Object); ok {
			v, err = nested.partial.Decode(r)
		} else {
			v, err = fd.Codec.Decode(r)
		}
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", p.obj.name, fd.Name, err)
		}
		out[fd.Name] = v
	}
	return out, nil
}
