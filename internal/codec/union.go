package codec

import "fmt"

// Union is a discriminated union of object schemas. Encoding picks the
// variant named by the value's discriminator field; decoding picks the
// variant named by the leading TypeID.
type Union struct {
	discriminator string
	byValue       map[string]*Object
	byID          map[TypeID]*Object
}

// NewUnion builds a union keyed by a string discriminator field. Every
// variant must declare that field. It panics on duplicate TypeIDs or
// discriminator values.
func NewUnion(discriminator string, variants map[string]*Object) *Union {
	u := &Union{
		discriminator: discriminator,
		byValue:       make(map[string]*Object, len(variants)),
		byID:          make(map[TypeID]*Object, len(variants)),
	}
	for value, o := range variants {
		if _, ok := o.Field(discriminator); !ok {
			panic(fmt.Sprintf("codec: union variant %s lacks discriminator %q", o.name, discriminator))
		}
		if _, dup := u.byID[o.id]; dup {
			panic(fmt.Sprintf("codec: duplicate type id %d in union", o.id))
		}
		u.byValue[value] = o
		u.byID[o.id] = o
	}
	return u
}

func (u *Union) Discriminator() string { return u.discriminator }

func (u *Union) String() string {
	return fmt.Sprintf("union<%s,%d>", u.discriminator, len(u.byID))
}

// Variant resolves the schema for a value by its discriminator field.
func (u *Union) Variant(v any) (*Object, error) {
	f, ok := asFields(v)
	if !ok {
		return nil, typeErr("union", v)
	}
	disc, _ := f[u.discriminator].(string)
	o, ok := u.byValue[disc]
	if !ok {
		return nil, fmt.Errorf("%w: no variant for %s=%q", ErrValueType, u.discriminator, disc)
	}
	return o, nil
}

// VariantNamed resolves the schema registered for a discriminator value.
func (u *Union) VariantNamed(value string) (*Object, bool) {
	o, ok := u.byValue[value]
	return o, ok
}

// ByTypeID resolves a variant by its TypeID.
func (u *Union) ByTypeID(id TypeID) (*Object, error) {
	o, ok := u.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d is not a %s variant", ErrUnknownTypeID, id, u.discriminator)
	}
	return o, nil
}

func (u *Union) SizeOf(v any) int {
	o, err := u.Variant(v)
	if err != nil {
		return 2
	}
	return o.SizeOf(v)
}

func (u *Union) Encode(w *Writer, v any) error {
	o, err := u.Variant(v)
	if err != nil {
		return err
	}
	return o.Encode(w, v)
}

func (u *Union) Decode(r *Reader) (any, error) {
	id, err := r.PeekU16()
	if err != nil {
		return nil, err
	}
	o, err := u.ByTypeID(TypeID(id))
	if err != nil {
		return nil, err
	}
	r.off += 2
	return o.decodeBody(r)
}
