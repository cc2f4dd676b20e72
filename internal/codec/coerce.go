package codec

import "fmt"

// Coerce converts v to the exact Go type c decodes to, so a value written
// on the server deep-equals the value a client decodes. Int16 turns 3 into
// int16(3); Float32 turns 1.5 into float32(1.5). Composite values are
// coerced element by element.
func Coerce(c Codec, v any) (any, error) {
	switch t := c.(type) {
	case boolCodec:
		b, ok := v.(bool)
		if !ok {
			return nil, typeErr("bool", v)
		}
		return b, nil
	case intCodec:
		n, ok := asInt64(v)
		if !ok {
			return nil, typeErr(t.name, v)
		}
		if n < t.min || n > t.max {
			return nil, fmt.Errorf("%w: %d overflows %s", ErrValueType, n, t.name)
		}
		switch t.name {
		case "uint8":
			return uint8(n), nil
		case "int16":
			return int16(n), nil
		case "uint16":
			return uint16(n), nil
		case "int32":
			return int32(n), nil
		case "uint32":
			return uint32(n), nil
		default:
			return n, nil
		}
	case float32Codec:
		f, ok := asFloat64(v)
		if !ok {
			return nil, typeErr("float32", v)
		}
		return float32(f), nil
	case float64Codec:
		f, ok := asFloat64(v)
		if !ok {
			return nil, typeErr("float64", v)
		}
		return f, nil
	case stringCodec:
		s, ok := v.(string)
		if !ok {
			return nil, typeErr("string", v)
		}
		return normalize(s), nil
	case seqCodec:
		items, ok := v.([]any)
		if !ok {
			if v == nil {
				return []any{}, nil
			}
			return nil, typeErr(t.kind, v)
		}
		out := make([]any, len(items))
		for i, e := range items {
			ce, err := Coerce(t.elem, e)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", t.kind, i, err)
			}
			out[i] = ce
		}
		return out, nil
	case mapCodec:
		m, ok := asMap(v)
		if !ok {
			return nil, typeErr("map", v)
		}
		out := make(map[string]any, len(m))
		for k, e := range m {
			ce, err := Coerce(t.value, e)
			if err != nil {
				return nil, fmt.Errorf("map[%q]: %w", k, err)
			}
			out[k] = ce
		}
		return out, nil
	case optionalCodec:
		if v == nil {
			return nil, nil
		}
		return Coerce(t.inner, v)
	case *Object:
		f, ok := asFields(v)
		if !ok {
			return nil, typeErr(t.name, v)
		}
		return t.coerceFields(f, false)
	case *Partial:
		f, ok := asFields(v)
		if !ok {
			return nil, typeErr(t.obj.name, v)
		}
		return t.obj.coerceFields(f, true)
	case *Union:
		o, err := t.Variant(v)
		if err != nil {
			return nil, err
		}
		return Coerce(o, v)
	default:
		return v, nil
	}
}

// coerceFields coerces every field of f. With partial set, missing fields
// are allowed and nested objects are coerced as partials too.
func (o *Object) coerceFields(f Fields, partial bool) (Fields, error) {
	if !partial && len(f) != len(o.fields) {
		return nil, fmt.Errorf("%w: %s has %d fields, value has %d", ErrFieldCount, o.name, len(o.fields), len(f))
	}
	out := make(Fields, len(f))
	for name, v := range f {
		fd, ok := o.Field(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field %q", ErrFieldCount, o.name, name)
		}
		var (
			cv  any
			err error
		)
		if nested, isObj := fd.Codec.(*Object); isObj && partial {
			cv, err = Coerce(nested.partial, v)
		} else {
			cv, err = Coerce(fd.Codec, v)
		}
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", o.name, name, err)
		}
		out[name] = cv
	}
	return out, nil
}
