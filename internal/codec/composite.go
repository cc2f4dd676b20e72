package codec

import (
	"fmt"
	"sort"
)

// Array encodes a []any as a u32 count followed by each element.
func Array(elem Codec) Codec { return seqCodec{kind: "array", elem: elem} }

// SetOf encodes an unordered collection. On the wire it is identical to an
// array; the distinction only matters to the tracked container that owns it.
func SetOf(elem Codec) Codec { return seqCodec{kind: "set", elem: elem} }

type seqCodec struct {
	kind string
	elem Codec
}

func (c seqCodec) String() string { return c.kind + "<" + c.elem.String() + ">" }

func (c seqCodec) SizeOf(v any) int {
	items, _ := v.([]any)
	size := 4
	for _, e := range items {
		size += c.elem.SizeOf(e)
	}
	return size
}

func (c seqCodec) Encode(w *Writer, v any) error {
	items, ok := v.([]any)
	if !ok {
		if v != nil {
			return typeErr(c.kind, v)
		}
	}
	w.WriteU32(uint32(len(items)))
	for i, e := range items {
		if err := c.elem.Encode(w, e); err != nil {
			return fmt.Errorf("%s[%d]: %w", c.kind, i, err)
		}
	}
	return nil
}

func (c seqCodec) Decode(r *Reader) (any, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	// Every element takes at least one byte; a count larger than the rest of
	// the payload is corrupt, not a reason to allocate.
	if int(n) > r.Remaining() {
		return nil, fmt.Errorf("%w: %s count %d exceeds payload", ErrShortBuffer, c.kind, n)
	}
	items := make([]any, 0, n)
	for i := uint32(0); i < n; i++ {
		e, err := c.elem.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", c.kind, i, err)
		}
		items = append(items, e)
	}
	return items, nil
}

// MapOf encodes a map[string]any as a u32 count followed by sorted
// (key, value) pairs. Sorting keeps the output deterministic.
func MapOf(value Codec) Codec { return mapCodec{value: value} }

type mapCodec struct {
	value Codec
}

func (c mapCodec) String() string { return "map<string," + c.value.String() + ">" }

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Fields:
		return t, true
	case nil:
		return nil, true
	default:
		return nil, false
	}
}

func (c mapCodec) SizeOf(v any) int {
	m, _ := asMap(v)
	size := 4
	for k, e := range m {
		size += String.SizeOf(k) + c.value.SizeOf(e)
	}
	return size
}

func (c mapCodec) Encode(w *Writer, v any) error {
	m, ok := asMap(v)
	if !ok {
		return typeErr("map", v)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.WriteU32(uint32(len(keys)))
	for _, k := range keys {
		if err := String.Encode(w, k); err != nil {
			return err
		}
		if err := c.value.Encode(w, m[k]); err != nil {
			return fmt.Errorf("map[%q]: %w", k, err)
		}
	}
	return nil
}

func (c mapCodec) Decode(r *Reader) (any, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(n) > r.Remaining() {
		return nil, fmt.Errorf("%w: map count %d exceeds payload", ErrShortBuffer, n)
	}
	m := make(map[string]any, n)
	for i := uint32(0); i < n; i++ {
		k, err := String.Decode(r)
		if err != nil {
			return nil, err
		}
		e, err := c.value.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("map[%q]: %w", k, err)
		}
		m[k.(string)] = e
	}
	return m, nil
}

// Optional encodes nil as a single 0 byte, anything else as 1 + inner.
func Optional(inner Codec) Codec { return optionalCodec{inner: inner} }

type optionalCodec struct {
	inner Codec
}

func (c optionalCodec) String() string { return "optional<" + c.inner.String() + ">" }

func (c optionalCodec) SizeOf(v any) int {
	if v == nil {
		return 1
	}
	return 1 + c.inner.SizeOf(v)
}

func (c optionalCodec) Encode(w *Writer, v any) error {
	if v == nil {
		w.WriteU8(0)
		return nil
	}
	w.WriteU8(1)
	return c.inner.Encode(w, v)
}

func (c optionalCodec) Decode(r *Reader) (any, error) {
	flag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if flag == 0 {
		return nil, nil
	}
	return c.inner.Decode(r)
}
