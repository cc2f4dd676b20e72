// Package codec describes how replicated values are measured, encoded and
// decoded. Codecs are built once at startup and are immutable afterwards.
package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTypeID is returned when a decoder meets a TypeID it has no
	// schema for. It is fatal to the connection.
	ErrUnknownTypeID = errors.New("codec: unknown type id")
	// ErrFieldCount is returned when an object value does not match the
	// declared field layout.
	ErrFieldCount = errors.New("codec: field count mismatch")
	// ErrShortBuffer is returned when a payload ends before a value does.
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrValueType is returned when a Go value does not fit the codec.
	ErrValueType = errors.New("codec: value type mismatch")
)

// TypeID is the 2-byte wire tag that precedes every object encoding.
type TypeID uint16

// Fields is the plain value of an object: field name to value. Nested
// objects are nested Fields.
type Fields map[string]any

// Clone returns a deep copy. Nested Fields, slices and maps are copied;
// scalars are shared.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies the container kinds codecs produce.
func CloneValue(v any) any {
	switch t := v.(type) {
	case Fields:
		return t.Clone()
	case map[string]any:
		return map[string]any(Fields(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Codec measures, encodes and decodes one value shape.
type Codec interface {
	// SizeOf returns the encoded size of v. Values the codec cannot encode
	// report the size of the smallest valid encoding; Encode reports the error.
	SizeOf(v any) int
	Encode(w *Writer, v any) error
	Decode(r *Reader) (any, error)
	// String describes the codec layout; it feeds the schema fingerprint.
	String() string
}

// Marshal encodes v with c into an exactly-sized buffer.
func Marshal(c Codec, v any) ([]byte, error) {
	w := NewWriter(c.SizeOf(v))
	if err := c.Encode(w, v); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Unmarshal decodes one value of c from data.
func Unmarshal(c Codec, data []byte) (any, error) {
	return c.Decode(NewReader(data))
}

func typeErr(codec string, v any) error {
	return fmt.Errorf("%w: %s codec got %T", ErrValueType, codec, v)
}

func asFields(v any) (Fields, bool) {
	switch t := v.(type) {
	case Fields:
		return t, true
	case map[string]any:
		return Fields(t), true
	default:
		return nil, false
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		i, ok := asInt64(v)
		return float64(i), ok
	}
}
