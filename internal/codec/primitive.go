package codec

import (
	"fmt"
	"math"

	"golang.org/x/text/unicode/norm"
)

// Fixed-width primitives. Integer codecs accept any Go integer kind on
// encode and decode to their exact type (Int16 decodes to int16).
var (
	Bool    Codec = boolCodec{}
	Uint8   Codec = intCodec{name: "uint8", size: 1, min: 0, max: math.MaxUint8}
	Int16   Codec = intCodec{name: "int16", size: 2, min: math.MinInt16, max: math.MaxInt16}
	Uint16  Codec = intCodec{name: "uint16", size: 2, min: 0, max: math.MaxUint16}
	Int32   Codec = intCodec{name: "int32", size: 4, min: math.MinInt32, max: math.MaxInt32}
	Uint32  Codec = intCodec{name: "uint32", size: 4, min: 0, max: math.MaxUint32}
	Int64   Codec = intCodec{name: "int64", size: 8, min: math.MinInt64, max: math.MaxInt64}
	Float32 Codec = float32Codec{}
	Float64 Codec = float64Codec{}
	String  Codec = stringCodec{}
)

type boolCodec struct{}

func (boolCodec) SizeOf(any) int { return 1 }
func (boolCodec) String() string { return "bool" }

func (boolCodec) Encode(w *Writer, v any) error {
	b, ok := v.(bool)
	if !ok {
		return typeErr("bool", v)
	}
	if b {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
	return nil
}

func (boolCodec) Decode(r *Reader) (any, error) {
	b, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	return b != 0, nil
}

type intCodec struct {
	name     string
	size     int
	min, max int64
}

func (c intCodec) SizeOf(any) int { return c.size }
func (c intCodec) String() string { return c.name }

func (c intCodec) Encode(w *Writer, v any) error {
	n, ok := asInt64(v)
	if !ok {
		return typeErr(c.name, v)
	}
	if n < c.min || n > c.max {
		return fmt.Errorf("%w: %d overflows %s", ErrValueType, n, c.name)
	}
	switch c.size {
	case 1:
		w.WriteU8(byte(n))
	case 2:
		w.WriteU16(uint16(n))
	case 4:
		w.WriteU32(uint32(n))
	default:
		w.WriteU64(uint64(n))
	}
	return nil
}

func (c intCodec) Decode(r *Reader) (any, error) {
	switch c.name {
	case "uint8":
		v, err := r.ReadU8()
		return v, err
	case "int16":
		v, err := r.ReadU16()
		return int16(v), err
	case "uint16":
		v, err := r.ReadU16()
		return v, err
	case "int32":
		v, err := r.ReadU32()
		return int32(v), err
	case "uint32":
		v, err := r.ReadU32()
		return v, err
	default:
		v, err := r.ReadU64()
		return int64(v), err
	}
}

type float32Codec struct{}

func (float32Codec) SizeOf(any) int { return 4 }
func (float32Codec) String() string { return "float32" }

func (float32Codec) Encode(w *Writer, v any) error {
	f, ok := asFloat64(v)
	if !ok {
		return typeErr("float32", v)
	}
	w.WriteF32(float32(f))
	return nil
}

func (float32Codec) Decode(r *Reader) (any, error) {
	v, err := r.ReadF32()
	return v, err
}

type float64Codec struct{}

func (float64Codec) SizeOf(any) int { return 8 }
func (float64Codec) String() string { return "float64" }

func (float64Codec) Encode(w *Writer, v any) error {
	f, ok := asFloat64(v)
	if !ok {
		return typeErr("float64", v)
	}
	w.WriteF64(f)
	return nil
}

func (float64Codec) Decode(r *Reader) (any, error) {
	v, err := r.ReadF64()
	return v, err
}

// stringCodec writes a u32 byte length and NFC-normalized UTF-8, so two
// canonically equal strings always produce identical bytes.
type stringCodec struct{}

func (stringCodec) String() string { return "string" }

func (stringCodec) SizeOf(v any) int {
	s, ok := v.(string)
	if !ok {
		return 4
	}
	return 4 + len(normalize(s))
}

func (stringCodec) Encode(w *Writer, v any) error {
	s, ok := v.(string)
	if !ok {
		return typeErr("string", v)
	}
	w.WriteString(normalize(s))
	return nil
}

func (stringCodec) Decode(r *Reader) (any, error) {
	s, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func normalize(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}
