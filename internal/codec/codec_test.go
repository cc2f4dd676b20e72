package codec

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestPrimitivesAreFixedWidthLittleEndian(t *testing.T) {
	cases := []struct {
		name  string
		codec Codec
		value any
		want  []byte
		back  any
	}{
		{"bool", Bool, true, []byte{1}, true},
		{"uint8", Uint8, 200, []byte{200}, uint8(200)},
		{"int16", Int16, int16(-2), []byte{0xFE, 0xFF}, int16(-2)},
		{"uint16", Uint16, 0x0102, []byte{0x02, 0x01}, uint16(0x0102)},
		{"int32", Int32, int32(1), []byte{1, 0, 0, 0}, int32(1)},
		{"uint32", Uint32, uint32(0xA0B0C0D0), []byte{0xD0, 0xC0, 0xB0, 0xA0}, uint32(0xA0B0C0D0)},
		{"int64", Int64, int64(-1), bytes.Repeat([]byte{0xFF}, 8), int64(-1)},
		{"float32", Float32, float32(1.5), []byte{0, 0, 0xC0, 0x3F}, float32(1.5)},
		{"float64", Float64, 2.0, []byte{0, 0, 0, 0, 0, 0, 0, 0x40}, 2.0},
		{"string", String, "hi", []byte{2, 0, 0, 0, 'h', 'i'}, "hi"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Marshal(tc.codec, tc.value)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("bytes = %v, want %v", got, tc.want)
			}
			if size := tc.codec.SizeOf(tc.value); size != len(got) {
				t.Fatalf("SizeOf = %d, encoded %d bytes", size, len(got))
			}
			back, err := Unmarshal(tc.codec, got)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back != tc.back {
				t.Fatalf("decoded %#v, want %#v", back, tc.back)
			}
		})
	}
}

func TestIntegerOverflowIsRejected(t *testing.T) {
	if _, err := Marshal(Int16, 40000); !errors.Is(err, ErrValueType) {
		t.Fatalf("expected ErrValueType, got %v", err)
	}
	if _, err := Marshal(Uint8, -1); !errors.Is(err, ErrValueType) {
		t.Fatalf("expected ErrValueType for negative uint8, got %v", err)
	}
	if _, err := Marshal(Int32, "1"); !errors.Is(err, ErrValueType) {
		t.Fatalf("expected ErrValueType for string into int32, got %v", err)
	}
}

func TestStringIsNormalizedToNFC(t *testing.T) {
	decomposed := "e\u0301"
	got, err := Marshal(String, decomposed)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := []byte{2, 0, 0, 0, 0xC3, 0xA9}
	if !bytes.Equal(got, want) {
		t.Fatalf("bytes = %v, want %v", got, want)
	}
	if String.SizeOf(decomposed) != len(want) {
		t.Fatalf("SizeOf disagrees with normalized length")
	}
}

func TestCompositesRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		codec Codec
		value any
	}{
		{"array", Array(Int16), []any{int16(1), int16(2), int16(3)}},
		{"empty array", Array(String), []any{}},
		{"set", SetOf(String), []any{"a", "b"}},
		{"map", MapOf(Int32), map[string]any{"b": int32(2), "a": int32(1)}},
		{"optional nil", Optional(String), nil},
		{"optional value", Optional(String), "x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Marshal(tc.codec, tc.value)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if len(data) != tc.codec.SizeOf(tc.value) {
				t.Fatalf("SizeOf = %d, encoded %d", tc.codec.SizeOf(tc.value), len(data))
			}
			back, err := Unmarshal(tc.codec, data)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(back, tc.value) {
				t.Fatalf("decoded %#v, want %#v", back, tc.value)
			}
		})
	}
}

func TestMapEncodingIsDeterministic(t *testing.T) {
	m := map[string]any{"z": int16(1), "a": int16(2), "m": int16(3)}
	first, err := Marshal(MapOf(Int16), m)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, _ := Marshal(MapOf(Int16), m)
		if !bytes.Equal(first, again) {
			t.Fatalf("map encoding changed between runs")
		}
	}
}

func TestShortBufferIsAnError(t *testing.T) {
	if _, err := Unmarshal(Int32, []byte{1, 2}); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
	if _, err := Unmarshal(String, []byte{10, 0, 0, 0, 'a'}); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer for truncated string, got %v", err)
	}
	if _, err := Unmarshal(Array(Int16), []byte{0xFF, 0xFF, 0xFF, 0x0F}); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer for absurd count, got %v", err)
	}
}
