package value

import (
	"encoding/binary"
	"math"
)

// Number is the set of Go types that have a Kind.
type Number interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// KindOf returns the Kind corresponding to T.
func KindOf[T Number]() Kind {
	var z T
	switch any(z).(type) {
	case int8:
		return I8
	case int16:
		return I16
	case int32:
		return I32
	case int64:
		return I64
	case uint8:
		return U8
	case uint16:
		return U16
	case uint32:
		return U32
	case uint64:
		return U64
	case float32:
		return F32
	}
	return F64
}

// Of wraps a native number into a Value.
func Of[T Number](x T) Value {
	switch x := any(x).(type) {
	case int8:
		return fromBits(I8, uint64(x))
	case int16:
		return fromBits(I16, uint64(x))
	case int32:
		return fromBits(I32, uint64(x))
	case int64:
		return fromBits(I64, uint64(x))
	case uint8:
		return fromBits(U8, uint64(x))
	case uint16:
		return fromBits(U16, uint64(x))
	case uint32:
		return fromBits(U32, uint64(x))
	case uint64:
		return fromBits(U64, x)
	case float32:
		return fromBits(F32, uint64(math.Float32bits(x)))
	case float64:
		return fromBits(F64, math.Float64bits(x))
	}
	panic("unreachable")
}

// As unwraps v into T. It returns false if v is not of T's kind.
func As[T Number](v Value) (T, bool) {
	if v.kind != KindOf[T]() {
		var z T
		return z, false
	}
	return DecodeAs[T](v.Encode()), true
}

// DecodeAs is the typed equivalent of Decode.
func DecodeAs[T Number](b [8]byte) T {
	var r T
	switch p := any(&r).(type) {
	case *int8:
		*p = int8(b[0])
	case *int16:
		*p = int16(binary.NativeEndian.Uint16(b[:2]))
	case *int32:
		*p = int32(binary.NativeEndian.Uint32(b[:4]))
	case *int64:
		*p = int64(binary.NativeEndian.Uint64(b[:]))
	case *uint8:
		*p = b[0]
	case *uint16:
		*p = binary.NativeEndian.Uint16(b[:2])
	case *uint32:
		*p = binary.NativeEndian.Uint32(b[:4])
	case *uint64:
		*p = binary.NativeEndian.Uint64(b[:])
	case *float32:
		*p = math.Float32frombits(binary.NativeEndian.Uint32(b[:4]))
	case *float64:
		*p = math.Float64frombits(binary.NativeEndian.Uint64(b[:]))
	}
	return r
}

// ParseAs parses text as a T, following the rules of Parse.
func ParseAs[T Number](text string) (T, error) {
	v, err := Parse(KindOf[T](), text)
	if err != nil {
		var z T
		return z, err
	}
	r, _ := As[T](v)
	return r, nil
}
