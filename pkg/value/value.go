package value

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
)

// Value is a tagged numeric value. The zero Value is an int8 zero.
type Value struct {
	kind Kind
	// bits holds the payload's bit pattern, truncated to kind.Size() bytes.
	bits uint64
}

func fromBits(k Kind, bits uint64) Value {
	if k.Size() < 8 {
		bits &= 1<<uint(k.Bits()) - 1
	}
	return Value{kind: k, bits: bits}
}

// Kind returns the kind of v.
func (v Value) Kind() Kind {
	return v.kind
}

// Bits returns the raw bit pattern of v, zero extended.
func (v Value) Bits() uint64 {
	return v.bits
}

// Int returns v as a sign extended integer. It is only meaningful for
// signed integer kinds.
func (v Value) Int() int64 {
	switch v.kind {
	case I8:
		return int64(int8(v.bits))
	case I16:
		return int64(int16(v.bits))
	case I32:
		return int64(int32(v.bits))
	}
	return int64(v.bits)
}

// Uint returns v as an unsigned integer.
func (v Value) Uint() uint64 {
	return v.bits
}

// Float returns v as a float64. It is only meaningful for float kinds.
func (v Value) Float() float64 {
	if v.kind == F32 {
		return float64(math.Float32frombits(uint32(v.bits)))
	}
	return math.Float64frombits(v.bits)
}

// Decode reinterprets the first kind.Size() bytes of b, in host byte
// order, as a value of kind k. The remaining bytes are ignored.
func Decode(k Kind, b [8]byte) Value {
	var bits uint64
	switch k.Size() {
	case 1:
		bits = uint64(b[0])
	case 2:
		bits = uint64(binary.NativeEndian.Uint16(b[:2]))
	case 4:
		bits = uint64(binary.NativeEndian.Uint32(b[:4]))
	default:
		bits = binary.NativeEndian.Uint64(b[:])
	}
	return Value{kind: k, bits: bits}
}

// Encode writes v into the first Kind().Size() bytes of a zeroed buffer
// in host byte order.
func (v Value) Encode() (b [8]byte) {
	switch v.kind.Size() {
	case 1:
		b[0] = byte(v.bits)
	case 2:
		binary.NativeEndian.PutUint16(b[:2], uint16(v.bits))
	case 4:
		binary.NativeEndian.PutUint32(b[:4], uint32(v.bits))
	default:
		binary.NativeEndian.PutUint64(b[:], v.bits)
	}
	return b
}

// Compare returns -1, 0 or +1 depending on whether v is less than, equal
// to or greater than other. NaNs order before every other float.
//
// Comparing values of different kinds is a programming error and panics.
func (v Value) Compare(other Value) int {
	if v.kind != other.kind {
		panic(fmt.Sprintf("comparing values of different kinds: %s and %s", v.kind, other.kind))
	}
	switch {
	case v.kind.Signed():
		return cmp.Compare(v.Int(), other.Int())
	case v.kind.Float():
		return cmp.Compare(v.Float(), other.Float())
	}
	return cmp.Compare(v.bits, other.bits)
}

// Equal reports whether v and other have the same kind and compare equal
// under native semantics (a NaN is not equal to anything).
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	if v.kind.Float() {
		return v.Float() == other.Float()
	}
	return v.bits == other.bits
}

func (v Value) String() string {
	return v.Format(Normal)
}
