// Package value implements the numeric values the spider scans for.
//
// A Value is one of a closed set of fixed-width integer and floating
// point kinds. Values of different kinds are never ordered against each
// other: the scan pipeline is generic over a single Number type, so the
// dynamic Value is only used at the edges (parsing user input, printing
// results).
package value

import (
	"fmt"
	"strings"
)

// Kind is the representation of a scanned value.
type Kind uint8

const (
	I8 Kind = iota
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F32
	F64
)

var kindNames = [...]struct {
	short, label string
}{
	I8:  {"i8", "int8"},
	I16: {"i16", "int16"},
	I32: {"i32", "int32"},
	I64: {"i64", "int64"},
	U8:  {"u8", "uint8"},
	U16: {"u16", "uint16"},
	U32: {"u32", "uint32"},
	U64: {"u64", "uint64"},
	F32: {"f32", "float"},
	F64: {"f64", "double"},
}

// Kinds returns every kind, in declaration order.
func Kinds() []Kind {
	return []Kind{I8, I16, I32, I64, U8, U16, U32, U64, F32, F64}
}

// Size returns the size of the kind in bytes.
func (k Kind) Size() int {
	switch k {
	case I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32, F32:
		return 4
	case I64, U64, F64:
		return 8
	}
	panic(fmt.Sprintf("unknown kind %d", k))
}

// Bits returns the size of the kind in bits.
func (k Kind) Bits() int {
	return k.Size() * 8
}

// Signed reports whether k is a signed integer kind.
func (k Kind) Signed() bool {
	return k <= I64
}

// Float reports whether k is a floating point kind.
func (k Kind) Float() bool {
	return k == F32 || k == F64
}

func (k Kind) valid() bool {
	return int(k) < len(kindNames)
}

func (k Kind) String() string {
	if !k.valid() {
		return fmt.Sprintf("Kind(%d)", k)
	}
	return kindNames[k].short
}

// Label returns the C-like name of the kind, as shown to the user.
func (k Kind) Label() string {
	if !k.valid() {
		return k.String()
	}
	return kindNames[k].label
}

// ParseKind accepts either the short (i32) or the long (int32) name of a
// kind, case insensitively.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, k := range Kinds() {
		if name == kindNames[k].short || name == kindNames[k].label {
			return k, nil
		}
	}
	switch name {
	case "f32", "float32":
		return F32, nil
	case "f64", "float64":
		return F64, nil
	}
	return 0, fmt.Errorf("unknown value kind %q", name)
}
