package value

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatMode selects how values are printed.
type FormatMode uint8

const (
	// Normal prints integers in decimal and floats in their shortest
	// round-trip form.
	Normal FormatMode = iota
	// Hex prints integers as uppercase hexadecimal of their bit pattern.
	// Floats are always printed as in Normal.
	Hex
)

// ParseError is returned when text can not be parsed as a value of the
// requested kind.
type ParseError struct {
	Kind Kind
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s value %q: %v", e.Kind.Label(), e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errEmpty = errors.New("empty input")

// Parse parses text as a value of kind k.
// Integers are decimal unless prefixed with 0x, in which case they are
// hexadecimal. A hexadecimal signed integer without a sign may be written
// as its two's complement bit pattern, so 0xFF parses as -1 for I8.
func Parse(k Kind, text string) (Value, error) {
	v, err := parse(k, strings.TrimSpace(text))
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			err = numErr.Err
		}
		return Value{}, &ParseError{Kind: k, Text: text, Err: err}
	}
	return v, nil
}

func parse(k Kind, s string) (Value, error) {
	if s == "" {
		return Value{}, errEmpty
	}

	if k.Float() {
		f, err := strconv.ParseFloat(s, k.Bits())
		if err != nil {
			return Value{}, err
		}
		if k == F32 {
			return fromBits(k, uint64(math.Float32bits(float32(f)))), nil
		}
		return fromBits(k, math.Float64bits(f)), nil
	}

	sign, body := "", s
	if body[0] == '-' || body[0] == '+' {
		sign, body = body[:1], body[1:]
	}
	base := 10
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		base, body = 16, body[2:]
	}

	if !k.Signed() {
		if sign == "-" {
			return Value{}, strconv.ErrRange
		}
		u, err := strconv.ParseUint(body, base, k.Bits())
		if err != nil {
			return Value{}, err
		}
		return fromBits(k, u), nil
	}

	if base == 16 && sign == "" {
		u, err := strconv.ParseUint(body, base, k.Bits())
		if err != nil {
			return Value{}, err
		}
		return fromBits(k, u), nil
	}
	i, err := strconv.ParseInt(sign+body, base, k.Bits())
	if err != nil {
		return Value{}, err
	}
	return fromBits(k, uint64(i)), nil
}

// Format returns the textual representation of v.
func (v Value) Format(mode FormatMode) string {
	switch {
	case v.kind.Float():
		return strconv.FormatFloat(v.Float(), 'g', -1, v.kind.Bits())
	case mode == Hex:
		return strings.ToUpper(strconv.FormatUint(v.bits, 16))
	case v.kind.Signed():
		return strconv.FormatInt(v.Int(), 10)
	}
	return strconv.FormatUint(v.bits, 10)
}
