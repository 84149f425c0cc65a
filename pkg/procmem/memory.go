// Package procmem provides access to the address space of another process.
//
// The scanner only needs three things from a process: reading bytes at an
// address, writing them back, and a cheap way to know whether an address
// may be dereferenced. Those are captured by the Memory interface.
package procmem

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// Memory is the view of a remote address space used by the spider.
// Implementations must be safe for concurrent calls to ReadMemory and
// CanRead.
type Memory interface {
	MemoryReader
	WriteMemory(addr uint64, data []byte) (written int, err error)
	// CanRead reports whether addr lies in readable memory. It is called
	// once for every pointer-aligned slot probed by a scan, so it must
	// be cheap.
	CanRead(addr uint64) bool
}

var (
	// ErrAddressNotMapped is returned when an address is not inside any
	// mapped region.
	ErrAddressNotMapped = errors.New("address not mapped")
	// ErrUnsupportedPlatform is returned by Open on platforms without a
	// native backend.
	ErrUnsupportedPlatform = errors.New("reading process memory is not supported on this platform")
)

// AddressError is returned when an address can not be parsed.
type AddressError struct {
	Text string
	Err  error
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("address %q is in invalid format: %v", e.Text, e.Err)
}

func (e *AddressError) Unwrap() error {
	return e.Err
}

// ParseAddress parses a hexadecimal address with an optional 0x prefix.
func ParseAddress(text string) (uint64, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, &AddressError{Text: text, Err: errors.New("empty address")}
	}
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			err = numErr.Err
		}
		return 0, &AddressError{Text: text, Err: err}
	}
	return addr, nil
}

// ReadUint64 reads 8 bytes at addr. The returned array is zeroed when the
// read fails.
func ReadUint64(mem MemoryReader, addr uint64) ([8]byte, error) {
	var buf [8]byte
	if _, err := mem.ReadMemory(buf[:], addr); err != nil {
		return [8]byte{}, err
	}
	return buf, nil
}
