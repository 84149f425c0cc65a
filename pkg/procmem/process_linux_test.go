//go:build linux && (amd64 || arm64 || ppc64le || riscv64 || loong64)

package procmem

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"unsafe"
)

var selfProbe = [8]byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04}

func TestOpenSelf(t *testing.T) {
	p, err := Open(os.Getpid(), 0)
	if err != nil {
		t.Fatal(err)
	}
	addr := uint64(uintptr(unsafe.Pointer(&selfProbe[0])))
	if !p.CanRead(addr) {
		t.Fatalf("address of a package variable (%#x) is not readable", addr)
	}
	if p.CanRead(0) {
		t.Fatal("the zero page should not be readable")
	}

	var buf [8]byte
	if _, err := p.ReadMemory(buf[:], addr); err != nil {
		if errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOSYS) {
			t.Skipf("process_vm_readv not permitted here: %v", err)
		}
		t.Fatal(err)
	}
	if buf != selfProbe {
		t.Fatalf("read %x, want %x", buf, selfProbe)
	}

	if len(p.Regions()) == 0 {
		t.Fatal("no regions")
	}
	if err := p.Refresh(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenInvalidPid(t *testing.T) {
	if _, err := Open(0, 0); err == nil {
		t.Fatal("expected error")
	}
}
