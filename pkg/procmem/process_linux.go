//go:build linux && (amd64 || arm64 || ppc64le || riscv64 || loong64)

package procmem

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

type remoteIovec struct {
	base uintptr
	len  uintptr
}

// processVMRead calls process_vm_readv
func processVMRead(pid int, addr uintptr, data []byte) (int, error) {
	lenIov := uint64(len(data))
	localIov := sys.Iovec{Base: &data[0], Len: lenIov}
	remoteIov := remoteIovec{base: addr, len: uintptr(lenIov)}
	n, _, err := syscall.Syscall6(sys.SYS_PROCESS_VM_READV, uintptr(pid), uintptr(unsafe.Pointer(&localIov)), 1, uintptr(unsafe.Pointer(&remoteIov)), 1, 0)
	if err != syscall.Errno(0) {
		return 0, err
	}
	return int(n), nil
}

// processVMWrite calls process_vm_writev
func processVMWrite(pid int, addr uintptr, data []byte) (int, error) {
	lenIov := uint64(len(data))
	localIov := sys.Iovec{Base: &data[0], Len: lenIov}
	remoteIov := remoteIovec{base: addr, len: uintptr(lenIov)}
	n, _, err := syscall.Syscall6(sys.SYS_PROCESS_VM_WRITEV, uintptr(pid), uintptr(unsafe.Pointer(&localIov)), 1, uintptr(unsafe.Pointer(&remoteIov)), 1, 0)
	if err != syscall.Errno(0) {
		return 0, err
	}
	return int(n), nil
}

func readMaps(pid int) ([]Region, error) {
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	return parseMaps(string(buf))
}
