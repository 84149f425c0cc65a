//go:build !linux || !(amd64 || arm64 || ppc64le || riscv64 || loong64)

package procmem

func processVMRead(pid int, addr uintptr, data []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func processVMWrite(pid int, addr uintptr, data []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func readMaps(pid int) ([]Region, error) {
	return nil, ErrUnsupportedPlatform
}
