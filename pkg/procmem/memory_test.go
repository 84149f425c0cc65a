package procmem

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"7ffd1000", 0x7ffd1000},
		{"0x7FFD1000", 0x7ffd1000},
		{" 0X10 ", 0x10},
		{"ffffffffffffffff", ^uint64(0)},
	}
	for _, tt := range tests {
		got, err := ParseAddress(tt.in)
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseAddress(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}

	for _, in := range []string{"", "0x", "xyz", "1_000", "10000000000000000"} {
		_, err := ParseAddress(in)
		var aerr *AddressError
		if !errors.As(err, &aerr) {
			t.Fatalf("ParseAddress(%q): expected AddressError, got %v", in, err)
		}
	}
}

const sampleMaps = `55d0c4a00000-55d0c4a02000 r--p 00000000 fd:01 1573166                    /usr/bin/cat
55d0c4a02000-55d0c4a07000 r-xp 00002000 fd:01 1573166                    /usr/bin/cat
55d0c5f9e000-55d0c5fbf000 rw-p 00000000 00:00 0                          [heap]
7f2b8a400000-7f2b8a401000 ---p 00000000 00:00 0
7ffd4e1c9000-7ffd4e1ea000 rw-p 00000000 00:00 0                          [stack]
`

func TestParseMaps(t *testing.T) {
	regions, err := parseMaps(sampleMaps)
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 5 {
		t.Fatalf("expected 5 regions, got %d", len(regions))
	}
	r := regions[1]
	if r.Addr != 0x55d0c4a02000 || r.Size != 0x5000 || !r.Read || r.Write || !r.Exec || r.Offset != 0x2000 || r.Filename != "/usr/bin/cat" {
		t.Fatalf("bad region %#v", r)
	}
	if regions[2].Filename != "[heap]" || !regions[2].Write {
		t.Fatalf("bad heap region %#v", regions[2])
	}
	if regions[3].Read || regions[3].Filename != "" {
		t.Fatalf("bad guard region %#v", regions[3])
	}

	if _, err := parseMaps("55d0c4a00000 r--p 00000000 fd:01 1\n"); err == nil {
		t.Fatal("expected error for malformed range")
	}
	if _, err := parseMaps("1000-2000 r 0 00:00 0\n"); err == nil {
		t.Fatal("expected error for short permissions")
	}
}

func TestRegionIndex(t *testing.T) {
	regions, err := parseMaps(sampleMaps)
	if err != nil {
		t.Fatal(err)
	}
	ix, err := newRegionIndex(regions, 16)
	if err != nil {
		t.Fatal(err)
	}
	if len(ix.regions) != 4 {
		t.Fatalf("expected 4 readable regions, got %d", len(ix.regions))
	}

	tests := []struct {
		addr uint64
		want bool
	}{
		{0, false},
		{0x55d0c4a00000, true},
		{0x55d0c4a06fff, true},
		{0x55d0c4a07000, false},
		{0x55d0c5f9e010, true},
		{0x7f2b8a400008, false},
		{0x7ffd4e1e9ff8, true},
		{0x7ffd4e1ea000, false},
	}
	for i := 0; i < 2; i++ {
		// The second pass is answered from the page cache.
		for _, tt := range tests {
			if got := ix.canRead(tt.addr); got != tt.want {
				t.Fatalf("pass %d: canRead(%#x) = %v, want %v", i, tt.addr, got, tt.want)
			}
		}
	}
	if ix.pages.Len() == 0 {
		t.Fatal("page cache was not populated")
	}
}

func TestFake(t *testing.T) {
	mem := NewFake()
	mem.Map(0x1000, 0x40)
	mem.MapBytes(0x3000, []byte{1, 2, 3, 4})
	mem.PutUint64(0x1008, 0x3000)

	if !mem.CanRead(0x1000) || !mem.CanRead(0x103f) || mem.CanRead(0x1040) || mem.CanRead(0x2fff) {
		t.Fatal("CanRead does not follow the mapped regions")
	}

	buf, err := ReadUint64(mem, 0x1008)
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.NativeEndian.Uint64(buf[:]); got != 0x3000 {
		t.Fatalf("read back %#x", got)
	}

	var small [2]byte
	if _, err := mem.ReadMemory(small[:], 0x3002); err != nil {
		t.Fatal(err)
	}
	if small != [2]byte{3, 4} {
		t.Fatalf("read %v", small)
	}

	if _, err := mem.ReadMemory(make([]byte, 8), 0x3000); !errors.Is(err, ErrAddressNotMapped) {
		t.Fatalf("read across the end of a region: expected ErrAddressNotMapped, got %v", err)
	}
	if _, err := mem.WriteMemory(0x5000, []byte{1}); !errors.Is(err, ErrAddressNotMapped) {
		t.Fatalf("write to unmapped memory: expected ErrAddressNotMapped, got %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("overlapping region did not panic")
		}
	}()
	mem.Map(0x1020, 0x100)
}
