package spider

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/structspider/spider/pkg/procmem"
)

// gatedMemory blocks every read until gate is closed.
type gatedMemory struct {
	*procmem.Fake
	gate chan struct{}
}

func (m *gatedMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	<-m.gate
	return m.Fake.ReadMemory(buf, addr)
}

func putInt32(mem *procmem.Fake, addr uint64, v int32) {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], uint32(v))
	mem.Put(addr, b[:])
}

func scanAll[T int32 | uint64](t *testing.T, mem procmem.Memory, opts Options[T]) Report[T] {
	t.Helper()
	s := NewScanner[T](mem, 4)
	require.NoError(t, s.Begin(opts))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := s.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, Finished, r.State)
	return r
}

func TestScanDirectMatch(t *testing.T) {
	mem := procmem.NewFake()
	mem.Map(0x1000, 0x100)
	putInt32(mem, 0x1010, 42)

	r := scanAll(t, mem, Options[int32]{Base: 0x1000, Alignment: 4, StructSize: 0x40, Depth: 1, Target: 42})
	require.Len(t, r.Results, 1)
	require.Equal(t, 0, r.Results[0].Path.Len())
	require.Equal(t, uint64(0x10), r.Results[0].Offset)
	require.Equal(t, int32(42), r.Results[0].Last)
	require.Equal(t, int64(1), r.Stats.Structures)
	require.Equal(t, int64(0x40/4), r.Stats.Probes)
	require.Zero(t, r.Stats.FailedReads)
}

func chainFixture() *procmem.Fake {
	mem := procmem.NewFake()
	mem.Map(0x1000, 0x100)
	mem.Map(0x2000, 0x100)
	mem.PutUint64(0x1020, 0x2000)
	putInt32(mem, 0x2008, 42)
	return mem
}

func TestScanPointerChain(t *testing.T) {
	r := scanAll(t, chainFixture(), Options[int32]{Base: 0x1000, Alignment: 4, StructSize: 0x40, Depth: 2, Target: 42})
	require.Len(t, r.Results, 1)
	require.Equal(t, []uint64{0x20}, r.Results[0].Path.Offsets())
	require.Equal(t, uint64(0x08), r.Results[0].Offset)
	require.Equal(t, int64(2), r.Stats.Structures)
}

func TestScanDepthZero(t *testing.T) {
	mem := chainFixture()
	putInt32(mem, 0x1010, 42)

	r := scanAll(t, mem, Options[int32]{Base: 0x1000, Alignment: 4, StructSize: 0x40, Depth: 0, Target: 42})
	require.Len(t, r.Results, 1)
	require.Equal(t, 0, r.Results[0].Path.Len())
	require.Equal(t, uint64(0x10), r.Results[0].Offset)
	require.Equal(t, int64(1), r.Stats.Structures)
}

func TestScanSortedByPathLength(t *testing.T) {
	mem := chainFixture()
	putInt32(mem, 0x1010, 42)
	putInt32(mem, 0x1030, 42)

	r := scanAll(t, mem, Options[int32]{Base: 0x1000, Alignment: 4, StructSize: 0x40, Depth: 2, Target: 42})
	require.Len(t, r.Results, 3)
	for i := 1; i < len(r.Results); i++ {
		require.LessOrEqual(t, r.Results[i-1].Path.Len(), r.Results[i].Path.Len())
	}
	require.Equal(t, 1, r.Results[2].Path.Len())
}

func TestScanUnalignedBase(t *testing.T) {
	mem := procmem.NewFake()
	mem.Map(0x1000, 0x100)
	putInt32(mem, 0x1010, 42)

	// The window starts at 0x1008, so the match is at offset 8.
	r := scanAll(t, mem, Options[int32]{Base: 0x1003, Alignment: 8, StructSize: 0x20, Depth: 0, Target: 42})
	require.Len(t, r.Results, 1)
	require.Equal(t, uint64(0x08), r.Results[0].Offset)
}

func TestScanSkipsUnreadableSlots(t *testing.T) {
	mem := procmem.NewFake()
	mem.Map(0x1000, 0x20)
	putInt32(mem, 0x1010, 42)

	r := scanAll(t, mem, Options[int32]{Base: 0x1000, Alignment: 4, StructSize: 0x40, Depth: 1, Target: 42})
	require.Len(t, r.Results, 1)
	require.NotZero(t, r.Stats.FailedReads)
}

func TestScanPointerCycle(t *testing.T) {
	mem := procmem.NewFake()
	mem.Map(0x1000, 0x100)
	mem.PutUint64(0x1000, 0x1000)

	r := scanAll(t, mem, Options[uint64]{Base: 0x1000, Alignment: 8, StructSize: 0x10, Depth: 3, Target: 0x1000})
	// The self pointer matches once per level visited.
	require.Len(t, r.Results, 4)
	require.Equal(t, int64(4), r.Stats.Structures)
	require.Equal(t, []uint64{0, 0, 0}, r.Results[3].Path.Offsets())
}

func TestScannerLifecycle(t *testing.T) {
	mem := &gatedMemory{Fake: chainFixture(), gate: make(chan struct{})}
	s := NewScanner[int32](mem, 2)

	require.Equal(t, Idle, s.Poll().State)
	require.ErrorIs(t, s.Begin(Options[int32]{Alignment: 0, StructSize: 8}), ErrInvalidOptions)
	require.ErrorIs(t, s.Begin(Options[int32]{Alignment: 4, Depth: -1}), ErrInvalidOptions)

	opts := Options[int32]{Base: 0x1000, Alignment: 4, StructSize: 0x40, Depth: 2, Target: 42}
	require.NoError(t, s.Begin(opts))
	require.True(t, s.Active())
	require.ErrorIs(t, s.Begin(opts), ErrScanInProgress)

	r := s.Poll()
	require.Equal(t, InProgress, r.State)
	require.NotEmpty(t, r.ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, s.Active())

	close(mem.gate)
	r, err = s.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, Finished, r.State)
	require.Len(t, r.Results, 1)

	require.False(t, s.Active())
	require.Equal(t, Idle, s.Poll().State)

	// The scanner can be reused.
	require.NoError(t, s.Begin(opts))
	r, err = s.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, r.Results, 1)
}

func TestOptionsWindow(t *testing.T) {
	for _, tc := range []struct {
		name  string
		opts  Options[int32]
		start uint64
		size  uint64
		ok    bool
	}{
		{"plain", Options[int32]{Base: 0x1001, Alignment: 4, StructSize: 0x10}, 0x1004, 0x10, true},
		{"ends at top", Options[int32]{Base: math.MaxUint64 - 7, Alignment: 8, StructSize: 8}, math.MaxUint64 - 7, 8, true},
		{"past top", Options[int32]{Base: 0x1000, Alignment: 4, StructSize: math.MaxUint64}, 0x1000, math.MaxUint64 - 0x1000 + 1, false},
		{"align past top", Options[int32]{Base: math.MaxUint64 - 2, Alignment: 8, StructSize: 8}, 0, 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			start, size, ok := tc.opts.window()
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.start, start)
			require.Equal(t, tc.size, size)
		})
	}

	s := NewScanner[int32](chainFixture(), 2)
	require.ErrorIs(t, s.Begin(Options[int32]{Base: 0x1000, Alignment: 4, StructSize: math.MaxUint64}), ErrInvalidOptions)
	require.ErrorIs(t, s.Begin(Options[int32]{Base: math.MaxUint64 - 2, Alignment: 8, StructSize: 8}), ErrInvalidOptions)
	require.False(t, s.Active())
}

func TestScanWindowNotMultipleOfAlignment(t *testing.T) {
	mem := procmem.NewFake()
	mem.Map(0x1000, 0x20)
	putInt32(mem, 0x1008, 5)
	// 9 bytes every 4 probes offsets 0, 4 and 8.
	r := scanAll(t, mem, Options[int32]{Base: 0x1000, Alignment: 4, StructSize: 9, Target: 5})
	require.Len(t, r.Results, 1)
	require.Equal(t, uint64(8), r.Results[0].Offset)
	require.Equal(t, int64(3), r.Stats.Probes)
}

func TestPath(t *testing.T) {
	p := NewPath(0x10)
	q := p.With(0x20)
	r := p.With(0x30)
	require.Equal(t, []uint64{0x10}, p.Offsets())
	require.Equal(t, []uint64{0x10, 0x20}, q.Offsets())
	require.Equal(t, []uint64{0x10, 0x30}, r.Offsets())
	require.Equal(t, "[0x10 0x20]", q.String())
	require.Equal(t, "[]", NewPath().String())
}
