package spider

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolWaitsForNestedWork(t *testing.T) {
	var ran atomic.Int64
	var idle atomic.Bool
	var p *pool
	p = newPool(3, func() { idle.Store(true) })

	var spawn func(depth int)
	spawn = func(depth int) {
		ran.Add(1)
		if depth == 0 {
			time.Sleep(time.Millisecond)
			return
		}
		for i := 0; i < 3; i++ {
			p.submit(func() { spawn(depth - 1) })
		}
	}
	p.submit(func() { spawn(4) })

	select {
	case <-p.done:
	case <-time.After(10 * time.Second):
		t.Fatal("pool did not finish")
	}
	require.True(t, idle.Load())
	// 1 + 3 + 9 + 27 + 81 units.
	require.Equal(t, int64(121), ran.Load())
}
