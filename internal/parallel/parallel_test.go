package parallel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor(t *testing.T) {
	p := NewPool(Config{Enabled: true, NumWorkers: 4, MinChunkSize: 8})
	defer p.Close()

	n := 1000
	hits := make([]int32, n)
	p.For(n, func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&hits[i], 1)
		}
	})

	for i, h := range hits {
		require.Equal(t, int32(1), h, "index %d", i)
	}
}

func TestForBatch(t *testing.T) {
	p := NewPool(DefaultConfig())
	defer p.Close()

	batch, channels := 4, 8
	results := make([][]bool, batch)
	for b := range results {
		results[b] = make([]bool, channels)
	}

	p.ForBatch(batch, channels, func(b, c int) {
		results[b][c] = true
	})

	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			assert.True(t, results[b][c], "missing result at [%d][%d]", b, c)
		}
	}
}

func TestFor_Sequential(t *testing.T) {
	p := NewPool(Config{Enabled: false})
	defer p.Close()
	assert.Equal(t, 0, p.Workers())

	var calls int
	p.For(100, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 100, end)
	})
	assert.Equal(t, 1, calls)
}

func TestFor_SmallChunk(t *testing.T) {
	p := NewPool(Config{Enabled: true, NumWorkers: 4, MinChunkSize: 64})
	defer p.Close()

	var calls int32
	p.For(10, func(_, _ int) {
		atomic.AddInt32(&calls, 1)
	})
	assert.Equal(t, int32(1), calls, "n below the chunk size runs as one range")
}

func TestForEmpty(t *testing.T) {
	p := NewPool(DefaultConfig())
	defer p.Close()

	p.For(0, func(_, _ int) { t.Fatal("must not be called") })
	p.For(-3, func(_, _ int) { t.Fatal("must not be called") })
}

func TestNilPoolRunsSequentially(t *testing.T) {
	var p *Pool
	var sum int
	p.ForEach(10, func(i int) { sum += i })
	assert.Equal(t, 45, sum)
	p.Close()
}

func TestForNestedDoesNotDeadlock(t *testing.T) {
	p := NewPool(Config{Enabled: true, NumWorkers: 2, MinChunkSize: 1})
	defer p.Close()

	var total atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.ForGrain(16, 1, func(start, end int) {
			for i := start; i < end; i++ {
				p.ForGrain(64, 1, func(s, e int) {
					total.Add(int64(e - s))
				})
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("nested For deadlocked")
	}
	assert.Equal(t, int64(16*64), total.Load())
}

func TestForConcurrentCallers(t *testing.T) {
	p := NewPool(Config{Enabled: true, NumWorkers: 3, MinChunkSize: 1})
	defer p.Close()

	var total atomic.Int64
	finished := make(chan struct{}, 8)
	for g := 0; g < 8; g++ {
		go func() {
			p.ForEach(500, func(int) { total.Add(1) })
			finished <- struct{}{}
		}()
	}
	for g := 0; g < 8; g++ {
		<-finished
	}
	assert.Equal(t, int64(8*500), total.Load())
}

func TestCloseTwiceAndForAfterClose(t *testing.T) {
	p := NewPool(Config{Enabled: true, NumWorkers: 2, MinChunkSize: 1})
	p.Close()
	p.Close()

	var total atomic.Int64
	p.ForEach(100, func(int) { total.Add(1) })
	assert.Equal(t, int64(100), total.Load())
}
