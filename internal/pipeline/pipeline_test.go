package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simpleinfer/simpleinfer/internal/status"
)

// diamond: 0 -> {1, 2} -> 3 -> 4
func diamond(t *testing.T) *Plan {
	t.Helper()
	p, err := Build(5, []Edge{{0, 1}, {0, 2}, {1, 3}, {2, 3}, {3, 4}, {0, 1}})
	require.NoError(t, err)
	return p
}

func TestBuild(t *testing.T) {
	p := diamond(t)
	assert.Equal(t, 5, p.Len())
	assert.Equal(t, [][]int{{0}, {1, 2}, {3}, {4}}, p.Levels())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, p.Order())
	assert.Equal(t, []int{1, 2}, p.Successors(0))
}

func TestBuildLongestPathLevels(t *testing.T) {
	// 0 -> 1 -> 2, 0 -> 2: task 2 sits below task 1
	p, err := Build(3, []Edge{{0, 2}, {0, 1}, {1, 2}})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0}, {1}, {2}}, p.Levels())
}

func TestBuildRejects(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		edges []Edge
	}{
		{"cycle", 3, []Edge{{0, 1}, {1, 2}, {2, 1}}},
		{"self loop", 2, []Edge{{1, 1}}},
		{"out of range", 2, []Edge{{0, 2}}},
		{"negative", -1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.n, tt.edges)
			assert.Equal(t, status.Fail, status.CodeOf(err))
		})
	}
}

func TestRunRespectsDependencies(t *testing.T) {
	p := diamond(t)
	for _, width := range []int{1, 2, 8} {
		var mu sync.Mutex
		finished := make(map[int]bool)
		err := p.Run(context.Background(), width, func(i int) error {
			mu.Lock()
			defer mu.Unlock()
			for from := 0; from < p.Len(); from++ {
				for _, to := range p.Successors(from) {
					if to == i {
						assert.True(t, finished[from], "task %d ran before %d", i, from)
					}
				}
			}
			finished[i] = true
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, finished, 5)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	edges := make([]Edge, 0, 16)
	for i := 1; i <= 16; i++ {
		edges = append(edges, Edge{0, i})
	}
	p, err := Build(17, edges)
	require.NoError(t, err)

	var active, peak atomic.Int32
	err = p.Run(context.Background(), 3, func(int) error {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestRunFailFast(t *testing.T) {
	p := diamond(t)
	boom := errors.New("boom")

	var ran sync.Map
	err := p.Run(context.Background(), 2, func(i int) error {
		ran.Store(i, true)
		if i == 1 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	_, ok := ran.Load(3)
	assert.False(t, ok)
	_, ok = ran.Load(4)
	assert.False(t, ok)
}

func TestRunCancelled(t *testing.T) {
	p := diamond(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx, 2, func(int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunEmpty(t *testing.T) {
	p, err := Build(0, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Run(context.Background(), 4, func(int) error { return nil }))
}
