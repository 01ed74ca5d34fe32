// Package pipeline schedules a static DAG of tasks: every task runs once per
// Run, after all of its predecessors have finished, with at most a fixed
// number of tasks in flight.
package pipeline

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/simpleinfer/simpleinfer/internal/status"
)

// Edge makes task To depend on task From.
type Edge struct {
	From, To int
}

// Plan is a compiled DAG over tasks 0..n-1.
type Plan struct {
	n      int
	preds  []int   // number of distinct predecessors
	succs  [][]int // distinct successors
	roots  []int
	order  []int
	levels [][]int
}

// Build compiles the DAG. Duplicate edges are merged; self loops, cycles and
// out-of-range task indices are rejected with status.Fail.
func Build(n int, edges []Edge) (*Plan, error) {
	if n < 0 {
		return nil, status.Errorf(status.Fail, "pipeline: negative task count %d", n)
	}
	p := &Plan{
		n:     n,
		preds: make([]int, n),
		succs: make([][]int, n),
	}

	seen := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		if e.From < 0 || e.From >= n || e.To < 0 || e.To >= n {
			return nil, status.Errorf(status.Fail, "pipeline: edge %d -> %d out of range [0, %d)", e.From, e.To, n)
		}
		if e.From == e.To {
			return nil, status.Errorf(status.Fail, "pipeline: task %d depends on itself", e.From)
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		p.preds[e.To]++
		p.succs[e.From] = append(p.succs[e.From], e.To)
	}

	// Kahn's algorithm, tracking the depth of each task
	inDegree := make([]int, n)
	copy(inDegree, p.preds)
	depth := make([]int, n)
	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			queue = append(queue, i)
			p.roots = append(p.roots, i)
		}
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		p.order = append(p.order, i)
		if depth[i] == len(p.levels) {
			p.levels = append(p.levels, nil)
		}
		p.levels[depth[i]] = append(p.levels[depth[i]], i)
		for _, s := range p.succs[i] {
			depth[s] = max(depth[s], depth[i]+1)
			inDegree[s]--
			if inDegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if len(p.order) != n {
		return nil, status.Errorf(status.Fail, "pipeline: graph has a cycle through %d tasks", n-len(p.order))
	}
	return p, nil
}

// Len returns the number of tasks.
func (p *Plan) Len() int {
	return p.n
}

// Order returns a topological order of the tasks.
func (p *Plan) Order() []int {
	return p.order
}

// Levels groups tasks by their longest distance from a root. Tasks of one
// level are independent of each other.
func (p *Plan) Levels() [][]int {
	return p.levels
}

// Successors returns the tasks that depend directly on task i.
func (p *Plan) Successors(i int) []int {
	return p.succs[i]
}

// Run executes every task once. A task is dispatched as soon as all its
// predecessors have completed; at most width tasks run at a time.
//
// The first error stops further dispatch and is returned after in-flight
// tasks finish. Cancelling ctx has the same effect.
func (p *Plan) Run(ctx context.Context, width int, exec func(i int) error) error {
	if p.n == 0 {
		return nil
	}
	width = max(width, 1)

	pending := make([]atomic.Int32, p.n)
	for i, c := range p.preds {
		pending[i].Store(int32(c))
	}
	ready := make(chan int, p.n)
	for _, i := range p.roots {
		ready <- i
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(width)

	dispatched := 0
dispatch:
	for dispatched < p.n {
		select {
		case <-gctx.Done():
			break dispatch
		case i := <-ready:
			dispatched++
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := exec(i); err != nil {
					return err
				}
				for _, s := range p.succs[i] {
					if pending[s].Add(-1) == 0 {
						ready <- s
					}
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if dispatched < p.n {
		return ctx.Err()
	}
	return nil
}
