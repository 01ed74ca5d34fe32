// Package parallel provides the compute worker pool shared by every operator
// of an engine.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per chunk to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64, // Typical cache line aware chunk.
	}
}

// Pool is a fixed set of worker goroutines that help callers of For.
//
// The calling goroutine always takes part in its own loop and helpers are
// offered work without blocking, so For may be called from many goroutines
// at once, including from inside another For, without deadlock. At most
// NumWorkers helpers plus the callers compute at any moment.
type Pool struct {
	cfg   Config
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts a pool. A disabled config or fewer than one worker yields a
// pool that runs every loop on the caller.
func NewPool(cfg Config) *Pool {
	if cfg.MinChunkSize < 1 {
		cfg.MinChunkSize = 1
	}
	if cfg.NumWorkers < 1 {
		cfg.Enabled = false
	}

	p := &Pool{cfg: cfg}
	if !cfg.Enabled {
		return p
	}

	p.tasks = make(chan func(), cfg.NumWorkers)
	p.wg.Add(cfg.NumWorkers)
	for i := 0; i < cfg.NumWorkers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Workers returns the number of helper goroutines, 0 for a sequential pool.
func (p *Pool) Workers() int {
	if p == nil || !p.cfg.Enabled {
		return 0
	}
	return p.cfg.NumWorkers
}

// Close stops the workers after queued work drains. Loops started after
// Close run sequentially.
func (p *Pool) Close() {
	if p == nil || p.tasks == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// For calls f over disjoint ranges covering [0, n) and returns when all of
// them are done. Ranges hold at least MinChunkSize items except the last.
func (p *Pool) For(n int, f func(start, end int)) {
	grain := 1
	if p != nil {
		grain = p.cfg.MinChunkSize
	}
	p.ForGrain(n, grain, f)
}

// ForGrain is For with an explicit minimum chunk size.
func (p *Pool) ForGrain(n, grain int, f func(start, end int)) {
	if n <= 0 {
		return
	}
	grain = max(grain, 1)
	workers := p.Workers()
	if workers == 0 || n <= grain {
		f(0, n)
		return
	}

	// Aim for a few chunks per participant so uneven work balances out.
	chunk := max(grain, (n+4*(workers+1)-1)/(4*(workers+1)))
	chunks := (n + chunk - 1) / chunk

	job := &forJob{n: n, chunk: chunk, chunks: int64(chunks), f: f, done: make(chan struct{})}
	job.remaining.Store(int64(chunks))

	p.submit(job, min(chunks-1, workers))
	job.run()
	<-job.done
}

// ForEach calls f(i) for every i in [0, n).
func (p *Pool) ForEach(n int, f func(i int)) {
	p.For(n, func(start, end int) {
		for i := start; i < end; i++ {
			f(i)
		}
	})
}

// ForBatch optimized for batch*channels iteration pattern.
func (p *Pool) ForBatch(batch, channels int, f func(b, c int)) {
	p.ForGrain(batch*channels, 1, func(start, end int) {
		for k := start; k < end; k++ {
			f(k/channels, k%channels)
		}
	})
}

// submit offers the job to up to helpers idle workers. A full queue means
// every worker is busy; the caller then simply does more of the work itself.
func (p *Pool) submit(job *forJob, helpers int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	for i := 0; i < helpers; i++ {
		select {
		case p.tasks <- job.run:
		default:
			return
		}
	}
}

type forJob struct {
	n, chunk  int
	chunks    int64
	f         func(start, end int)
	next      atomic.Int64
	remaining atomic.Int64
	done      chan struct{}
}

// run claims chunks until none are left. Whoever finishes the last chunk
// closes done.
func (j *forJob) run() {
	for {
		c := j.next.Add(1) - 1
		if c >= j.chunks {
			return
		}
		start := int(c) * j.chunk
		end := min(start+j.chunk, j.n)
		j.f(start, end)
		if j.remaining.Add(-1) == 0 {
			close(j.done)
		}
	}
}
