package layer

import (
	"github.com/simpleinfer/simpleinfer/internal/parallel"
)

// Context carries the execution resources shared by the operators of one
// engine.
type Context struct {
	Pool *parallel.Pool
}

// NewContext starts a compute pool configured by cfg.
func NewContext(cfg parallel.Config) *Context {
	return &Context{Pool: parallel.NewPool(cfg)}
}

// Close stops the compute pool.
func (c *Context) Close() {
	if c == nil {
		return
	}
	c.Pool.Close()
}
