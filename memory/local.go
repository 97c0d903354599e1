package memory

import (
	"github.com/cockroachdb/errors"
)

// LocalContext is the memory account of a single operator.
//
// Usage is reported as an absolute value; the context reserves or frees the
// difference against its pool. A LocalContext is not safe for concurrent use.
type LocalContext struct {
	pool  *Pool
	name  string
	bytes int64
}

// NewLocalContext returns an empty account charged to p.
func (p *Pool) NewLocalContext(name string) *LocalContext {
	return &LocalContext{pool: p, name: name}
}

// Name returns the account name.
func (c *LocalContext) Name() string { return c.name }

// Bytes returns the last reported usage.
func (c *LocalContext) Bytes() int64 {
	if c == nil {
		return 0
	}
	return c.bytes
}

// SetBytes reports the current usage of the owner. It never blocks.
// On failure the previous usage stays in effect.
func (c *LocalContext) SetBytes(n int64) error {
	if c == nil {
		return nil
	}
	if n < 0 {
		return errors.AssertionFailedf("%s: negative memory usage %d", c.name, n)
	}

	delta := n - c.bytes
	switch {
	case delta > 0:
		if !c.pool.TryReserve(delta) {
			return errors.Wrap(c.pool.exceeded(delta), c.name)
		}
	case delta < 0:
		c.pool.Free(-delta)
	}
	c.bytes = n
	return nil
}

// Close frees all memory held by the account. It is idempotent.
func (c *LocalContext) Close() {
	if c == nil {
		return
	}
	c.pool.Free(c.bytes)
	c.bytes = 0
}
