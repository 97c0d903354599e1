package memory

import (
	"context"
	"io"
)

// RateLimitedWriter wraps an io.Writer with the pool's IO limit.
type RateLimitedWriter struct {
	w    io.Writer
	pool *Pool
	ctx  context.Context
}

// NewRateLimitedWriter creates a new RateLimitedWriter.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, pool *Pool) *RateLimitedWriter {
	return &RateLimitedWriter{w: w, pool: pool, ctx: ctx}
}

// Write splits p into chunks no larger than the limiter burst.
func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	burst := w.pool.ioBurst()
	if burst <= 0 {
		return w.w.Write(p)
	}

	var written int
	for len(p) > 0 {
		chunk := min(len(p), burst)
		if err := w.pool.AcquireIO(w.ctx, chunk); err != nil {
			return written, err
		}
		n, err := w.w.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}
