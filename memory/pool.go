// Package memory accounts for the memory held by running operators.
//
// A Pool enforces a process-wide limit. Operators report their usage through
// a LocalContext, which translates absolute reports into reservations against
// the pool.
package memory

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation does not fit into the pool.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds pool limits.
type Config struct {
	// LimitBytes is the hard limit for reserved memory.
	// If 0, no hard limit is enforced (only tracking).
	LimitBytes int64

	// MaxBackgroundBuilds is the number of index builds that may run at once.
	// If 0, defaults to 1.
	MaxBackgroundBuilds int64

	// IOLimitBytesPerSec throttles writers created with NewRateLimitedWriter.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Pool tracks reserved memory against a limit.
// A nil *Pool is valid and tracks nothing.
type Pool struct {
	cfg Config

	memSem *semaphore.Weighted // nil if unlimited
	used   atomic.Int64
	peak   atomic.Int64

	buildSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewPool creates a pool.
func NewPool(cfg Config) *Pool {
	if cfg.MaxBackgroundBuilds <= 0 {
		cfg.MaxBackgroundBuilds = 1
	}

	p := &Pool{
		cfg:      cfg,
		buildSem: semaphore.NewWeighted(cfg.MaxBackgroundBuilds),
	}
	if cfg.LimitBytes > 0 {
		p.memSem = semaphore.NewWeighted(cfg.LimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		p.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return p
}

// Reserve blocks until n bytes fit into the pool or ctx is canceled.
func (p *Pool) Reserve(ctx context.Context, n int64) error {
	if p == nil || n <= 0 {
		return nil
	}
	if p.memSem != nil {
		if n > p.cfg.LimitBytes {
			return p.exceeded(n)
		}
		if err := p.memSem.Acquire(ctx, n); err != nil {
			return err
		}
	}
	p.add(n)
	return nil
}

// TryReserve reserves n bytes without blocking.
// It returns false if the limit would be exceeded.
func (p *Pool) TryReserve(n int64) bool {
	if p == nil || n <= 0 {
		return true
	}
	if p.memSem != nil && !p.memSem.TryAcquire(n) {
		return false
	}
	p.add(n)
	return true
}

// Free returns n reserved bytes to the pool.
func (p *Pool) Free(n int64) {
	if p == nil || n <= 0 {
		return
	}
	if p.memSem != nil {
		p.memSem.Release(n)
	}
	p.used.Add(-n)
}

// Used returns the reserved bytes.
func (p *Pool) Used() int64 {
	if p == nil {
		return 0
	}
	return p.used.Load()
}

// Peak returns the highest reservation seen.
func (p *Pool) Peak() int64 {
	if p == nil {
		return 0
	}
	return p.peak.Load()
}

// Limit returns the configured limit, 0 if unlimited.
func (p *Pool) Limit() int64 {
	if p == nil {
		return 0
	}
	return p.cfg.LimitBytes
}

// AcquireBuild reserves a background build slot. Blocks if all slots are busy.
func (p *Pool) AcquireBuild(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.buildSem.Acquire(ctx, 1)
}

// ReleaseBuild releases a background build slot.
func (p *Pool) ReleaseBuild() {
	if p == nil {
		return
	}
	p.buildSem.Release(1)
}

// AcquireIO waits until the IO limit allows n bytes.
func (p *Pool) AcquireIO(ctx context.Context, n int) error {
	if p == nil || p.ioLimiter == nil {
		return nil
	}
	return p.ioLimiter.WaitN(ctx, n)
}

// ioBurst returns the largest chunk AcquireIO accepts, 0 if unlimited.
func (p *Pool) ioBurst() int {
	if p == nil || p.ioLimiter == nil {
		return 0
	}
	return p.ioLimiter.Burst()
}

func (p *Pool) add(n int64) {
	used := p.used.Add(n)
	for {
		peak := p.peak.Load()
		if used <= peak || p.peak.CompareAndSwap(peak, used) {
			return
		}
	}
}

func (p *Pool) exceeded(n int64) error {
	return errors.Wrapf(ErrMemoryLimitExceeded, "cannot reserve %s: %s of %s in use",
		humanize.IBytes(uint64(n)), humanize.IBytes(uint64(p.Used())), humanize.IBytes(uint64(p.cfg.LimitBytes)))
}
