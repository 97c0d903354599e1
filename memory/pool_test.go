package memory

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Reserve(t *testing.T) {
	p := NewPool(Config{LimitBytes: 100})

	require.NoError(t, p.Reserve(context.Background(), 50))
	require.NoError(t, p.Reserve(context.Background(), 40))
	assert.Equal(t, int64(90), p.Used())

	// TryReserve 20 (should fail)
	assert.False(t, p.TryReserve(20))
	assert.Equal(t, int64(90), p.Used())

	// Reserve 20 (should block until timeout)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Reserve(ctx, 20), context.DeadlineExceeded)

	p.Free(50)
	assert.Equal(t, int64(40), p.Used())
	assert.Equal(t, int64(90), p.Peak())

	require.NoError(t, p.Reserve(context.Background(), 20))
	assert.Equal(t, int64(60), p.Used())
}

func TestPool_ReserveLargerThanLimit(t *testing.T) {
	p := NewPool(Config{LimitBytes: 10})
	err := p.Reserve(context.Background(), 11)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
}

func TestPool_Unlimited(t *testing.T) {
	p := NewPool(Config{})
	require.NoError(t, p.Reserve(context.Background(), 1000))
	assert.True(t, p.TryReserve(1<<40))
	p.Free(1 << 40)
	assert.Equal(t, int64(1000), p.Used())
	assert.Equal(t, int64(0), p.Limit())
}

func TestPool_Nil(t *testing.T) {
	var p *Pool
	require.NoError(t, p.Reserve(context.Background(), 10))
	assert.True(t, p.TryReserve(10))
	p.Free(10)
	assert.Zero(t, p.Used())
	require.NoError(t, p.AcquireBuild(context.Background()))
	p.ReleaseBuild()

	lc := p.NewLocalContext("nil-pool")
	require.NoError(t, lc.SetBytes(1 << 30))
	assert.Equal(t, int64(1<<30), lc.Bytes())
}

func TestPool_Builds(t *testing.T) {
	p := NewPool(Config{MaxBackgroundBuilds: 1})
	require.NoError(t, p.AcquireBuild(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, p.AcquireBuild(ctx))

	p.ReleaseBuild()
	require.NoError(t, p.AcquireBuild(context.Background()))
}

func TestLocalContext_SetBytes(t *testing.T) {
	p := NewPool(Config{LimitBytes: 100})
	lc := p.NewLocalContext("probe")

	require.NoError(t, lc.SetBytes(60))
	assert.Equal(t, int64(60), p.Used())

	// Absolute, not incremental.
	require.NoError(t, lc.SetBytes(30))
	assert.Equal(t, int64(30), p.Used())
	assert.Equal(t, int64(30), lc.Bytes())

	other := p.NewLocalContext("other")
	require.NoError(t, other.SetBytes(50))

	err := lc.SetBytes(80)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Contains(t, err.Error(), "probe")
	// Failed report leaves the previous usage in place.
	assert.Equal(t, int64(30), lc.Bytes())
	assert.Equal(t, int64(80), p.Used())

	require.NoError(t, lc.SetBytes(0))
	assert.Equal(t, int64(50), p.Used())

	other.Close()
	other.Close()
	assert.Zero(t, p.Used())
}

func TestLocalContext_Negative(t *testing.T) {
	lc := NewPool(Config{}).NewLocalContext("x")
	err := lc.SetBytes(-1)
	require.Error(t, err)
	assert.True(t, errors.HasAssertionFailure(err))
}

func TestRateLimitedWriter(t *testing.T) {
	p := NewPool(Config{IOLimitBytesPerSec: 1 << 20})

	var buf bytes.Buffer
	w := NewRateLimitedWriter(context.Background(), &buf, p)
	data := bytes.Repeat([]byte{'x'}, 1024)
	n, err := w.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, buf.Bytes())
}

func TestRateLimitedWriter_ChunksAboveBurst(t *testing.T) {
	p := NewPool(Config{IOLimitBytesPerSec: 1 << 16})

	var buf bytes.Buffer
	w := NewRateLimitedWriter(context.Background(), &buf, p)
	// Larger than the burst but within the initial bucket plus one refill window.
	data := bytes.Repeat([]byte{'y'}, 1<<16+100)
	n, err := w.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
}
