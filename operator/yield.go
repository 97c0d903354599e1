package operator

import (
	"sync"
	"sync/atomic"
	"time"
)

// YieldSignal is the cooperative hint that the current time slice is over.
//
// The driver arms it at the start of a quantum and resets it at the end.
// Operators only read it.
type YieldSignal struct {
	set atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// SetWithDelay sets the signal after d elapses.
// Arming again replaces the previous timer.
func (y *YieldSignal) SetWithDelay(d time.Duration) {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.stopLocked()
	gen := y.gen
	y.timer = time.AfterFunc(d, func() {
		y.mu.Lock()
		defer y.mu.Unlock()
		if y.gen == gen {
			y.set.Store(true)
		}
	})
}

// ForceYield sets the signal immediately.
func (y *YieldSignal) ForceYield() {
	y.set.Store(true)
}

// Reset clears the signal and disarms a pending timer.
func (y *YieldSignal) Reset() {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.stopLocked()
	y.set.Store(false)
}

// IsSet reports whether the operator should return control to the driver.
func (y *YieldSignal) IsSet() bool {
	return y.set.Load()
}

func (y *YieldSignal) stopLocked() {
	if y.timer != nil {
		y.timer.Stop()
		y.timer = nil
	}
	// A timer that already fired but has not taken the lock yet is stale.
	y.gen++
}
