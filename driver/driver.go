// Package driver moves pages through a chain of operators on one goroutine.
package driver

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/geojoin/operator"
)

// Driver runs a pipeline of operators. The first operator is the source and
// the last one the sink. A Driver is not safe for concurrent use.
type Driver struct {
	dc     *operator.DriverContext
	ops    []operator.Operator
	closed bool
}

// New returns a driver over ops, which must belong to dc.
func New(dc *operator.DriverContext, ops ...operator.Operator) (*Driver, error) {
	if len(ops) == 0 {
		return nil, errors.New("driver needs at least one operator")
	}
	for i, op := range ops {
		if op.Context().DriverContext() != dc {
			return nil, errors.Newf("operator %d belongs to another driver", i)
		}
	}
	return &Driver{dc: dc, ops: ops}, nil
}

// Context returns the driver context.
func (d *Driver) Context() *operator.DriverContext { return d.dc }

// IsFinished reports whether the sink is finished or the driver is closed.
func (d *Driver) IsFinished() bool {
	return d.closed || d.ops[len(d.ops)-1].IsFinished()
}

// ProcessFor runs the pipeline for about quantum. The yield signal is armed
// for the quantum so long running operators return in time.
//
// A non-nil channel means no operator can make progress until it is closed.
func (d *Driver) ProcessFor(quantum time.Duration) (<-chan struct{}, error) {
	if d.closed {
		return nil, errors.AssertionFailedf("driver %s is closed", d.dc.ID())
	}

	yield := d.dc.YieldSignal()
	yield.SetWithDelay(quantum)
	defer yield.Reset()

	start := time.Now()
	for {
		blocked, err := d.process()
		if err != nil {
			return nil, err
		}
		if blocked != nil || d.IsFinished() || time.Since(start) >= quantum {
			return blocked, nil
		}
	}
}

// process makes one pass over adjacent operator pairs.
func (d *Driver) process() (<-chan struct{}, error) {
	movedPage := false
	for i := 0; i < len(d.ops)-1; i++ {
		current, next := d.ops[i], d.ops[i+1]

		if isBlocked(current) == nil && isBlocked(next) == nil &&
			!current.IsFinished() && next.NeedsInput() {
			p, err := current.Output()
			if err != nil {
				return nil, d.wrap(err, current)
			}
			if p != nil && p.PositionCount() > 0 {
				if err := next.AddInput(p); err != nil {
					return nil, d.wrap(err, next)
				}
				movedPage = true
			}
		}

		if current.IsFinished() {
			next.Finish()
		}
	}

	// Sinks may complete deferred work when polled.
	if sink := d.ops[len(d.ops)-1]; !sink.IsFinished() && isBlocked(sink) == nil {
		if _, err := sink.Output(); err != nil {
			return nil, d.wrap(err, sink)
		}
	}

	if d.IsFinished() {
		if logger := d.dc.Logger(); logger != nil {
			stats := d.dc.Stats()
			logger.Debug("driver finished",
				slog.Int64("output_positions", stats.OutputPositions),
				slog.Int64("yields", stats.Yields),
			)
		}
		return nil, nil
	}

	if !movedPage {
		for _, op := range d.ops {
			if ch := isBlocked(op); ch != nil {
				return ch, nil
			}
		}
	}
	return nil, nil
}

func (d *Driver) wrap(err error, op operator.Operator) error {
	oc := op.Context()
	return errors.Wrapf(err, "%s (operator %d, plan node %s)", oc.OperatorType(), oc.OperatorID(), oc.PlanNodeID())
}

func isBlocked(op operator.Operator) <-chan struct{} {
	if b, ok := op.(operator.Blocker); ok {
		return b.IsBlocked()
	}
	return nil
}

// Run processes the pipeline in quanta until it finishes or ctx is canceled.
func (d *Driver) Run(ctx context.Context, quantum time.Duration) error {
	for !d.IsFinished() {
		if err := ctx.Err(); err != nil {
			return err
		}
		blocked, err := d.ProcessFor(quantum)
		if err != nil {
			return err
		}
		if blocked != nil {
			select {
			case <-blocked:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Close closes all operators. It is idempotent.
func (d *Driver) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	var err error
	for _, op := range d.ops {
		err = errors.CombineErrors(err, op.Close())
	}
	return err
}
