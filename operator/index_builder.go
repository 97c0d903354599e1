package operator

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/geojoin/page"
)

const spatialIndexBuilderOperatorType = "SpatialIndexBuilderOperator"

// SpatialIndexBuilderOperator is a sink that accumulates the build pages of
// one partition and hands them to an IndexSink once finished.
//
// Accumulated pages are charged to the operator's memory account until the
// handover, after which the index owner accounts for them.
type SpatialIndexBuilderOperator struct {
	ctx   *OperatorContext
	sink  IndexSink
	types []page.Type

	pages     []*page.Page
	bytes     int64
	finishing bool
	finished  bool
}

var _ Operator = (*SpatialIndexBuilderOperator)(nil)

// Context implements Operator.
func (op *SpatialIndexBuilderOperator) Context() *OperatorContext { return op.ctx }

// OutputTypes implements Operator.
func (op *SpatialIndexBuilderOperator) OutputTypes() []page.Type { return nil }

// NeedsInput implements Operator.
func (op *SpatialIndexBuilderOperator) NeedsInput() bool { return !op.finishing }

// AddInput implements Operator.
func (op *SpatialIndexBuilderOperator) AddInput(p *page.Page) error {
	if op.finishing {
		return errors.AssertionFailedf("%s received input after finish", spatialIndexBuilderOperatorType)
	}
	if err := p.CheckTypes(op.types); err != nil {
		return errors.NewAssertionErrorWithWrappedErrf(err, "build page rejected")
	}
	if err := op.ctx.setMemory(op.bytes + p.SizeInBytes()); err != nil {
		return err
	}
	op.bytes += p.SizeInBytes()
	op.pages = append(op.pages, p)
	op.ctx.stats.recordInput(p)
	return nil
}

// Output implements Operator. The handover happens on the first call after Finish.
func (op *SpatialIndexBuilderOperator) Output() (*page.Page, error) {
	if !op.finishing || op.finished {
		return nil, nil
	}
	pages := op.pages
	op.pages = nil
	op.finished = true
	if err := op.sink.AddBuildPartition(pages); err != nil {
		return nil, errors.Wrap(err, "hand over build partition")
	}
	if err := op.ctx.setMemory(0); err != nil {
		return nil, err
	}
	if logger := op.ctx.Logger(); logger != nil {
		logger.Debug("build partition handed over",
			slog.Int("pages", len(pages)),
			slog.Int64("bytes", op.bytes),
		)
	}
	op.bytes = 0
	return nil, nil
}

// Finish implements Operator.
func (op *SpatialIndexBuilderOperator) Finish() { op.finishing = true }

// IsFinished implements Operator.
func (op *SpatialIndexBuilderOperator) IsFinished() bool { return op.finished }

// Close implements Operator.
func (op *SpatialIndexBuilderOperator) Close() error {
	op.pages = nil
	op.bytes = 0
	op.ctx.localMemory.Close()
	return nil
}

// SpatialIndexBuilderOperatorFactory creates one builder per build partition.
type SpatialIndexBuilderOperatorFactory struct {
	operatorID int
	planNodeID string
	types      []page.Type
	sink       IndexSink

	mu      sync.Mutex
	retired bool
}

var _ Factory = (*SpatialIndexBuilderOperatorFactory)(nil)

// NewSpatialIndexBuilderOperatorFactory returns a factory for builders
// accepting pages of types.
func NewSpatialIndexBuilderOperatorFactory(operatorID int, planNodeID string, types []page.Type, sink IndexSink) *SpatialIndexBuilderOperatorFactory {
	return &SpatialIndexBuilderOperatorFactory{
		operatorID: operatorID,
		planNodeID: planNodeID,
		types:      types,
		sink:       sink,
	}
}

// OutputTypes implements Factory.
func (f *SpatialIndexBuilderOperatorFactory) OutputTypes() []page.Type { return nil }

// CreateOperator implements Factory.
func (f *SpatialIndexBuilderOperatorFactory) CreateOperator(dc *DriverContext) (Operator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retired {
		return nil, ErrFactoryRetired
	}
	return &SpatialIndexBuilderOperator{
		ctx:   dc.AddOperatorContext(f.operatorID, f.planNodeID, spatialIndexBuilderOperatorType),
		sink:  f.sink,
		types: f.types,
	}, nil
}

// NoMoreOperators implements Factory.
func (f *SpatialIndexBuilderOperatorFactory) NoMoreOperators() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retired = true
}

// Duplicate implements Factory.
func (f *SpatialIndexBuilderOperatorFactory) Duplicate() Factory {
	return NewSpatialIndexBuilderOperatorFactory(f.operatorID, f.planNodeID, f.types, f.sink)
}
