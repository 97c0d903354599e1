package operator

import (
	"github.com/cockroachdb/errors"

	"github.com/hupe1980/geojoin/page"
)

const valuesOperatorType = "ValuesOperator"

// ValuesOperator is a source that emits a fixed list of pages.
type ValuesOperator struct {
	ctx         *OperatorContext
	outputTypes []page.Type
	pages       []*page.Page
	next        int
}

var _ Operator = (*ValuesOperator)(nil)

// NewValuesOperator returns a source over pages. Every page must have outputTypes.
func NewValuesOperator(oc *OperatorContext, outputTypes []page.Type, pages []*page.Page) (*ValuesOperator, error) {
	for i, p := range pages {
		if err := p.CheckTypes(outputTypes); err != nil {
			return nil, errors.Wrapf(err, "values page %d", i)
		}
	}
	return &ValuesOperator{ctx: oc, outputTypes: outputTypes, pages: pages}, nil
}

// Context implements Operator.
func (op *ValuesOperator) Context() *OperatorContext { return op.ctx }

// OutputTypes implements Operator.
func (op *ValuesOperator) OutputTypes() []page.Type { return op.outputTypes }

// NeedsInput implements Operator.
func (op *ValuesOperator) NeedsInput() bool { return false }

// AddInput implements Operator.
func (op *ValuesOperator) AddInput(*page.Page) error {
	return errors.AssertionFailedf("%s does not take input", valuesOperatorType)
}

// Output implements Operator.
func (op *ValuesOperator) Output() (*page.Page, error) {
	if op.next >= len(op.pages) {
		return nil, nil
	}
	p := op.pages[op.next]
	op.pages[op.next] = nil
	op.next++
	op.ctx.stats.recordOutput(p)
	return p, nil
}

// Finish implements Operator. Remaining pages are dropped.
func (op *ValuesOperator) Finish() {
	op.next = len(op.pages)
}

// IsFinished implements Operator.
func (op *ValuesOperator) IsFinished() bool { return op.next >= len(op.pages) }

// Close implements Operator.
func (op *ValuesOperator) Close() error {
	op.pages = nil
	op.next = 0
	return nil
}

// ValuesOperatorFactory creates a ValuesOperator per partition of pages.
type ValuesOperatorFactory struct {
	operatorID  int
	planNodeID  string
	outputTypes []page.Type
	partitions  [][]*page.Page
	next        int
	retired     bool
}

var _ Factory = (*ValuesOperatorFactory)(nil)

// NewValuesOperatorFactory returns a factory handing out one partition per
// created operator, in order.
func NewValuesOperatorFactory(operatorID int, planNodeID string, outputTypes []page.Type, partitions [][]*page.Page) *ValuesOperatorFactory {
	return &ValuesOperatorFactory{
		operatorID:  operatorID,
		planNodeID:  planNodeID,
		outputTypes: outputTypes,
		partitions:  partitions,
	}
}

// OutputTypes implements Factory.
func (f *ValuesOperatorFactory) OutputTypes() []page.Type { return f.outputTypes }

// CreateOperator implements Factory.
func (f *ValuesOperatorFactory) CreateOperator(dc *DriverContext) (Operator, error) {
	if f.retired {
		return nil, ErrFactoryRetired
	}
	if f.next >= len(f.partitions) {
		return nil, errors.Newf("no partition left for operator %d", f.next)
	}
	pages := f.partitions[f.next]
	f.next++
	return NewValuesOperator(dc.AddOperatorContext(f.operatorID, f.planNodeID, valuesOperatorType), f.outputTypes, pages)
}

// NoMoreOperators implements Factory.
func (f *ValuesOperatorFactory) NoMoreOperators() { f.retired = true }

// Duplicate implements Factory. The copy shares no partitions.
func (f *ValuesOperatorFactory) Duplicate() Factory {
	return NewValuesOperatorFactory(f.operatorID, f.planNodeID, f.outputTypes, nil)
}
