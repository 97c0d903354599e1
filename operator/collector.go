package operator

import (
	"github.com/cockroachdb/errors"

	"github.com/hupe1980/geojoin/page"
)

const pageCollectorOperatorType = "PageCollectorOperator"

// PageCollectorOperator is a sink that keeps every page it receives.
type PageCollectorOperator struct {
	ctx       *OperatorContext
	types     []page.Type
	pages     []*page.Page
	finishing bool
}

var _ Operator = (*PageCollectorOperator)(nil)

// NewPageCollectorOperator returns a sink for pages of the given types.
func NewPageCollectorOperator(oc *OperatorContext, types []page.Type) *PageCollectorOperator {
	return &PageCollectorOperator{ctx: oc, types: types}
}

// Context implements Operator.
func (op *PageCollectorOperator) Context() *OperatorContext { return op.ctx }

// OutputTypes implements Operator.
func (op *PageCollectorOperator) OutputTypes() []page.Type { return nil }

// NeedsInput implements Operator.
func (op *PageCollectorOperator) NeedsInput() bool { return !op.finishing }

// AddInput implements Operator.
func (op *PageCollectorOperator) AddInput(p *page.Page) error {
	if op.finishing {
		return errors.AssertionFailedf("%s received input after finish", pageCollectorOperatorType)
	}
	if err := p.CheckTypes(op.types); err != nil {
		return errors.NewAssertionErrorWithWrappedErrf(err, "collected page rejected")
	}
	op.pages = append(op.pages, p)
	op.ctx.stats.recordInput(p)
	return nil
}

// Output implements Operator.
func (op *PageCollectorOperator) Output() (*page.Page, error) { return nil, nil }

// Finish implements Operator.
func (op *PageCollectorOperator) Finish() { op.finishing = true }

// IsFinished implements Operator.
func (op *PageCollectorOperator) IsFinished() bool { return op.finishing }

// Close implements Operator.
func (op *PageCollectorOperator) Close() error { return nil }

// Pages returns the collected pages in arrival order.
func (op *PageCollectorOperator) Pages() []*page.Page { return op.pages }

// PositionCount returns the number of collected rows.
func (op *PageCollectorOperator) PositionCount() int {
	var n int
	for _, p := range op.pages {
		n += p.PositionCount()
	}
	return n
}
