// Package operator implements the pull-based operators of a spatial join
// pipeline.
//
// A driver repeatedly asks an operator whether it NeedsInput, feeds it pages
// with AddInput, and drains it with Output until no page is produced. Long
// running work checks the driver's YieldSignal and returns early with its
// state preserved, so the next Output call resumes where the previous one
// stopped.
package operator

import (
	"github.com/cockroachdb/errors"

	"github.com/hupe1980/geojoin/page"
	"github.com/hupe1980/geojoin/spatial"
)

// ErrFactoryRetired is returned when an operator is requested from a factory
// after NoMoreOperators.
var ErrFactoryRetired = errors.New("operator factory already retired")

// Operator is one stage of a pipeline. Methods are called by a single driver
// goroutine and never concurrently.
type Operator interface {
	// Context returns the operator context.
	Context() *OperatorContext

	// OutputTypes returns the channel types of produced pages.
	OutputTypes() []page.Type

	// NeedsInput reports whether AddInput may be called.
	NeedsInput() bool

	// AddInput hands a page to the operator.
	AddInput(p *page.Page) error

	// Output returns the next page, or nil if none is ready.
	Output() (*page.Page, error)

	// Finish signals that no more input will arrive.
	Finish()

	// IsFinished reports whether the operator will produce no more output.
	IsFinished() bool

	// Close releases the operator's resources.
	Close() error
}

// Blocker is implemented by operators that can wait on an external event.
type Blocker interface {
	// IsBlocked returns a channel closed once the operator can make
	// progress, or nil if it is not blocked.
	IsBlocked() <-chan struct{}
}

// Factory creates the operators of one pipeline stage.
type Factory interface {
	// OutputTypes returns the output types of created operators.
	OutputTypes() []page.Type

	// CreateOperator returns a new operator registered with dc.
	CreateOperator(dc *DriverContext) (Operator, error)

	// NoMoreOperators retires the factory.
	NoMoreOperators()

	// Duplicate returns an unretired copy for another parallel pipeline.
	Duplicate() Factory
}

// IndexProvider shares a spatial index among probe operators.
type IndexProvider interface {
	// OutputTypes returns the build-side output types.
	OutputTypes() []page.Type

	// Request returns the shared index future and takes a reference.
	// No reference is taken when an error is returned.
	Request() (*spatial.IndexFuture, error)

	// ProbeOperatorFinished returns a reference taken by Request.
	ProbeOperatorFinished()

	// RegisterProbeFactory takes a reference for a probe operator factory.
	// No reference is taken when an error is returned.
	RegisterProbeFactory() error

	// NoMoreProbeOperators returns a reference taken by RegisterProbeFactory.
	NoMoreProbeOperators()
}

// IndexSink receives the build pages of one partition.
type IndexSink interface {
	AddBuildPartition(pages []*page.Page) error
}

var (
	_ IndexProvider = (*spatial.IndexFactory)(nil)
	_ IndexSink     = (*spatial.IndexFactory)(nil)
)
