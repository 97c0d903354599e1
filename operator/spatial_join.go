package operator

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/geojoin/page"
	"github.com/hupe1980/geojoin/spatial"
)

const (
	spatialJoinOperatorType = "SpatialJoinOperator"

	initialCandidateCapacity = 16
)

// SpatialJoinConfig is the configuration shared by all probe operators of a join.
type SpatialJoinConfig struct {
	OperatorID int
	PlanNodeID string

	// ProbeTypes are the channel types of probe pages.
	ProbeTypes []page.Type

	// ProbeOutputChannels are copied into each output row, before the
	// build-side channels.
	ProbeOutputChannels []int

	// ProbeGeometryChannel holds the probe geometry.
	ProbeGeometryChannel int

	// PageBuilder bounds output pages. Zero fields use the page defaults.
	PageBuilder page.BuilderOptions
}

// Validate checks channel references against ProbeTypes.
func (c *SpatialJoinConfig) Validate() error {
	if c.ProbeGeometryChannel < 0 || c.ProbeGeometryChannel >= len(c.ProbeTypes) {
		return errors.Newf("probe geometry channel %d out of range [0,%d)", c.ProbeGeometryChannel, len(c.ProbeTypes))
	}
	if c.ProbeTypes[c.ProbeGeometryChannel] != page.TypeGeometry {
		return errors.Newf("probe geometry channel %d has type %s", c.ProbeGeometryChannel, c.ProbeTypes[c.ProbeGeometryChannel])
	}
	for _, ch := range c.ProbeOutputChannels {
		if ch < 0 || ch >= len(c.ProbeTypes) {
			return errors.Newf("probe output channel %d out of range [0,%d)", ch, len(c.ProbeTypes))
		}
	}
	return nil
}

// SpatialJoinOperator probes a shared spatial index with the rows of its
// input pages and emits probe channels followed by build channels for each
// match.
//
// The probe cursor (probePosition, joinPositions, nextJoinPositionIndex)
// survives yields, so Output resumes mid-page and mid-candidate list.
// joinPositions is nil exactly when no lookup is cached for probePosition.
type SpatialJoinOperator struct {
	ctx      *OperatorContext
	provider IndexProvider
	yield    *YieldSignal

	probeTypes           []page.Type
	probeOutputChannels  []int
	probeGeometryChannel int
	outputTypes          []page.Type

	indexFuture *spatial.IndexFuture
	index       spatial.Index
	pageBuilder *page.PageBuilder

	probe                 *page.Page
	probePosition         int
	joinPositions         []int
	nextJoinPositionIndex int
	candidates            []int // reused lookup buffer, never nil

	finishing bool
	finished  bool
	released  bool
}

var (
	_ Operator = (*SpatialJoinOperator)(nil)
	_ Blocker  = (*SpatialJoinOperator)(nil)
)

func newSpatialJoinOperator(oc *OperatorContext, cfg *SpatialJoinConfig, outputTypes []page.Type, provider IndexProvider, future *spatial.IndexFuture) *SpatialJoinOperator {
	return &SpatialJoinOperator{
		ctx:                  oc,
		provider:             provider,
		yield:                oc.YieldSignal(),
		probeTypes:           cfg.ProbeTypes,
		probeOutputChannels:  cfg.ProbeOutputChannels,
		probeGeometryChannel: cfg.ProbeGeometryChannel,
		outputTypes:          outputTypes,
		indexFuture:          future,
		pageBuilder: page.NewPageBuilder(outputTypes, func(o *page.BuilderOptions) {
			*o = cfg.PageBuilder
		}),
		candidates: make([]int, 0, initialCandidateCapacity),
	}
}

// Context implements Operator.
func (op *SpatialJoinOperator) Context() *OperatorContext { return op.ctx }

// OutputTypes implements Operator.
func (op *SpatialJoinOperator) OutputTypes() []page.Type { return op.outputTypes }

// NeedsInput implements Operator.
func (op *SpatialJoinOperator) NeedsInput() bool {
	return !op.finished &&
		op.indexFuture != nil && op.indexFuture.IsDone() &&
		!op.pageBuilder.IsFull() &&
		op.probe == nil
}

// IsBlocked implements Blocker. The operator waits for the index only.
func (op *SpatialJoinOperator) IsBlocked() <-chan struct{} {
	if op.indexFuture == nil || op.indexFuture.IsDone() {
		return nil
	}
	return op.indexFuture.Done()
}

// AddInput implements Operator.
func (op *SpatialJoinOperator) AddInput(p *page.Page) error {
	if op.probe != nil {
		return errors.AssertionFailedf("probe page already held at position %d", op.probePosition)
	}
	if !op.NeedsInput() {
		return errors.AssertionFailedf("input offered while operator does not need input")
	}
	if err := p.CheckTypes(op.probeTypes); err != nil {
		return errors.NewAssertionErrorWithWrappedErrf(err, "probe page rejected")
	}
	op.probe = p
	op.probePosition = 0
	op.joinPositions = nil
	op.ctx.stats.recordInput(p)
	return nil
}

// Output implements Operator.
func (op *SpatialJoinOperator) Output() (*page.Page, error) {
	if op.finished {
		return nil, errors.AssertionFailedf("output requested from finished operator")
	}
	if !op.pageBuilder.IsFull() && op.probe != nil {
		if err := op.processProbe(); err != nil {
			return nil, err
		}
	}

	if op.pageBuilder.IsFull() {
		return op.flush()
	}

	if op.finishing && op.probe == nil {
		var (
			p   *page.Page
			err error
		)
		if !op.pageBuilder.IsEmpty() {
			if p, err = op.flush(); err != nil {
				return nil, err
			}
		}
		op.releaseIndex()
		op.finished = true
		if logger := op.ctx.Logger(); logger != nil {
			logger.Debug("spatial join finished",
				slog.Int64("input_positions", op.ctx.stats.InputPositions),
				slog.Int64("output_positions", op.ctx.stats.OutputPositions),
				slog.Int64("yields", op.ctx.stats.Yields),
			)
		}
		return p, nil
	}

	return nil, nil
}

func (op *SpatialJoinOperator) flush() (*page.Page, error) {
	p, err := op.pageBuilder.Build()
	if err != nil {
		return nil, err
	}
	op.pageBuilder.Reset()
	op.ctx.stats.recordOutput(p)
	return p, nil
}

func (op *SpatialJoinOperator) processProbe() error {
	index, err := op.resolveIndex()
	if err != nil {
		return err
	}

	for op.probePosition < op.probe.PositionCount() {
		if op.joinPositions == nil {
			positions := index.FindCandidates(op.candidates[:0], op.probePosition, op.probe, op.probeGeometryChannel)
			if positions == nil {
				positions = op.candidates[:0]
			}
			op.candidates = positions[:0]
			op.joinPositions = positions
			op.nextJoinPositionIndex = 0
			op.ctx.stats.IndexLookups++
			op.ctx.stats.Candidates += int64(len(positions))
			if err := op.ctx.setMemory(sizeOf(positions)); err != nil {
				return err
			}
			if op.yield.IsSet() {
				op.ctx.stats.Yields++
				return nil
			}
		}

		for op.nextJoinPositionIndex < len(op.joinPositions) {
			if op.pageBuilder.IsFull() {
				return nil
			}

			joinPosition := op.joinPositions[op.nextJoinPositionIndex]
			if index.IsEligible(joinPosition, op.probePosition, op.probe) {
				op.pageBuilder.DeclarePosition()
				for i, ch := range op.probeOutputChannels {
					op.probeTypes[ch].AppendTo(op.probe.Block(ch), op.probePosition, op.pageBuilder.BlockBuilder(i))
				}
				index.AppendTo(joinPosition, op.pageBuilder, len(op.probeOutputChannels))
				op.ctx.stats.EligibleCandidates++
			}
			op.nextJoinPositionIndex++

			if op.yield.IsSet() {
				op.ctx.stats.Yields++
				return nil
			}
		}

		op.joinPositions = nil
		if err := op.ctx.setMemory(0); err != nil {
			return err
		}
		op.probePosition++
	}

	op.probe = nil
	op.probePosition = 0
	return nil
}

// resolveIndex returns the index, fetching it from the future the first time.
func (op *SpatialJoinOperator) resolveIndex() (spatial.Index, error) {
	if op.index != nil {
		return op.index, nil
	}
	if op.indexFuture == nil {
		return nil, errors.AssertionFailedf("spatial index handle already released")
	}
	idx, err := op.indexFuture.Get()
	if err != nil {
		if errors.Is(err, spatial.ErrNotDone) {
			return nil, errors.NewAssertionErrorWithWrappedErrf(err, "probe page accepted before index was ready")
		}
		return nil, errors.Wrap(err, "spatial index unavailable")
	}
	op.index = idx
	return idx, nil
}

// releaseIndex drops the index handle and returns the reference taken at
// construction. It is a no-op after the first call.
func (op *SpatialJoinOperator) releaseIndex() {
	op.indexFuture = nil
	op.index = nil
	if !op.released {
		op.released = true
		op.provider.ProbeOperatorFinished()
	}
}

// Finish implements Operator.
func (op *SpatialJoinOperator) Finish() {
	op.finishing = true
}

// IsFinished implements Operator.
func (op *SpatialJoinOperator) IsFinished() bool { return op.finished }

// Close implements Operator. It does not change IsFinished.
func (op *SpatialJoinOperator) Close() error {
	op.releaseIndex()
	op.probe = nil
	op.joinPositions = nil
	op.ctx.localMemory.Close()
	return nil
}

// sizeOf approximates the retained size of a candidate buffer from its
// capacity. Index-side metadata is not included.
func sizeOf(positions []int) int64 {
	const sliceHeader = 24
	return sliceHeader + 8*int64(cap(positions))
}

// SpatialJoinOperatorFactory creates SpatialJoinOperators sharing one index.
type SpatialJoinOperatorFactory struct {
	cfg         SpatialJoinConfig
	provider    IndexProvider
	outputTypes []page.Type

	mu      sync.Mutex
	retired bool
	// err is set when the factory could not register with its provider.
	err error
}

var _ Factory = (*SpatialJoinOperatorFactory)(nil)

// NewSpatialJoinOperatorFactory returns a factory and registers it with provider.
func NewSpatialJoinOperatorFactory(cfg SpatialJoinConfig, provider IndexProvider) (*SpatialJoinOperatorFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	outputTypes := make([]page.Type, 0, len(cfg.ProbeOutputChannels)+len(provider.OutputTypes()))
	for _, ch := range cfg.ProbeOutputChannels {
		outputTypes = append(outputTypes, cfg.ProbeTypes[ch])
	}
	outputTypes = append(outputTypes, provider.OutputTypes()...)

	if err := provider.RegisterProbeFactory(); err != nil {
		return nil, err
	}
	return &SpatialJoinOperatorFactory{
		cfg:         cfg,
		provider:    provider,
		outputTypes: outputTypes,
	}, nil
}

// OutputTypes implements Factory.
func (f *SpatialJoinOperatorFactory) OutputTypes() []page.Type { return f.outputTypes }

// CreateOperator implements Factory.
func (f *SpatialJoinOperatorFactory) CreateOperator(dc *DriverContext) (Operator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.retired {
		return nil, ErrFactoryRetired
	}
	future, err := f.provider.Request()
	if err != nil {
		return nil, err
	}
	oc := dc.AddOperatorContext(f.cfg.OperatorID, f.cfg.PlanNodeID, spatialJoinOperatorType)
	return newSpatialJoinOperator(oc, &f.cfg, f.outputTypes, f.provider, future), nil
}

// NoMoreOperators implements Factory. Only the first call notifies the provider.
func (f *SpatialJoinOperatorFactory) NoMoreOperators() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retired {
		return
	}
	f.retired = true
	f.provider.NoMoreProbeOperators()
}

// Duplicate implements Factory. The copy holds its own provider reference.
// If the provider refuses the reference, the copy is born retired and its
// CreateOperator returns the provider's error.
func (f *SpatialJoinOperatorFactory) Duplicate() Factory {
	dup := &SpatialJoinOperatorFactory{
		cfg:         f.cfg,
		provider:    f.provider,
		outputTypes: f.outputTypes,
	}
	if err := f.provider.RegisterProbeFactory(); err != nil {
		dup.retired = true
		dup.err = err
	}
	return dup
}
