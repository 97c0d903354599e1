package operator

import (
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/geojoin/memory"
)

// DriverOptions configures a DriverContext.
type DriverOptions struct {
	// Logger is inherited by every operator of the driver. Nil disables logging.
	Logger *slog.Logger

	// PipelineID identifies the pipeline the driver belongs to.
	PipelineID int
}

// DriverContext is the state shared by the operators of one driver.
type DriverContext struct {
	id         uuid.UUID
	pipelineID int
	pool       *memory.Pool
	logger     *slog.Logger
	yield      YieldSignal
	operators  []*OperatorContext
}

// NewDriverContext returns a context charging operator memory to pool.
func NewDriverContext(pool *memory.Pool, optFns ...func(o *DriverOptions)) *DriverContext {
	var opts DriverOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	dc := &DriverContext{
		id:         uuid.New(),
		pipelineID: opts.PipelineID,
		pool:       pool,
	}
	if opts.Logger != nil {
		dc.logger = opts.Logger.With(
			slog.String("driver", dc.id.String()),
			slog.Int("pipeline", opts.PipelineID),
		)
	}
	return dc
}

// ID returns the unique driver id.
func (dc *DriverContext) ID() uuid.UUID { return dc.id }

// PipelineID returns the pipeline id.
func (dc *DriverContext) PipelineID() int { return dc.pipelineID }

// Pool returns the memory pool.
func (dc *DriverContext) Pool() *memory.Pool { return dc.pool }

// Logger returns the driver logger, nil if logging is disabled.
func (dc *DriverContext) Logger() *slog.Logger { return dc.logger }

// YieldSignal returns the signal shared by all operators of the driver.
func (dc *DriverContext) YieldSignal() *YieldSignal { return &dc.yield }

// AddOperatorContext registers a new operator with the driver.
func (dc *DriverContext) AddOperatorContext(operatorID int, planNodeID, operatorType string) *OperatorContext {
	oc := &OperatorContext{
		driver:       dc,
		operatorID:   operatorID,
		planNodeID:   planNodeID,
		operatorType: operatorType,
		localMemory:  dc.pool.NewLocalContext(strings.Join([]string{operatorType, planNodeID}, "/")),
	}
	if dc.logger != nil {
		oc.logger = dc.logger.With(
			slog.String("operator", operatorType),
			slog.Int("operator_id", operatorID),
		)
	}
	dc.operators = append(dc.operators, oc)
	return oc
}

// OperatorContexts returns the registered operators in creation order.
func (dc *DriverContext) OperatorContexts() []*OperatorContext { return dc.operators }

// Stats sums the stats of all operators.
func (dc *DriverContext) Stats() Stats {
	var s Stats
	for _, oc := range dc.operators {
		s.Merge(oc.stats)
	}
	return s
}

// OperatorContext is the per-operator view of its driver.
type OperatorContext struct {
	driver       *DriverContext
	operatorID   int
	planNodeID   string
	operatorType string
	localMemory  *memory.LocalContext
	logger       *slog.Logger
	stats        Stats
}

// DriverContext returns the owning driver context.
func (oc *OperatorContext) DriverContext() *DriverContext { return oc.driver }

// OperatorID returns the operator id within its pipeline.
func (oc *OperatorContext) OperatorID() int { return oc.operatorID }

// PlanNodeID returns the plan node the operator implements.
func (oc *OperatorContext) PlanNodeID() string { return oc.planNodeID }

// OperatorType returns the operator kind.
func (oc *OperatorContext) OperatorType() string { return oc.operatorType }

// LocalMemory returns the operator's memory account.
func (oc *OperatorContext) LocalMemory() *memory.LocalContext { return oc.localMemory }

// YieldSignal returns the driver's yield signal.
func (oc *OperatorContext) YieldSignal() *YieldSignal { return &oc.driver.yield }

// Logger returns the operator logger, nil if logging is disabled.
func (oc *OperatorContext) Logger() *slog.Logger { return oc.logger }

// Stats returns a snapshot of the operator counters.
func (oc *OperatorContext) Stats() Stats { return oc.stats }

// setMemory reports the operator's memory usage and tracks the peak.
func (oc *OperatorContext) setMemory(n int64) error {
	if err := oc.localMemory.SetBytes(n); err != nil {
		return err
	}
	oc.stats.recordMemory(n)
	return nil
}
