package geojoin

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/geojoin/memory"
	"github.com/hupe1980/geojoin/page"
	"github.com/hupe1980/geojoin/spatial"
)

var (
	// ErrInvalidConfig is returned when a join configuration is rejected.
	ErrInvalidConfig = errors.New("invalid join configuration")

	// ErrIndexBuild is returned when the build side cannot be indexed.
	ErrIndexBuild = spatial.ErrIndexBuild

	// ErrMemoryLimitExceeded is returned when the memory limit is reached.
	ErrMemoryLimitExceeded = memory.ErrMemoryLimitExceeded

	// ErrInternal marks broken operator contracts. It indicates a bug.
	ErrInternal = errors.New("internal error")
)

// ErrTypeMismatch indicates an input page whose channel types differ from
// the configured ones.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrTypeMismatch struct {
	Side      string
	Partition int
	Page      int
	Expected  []page.Type
	Actual    []page.Type
	cause     error
}

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("%s partition %d page %d: types %v, expected %v", e.Side, e.Partition, e.Page, e.Actual, e.Expected)
}

func (e *ErrTypeMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.HasAssertionFailure(err) {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return err
}
