// Package executor runs units of work strictly one after another, stopping at
// the first failure and remembering which unit failed.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/farbot/farbot/internal/logging"
)

// UnitContext identifies a unit for diagnostics.
type UnitContext struct {
	Description string
	LogPath     string
}

// Unit is one deferred piece of work.
type Unit struct {
	Context UnitContext
	Run     func(ctx context.Context) error
}

// UnitError carries the failing unit's context and its original error.
type UnitError struct {
	Context UnitContext
	Err     error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Context.Description, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// OrderedExecutor runs appended units in append order.
type OrderedExecutor struct {
	Logger *slog.Logger

	units []Unit
}

func New(logger *slog.Logger) *OrderedExecutor {
	return &OrderedExecutor{Logger: logger}
}

func (e *OrderedExecutor) Append(unit Unit) {
	e.units = append(e.units, unit)
}

func (e *OrderedExecutor) Len() int {
	return len(e.units)
}

// Run awaits each unit before starting the next. Cancellation is only observed
// between units; a running unit is never interrupted.
func (e *OrderedExecutor) Run(ctx context.Context) error {
	logger := logging.Ensure(e.Logger)

	for i, unit := range e.units {
		if err := ctx.Err(); err != nil {
			return &UnitError{Context: unit.Context, Err: err}
		}

		logger.Debug("running unit", "index", i, "description", unit.Context.Description)
		if err := unit.Run(ctx); err != nil {
			logger.Debug("unit failed", "index", i, "description", unit.Context.Description, "error", err)
			return &UnitError{Context: unit.Context, Err: err}
		}
	}
	return nil
}
