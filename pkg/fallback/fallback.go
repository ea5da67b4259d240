// Package fallback provides a helper to call an optional external dependency
// and substitute a deterministic value when the call is not possible or fails.
package fallback

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by calls whose dependency has no credentials.
var ErrNotConfigured = errors.New("not configured")

// Outcome tells how the value of a Result was produced.
type Outcome int

// Possible outcomes.
const (
	Live         Outcome = iota // the external call succeeded
	Unconfigured                // the dependency is not configured, substitute used
	Failed                      // the external call failed, substitute used
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Live:
		return "live"
	case Unconfigured:
		return "unconfigured"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is a value produced either by an external call or by its substitute.
type Result[T any] struct {
	Value   T
	Outcome Outcome
	Err     error // cause of the substitution, nil for Live
}

// Degraded returns true if the value is a substitute.
func (r Result[T]) Degraded() bool { return r.Outcome != Live }

// Attempt runs call and, if it returns an error or panics, returns the
// value of substitute instead. Calls returning ErrNotConfigured are marked
// as Unconfigured, the rest of errors as Failed.
func Attempt[T any](
	ctx context.Context,
	call func(context.Context) (T, error),
	substitute func() T,
) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Value: substitute(), Outcome: Failed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	v, err := call(ctx)
	switch {
	case err == nil:
		return Result[T]{Value: v, Outcome: Live}
	case errors.Is(err, ErrNotConfigured):
		return Result[T]{Value: substitute(), Outcome: Unconfigured, Err: err}
	default:
		return Result[T]{Value: substitute(), Outcome: Failed, Err: err}
	}
}

// Static returns a substitute producer that always returns v.
func Static[T any](v T) func() T { return func() T { return v } }
