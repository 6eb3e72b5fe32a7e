package resilience

import (
	"context"
	"errors"
	"fmt"
)

// Op is one position in a fallback chain.
type Op[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// ChainResult reports which position succeeded and what the earlier
// positions returned.
type ChainResult[T any] struct {
	Value    T
	Position int
	Name     string
	// Skipped holds the errors of the positions tried before the winner.
	Skipped []error
}

// ErrChainExhausted is returned when every position in a fallback chain
// failed.
var ErrChainExhausted = errors.New("fallback chain exhausted")

// Fallback tries ops in order, returning the first success. The chain
// fails only when all positions are exhausted; the joined errors are
// attached for classification upstream.
func Fallback[T any](ctx context.Context, ops []Op[T]) (ChainResult[T], error) {
	var res ChainResult[T]
	var failures []error

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		v, err := op.Run(ctx)
		if err == nil {
			res.Value = v
			res.Position = i
			res.Name = op.Name
			res.Skipped = failures
			return res, nil
		}
		failures = append(failures, fmt.Errorf("%s: %w", op.Name, err))
	}

	return res, fmt.Errorf("%w: %w", ErrChainExhausted, errors.Join(failures...))
}
