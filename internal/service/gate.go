package service

import (
	"context"
	"fmt"
)

// Gate admits one inference at a time.
type Gate struct {
	slot chan struct{}
}

// NewGate creates a single-slot gate.
func NewGate() *Gate {
	return &Gate{slot: make(chan struct{}, 1)}
}

// Busy reports whether an inference currently holds the slot.
func (g *Gate) Busy() bool {
	return len(g.slot) == 1
}

// Do runs fn once the slot is free. Waiting and running are bounded by ctx, but the
// slot is only released when fn returns, so a runtime call that ignores ctx keeps
// later callers waiting. A panic in fn is returned as ErrPanic.
func Do[T any](ctx context.Context, g *Gate, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() { <-g.slot }()
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()

		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
