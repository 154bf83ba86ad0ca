package middleware

import (
	"context"
	"errors"

	"github.com/basedlsg/Car-Dream/breaker"
)

// CircuitBreaker returns middleware that gates calls through
// per-service breakers. Calls to services without a breaker pass
// through untouched. Rejections surface as cardream.ErrCircuitOpen
// without contacting the dependency.
func CircuitBreaker(breakers map[string]*breaker.Breaker) Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		b, ok := breakers[c.Service]
		if !ok {
			return next(ctx)
		}
		if err := b.Allow(); err != nil {
			return err
		}

		err := next(ctx)
		if errors.Is(err, context.Canceled) {
			// Caller-side cancellation says nothing about the
			// dependency's health.
			return err
		}
		b.Record(err)
		return err
	}
}
