package middleware

import (
	"context"
	"time"
)

// Timeout returns middleware that enforces a per-call deadline so a
// hung backend can never stall cancellation. The call's own Timeout
// wins when set; otherwise fallback applies.
func Timeout(fallback time.Duration) Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		d := c.Timeout
		if d <= 0 {
			d = fallback
		}
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
