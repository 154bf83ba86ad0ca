package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs call completion. Successful
// calls log at Debug to keep the hot loop quiet; failures log at Warn.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("backend call failed",
				slog.String("service", c.Service),
				slog.String("op", c.Op),
				slog.String("experiment_id", c.ExperimentID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("backend call completed",
				slog.String("service", c.Service),
				slog.String("op", c.Op),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
