package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to crash-kind errors and logged with a stack
// trace, so a panicking handler burns a retry attempt instead of
// killing the worker.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (result []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("queue", j.Queue),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				result = nil
				retErr = conveyor.Crashed(fmt.Errorf("handler crashed: %v", r))
			}
		}()
		return next(ctx)
	}
}
