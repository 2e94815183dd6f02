package middleware

import (
	"context"
	"errors"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/job"
)

// Timeout returns middleware that enforces the job's per-attempt
// deadline. If the job has a non-zero Timeout, a context.WithTimeout
// wraps the handler call; a deadline overrun is reported as a
// timeout-kind failure so the retry policy can track timeout streaks.
func Timeout() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		if j.Timeout <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		result, err := next(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, conveyor.Timeout(err)
		}
		return result, err
	}
}
