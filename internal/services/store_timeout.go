package services

import (
	"context"
	"time"
)

// boundedContext caps a single store call at d. A non-positive d leaves ctx unchanged.
func boundedContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
