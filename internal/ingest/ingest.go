// Package ingest feeds frames from outside the HTTP API into the engine.
package ingest

import (
	"context"
	"time"

	"faceguard/internal/model"
)

// Submitter queues a frame for processing; done runs once it is processed.
type Submitter interface {
	Submit(ctx context.Context, in model.FrameInput, done func(model.FrameResult, error)) error
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
