package runlock

import (
	"context"
	"errors"
	"time"
)

// Keep refreshes lease every interval until stop is called. The returned
// context is canceled when a refresh reports ErrLost; other refresh errors
// go to onErr and the next tick tries again. A non-positive interval only
// wraps ctx.
func Keep(ctx context.Context, lease Lease, every time.Duration, onErr func(error)) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	if every <= 0 {
		return ctx, cancel
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := lease.Refresh(ctx)
				if err == nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				if onErr != nil {
					onErr(err)
				}
				if errors.Is(err, ErrLost) {
					cancel()
					return
				}
			}
		}
	}()

	return ctx, func() {
		cancel()
		<-done
	}
}
