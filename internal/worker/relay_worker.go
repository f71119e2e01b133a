package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Relay feeds remote room events into the local hub until ctx ends.
type Relay interface {
	Run(ctx context.Context) error
}

// RunRelay keeps relay running, restarting it after backoff when it fails.
// It returns once ctx is done.
func RunRelay(ctx context.Context, relay Relay, logger *zap.Logger, backoff time.Duration) {
	if relay == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		err := relay.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("room relay stopped, restarting", zap.Error(err), zap.Duration("backoff", backoff))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}
