package provider

import (
	"context"
	"time"

	"grimm.is/cloudnet/internal/logging"
)

// Run calls Begin every interval and whenever trigger fires, until ctx
// is done. A tick that arrives mid-pass waits on the mutex.
func (e *Environment) Run(ctx context.Context, interval time.Duration, trigger <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-trigger:
			e.logger.Info("reconciliation requested")
		}
		// errors are logged by Begin; the next tick retries
		_ = e.Begin(ctx)
	}
}

// Watch stands in for kernel link-event subscription. It only ticks.
func (e *Environment) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.logger.Log(ctx, logging.LevelTrace, "network watcher tick")
		}
	}
}
