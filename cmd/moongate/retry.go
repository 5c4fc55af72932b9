package main

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/moongate-community/moongate/internal/util"
)

// startWithRetry runs startFn until it returns nil or maxElapsed passes.
// Start functions return an error only when they fail to bind, so each
// retry is a fresh bind attempt after a backoff.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxElapsed time.Duration) error {
	bo := backoff.WithContext(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(500*time.Millisecond),
			backoff.WithMaxInterval(3*time.Second),
			backoff.WithMaxElapsedTime(maxElapsed),
		), ctx,
	)

	logger := util.ComponentLogger(name)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		if err := startFn(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, bo, func(err error, wait time.Duration) {
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("bind failed, retrying")
	})
}
