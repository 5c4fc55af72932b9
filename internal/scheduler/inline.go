package scheduler

import (
	"context"

	"github.com/rs/zerolog/log"
)

// InlineScheduler runs every unit synchronously on the submitting goroutine.
// Failures are logged and not returned, matching LaneScheduler.
type InlineScheduler struct{}

func (InlineScheduler) Submit(ctx context.Context, name string, task Task) error {
	if err := Run(ctx, name, task); err != nil {
		log.Error().Err(err).Str("unit", name).Msg("unit of work failed")
	}
	return nil
}
