package reconcile

import (
	"context"
	"fmt"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs a Reconciler on a cron schedule. Overlapping runs are
// skipped.
type Scheduler struct {
	cron   *rcron.Cron
	logger zerolog.Logger
}

// NewScheduler validates spec (standard five fields or a descriptor such as
// "@hourly") and registers r.
func NewScheduler(spec string, r *Reconciler, timeout time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	c := rcron.New(rcron.WithChain(rcron.SkipIfStillRunning(rcron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := r.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduled reconcile failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("reconcile scheduler started")
}

// Stop halts the schedule and waits for a running pass or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("stop timeout waiting for reconcile pass")
	}
}
