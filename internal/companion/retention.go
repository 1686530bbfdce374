package companion

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"kcu-companion/internal/markethours"
)

// PruneHistory deletes stored bars older than RetentionDays.
func (s *Service) PruneHistory(ctx context.Context) (int64, error) {
	if s.opts.Pruner == nil || s.opts.RetentionDays <= 0 {
		return 0, nil
	}
	before := s.clock.Now().Add(-time.Duration(s.opts.RetentionDays) * 24 * time.Hour).Unix()
	n, err := s.opts.Pruner.Prune(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.RetentionPruned.Add(float64(n))
	}
	s.log.Info("history pruned", "bars", n, "before", before)
	return n, nil
}

// startRetention schedules PruneHistory on RetentionCron (New York time)
// and returns the function that stops the scheduler.
func (s *Service) startRetention(ctx context.Context) (stop func()) {
	if s.opts.Pruner == nil || s.opts.RetentionDays <= 0 || s.opts.RetentionCron == "" {
		return func() {}
	}
	c := cron.New(cron.WithSeconds(), cron.WithLocation(markethours.NY))
	_, err := c.AddFunc(s.opts.RetentionCron, func() {
		if _, err := s.PruneHistory(ctx); err != nil {
			s.log.Error("retention job failed", "err", err)
		}
	})
	if err != nil {
		s.log.Error("retention schedule rejected", "spec", s.opts.RetentionCron, "err", err)
		return func() {}
	}
	c.Start()
	s.log.Info("retention scheduled", "spec", s.opts.RetentionCron, "days", s.opts.RetentionDays)
	return func() { <-c.Stop().Done() }
}
