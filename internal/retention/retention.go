// Package retention prunes old notices on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ajou-notice/noticepoller/internal/metrics"
	"github.com/ajou-notice/noticepoller/internal/notice"
)

// Defaults applied by New.
const (
	DefaultSchedule = "0 3 * * *"
	DefaultDays     = 30
	DefaultLookback = 7
)

// Deleter removes every notice posted on a date.
type Deleter interface {
	DeleteByDate(ctx context.Context, date string) (int64, error)
}

// Config controls which dates are pruned and when.
type Config struct {
	// Schedule is a standard five-field cron expression.
	Schedule string
	// Days is the age, in days, of the newest date pruned.
	Days int
	// Lookback is how many consecutive older dates are pruned per run.
	Lookback int
}

// Job deletes the dates between Days and Days+Lookback-1 days ago.
type Job struct {
	cfg    Config
	store  Deleter
	clock  notice.Clock
	cron   *cron.Cron
	logger *zap.Logger
}

// New builds a Job whose schedule is evaluated in loc.
func New(cfg Config, store Deleter, clock notice.Clock, loc *time.Location, logger *zap.Logger) *Job {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Days <= 0 {
		cfg.Days = DefaultDays
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		cfg:    cfg,
		store:  store,
		clock:  clock,
		cron:   cron.New(cron.WithLocation(loc)),
		logger: logger,
	}
}

// Dates returns the yy.mm.dd dates a run at now would prune, newest first.
func (j *Job) Dates(now time.Time) []string {
	out := make([]string, 0, j.cfg.Lookback)
	for offset := j.cfg.Days; offset < j.cfg.Days+j.cfg.Lookback; offset++ {
		out = append(out, notice.FormatDate(now.AddDate(0, 0, -offset)))
	}
	return out
}

// RunOnce prunes the configured dates and returns how many notices were removed.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	var total int64
	for _, date := range j.Dates(j.clock.Now()) {
		n, err := j.store.DeleteByDate(ctx, date)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", date, err)
		}
		if n > 0 {
			j.logger.Info("pruned notices", zap.String("date", date), zap.Int64("deleted", n))
		}
		total += n
	}
	metrics.ObserveRetentionDeleted(total)
	return total, nil
}

// Start registers the job and starts the cron scheduler.
func (j *Job) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Error("retention run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", j.cfg.Schedule, err)
	}
	j.cron.Start()
	j.logger.Info("retention scheduled",
		zap.String("schedule", j.cfg.Schedule),
		zap.Int("days", j.cfg.Days),
		zap.Int("lookback", j.cfg.Lookback),
	)
	return nil
}

// Stop stops the scheduler and waits for a running job to finish or ctx to end.
func (j *Job) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
