package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/iago/gasometria-back/internal/domain"
	"github.com/iago/gasometria-back/internal/repository"
	"go.uber.org/zap"
)

// JobFailer writes a failed terminal state for a job still processing.
type JobFailer interface {
	FailJob(ctx context.Context, job *domain.Job, reason string) (bool, error)
}

type ReaperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	Logger     *zap.Logger
}

// Reaper fails jobs that stayed processing longer than StaleAfter, which
// happens when a dispatch was lost or a worker died mid-job.
type Reaper struct {
	lister     repository.StaleJobLister
	failer     JobFailer
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	logger     *zap.Logger
	now        func() time.Time
}

func NewReaper(lister repository.StaleJobLister, failer JobFailer, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Reaper{
		lister:     lister,
		failer:     failer,
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
		batchSize:  cfg.BatchSize,
		logger:     cfg.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("stale job sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep fails one batch of stale jobs and returns how many were written.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	jobs, err := r.lister.ListStaleJobs(ctx, cutoff, r.batchSize)
	if err != nil {
		return 0, err
	}

	reason := fmt.Sprintf("report generation timed out after %s", r.staleAfter)
	failed := 0
	for _, job := range jobs {
		written, err := r.failer.FailJob(ctx, job, reason)
		if err != nil {
			return failed, err
		}
		if written {
			failed++
			r.logger.Warn("stale job failed",
				zap.String("job_id", job.ID),
				zap.Time("since", job.Timestamp),
			)
		}
	}
	return failed, nil
}
