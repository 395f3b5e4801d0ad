package worker

import (
	"context"
	"errors"
	"time"

	"github.com/iago/gasometria-back/internal/domain"
	"github.com/iago/gasometria-back/internal/queue"
	"go.uber.org/zap"
)

// JobRunner runs one background job to its terminal state.
type JobRunner interface {
	RunBackgroundJob(ctx context.Context, jobID string) error
}

// Processor consumes dispatched job ids and hands them to the runner.
type Processor struct {
	consumer     queue.Consumer
	runner       JobRunner
	logger       *zap.Logger
	restartDelay time.Duration
}

func NewProcessor(consumer queue.Consumer, runner JobRunner, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		consumer:     consumer,
		runner:       runner,
		logger:       logger,
		restartDelay: 2 * time.Second,
	}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.Error("worker consume loop error", zap.Error(err))

		timer := time.NewTimer(p.restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	err := p.runner.RunBackgroundJob(ctx, message.JobID)
	if err == nil {
		p.logger.Debug("job processed",
			zap.String("job_id", message.JobID),
			zap.Int("attempt", message.Attempt),
		)
		return nil
	}
	if errors.Is(err, domain.ErrJobNotFound) {
		// Redelivery cannot make a missing job appear.
		p.logger.Warn("dispatched job not found", zap.String("job_id", message.JobID))
		return nil
	}

	p.logger.Error("background job error",
		zap.String("job_id", message.JobID),
		zap.Int("attempt", message.Attempt),
		zap.Error(err),
	)
	return err
}
