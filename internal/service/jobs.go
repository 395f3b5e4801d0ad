package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iago/gasometria-back/internal/domain"
	"github.com/iago/gasometria-back/internal/queue"
	"github.com/iago/gasometria-back/internal/repository"
	"go.uber.org/zap"
)

const terminalWriteTimeout = 5 * time.Second

type JobsService struct {
	repo      repository.JobsRepository
	producer  queue.Producer
	generator ReportGenerator
	logger    *zap.Logger
	now       func() time.Time
}

func NewJobsService(
	repo repository.JobsRepository,
	producer queue.Producer,
	generator ReportGenerator,
	logger *zap.Logger,
) *JobsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobsService{
		repo:      repo,
		producer:  producer,
		generator: generator,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a processing job and dispatches it. Dispatch failures are
// logged and never reach the caller; the job id is already valid.
func (s *JobsService) CreateJob(ctx context.Context, scenario string, gasType string) (*domain.Job, error) {
	trimmed, parsedType, err := validateInput(scenario, gasType)
	if err != nil {
		return nil, err
	}

	now := s.now()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.JobStatusProcessing,
		Scenario:  trimmed,
		GasType:   parsedType,
		Timestamp: now,
		CreatedAt: now,
	}
	if err := s.repo.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if s.producer == nil {
		s.logger.Warn("no dispatcher configured, job stays processing", zap.String("job_id", job.ID))
		return job, nil
	}
	message := domain.QueueMessage{JobID: job.ID, RequestedAt: now}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		s.logger.Error("dispatch job failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
	return job, nil
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, strings.TrimSpace(jobID))
}

// RunBackgroundJob moves a processing job to its terminal state. Generation
// failures become a failed record; the returned error is limited to a
// missing job or a terminal write that did not land.
func (s *JobsService) RunBackgroundJob(ctx context.Context, jobID string) error {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		s.logger.Info("job already terminal, skipping",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
		)
		return nil
	}

	started := time.Now()
	rendered, genErr := s.generate(ctx, job.Scenario, job.GasType)
	if genErr != nil {
		job.Status = domain.JobStatusFailed
		job.Error = genErr.Error()
		job.Report = ""
	} else {
		job.Status = domain.JobStatusCompleted
		job.Report = rendered
		job.Error = ""
	}
	job.Timestamp = s.now()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()
	if err := s.repo.SaveJob(writeCtx, job); err != nil {
		s.logger.Error("terminal write failed",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Error(err),
		)
		return fmt.Errorf("write terminal state for job %s: %w", job.ID, err)
	}

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Duration("duration", time.Since(started)),
	}
	if genErr != nil {
		s.logger.Warn("job failed", append(fields, zap.Error(genErr))...)
	} else {
		s.logger.Info("job completed", fields...)
	}
	return nil
}

// FailJob records a terminal failure for a job that is still processing.
// It reports whether a write happened.
func (s *JobsService) FailJob(ctx context.Context, job *domain.Job, reason string) (bool, error) {
	current, err := s.repo.GetJob(ctx, job.ID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}
	if current.Status.IsTerminal() {
		return false, nil
	}

	current.Status = domain.JobStatusFailed
	current.Error = reason
	current.Timestamp = s.now()
	if err := s.repo.SaveJob(ctx, current); err != nil {
		return false, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	return true, nil
}

// GenerateReport runs the generation pipeline synchronously without a job.
func (s *JobsService) GenerateReport(ctx context.Context, scenario string, gasType string) (string, error) {
	trimmed, parsedType, err := validateInput(scenario, gasType)
	if err != nil {
		return "", err
	}
	return s.generate(ctx, trimmed, parsedType)
}

func (s *JobsService) generate(ctx context.Context, scenario string, gasType domain.GasType) (rendered string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("report generation panicked", zap.Any("panic", recovered))
			rendered = ""
			err = fmt.Errorf("report generation panicked: %v", recovered)
		}
	}()

	if s.generator == nil {
		return "", errors.New("report generator not configured")
	}
	if gasType == "" {
		gasType = domain.GasTypeArterial
	}
	return s.generator.Generate(ctx, scenario, gasType)
}

func validateInput(scenario string, gasType string) (string, domain.GasType, error) {
	trimmed := strings.TrimSpace(scenario)
	if trimmed == "" {
		return "", "", &domain.ValidationError{Field: "scenario", Message: "is required"}
	}
	parsedType, err := domain.ParseGasType(gasType)
	if err != nil {
		return "", "", err
	}
	return trimmed, parsedType, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
