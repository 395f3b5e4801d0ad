package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iago/gasometria-back/internal/domain"
)

var ErrNotFound = domain.ErrJobNotFound

// JobsRepository is the durable job store: one JSON document per job id with
// last-write-wins semantics.
type JobsRepository interface {
	SaveJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// StaleJobLister is implemented by stores that can enumerate jobs still
// processing since before a cutoff, for the reconciliation sweep.
type StaleJobLister interface {
	ListStaleJobs(ctx context.Context, before time.Time, limit int) ([]*domain.Job, error)
}

// MemoryJobsRepository stores jobs in memory for local development and tests.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.Job),
	}
}

func (r *MemoryJobsRepository) SaveJob(_ context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) ListStaleJobs(_ context.Context, before time.Time, limit int) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if job.Status != domain.JobStatusProcessing || !job.Timestamp.Before(before) {
			continue
		}
		items = append(items, cloneJob(job))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	return &clone
}
