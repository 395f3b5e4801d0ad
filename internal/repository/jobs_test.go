package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/iago/gasometria-back/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessingJob(at time.Time) *domain.Job {
	return &domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.JobStatusProcessing,
		Scenario:  "septic shock",
		GasType:   domain.GasTypeVenous,
		Timestamp: at,
		CreatedAt: at,
	}
}

// exerciseRepository runs the store contract against any backend.
func exerciseRepository(t *testing.T, repo interface {
	JobsRepository
	StaleJobLister
}) {
	t.Helper()
	ctx := context.Background()

	_, err := repo.GetJob(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	old := newProcessingJob(time.Now().UTC().Add(-time.Hour).Truncate(time.Second))
	fresh := newProcessingJob(time.Now().UTC().Truncate(time.Second))
	require.NoError(t, repo.SaveJob(ctx, old))
	require.NoError(t, repo.SaveJob(ctx, fresh))

	loaded, err := repo.GetJob(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, old.ID, loaded.ID)
	assert.Equal(t, domain.JobStatusProcessing, loaded.Status)
	assert.Equal(t, "septic shock", loaded.Scenario)
	assert.Equal(t, domain.GasTypeVenous, loaded.GasType)

	stale, err := repo.ListStaleJobs(ctx, time.Now().UTC().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(stale))
	for _, job := range stale {
		ids = append(ids, job.ID)
	}
	assert.Contains(t, ids, old.ID)
	assert.NotContains(t, ids, fresh.ID)

	old.Status = domain.JobStatusCompleted
	old.Report = "report body"
	old.Timestamp = time.Now().UTC()
	require.NoError(t, repo.SaveJob(ctx, old))

	loaded, err = repo.GetJob(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, loaded.Status)
	assert.Equal(t, "report body", loaded.Report)

	stale, err = repo.ListStaleJobs(ctx, time.Now().UTC().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	for _, job := range stale {
		assert.NotEqual(t, old.ID, job.ID)
	}
}

func TestMemoryJobsRepository(t *testing.T) {
	exerciseRepository(t, NewMemoryJobsRepository())
}

func TestMemoryJobsRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository()
	job := newProcessingJob(time.Now().UTC())
	require.NoError(t, repo.SaveJob(ctx, job))

	job.Status = domain.JobStatusFailed
	loaded, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, loaded.Status)

	loaded.Report = "mutated"
	again, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Report)
}

func TestMemoryJobsRepositoryRejectsMissingID(t *testing.T) {
	err := NewMemoryJobsRepository().SaveJob(context.Background(), &domain.Job{})
	assert.Error(t, err)
}

func TestRedisJobsRepository(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	repo, err := NewRedisJobsRepository(context.Background(), RedisConfig{
		Addr:      addr,
		KeyPrefix: "gasometria-test-" + uuid.NewString()[:8] + ":",
		Retention: time.Hour,
	})
	require.NoError(t, err)
	defer repo.Close()

	exerciseRepository(t, repo)
}

func TestPostgresJobsRepository(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_TEST_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_TEST_URL not set")
	}
	repo, err := NewPostgresJobsRepository(context.Background(), databaseURL)
	require.NoError(t, err)
	defer repo.Close()

	exerciseRepository(t, repo)
}
