package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iago/gasometria-back/internal/ai"
	"github.com/iago/gasometria-back/internal/domain"
	"github.com/iago/gasometria-back/internal/queue"
	"github.com/iago/gasometria-back/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutput = "```json\n{\"ph\": 7.21, \"pco2\": \"28\", \"hco3\": \"11\", \"interpretation\": \"Metabolic acidosis with respiratory compensation.\"}\n```"

type fakeClient struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	models    []string
	panicMsg  string
}

func (f *fakeClient) Available() bool { return true }

func (f *fakeClient) Generate(_ context.Context, request ai.GenerateRequest) (ai.GenerateResult, error) {
	f.mu.Lock()
	f.models = append(f.models, request.Model)
	f.mu.Unlock()

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if err := f.errs[request.Model]; err != nil {
		return ai.GenerateResult{}, err
	}
	return ai.GenerateResult{Text: f.responses[request.Model], ModelID: request.Model}, nil
}

type recordingProducer struct {
	mu       sync.Mutex
	messages []domain.QueueMessage
	err      error
}

func (p *recordingProducer) Enqueue(_ context.Context, message domain.QueueMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return p.err
}

type countingRepository struct {
	*repository.MemoryJobsRepository
	mu    sync.Mutex
	saves int
}

func (r *countingRepository) SaveJob(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	r.saves++
	r.mu.Unlock()
	return r.MemoryJobsRepository.SaveJob(ctx, job)
}

func (r *countingRepository) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

func newTestService(client *fakeClient, producer *recordingProducer) (*JobsService, *countingRepository) {
	repo := &countingRepository{MemoryJobsRepository: repository.NewMemoryJobsRepository()}
	generator := NewAIReportGenerator(AIReportDependencies{
		Router: ai.NewModelRouter(ai.ModelRouterConfig{ReportPrimary: "primary", ReportFallback: "fallback"}),
		Client: client,
	})
	return NewJobsService(repo, producer, generator, nil), repo
}

func TestCreateJobStoresProcessingAndDispatches(t *testing.T) {
	producer := &recordingProducer{}
	svc, repo := newTestService(&fakeClient{}, producer)

	job, err := svc.CreateJob(context.Background(), "  septic shock  ", "venous")
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	stored, err := repo.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, stored.Status)
	assert.Equal(t, "septic shock", stored.Scenario)
	assert.Equal(t, domain.GasTypeVenous, stored.GasType)
	assert.False(t, stored.Timestamp.IsZero())
	assert.Equal(t, 1, repo.saveCount())

	require.Len(t, producer.messages, 1)
	assert.Equal(t, job.ID, producer.messages[0].JobID)
}

func TestCreateJobDefaultsToArterial(t *testing.T) {
	svc, _ := newTestService(&fakeClient{}, &recordingProducer{})

	job, err := svc.CreateJob(context.Background(), "asthma", "")
	require.NoError(t, err)
	assert.Equal(t, domain.GasTypeArterial, job.GasType)
}

func TestCreateJobIgnoresDispatchFailure(t *testing.T) {
	svc, repo := newTestService(&fakeClient{}, &recordingProducer{err: errors.New("background unreachable")})

	job, err := svc.CreateJob(context.Background(), "asthma", "Arterial")
	require.NoError(t, err)

	stored, err := repo.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, stored.Status)
}

func TestCreateJobReturnsWhenLocalQueueIsFull(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	svc := NewJobsService(repo, queue.NewLocalQueue(1, 3, nil), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := svc.CreateJob(ctx, "asthma", "Arterial")
	require.NoError(t, err)

	start := time.Now()
	job, err := svc.CreateJob(ctx, "copd exacerbation", "Arterial")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	stored, err := repo.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, stored.Status)
}

func TestCreateJobValidation(t *testing.T) {
	producer := &recordingProducer{}
	svc, repo := newTestService(&fakeClient{}, producer)

	_, err := svc.CreateJob(context.Background(), "   ", "Arterial")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateJob(context.Background(), "asthma", "capillary")
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Zero(t, repo.saveCount())
	assert.Empty(t, producer.messages)
}

func TestRunBackgroundJobCompletes(t *testing.T) {
	client := &fakeClient{responses: map[string]string{"primary": sampleOutput}}
	svc, repo := newTestService(client, &recordingProducer{})

	job, err := svc.CreateJob(context.Background(), "Diabetic ketoacidosis", "Arterial")
	require.NoError(t, err)
	require.NoError(t, svc.RunBackgroundJob(context.Background(), job.ID))

	stored, err := repo.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	assert.Empty(t, stored.Error)
	assert.Contains(t, stored.Report, "Arterial")
	assert.Contains(t, stored.Report, "Diabetic ketoacidosis")
	assert.Contains(t, stored.Report, "7.21")
	assert.Contains(t, stored.Report, "Metabolic acidosis")
	assert.Equal(t, 2, repo.saveCount())
	assert.Equal(t, []string{"primary"}, client.models)
}

func TestRunBackgroundJobRecordsUpstreamFailure(t *testing.T) {
	network := &domain.UpstreamError{Err: errors.New("connection refused")}
	client := &fakeClient{errs: map[string]error{"primary": network, "fallback": network}}
	svc, repo := newTestService(client, &recordingProducer{})

	job, err := svc.CreateJob(context.Background(), "asthma", "Arterial")
	require.NoError(t, err)
	require.NoError(t, svc.RunBackgroundJob(context.Background(), job.ID))

	stored, err := repo.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)
	assert.Empty(t, stored.Report)
	assert.Equal(t, []string{"primary", "fallback"}, client.models)
}

func TestRunBackgroundJobUsesFallbackModel(t *testing.T) {
	client := &fakeClient{
		errs:      map[string]error{"primary": &domain.UpstreamError{StatusCode: 500, Message: "internal"}},
		responses: map[string]string{"fallback": sampleOutput},
	}
	svc, repo := newTestService(client, &recordingProducer{})

	job, err := svc.CreateJob(context.Background(), "asthma", "Arterial")
	require.NoError(t, err)
	require.NoError(t, svc.RunBackgroundJob(context.Background(), job.ID))

	stored, err := repo.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
}

func TestRunBackgroundJobRecordsMalformedOutput(t *testing.T) {
	client := &fakeClient{responses: map[string]string{"primary": "I cannot help with that."}}
	svc, repo := newTestService(client, &recordingProducer{})

	job, err := svc.CreateJob(context.Background(), "asthma", "Arterial")
	require.NoError(t, err)
	require.NoError(t, svc.RunBackgroundJob(context.Background(), job.ID))

	stored, err := repo.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "I cannot help with that.")
}

func TestRunBackgroundJobRecoversPanic(t *testing.T) {
	client := &fakeClient{panicMsg: "boom"}
	svc, repo := newTestService(client, &recordingProducer{})

	job, err := svc.CreateJob(context.Background(), "asthma", "Arterial")
	require.NoError(t, err)
	require.NoError(t, svc.RunBackgroundJob(context.Background(), job.ID))

	stored, err := repo.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "boom")
}

func TestRunBackgroundJobSkipsTerminalJob(t *testing.T) {
	client := &fakeClient{responses: map[string]string{"primary": sampleOutput}}
	svc, repo := newTestService(client, &recordingProducer{})

	job, err := svc.CreateJob(context.Background(), "asthma", "Arterial")
	require.NoError(t, err)
	require.NoError(t, svc.RunBackgroundJob(context.Background(), job.ID))
	require.NoError(t, svc.RunBackgroundJob(context.Background(), job.ID))

	assert.Equal(t, 2, repo.saveCount())
	assert.Len(t, client.models, 1)
}

func TestRunBackgroundJobMissingJob(t *testing.T) {
	svc, repo := newTestService(&fakeClient{}, &recordingProducer{})

	err := svc.RunBackgroundJob(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.Zero(t, repo.saveCount())
}

func TestFailJobOnlyTouchesProcessingJobs(t *testing.T) {
	client := &fakeClient{responses: map[string]string{"primary": sampleOutput}}
	svc, repo := newTestService(client, &recordingProducer{})

	stuck, err := svc.CreateJob(context.Background(), "asthma", "Arterial")
	require.NoError(t, err)
	written, err := svc.FailJob(context.Background(), stuck, "timed out")
	require.NoError(t, err)
	assert.True(t, written)

	stored, err := repo.GetJob(context.Background(), stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, "timed out", stored.Error)

	written, err = svc.FailJob(context.Background(), stuck, "timed out again")
	require.NoError(t, err)
	assert.False(t, written)

	written, err = svc.FailJob(context.Background(), &domain.Job{ID: "gone"}, "timed out")
	require.NoError(t, err)
	assert.False(t, written)
}

func TestGenerateReportSynchronous(t *testing.T) {
	client := &fakeClient{responses: map[string]string{"primary": sampleOutput}}
	svc, repo := newTestService(client, &recordingProducer{})

	rendered, err := svc.GenerateReport(context.Background(), "COPD exacerbation", "VENOUS")
	require.NoError(t, err)
	assert.Contains(t, rendered, "Sample type : Venous")
	assert.Contains(t, rendered, "COPD exacerbation")
	assert.Zero(t, repo.saveCount())

	_, err = svc.GenerateReport(context.Background(), "", "Venous")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGenerateReportWithoutClient(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	svc := NewJobsService(repo, &recordingProducer{}, NewAIReportGenerator(AIReportDependencies{}), nil)

	_, err := svc.GenerateReport(context.Background(), "asthma", "Arterial")
	assert.ErrorIs(t, err, ai.ErrGeminiUnavailable)
}
