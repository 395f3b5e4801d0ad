package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iago/gasometria-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// Retention is applied as the key TTL on every write. Zero keeps jobs forever.
	Retention time.Duration
}

// RedisJobsRepository keeps each job as a JSON string under prefix+id. Jobs
// still processing are also indexed in a sorted set scored by their
// timestamp so the reconciliation sweep can find them.
type RedisJobsRepository struct {
	client    *redis.Client
	prefix    string
	indexKey  string
	retention time.Duration
}

func NewRedisJobsRepository(ctx context.Context, cfg RedisConfig) (*RedisJobsRepository, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisJobsRepositoryFromClient(client, cfg.KeyPrefix, cfg.Retention), nil
}

func NewRedisJobsRepositoryFromClient(client *redis.Client, prefix string, retention time.Duration) *RedisJobsRepository {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "gasometria:"
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisJobsRepository{
		client:    client,
		prefix:    prefix,
		indexKey:  prefix + "jobs:processing",
		retention: retention,
	}
}

func (r *RedisJobsRepository) Close() error {
	return r.client.Close()
}

func (r *RedisJobsRepository) key(jobID string) string {
	return r.prefix + "job:" + jobID
}

func (r *RedisJobsRepository) SaveJob(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(job.ID), encoded, r.retention)
		if job.Status == domain.JobStatusProcessing {
			pipe.ZAdd(ctx, r.indexKey, redis.Z{
				Score:  float64(job.Timestamp.Unix()),
				Member: job.ID,
			})
		} else {
			pipe.ZRem(ctx, r.indexKey, job.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: save job %s: %w", domain.ErrStore, job.ID, err)
	}
	return nil
}

func (r *RedisJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	raw, err := r.client.Get(ctx, r.key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get job %s: %w", domain.ErrStore, jobID, err)
	}
	return decodeJob(jobID, raw)
}

func (r *RedisJobsRepository) ListStaleJobs(ctx context.Context, before time.Time, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := r.client.ZRangeByScore(ctx, r.indexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(before.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list stale jobs: %w", domain.ErrStore, err)
	}

	items := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		job, getErr := r.GetJob(ctx, id)
		if errors.Is(getErr, ErrNotFound) || (getErr == nil && job.Status != domain.JobStatusProcessing) {
			// Expired or already terminal; drop the dangling index entry.
			_ = r.client.ZRem(ctx, r.indexKey, id).Err()
			continue
		}
		if getErr != nil {
			return nil, getErr
		}
		items = append(items, job)
	}
	return items, nil
}

func decodeJob(jobID string, raw []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("%w: decode job %s: %w", domain.ErrStore, jobID, err)
	}
	job.ID = jobID
	return &job, nil
}
