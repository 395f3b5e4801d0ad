package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iago/gasometria-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	repo := &PostgresJobsRepository{pool: pool}
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Migrate applies the embedded goose migrations.
func (r *PostgresJobsRepository) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) SaveJob(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	document, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO report_jobs (
			id,
			status,
			document,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`,
		job.ID,
		string(job.Status),
		document,
		job.CreatedAt,
		job.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("%w: save job %s: %w", domain.ErrStore, job.ID, err)
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var document []byte
	err := r.pool.QueryRow(ctx, `
		SELECT document
		FROM report_jobs
		WHERE id = $1
	`, jobID).Scan(&document)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: query job %s: %w", domain.ErrStore, jobID, err)
	}
	return decodeJob(jobID, document)
}

func (r *PostgresJobsRepository) ListStaleJobs(ctx context.Context, before time.Time, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, document
		FROM report_jobs
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list stale jobs: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	items := make([]*domain.Job, 0)
	for rows.Next() {
		var (
			id       string
			document []byte
		)
		if err := rows.Scan(&id, &document); err != nil {
			return nil, fmt.Errorf("%w: scan stale job: %w", domain.ErrStore, err)
		}
		job, err := decodeJob(id, document)
		if err != nil {
			return nil, err
		}
		items = append(items, job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%w: iterate stale jobs: %w", domain.ErrStore, rows.Err())
	}
	return items, nil
}
