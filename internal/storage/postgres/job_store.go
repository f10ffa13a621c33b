// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// uniqueViolation is the Postgres error code for duplicate primary keys.
const uniqueViolation = "23505"

// JobStoreConfig controls the Postgres connection pool used for job records.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStore persists job records as JSONB rows. The whole record is written
// on every save, which keeps the row consistent with what the in-memory
// store holds and avoids column-by-column drift.
type JobStore struct {
	pool  dbPool
	table string
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "research_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool dbPool, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "research_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job research.Job) error {
	record, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (id, status, record, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.table,
	)
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, query, job.ID, string(job.Status), record, job.CreatedAt, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return research.ErrJobExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// SaveJob overwrites the whole job record.
func (s *JobStore) SaveJob(ctx context.Context, job research.Job) error {
	record, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	query := fmt.Sprintf(
		`UPDATE %s SET status = $2, record = $3, updated_at = $4 WHERE id = $1`,
		s.table,
	)
	tag, err := s.pool.Exec(ctx, query, job.ID, string(job.Status), record, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return research.ErrJobNotFound
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (research.Job, error) {
	query := fmt.Sprintf(`SELECT record FROM %s WHERE id = $1`, s.table)
	var record []byte
	err := s.pool.QueryRow(ctx, query, jobID).Scan(&record)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return research.Job{}, research.ErrJobNotFound
		}
		return research.Job{}, fmt.Errorf("select job: %w", err)
	}
	var job research.Job
	if err := json.Unmarshal(record, &job); err != nil {
		return research.Job{}, fmt.Errorf("unmarshal job record: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *JobStore) ListJobs(ctx context.Context, status *research.JobStatus, limit, offset int) ([]research.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		query := fmt.Sprintf(
			`SELECT record FROM %s WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
			s.table,
		)
		rows, err = s.pool.Query(ctx, query, string(*status), limit, offset)
	} else {
		query := fmt.Sprintf(
			`SELECT record FROM %s ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
			s.table,
		)
		rows, err = s.pool.Query(ctx, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]research.Job, 0, limit)
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan job record: %w", err)
		}
		var job research.Job
		if err := json.Unmarshal(record, &job); err != nil {
			return nil, fmt.Errorf("unmarshal job record: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}
