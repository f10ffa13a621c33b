package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "research_jobs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	job := research.Job{
		ID:        "job-1",
		Status:    research.JobStatusInitializing,
		CreatedAt: now,
		Target:    research.Target{URL: "https://example.com"},
	}
	record, err := json.Marshal(job)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO research_jobs").
		WithArgs(job.ID, "initializing", record, now, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveJobNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "research_jobs")
	require.NoError(t, err)

	job := research.Job{ID: "missing", Status: research.JobStatusFetching}
	record, err := json.Marshal(job)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE research_jobs").
		WithArgs(job.ID, "fetching", record, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.ErrorIs(t, store.SaveJob(context.Background(), job), research.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobRoundTrip(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "research_jobs")
	require.NoError(t, err)

	job := research.Job{
		ID:       "job-1",
		Status:   research.JobStatusCompleted,
		Progress: 90,
		Target:   research.Target{URL: "https://example.com", Company: "Example"},
	}
	record, err := json.Marshal(job)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT record FROM research_jobs").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(record))

	got, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, job.Status, got.Status)
	require.Equal(t, 90, got.Progress)
	require.Equal(t, "Example", got.Target.Company)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsFiltersByStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "research_jobs")
	require.NoError(t, err)

	first := research.Job{ID: "job-2", Status: research.JobStatusCompleted}
	second := research.Job{ID: "job-1", Status: research.JobStatusCompleted}
	firstRecord, err := json.Marshal(first)
	require.NoError(t, err)
	secondRecord, err := json.Marshal(second)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT record FROM research_jobs WHERE status").
		WithArgs("completed", 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(firstRecord).AddRow(secondRecord))

	completed := research.JobStatusCompleted
	jobs, err := store.ListJobs(context.Background(), &completed, 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job-2", jobs[0].ID)
	require.Equal(t, "job-1", jobs[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsWithoutFilter(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "research_jobs")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT record FROM research_jobs ORDER BY").
		WithArgs(50, 5).
		WillReturnRows(pgxmock.NewRows([]string{"record"}))

	jobs, err := store.ListJobs(context.Background(), nil, 0, 5)
	require.NoError(t, err)
	require.Empty(t, jobs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewJobStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewJobStoreWithPool(nil, "research_jobs")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStoreWithPool(mock, "bad;table")
	require.Error(t, err)
}
