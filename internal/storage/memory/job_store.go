// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

// JobStore provides an in-memory job store for development/testing. Records
// are deep-copied on the way in and out so callers never share log slices
// or category maps with stored state.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]research.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]research.Job)}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job research.Job) error {
	copied, err := cloneJob(job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return research.ErrJobExists
	}
	s.jobs[job.ID] = copied
	return nil
}

// SaveJob overwrites the whole record.
func (s *JobStore) SaveJob(_ context.Context, job research.Job) error {
	copied, err := cloneJob(job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		return research.ErrJobNotFound
	}
	s.jobs[job.ID] = copied
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (research.Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return research.Job{}, research.ErrJobNotFound
	}
	return cloneJob(job)
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *JobStore) ListJobs(_ context.Context, status *research.JobStatus, limit, offset int) ([]research.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	matched := make([]research.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != nil && job.Status != *status {
			continue
		}
		matched = append(matched, job)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if offset >= len(matched) {
		return []research.Job{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]research.Job, 0, len(matched))
	for _, job := range matched {
		copied, err := cloneJob(job)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}

// cloneJob round-trips the record through JSON, which matches the copy
// semantics the durable backends provide.
func cloneJob(job research.Job) (research.Job, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return research.Job{}, fmt.Errorf("marshal job record: %w", err)
	}
	var out research.Job
	if err := json.Unmarshal(data, &out); err != nil {
		return research.Job{}, fmt.Errorf("unmarshal job record: %w", err)
	}
	return out, nil
}
