// Package task owns the per-job state machine. Every mutation of a job
// record goes through the job's actor, a mutex held across the whole
// read-modify-write, so the store only ever sees serialized whole-record
// overwrites.
package task

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Eli-Gooding/research-v1-sub000/internal/extractor"
	"github.com/Eli-Gooding/research-v1-sub000/internal/progress"
	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

// Analyzer runs the category fan-out for a job. Implemented by the
// orchestrator and injected after construction to keep the dependency
// direction one-way.
type Analyzer interface {
	Analyze(ctx context.Context, jobID string, categories []string)
}

// ContentExtractor produces extracted content for a URL.
type ContentExtractor interface {
	Extract(ctx context.Context, rawURL string, logf extractor.LogFunc) (research.ExtractedContent, error)
}

// Config carries the tunables for the pipeline stages.
type Config struct {
	// Model, MaxTokens and Temperature are the defaults applied to
	// completion requests that do not set their own.
	Model       string  `mapstructure:"model" yaml:"model"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	// BlobPrefix is the key prefix for all artifacts of a job.
	BlobPrefix string `mapstructure:"blob_prefix" yaml:"blob_prefix"`
	// Categories is the fan-out used when a caller does not supply one.
	Categories []string `mapstructure:"categories" yaml:"categories"`
	// Prices drives the cost estimates attached to progress events.
	Prices research.Prices `mapstructure:"prices" yaml:"prices"`
}

func (c *Config) setDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.BlobPrefix == "" {
		c.BlobPrefix = "research"
	}
	if len(c.Categories) == 0 {
		c.Categories = research.DefaultCategories
	}
}

// actor serializes mutations for one job.
type actor struct {
	mu               sync.Mutex
	compileTriggered bool
}

// Manager creates jobs, drives their pipelines and serializes record
// mutations.
type Manager struct {
	store     research.JobStore
	blobs     research.BlobStore
	extractor ContentExtractor
	completer research.Completer
	clock     research.Clock
	ids       research.IDGenerator
	logger    *zap.Logger
	cfg       Config

	analyzer Analyzer
	events   progress.Emitter

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	wg     sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New constructs a Manager. Call SetAnalyzer before submitting jobs that
// use the fan-out.
func New(
	store research.JobStore,
	blobs research.BlobStore,
	ext ContentExtractor,
	completer research.Completer,
	clock research.Clock,
	ids research.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     store,
		blobs:     blobs,
		extractor: ext,
		completer: completer,
		clock:     clock,
		ids:       ids,
		logger:    logger.Named("task"),
		cfg:       cfg,
		actors:    make(map[string]*actor),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// SetAnalyzer injects the fan-out runner.
func (m *Manager) SetAnalyzer(a Analyzer) {
	m.analyzer = a
}

// SetEvents injects the progress emitter. Optional; without it the pipeline
// stays silent.
func (m *Manager) SetEvents(em progress.Emitter) {
	m.events = em
}

// Emit publishes a progress event if an emitter is configured.
func (m *Manager) Emit(evt progress.Event) {
	if m.events == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = m.clock.Now()
	}
	m.events.Emit(evt)
}

// SubmitRequest is the input for a new research job.
type SubmitRequest struct {
	// JobID is optional; a UUID is generated when empty. Re-submitting an
	// existing ID returns the existing job instead of forking a second
	// lifecycle.
	JobID       string
	Target      research.Target
	Categories  []string
	AutoAnalyze bool
}

// Submit creates the job record and starts its pipeline asynchronously.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (research.Job, error) {
	if req.Target.IsZero() {
		return research.Job{}, fmt.Errorf("%w: target requires a url or company", research.ErrInvalidInput)
	}
	jobID := req.JobID
	if jobID == "" {
		var err error
		jobID, err = m.ids.NewID()
		if err != nil {
			return research.Job{}, fmt.Errorf("generate job id: %w", err)
		}
	}

	now := m.clock.Now()
	job := research.Job{
		ID:          jobID,
		Target:      req.Target,
		Status:      research.JobStatusInitializing,
		CreatedAt:   now,
		AutoAnalyze: req.AutoAnalyze,
	}
	if keys := research.NormalizeCategories(req.Categories); len(keys) > 0 {
		job.Categories = pendingCategories(keys)
	}
	job.Logs = research.AppendLog(job.Logs, now, research.LogInfo, "job created")

	if err := m.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, research.ErrJobExists) {
			return m.store.GetJob(ctx, jobID)
		}
		return research.Job{}, fmt.Errorf("create job: %w", err)
	}

	m.Emit(progress.Event{JobID: jobID, Kind: progress.KindJobStart, TS: now})
	m.spawn("pipeline", jobID, func(ctx context.Context) {
		m.runPipeline(ctx, jobID)
	})
	m.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.Bool("auto_analyze", req.AutoAnalyze))
	return job, nil
}

// Get returns the full job record.
func (m *Manager) Get(ctx context.Context, jobID string) (research.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// Status returns the job record with the trimmed log view.
func (m *Manager) Status(ctx context.Context, jobID string) (research.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return research.Job{}, err
	}
	job.Logs = research.TailLogs(job.Logs, research.StatusLogEntries)
	return job, nil
}

// List returns stored jobs newest first with trimmed log views.
func (m *Manager) List(ctx context.Context, status *research.JobStatus, limit, offset int) ([]research.Job, error) {
	jobs, err := m.store.ListJobs(ctx, status, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		jobs[i].Logs = research.TailLogs(jobs[i].Logs, research.StatusLogEntries)
	}
	return jobs, nil
}

// Logs returns the full stored log window.
func (m *Manager) Logs(ctx context.Context, jobID string) ([]research.LogEntry, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.Logs, nil
}

// Reset clears completion, progress and error fields, returns the job to
// its initial state, and restarts the pipeline so the job runs again,
// overwriting the previous run's artifacts under the same keys. Rejected
// while a pipeline stage is mid-flight.
func (m *Manager) Reset(ctx context.Context, jobID string) (research.Job, error) {
	a := m.actorFor(jobID)
	a.mu.Lock()
	defer a.mu.Unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return research.Job{}, err
	}
	if job.Status == research.JobStatusFetching || job.Status == research.JobStatusProcessing {
		return research.Job{}, research.ErrConflict
	}
	for _, t := range job.Categories {
		if t.Status == research.CategoryProcessing {
			return research.Job{}, research.ErrConflict
		}
	}

	job.Status = research.JobStatusInitializing
	job.StartedAt = nil
	job.CompletedAt = nil
	job.Error = ""
	job.ErrorStage = ""
	job.Progress = 0
	job.Categories = nil
	job.ReadyForCompilation = false
	job.ResolvedURL = ""
	job.ContentURI = ""
	job.SummaryURI = ""
	job.ReportURI = ""
	job.Usage = research.TokenUsage{}
	job.Logs = research.AppendLog(job.Logs, m.clock.Now(), research.LogInfo, "job reset")
	a.compileTriggered = false

	if err := m.store.SaveJob(ctx, job); err != nil {
		return research.Job{}, fmt.Errorf("save job: %w", err)
	}

	m.Emit(progress.Event{JobID: jobID, Kind: progress.KindJobStart, TS: m.clock.Now()})
	m.spawn("pipeline", jobID, func(ctx context.Context) {
		m.runPipeline(ctx, jobID)
	})
	m.logger.Info("job reset", zap.String("job_id", jobID))
	return job, nil
}

// TriggerAnalysis starts the category fan-out for a completed job.
func (m *Manager) TriggerAnalysis(ctx context.Context, jobID string, categories []string) (research.Job, error) {
	if m.analyzer == nil {
		return research.Job{}, fmt.Errorf("no analyzer configured")
	}
	keys := research.NormalizeCategories(categories)
	job, err := m.Update(ctx, jobID, func(job *research.Job) error {
		if job.Status != research.JobStatusCompleted {
			return research.ErrConflict
		}
		if len(keys) == 0 {
			keys = pendingKeys(job.Categories)
		}
		if len(keys) == 0 {
			keys = m.cfg.Categories
		}
		return m.markCategoriesPending(job, keys)
	})
	if err != nil {
		return research.Job{}, err
	}
	m.spawn("analysis", jobID, func(ctx context.Context) {
		m.analyzer.Analyze(ctx, jobID, keys)
	})
	return job, nil
}

// Update runs fn against the latest job record under the job's actor lock
// and persists the result. An error from fn aborts the write.
func (m *Manager) Update(ctx context.Context, jobID string, fn func(job *research.Job) error) (research.Job, error) {
	a := m.actorFor(jobID)
	a.mu.Lock()
	defer a.mu.Unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return research.Job{}, err
	}
	if err := fn(&job); err != nil {
		return research.Job{}, err
	}
	if err := m.store.SaveJob(ctx, job); err != nil {
		return research.Job{}, fmt.Errorf("save job: %w", err)
	}
	return job, nil
}

// BeginCategory moves a pending category to processing.
func (m *Manager) BeginCategory(ctx context.Context, jobID, category string) error {
	_, err := m.Update(ctx, jobID, func(job *research.Job) error {
		t, ok := job.Categories[category]
		if !ok {
			return research.ErrCategoryNotFound
		}
		if t.Status != research.CategoryPending {
			return research.ErrConflict
		}
		now := m.clock.Now()
		t.Status = research.CategoryProcessing
		t.StartedAt = &now
		job.Logs = research.AppendLog(job.Logs, now, research.LogInfo, "category %s: analysis started", category)
		return nil
	})
	return err
}

// FinishCategory records a category's terminal state. The first call that
// observes every category terminal flips the compile flag and reports
// shouldCompile; concurrent finishers cannot both observe the flip because
// the whole check runs under the job's actor lock.
func (m *Manager) FinishCategory(
	ctx context.Context,
	jobID, category string,
	result string,
	usage research.TokenUsage,
	cause error,
) (bool, error) {
	a := m.actorFor(jobID)
	a.mu.Lock()
	defer a.mu.Unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	t, ok := job.Categories[category]
	if !ok {
		return false, research.ErrCategoryNotFound
	}
	if t.Status.IsTerminal() {
		return false, research.ErrConflict
	}

	now := m.clock.Now()
	t.EndedAt = &now
	if cause != nil {
		t.Status = research.CategoryError
		t.Error = cause.Error()
		job.Logs = research.AppendLog(job.Logs, now, research.LogError, "category %s: %v", category, cause)
	} else {
		t.Status = research.CategoryCompleted
		t.Result = result
		t.Usage = usage
		job.Usage.Add(usage)
		job.Logs = research.AppendLog(job.Logs, now, research.LogInfo, "category %s: analysis completed", category)
	}

	settled, total := settledCount(job.Categories)
	if total > 0 {
		raiseProgress(&job, 60+(30*settled)/total)
	}

	shouldCompile := false
	if settled == total {
		job.ReadyForCompilation = true
		if !a.compileTriggered {
			a.compileTriggered = true
			shouldCompile = true
		}
	}

	if err := m.store.SaveJob(ctx, job); err != nil {
		return false, fmt.Errorf("save job: %w", err)
	}

	evt := progress.Event{
		JobID:            jobID,
		Kind:             progress.KindCategoryDone,
		TS:               now,
		Category:         category,
		Result:           "success",
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Cost:             m.cfg.Prices.Cost(usage),
	}
	if cause != nil {
		evt.Result = "error"
		evt.Note = cause.Error()
	}
	if t.StartedAt != nil {
		evt.Dur = now.Sub(*t.StartedAt)
	}
	m.Emit(evt)
	return shouldCompile, nil
}

// MarkError records a stage failure as the job's terminal error state.
func (m *Manager) MarkError(ctx context.Context, jobID, stage string, cause error) {
	job, err := m.Update(ctx, jobID, func(job *research.Job) error {
		if !research.CanTransition(job.Status, research.JobStatusError) {
			return fmt.Errorf("job %s already terminal (%s)", jobID, job.Status)
		}
		now := m.clock.Now()
		job.Status = research.JobStatusError
		job.Error = cause.Error()
		job.ErrorStage = stage
		job.CompletedAt = &now
		job.Logs = research.AppendLog(job.Logs, now, research.LogError, "%s failed: %v", stage, cause)
		return nil
	})
	if err != nil {
		m.logger.Error("failed to record stage error",
			zap.String("job_id", jobID),
			zap.String("stage", stage),
			zap.NamedError("stage_error", cause),
			zap.Error(err))
		return
	}
	m.logger.Warn("stage failed",
		zap.String("job_id", jobID),
		zap.String("stage", stage),
		zap.Error(cause))

	evt := progress.Event{
		JobID: jobID,
		Kind:  progress.KindJobError,
		Stage: stage,
		Note:  cause.Error(),
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		evt.Dur = job.CompletedAt.Sub(*job.StartedAt)
	}
	m.Emit(evt)
}

// Complete applies the configured model defaults and calls the completion
// service.
func (m *Manager) Complete(ctx context.Context, req research.CompletionRequest) (research.CompletionResult, error) {
	if req.Model == "" {
		req.Model = m.cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = m.cfg.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = m.cfg.Temperature
	}
	return m.completer.Complete(ctx, req)
}

// Now returns the manager's clock time, so collaborators share one clock.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

// CostOf estimates the dollar spend for the given usage.
func (m *Manager) CostOf(usage research.TokenUsage) float64 {
	return m.cfg.Prices.Cost(usage)
}

// BlobKey builds the canonical artifact key for a job.
func (m *Manager) BlobKey(jobID string, name string) string {
	return path.Join(m.cfg.BlobPrefix, jobID, name)
}

// Content loads the extracted content persisted by the fetch stage.
func (m *Manager) Content(ctx context.Context, jobID string) (research.ExtractedContent, error) {
	data, err := m.blobs.Get(ctx, m.BlobKey(jobID, "content.json"))
	if err != nil {
		if errors.Is(err, research.ErrBlobNotFound) {
			return research.ExtractedContent{}, research.ErrNoContent
		}
		return research.ExtractedContent{}, err
	}
	return decodeContent(data)
}

// Shutdown stops accepting work and waits for in-flight pipelines, bounded
// by ctx. On timeout the remaining stage goroutines are cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// spawn runs a supervised stage goroutine. Panics are caught at the stage
// boundary and recorded on the job.
func (m *Manager) spawn(stage, jobID string, fn func(ctx context.Context)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("rejecting stage after shutdown",
			zap.String("job_id", jobID),
			zap.String("stage", stage))
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.MarkError(m.baseCtx, jobID, stage, fmt.Errorf("panic: %v", r))
			}
		}()
		fn(m.baseCtx)
	}()
}

func (m *Manager) actorFor(jobID string) *actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[jobID]
	if !ok {
		a = &actor{}
		m.actors[jobID] = a
	}
	return a
}

// markCategoriesPending ensures a pending task exists for every key. A key
// whose task is already in flight or settled rejects the whole request.
func (m *Manager) markCategoriesPending(job *research.Job, keys []string) error {
	if job.Categories == nil {
		job.Categories = make(map[string]*research.CategoryTask, len(keys))
	}
	for _, key := range keys {
		if t, ok := job.Categories[key]; ok && t.Status != research.CategoryPending {
			return fmt.Errorf("%w: category %s already %s", research.ErrConflict, key, t.Status)
		}
		job.Categories[key] = &research.CategoryTask{Category: key, Status: research.CategoryPending}
	}
	job.Logs = research.AppendLog(job.Logs, m.clock.Now(), research.LogInfo,
		"analysis started across %d categories", len(keys))
	return nil
}

func pendingCategories(keys []string) map[string]*research.CategoryTask {
	out := make(map[string]*research.CategoryTask, len(keys))
	for _, key := range keys {
		out[key] = &research.CategoryTask{Category: key, Status: research.CategoryPending}
	}
	return out
}

func pendingKeys(tasks map[string]*research.CategoryTask) []string {
	keys := make([]string, 0, len(tasks))
	for key := range tasks {
		keys = append(keys, key)
	}
	return research.NormalizeCategories(keys)
}

func settledCount(tasks map[string]*research.CategoryTask) (settled, total int) {
	for _, t := range tasks {
		total++
		if t.Status.IsTerminal() {
			settled++
		}
	}
	return settled, total
}

// raiseProgress only ever moves progress forward.
func raiseProgress(job *research.Job, p int) {
	if p > 100 {
		p = 100
	}
	if p > job.Progress {
		job.Progress = p
	}
}
