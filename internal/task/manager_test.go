package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	completerfake "github.com/Eli-Gooding/research-v1-sub000/internal/completion/memory"
	"github.com/Eli-Gooding/research-v1-sub000/internal/extractor"
	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
	"github.com/Eli-Gooding/research-v1-sub000/internal/storage/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fakeIDs struct {
	n atomic.Int64
}

func (f *fakeIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%d", f.n.Add(1)), nil
}

type fakeExtractor struct {
	content research.ExtractedContent
	err     error
	calls   atomic.Int64
}

func (f *fakeExtractor) Extract(_ context.Context, rawURL string, logf extractor.LogFunc) (research.ExtractedContent, error) {
	f.calls.Add(1)
	if logf != nil {
		logf(research.LogInfo, "fetched %s", rawURL)
	}
	if f.err != nil {
		return research.ExtractedContent{}, f.err
	}
	c := f.content
	c.URL = rawURL
	return c, nil
}

type recordingAnalyzer struct {
	mu         sync.Mutex
	jobID      string
	categories []string
}

func (a *recordingAnalyzer) Analyze(_ context.Context, jobID string, categories []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobID = jobID
	a.categories = append([]string(nil), categories...)
}

type fixture struct {
	manager   *Manager
	store     *memory.JobStore
	blobs     *memory.BlobStore
	extractor *fakeExtractor
	completer *completerfake.Completer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewJobStore()
	blobs := memory.NewBlobStore()
	ext := &fakeExtractor{content: research.ExtractedContent{
		Title:   "Acme Corp",
		H1:      []string{"Welcome"},
		RawBody: "<html><body>Acme</body></html>",
	}}
	completer := completerfake.New("generated text")
	m := New(store, blobs, ext, completer, newFakeClock(), &fakeIDs{}, Config{Model: "gpt-test"}, nil)
	return &fixture{manager: m, store: store, blobs: blobs, extractor: ext, completer: completer}
}

func shutdown(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
}

func TestSubmitRunsPipelineToCompleted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, SubmitRequest{Target: research.Target{URL: "https://example.com"}})
	require.NoError(t, err)
	assert.Equal(t, research.JobStatusInitializing, job.Status)

	shutdown(t, f.manager)

	final, err := f.manager.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, research.JobStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, "https://example.com", final.ResolvedURL)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)
	assert.NotEmpty(t, final.ContentURI)
	assert.NotEmpty(t, final.SummaryURI)
	assert.NotZero(t, final.Usage.CompletionTokens)

	for _, key := range []string{"raw.html", "content.json", "summary.md"} {
		_, err := f.blobs.Get(ctx, f.manager.BlobKey(job.ID, key))
		require.NoError(t, err, key)
	}
}

func TestSubmitIdempotentForSameJobID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	req := SubmitRequest{JobID: "fixed-id", Target: research.Target{URL: "https://example.com"}}

	first, err := f.manager.Submit(ctx, req)
	require.NoError(t, err)
	second, err := f.manager.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	shutdown(t, f.manager)
	assert.Equal(t, int64(1), f.extractor.calls.Load())
}

func TestSubmitRejectsEmptyTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.manager.Submit(context.Background(), SubmitRequest{})
	assert.ErrorIs(t, err, research.ErrInvalidInput)
}

func TestSubmitResolvesCompanyWebsite(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.completer.Stub(completerfake.Rule{
		Contains: "official company websites",
		Text:     "The official website is https://acme.example",
	})
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, SubmitRequest{Target: research.Target{Company: "Acme"}})
	require.NoError(t, err)
	shutdown(t, f.manager)

	final, err := f.manager.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, research.JobStatusCompleted, final.Status)
	assert.Equal(t, "https://acme.example", final.ResolvedURL)
}

func TestSubmitFailsWhenNoWebsiteFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.completer.Stub(completerfake.Rule{
		Contains: "official company websites",
		Text:     "I could not find it.",
	})
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, SubmitRequest{Target: research.Target{Company: "Nonexistent"}})
	require.NoError(t, err)
	shutdown(t, f.manager)

	final, err := f.manager.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, research.JobStatusError, final.Status)
	assert.Equal(t, StageInitializing, final.ErrorStage)
	assert.Contains(t, final.Error, "no official website")
}

func TestFetchFailureIsTerminal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.extractor.err = fmt.Errorf("connection refused")
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, SubmitRequest{Target: research.Target{URL: "https://down.example"}})
	require.NoError(t, err)
	shutdown(t, f.manager)

	final, err := f.manager.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, research.JobStatusError, final.Status)
	assert.Equal(t, StageFetching, final.ErrorStage)
	assert.Contains(t, final.Error, "connection refused")
}

func TestResetConflictWhileMidFlight(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	seed := research.Job{ID: "busy", Status: research.JobStatusProcessing, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateJob(ctx, seed))

	_, err := f.manager.Reset(ctx, "busy")
	assert.ErrorIs(t, err, research.ErrConflict)
}

func TestResetClearsTerminalState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seed := research.Job{
		ID:          "done",
		Status:      research.JobStatusError,
		Target:      research.Target{URL: "https://example.com"},
		CreatedAt:   now,
		CompletedAt: &now,
		Error:       "boom",
		ErrorStage:  StageFetching,
		Progress:    40,
		ReportURI:   "memory://research/done/report.md",
	}
	require.NoError(t, f.store.CreateJob(ctx, seed))

	job, err := f.manager.Reset(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, research.JobStatusInitializing, job.Status)
	assert.Empty(t, job.Error)
	assert.Empty(t, job.ErrorStage)
	assert.Zero(t, job.Progress)
	assert.Nil(t, job.CompletedAt)
	assert.Empty(t, job.ReportURI)
	require.NotEmpty(t, job.Logs)
	assert.Equal(t, "job reset", job.Logs[len(job.Logs)-1].Message)

	shutdown(t, f.manager)
}

func TestResetRestartsPipeline(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	waitCompleted := func(id string) {
		t.Helper()
		require.Eventually(t, func() bool {
			j, err := f.manager.Get(ctx, id)
			return err == nil && j.Status == research.JobStatusCompleted
		}, 5*time.Second, 10*time.Millisecond)
	}

	job, err := f.manager.Submit(ctx, SubmitRequest{Target: research.Target{URL: "https://example.com"}})
	require.NoError(t, err)
	waitCompleted(job.ID)
	require.Equal(t, int64(1), f.extractor.calls.Load())

	// Re-submitting the same ID is a no-op while the record exists.
	again, err := f.manager.Submit(ctx, SubmitRequest{JobID: job.ID, Target: job.Target})
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, int64(1), f.extractor.calls.Load())

	reset, err := f.manager.Reset(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, research.JobStatusInitializing, reset.Status)

	// The reset job runs again from scratch and overwrites its artifacts.
	waitCompleted(job.ID)
	shutdown(t, f.manager)

	final, err := f.manager.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, research.JobStatusCompleted, final.Status)
	assert.Equal(t, int64(2), f.extractor.calls.Load())
	assert.NotEmpty(t, final.SummaryURI)
	for _, key := range []string{"raw.html", "content.json", "summary.md"} {
		_, err := f.blobs.Get(ctx, f.manager.BlobKey(job.ID, key))
		require.NoError(t, err, key)
	}
}

func TestStatusTrimsLogView(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	job := research.Job{ID: "logs", Status: research.JobStatusCompleted, CreatedAt: time.Now().UTC()}
	for i := 0; i < 30; i++ {
		job.Logs = research.AppendLog(job.Logs, time.Now().UTC(), research.LogInfo, "entry %d", i)
	}
	require.NoError(t, f.store.CreateJob(ctx, job))

	status, err := f.manager.Status(ctx, "logs")
	require.NoError(t, err)
	assert.Len(t, status.Logs, research.StatusLogEntries)
	assert.Equal(t, "entry 29", status.Logs[len(status.Logs)-1].Message)

	full, err := f.manager.Logs(ctx, "logs")
	require.NoError(t, err)
	assert.Len(t, full, 30)
}

func TestTriggerAnalysisRequiresCompletedJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.manager.SetAnalyzer(&recordingAnalyzer{})
	ctx := context.Background()
	seed := research.Job{ID: "early", Status: research.JobStatusFetching, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateJob(ctx, seed))

	_, err := f.manager.TriggerAnalysis(ctx, "early", nil)
	assert.ErrorIs(t, err, research.ErrConflict)
}

func TestTriggerAnalysisMarksCategoriesPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	analyzer := &recordingAnalyzer{}
	f.manager.SetAnalyzer(analyzer)
	ctx := context.Background()
	seed := research.Job{ID: "ready", Status: research.JobStatusCompleted, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateJob(ctx, seed))

	job, err := f.manager.TriggerAnalysis(ctx, "ready", []string{"Pricing", "customers", "pricing"})
	require.NoError(t, err)
	require.Len(t, job.Categories, 2)
	assert.Equal(t, research.CategoryPending, job.Categories["pricing"].Status)
	assert.Equal(t, research.CategoryPending, job.Categories["customers"].Status)

	shutdown(t, f.manager)
	assert.Equal(t, "ready", analyzer.jobID)
	assert.Equal(t, []string{"pricing", "customers"}, analyzer.categories)
}

func TestFinishCategoryCompilesExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	categories := make(map[string]*research.CategoryTask, n)
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("cat-%d", i)
		keys = append(keys, key)
		categories[key] = &research.CategoryTask{Category: key, Status: research.CategoryProcessing}
	}
	seed := research.Job{
		ID:         "fanin",
		Status:     research.JobStatusCompleted,
		CreatedAt:  time.Now().UTC(),
		Categories: categories,
	}
	require.NoError(t, f.store.CreateJob(ctx, seed))

	var compiles atomic.Int64
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			var cause error
			if i%3 == 0 {
				cause = fmt.Errorf("category failed")
			}
			should, err := f.manager.FinishCategory(ctx, "fanin", key, "result", research.TokenUsage{PromptTokens: 1}, cause)
			assert.NoError(t, err)
			if should {
				compiles.Add(1)
			}
		}(i, key)
	}
	wg.Wait()

	assert.Equal(t, int64(1), compiles.Load())

	final, err := f.manager.Get(ctx, "fanin")
	require.NoError(t, err)
	assert.True(t, final.ReadyForCompilation)
	for _, task := range final.Categories {
		assert.True(t, task.Status.IsTerminal())
	}

	// A late duplicate settle is rejected and never re-triggers compilation.
	should, err := f.manager.FinishCategory(ctx, "fanin", keys[0], "late", research.TokenUsage{}, nil)
	assert.ErrorIs(t, err, research.ErrConflict)
	assert.False(t, should)
}

func TestMarkErrorDoesNotRegressTerminalJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	seed := research.Job{ID: "final", Status: research.JobStatusReportGenerated, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateJob(ctx, seed))

	f.manager.MarkError(ctx, "final", StageAnalysis, fmt.Errorf("late failure"))

	job, err := f.manager.Get(ctx, "final")
	require.NoError(t, err)
	assert.Equal(t, research.JobStatusReportGenerated, job.Status)
	assert.Empty(t, job.Error)
}
