package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Eli-Gooding/research-v1-sub000/internal/progress"
	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

// Stage names recorded in errorStage and progress events.
const (
	StageInitializing = "initializing"
	StageFetching     = "fetching"
	StageProcessing   = "processing"
	StageAnalysis     = "analysis"
	StageCompilation  = "compilation"
)

// runPipeline drives one job from initializing through completed. Each
// stage's failure is caught at the stage boundary and recorded on the job;
// nothing propagates past the actor.
func (m *Manager) runPipeline(ctx context.Context, jobID string) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		m.logger.Error("pipeline cannot load job", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	resolvedURL, usage, err := m.resolveTarget(ctx, job)
	if err != nil {
		m.MarkError(ctx, jobID, StageInitializing, err)
		return
	}

	job, err = m.Update(ctx, jobID, func(job *research.Job) error {
		now := m.clock.Now()
		job.Status = research.JobStatusFetching
		job.StartedAt = &now
		job.ResolvedURL = resolvedURL
		job.Usage.Add(usage)
		raiseProgress(job, 10)
		job.Logs = research.AppendLog(job.Logs, now, research.LogInfo, "fetching %s", resolvedURL)
		return nil
	})
	if err != nil {
		m.logger.Error("pipeline cannot start fetch", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	m.Emit(progress.Event{JobID: jobID, Kind: progress.KindStageStart, Stage: StageFetching})

	fetchStart := m.clock.Now()
	content, err := m.extractor.Extract(ctx, resolvedURL, m.jobLog(jobID))
	if err != nil {
		m.MarkError(ctx, jobID, StageFetching, err)
		return
	}
	contentURI, err := m.persistContent(ctx, jobID, content)
	if err != nil {
		m.MarkError(ctx, jobID, StageFetching, err)
		return
	}

	if _, err = m.Update(ctx, jobID, func(job *research.Job) error {
		job.Status = research.JobStatusProcessing
		job.ContentURI = contentURI
		raiseProgress(job, 40)
		job.Logs = research.AppendLog(job.Logs, m.clock.Now(), research.LogInfo,
			"content extracted (%d links, %d images)", len(content.Links), len(content.Images))
		return nil
	}); err != nil {
		m.logger.Error("pipeline cannot start processing", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	m.Emit(progress.Event{JobID: jobID, Kind: progress.KindStageDone, Stage: StageFetching,
		Dur: m.clock.Now().Sub(fetchStart)})
	m.Emit(progress.Event{JobID: jobID, Kind: progress.KindStageStart, Stage: StageProcessing})

	processStart := m.clock.Now()
	summary, err := m.Complete(ctx, research.SummaryPrompt(job.Subject(), content))
	if err != nil {
		m.MarkError(ctx, jobID, StageProcessing, err)
		return
	}
	summaryURI, err := m.blobs.Put(ctx, m.BlobKey(jobID, "summary.md"), "text/markdown",
		strings.NewReader(summary.Text))
	if err != nil {
		m.MarkError(ctx, jobID, StageProcessing, fmt.Errorf("persist summary: %w", err))
		return
	}

	job, err = m.Update(ctx, jobID, func(job *research.Job) error {
		now := m.clock.Now()
		job.Status = research.JobStatusCompleted
		job.CompletedAt = &now
		job.SummaryURI = summaryURI
		job.Usage.Add(summary.Usage)
		if job.AutoAnalyze {
			raiseProgress(job, 60)
		} else {
			raiseProgress(job, 100)
		}
		job.Logs = research.AppendLog(job.Logs, now, research.LogInfo, "summary generated")
		return nil
	})
	if err != nil {
		m.logger.Error("pipeline cannot complete job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	m.Emit(progress.Event{JobID: jobID, Kind: progress.KindStageDone, Stage: StageProcessing,
		Dur:          m.clock.Now().Sub(processStart),
		PromptTokens: summary.Usage.PromptTokens, CompletionTokens: summary.Usage.CompletionTokens,
		Cost: m.cfg.Prices.Cost(summary.Usage)})
	if !job.AutoAnalyze {
		evt := progress.Event{JobID: jobID, Kind: progress.KindJobDone, Result: "success"}
		if job.StartedAt != nil && job.CompletedAt != nil {
			evt.Dur = job.CompletedAt.Sub(*job.StartedAt)
		}
		m.Emit(evt)
	}

	if job.AutoAnalyze && m.analyzer != nil {
		keys := pendingKeys(job.Categories)
		if len(keys) == 0 {
			keys = m.cfg.Categories
			if _, err := m.Update(ctx, jobID, func(job *research.Job) error {
				return m.markCategoriesPending(job, keys)
			}); err != nil {
				m.MarkError(ctx, jobID, StageAnalysis, err)
				return
			}
		}
		m.analyzer.Analyze(ctx, jobID, keys)
	}
}

// resolveTarget turns the submitted target into a fetchable URL, asking the
// completion service for the official website when only a company name was
// given. Returns the token usage the resolution consumed.
func (m *Manager) resolveTarget(ctx context.Context, job research.Job) (string, research.TokenUsage, error) {
	var usage research.TokenUsage

	rawURL := job.Target.URL
	if rawURL == "" {
		rawURL = job.Target.Website
	}
	if rawURL == "" {
		company := job.Target.Company
		if named, u, err := m.extractCompanyName(ctx, company); err == nil && named != "" {
			company = named
			usage.Add(u)
		}
		res, err := m.Complete(ctx, research.WebsitePrompt(company))
		if err != nil {
			return "", usage, fmt.Errorf("find official website: %w", err)
		}
		usage.Add(res.Usage)
		rawURL = research.FirstURL(res.Text)
		if rawURL == "" {
			return "", usage, fmt.Errorf("no official website found for %q", company)
		}
	}

	normalized, err := research.NormalizeURL(rawURL)
	if err != nil {
		return "", usage, err
	}
	return normalized, usage, nil
}

// extractCompanyName normalizes a free-text company target to a bare name.
// Best-effort: any failure keeps the original text.
func (m *Manager) extractCompanyName(ctx context.Context, text string) (string, research.TokenUsage, error) {
	if !strings.Contains(strings.TrimSpace(text), " ") {
		return "", research.TokenUsage{}, nil
	}
	res, err := m.Complete(ctx, research.CompanyNamePrompt(text))
	if err != nil {
		return "", research.TokenUsage{}, err
	}
	name := strings.TrimSpace(res.Text)
	if name == "" || strings.EqualFold(name, "none") {
		return "", res.Usage, nil
	}
	return name, res.Usage, nil
}

// persistContent writes the raw body and the structured content blobs and
// returns the content URI.
func (m *Manager) persistContent(ctx context.Context, jobID string, content research.ExtractedContent) (string, error) {
	if content.RawBody != "" {
		rawType := content.ContentType
		if rawType == "" {
			rawType = "text/html"
		}
		if _, err := m.blobs.Put(ctx, m.BlobKey(jobID, "raw.html"), rawType,
			strings.NewReader(content.RawBody)); err != nil {
			return "", fmt.Errorf("persist raw body: %w", err)
		}
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}
	uri, err := m.blobs.Put(ctx, m.BlobKey(jobID, "content.json"), "application/json",
		bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("persist content: %w", err)
	}
	return uri, nil
}

// jobLog adapts the extractor's log callback onto the job's activity log.
func (m *Manager) jobLog(jobID string) func(level research.LogLevel, format string, args ...any) {
	return func(level research.LogLevel, format string, args ...any) {
		_, err := m.Update(m.baseCtx, jobID, func(job *research.Job) error {
			job.Logs = research.AppendLog(job.Logs, m.clock.Now(), level, format, args...)
			return nil
		})
		if err != nil {
			m.logger.Warn("failed to append job log", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

func decodeContent(data []byte) (research.ExtractedContent, error) {
	var content research.ExtractedContent
	if err := json.Unmarshal(data, &content); err != nil {
		return research.ExtractedContent{}, fmt.Errorf("unmarshal content: %w", err)
	}
	return content, nil
}
