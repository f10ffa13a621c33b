// Package compiler merges settled category results into the final report.
package compiler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Eli-Gooding/research-v1-sub000/internal/progress"
	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
	"github.com/Eli-Gooding/research-v1-sub000/internal/task"
)

// Compiler produces one report per job. It is invoked exactly once per
// fan-out by whichever category settles last.
type Compiler struct {
	manager *task.Manager
	blobs   research.BlobStore
	logger  *zap.Logger
}

// New constructs a Compiler.
func New(manager *task.Manager, blobs research.BlobStore, logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{manager: manager, blobs: blobs, logger: logger.Named("compiler")}
}

// Compile builds the merged prompt from every completed category, calls the
// completion service once, and persists the report together with the job's
// terminal status. Zero completed categories is a terminal error, not a
// degraded report.
func (c *Compiler) Compile(ctx context.Context, jobID string) {
	start := c.manager.Now()
	job, err := c.manager.Get(ctx, jobID)
	if err != nil {
		c.logger.Error("compile cannot load job", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	results := make(map[string]string)
	for key, t := range job.Categories {
		if t.Status == research.CategoryCompleted && t.Result != "" {
			results[key] = t.Result
		}
	}
	if len(results) == 0 {
		c.manager.MarkError(ctx, jobID, task.StageCompilation,
			fmt.Errorf("no categories completed successfully"))
		return
	}

	res, err := c.manager.Complete(ctx, research.CompilePrompt(job.Subject(), research.DefaultCategories, results))
	if err != nil {
		c.manager.MarkError(ctx, jobID, task.StageCompilation, err)
		return
	}
	reportURI, err := c.blobs.Put(ctx, c.manager.BlobKey(jobID, "report.md"), "text/markdown",
		strings.NewReader(res.Text))
	if err != nil {
		c.manager.MarkError(ctx, jobID, task.StageCompilation, fmt.Errorf("persist report: %w", err))
		return
	}

	job, err = c.manager.Update(ctx, jobID, func(job *research.Job) error {
		if !research.CanTransition(job.Status, research.JobStatusReportGenerated) {
			return fmt.Errorf("job %s cannot accept a report (%s)", jobID, job.Status)
		}
		now := c.manager.Now()
		job.Status = research.JobStatusReportGenerated
		job.CompletedAt = &now
		job.ReportURI = reportURI
		job.Usage.Add(res.Usage)
		job.Progress = 100
		job.Logs = research.AppendLog(job.Logs, now, research.LogInfo,
			"report compiled from %d categories", len(results))
		return nil
	})
	if err != nil {
		c.logger.Error("compile cannot finalize job", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	c.manager.Emit(progress.Event{
		JobID:            jobID,
		Kind:             progress.KindStageDone,
		Stage:            task.StageCompilation,
		Dur:              c.manager.Now().Sub(start),
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		Cost:             c.manager.CostOf(res.Usage),
	})
	evt := progress.Event{JobID: jobID, Kind: progress.KindJobDone, Result: "success"}
	if job.StartedAt != nil && job.CompletedAt != nil {
		evt.Dur = job.CompletedAt.Sub(*job.StartedAt)
	}
	c.manager.Emit(evt)
	c.logger.Info("report generated",
		zap.String("job_id", jobID),
		zap.Int("categories", len(results)))
}
