// Package orchestrator runs the category fan-out: one concurrent completion
// call per analysis category, settle-all semantics, and a single compilation
// trigger once every category has reached a terminal state.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
	"github.com/Eli-Gooding/research-v1-sub000/internal/task"
)

// Compiler produces the merged report once the fan-out settles.
type Compiler interface {
	Compile(ctx context.Context, jobID string)
}

// Config controls fan-out concurrency.
type Config struct {
	// MaxParallel bounds concurrent category completions (default 5).
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`
}

// Orchestrator dispatches category analyses and hands the fan-in to the
// compiler.
type Orchestrator struct {
	manager  *task.Manager
	blobs    research.BlobStore
	compiler Compiler
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Orchestrator.
func New(manager *task.Manager, blobs research.BlobStore, compiler Compiler, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		manager:  manager,
		blobs:    blobs,
		compiler: compiler,
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
	}
}

// Analyze runs every category concurrently and waits for all of them to
// settle. One category's failure never aborts its siblings; the compile
// trigger fires inside the category that observes the last terminal write.
func (o *Orchestrator) Analyze(ctx context.Context, jobID string, categories []string) {
	content, err := o.manager.Content(ctx, jobID)
	if err != nil {
		o.manager.MarkError(ctx, jobID, task.StageAnalysis, err)
		return
	}
	job, err := o.manager.Get(ctx, jobID)
	if err != nil {
		o.logger.Error("analysis cannot load job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	subject := job.Subject()

	sem := make(chan struct{}, o.cfg.MaxParallel)
	var wg sync.WaitGroup
	for _, category := range categories {
		wg.Add(1)
		go func(category string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			o.runCategory(ctx, jobID, subject, category, content)
		}(category)
	}
	wg.Wait()
}

// runCategory drives one category from processing to terminal and persists
// its result blob. The terminal write decides whether this goroutine also
// owns compilation.
func (o *Orchestrator) runCategory(ctx context.Context, jobID, subject, category string, content research.ExtractedContent) {
	if err := o.manager.BeginCategory(ctx, jobID, category); err != nil {
		o.logger.Warn("skipping category",
			zap.String("job_id", jobID),
			zap.String("category", category),
			zap.Error(err))
		return
	}

	var (
		resultText string
		usage      research.TokenUsage
	)
	res, err := o.manager.Complete(ctx, research.CategoryPrompt(subject, category, content))
	if err == nil {
		resultText = res.Text
		usage = res.Usage
		key := o.manager.BlobKey(jobID, "categories/"+category+".md")
		if _, perr := o.blobs.Put(ctx, key, "text/markdown", strings.NewReader(res.Text)); perr != nil {
			err = fmt.Errorf("persist category result: %w", perr)
			resultText = ""
		}
	}

	shouldCompile, ferr := o.manager.FinishCategory(ctx, jobID, category, resultText, usage, err)
	if ferr != nil {
		o.logger.Error("failed to settle category",
			zap.String("job_id", jobID),
			zap.String("category", category),
			zap.Error(ferr))
		return
	}
	if shouldCompile {
		o.compiler.Compile(ctx, jobID)
	}
}
