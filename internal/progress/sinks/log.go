// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors, and a Pub/Sub publisher for terminal job events.
// Each sink satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/Eli-Gooding/research-v1-sub000/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("kind", string(evt.Kind)),
			zap.String("stage", evt.Stage),
			zap.String("category", evt.Category),
			zap.String("result", evt.Result),
			zap.Duration("dur", evt.Dur),
			zap.Int("prompt_tokens", evt.PromptTokens),
			zap.Int("completion_tokens", evt.CompletionTokens),
			zap.Float64("cost", evt.Cost),
			zap.String("note", evt.Note),
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
