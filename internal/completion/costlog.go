// Package completion wraps Completer implementations with cross-cutting
// concerns; concrete adapters live in the subpackages.
package completion

import (
	"context"

	"go.uber.org/zap"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

// CostLogger decorates a Completer with per-call cost accounting: every call
// logs its token counts and estimated spend. It never retries and never
// alters the result.
type CostLogger struct {
	next   research.Completer
	prices research.Prices
	logger *zap.Logger
}

// NewCostLogger wraps next with cost logging.
func NewCostLogger(next research.Completer, prices research.Prices, logger *zap.Logger) *CostLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CostLogger{next: next, prices: prices, logger: logger.Named("completion")}
}

// Complete delegates to the wrapped Completer and logs the call's cost.
func (c *CostLogger) Complete(ctx context.Context, req research.CompletionRequest) (research.CompletionResult, error) {
	res, err := c.next.Complete(ctx, req)
	if err != nil {
		c.logger.Warn("completion call failed",
			zap.String("model", req.Model),
			zap.Error(err))
		return res, err
	}
	c.logger.Info("completion call",
		zap.String("model", res.Model),
		zap.Int("prompt_tokens", res.Usage.PromptTokens),
		zap.Int("completion_tokens", res.Usage.CompletionTokens),
		zap.Float64("cost", c.prices.Cost(res.Usage)))
	return res, nil
}

var _ research.Completer = (*CostLogger)(nil)
