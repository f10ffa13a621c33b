// Package openai adapts the OpenAI chat completions API to the Completer
// interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

// Retry tuning for rate-limited calls.
const (
	MaxRetries  = 3
	BaseBackoff = 1 * time.Second
	MaxBackoff  = 30 * time.Second
)

// ErrMaxRetriesExceeded is returned once the rate-limit retry budget runs out.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Config captures the OpenAI connection parameters.
type Config struct {
	APIKey  string        `mapstructure:"api_key" yaml:"api_key"`
	Model   string        `mapstructure:"model" yaml:"model"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Client calls the OpenAI chat completions endpoint. Rate-limited calls are
// retried with exponential backoff; all other failures surface immediately.
type Client struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		client:  openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   cfg.Model,
		timeout: timeout,
	}, nil
}

// Complete performs one chat completion call.
func (c *Client) Complete(ctx context.Context, req research.CompletionRequest) (research.CompletionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * BaseBackoff
			if backoff > MaxBackoff {
				backoff = MaxBackoff
			}
			select {
			case <-ctx.Done():
				return research.CompletionResult{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		params := openai.ChatCompletionNewParams{
			Model: shared.ChatModel(model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(req.Prompt),
			},
		}
		if req.System != "" {
			params.Messages = []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(req.System),
				openai.UserMessage(req.Prompt),
			}
		}
		if req.Temperature > 0 {
			params.Temperature = openai.Float(req.Temperature)
		}
		if req.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		}

		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				continue
			}
			return research.CompletionResult{}, fmt.Errorf("completion call failed: %w", err)
		}
		if len(completion.Choices) == 0 {
			return research.CompletionResult{}, fmt.Errorf("no completion choices returned")
		}

		return research.CompletionResult{
			Text:  completion.Choices[0].Message.Content,
			Model: string(completion.Model),
			Usage: research.TokenUsage{
				PromptTokens:     int(completion.Usage.PromptTokens),
				CompletionTokens: int(completion.Usage.CompletionTokens),
			},
		}, nil
	}

	return research.CompletionResult{}, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

var _ research.Completer = (*Client)(nil)
