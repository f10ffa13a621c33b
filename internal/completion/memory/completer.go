// Package memory provides a scripted Completer for development and tests.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

// Rule maps a prompt substring to a canned response.
type Rule struct {
	// Contains matches against the system prompt and user prompt.
	Contains string
	Text     string
	Usage    research.TokenUsage
	Err      error
}

// Completer replays scripted responses and records every request.
type Completer struct {
	mu       sync.Mutex
	rules    []Rule
	fallback string
	requests []research.CompletionRequest
}

// New returns a Completer answering every request with fallback text.
func New(fallback string) *Completer {
	return &Completer{fallback: fallback}
}

// Stub registers a canned response for prompts containing the substring.
// Rules are checked in registration order.
func (c *Completer) Stub(rule Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule)
}

// Complete records the request and replays the first matching rule.
func (c *Completer) Complete(_ context.Context, req research.CompletionRequest) (research.CompletionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	for _, rule := range c.rules {
		if strings.Contains(req.System, rule.Contains) || strings.Contains(req.Prompt, rule.Contains) {
			if rule.Err != nil {
				return research.CompletionResult{}, rule.Err
			}
			return research.CompletionResult{Text: rule.Text, Model: req.Model, Usage: rule.Usage}, nil
		}
	}
	return research.CompletionResult{
		Text:  c.fallback,
		Model: req.Model,
		Usage: research.TokenUsage{PromptTokens: 10, CompletionTokens: 20},
	}, nil
}

// Requests returns every recorded request.
func (c *Completer) Requests() []research.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]research.CompletionRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

var _ research.Completer = (*Completer)(nil)
