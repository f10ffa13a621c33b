// Package extractor implements the retrying content-extraction stage.
package extractor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Eli-Gooding/research-v1-sub000/internal/hash/sha256"
	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

// Config controls fetch retry, user-agent rotation, and parse limits.
type Config struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	UserAgents   []string
	ParseTimeout time.Duration
	MaxLinks     int
	MaxImages    int
	MaxBodyBytes int
}

// Defaults applied when fields are zero.
const (
	defaultMaxAttempts  = 3
	defaultBaseDelay    = 500 * time.Millisecond
	defaultMaxDelay     = 8 * time.Second
	defaultParseTimeout = 10 * time.Second
	defaultMaxLinks     = 100
	defaultMaxImages    = 50
	defaultMaxBodyBytes = 50 * 1024
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// LogFunc receives job-visible log lines emitted during extraction.
type LogFunc func(level research.LogLevel, format string, args ...any)

// Extractor fetches a target URL with retry and parses the response into
// structured content.
type Extractor struct {
	fetcher  research.Fetcher
	headless research.Fetcher
	detector research.RenderDetector
	cfg      Config
	hasher   *sha256.Hasher
	logger   *zap.Logger

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs an Extractor. The headless fetcher and detector are
// optional; when both are set, probe responses that look like JS shells are
// re-fetched through the headless fetcher before parsing.
func New(fetcher research.Fetcher, headless research.Fetcher, detector research.RenderDetector, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	if cfg.ParseTimeout <= 0 {
		cfg.ParseTimeout = defaultParseTimeout
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = defaultMaxLinks
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = defaultMaxImages
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Extractor{
		fetcher:  fetcher,
		headless: headless,
		detector: detector,
		cfg:      cfg,
		hasher:   sha256.New(),
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Extract fetches rawURL with retry and returns the parsed content. logf may
// be nil; when set it receives the job-visible attempt log lines.
func (e *Extractor) Extract(ctx context.Context, rawURL string, logf LogFunc) (research.ExtractedContent, error) {
	if logf == nil {
		logf = func(research.LogLevel, string, ...any) {}
	}

	resp, err := e.fetchWithRetry(ctx, rawURL, logf)
	if err != nil {
		return research.ExtractedContent{}, err
	}

	resp = e.maybeRender(ctx, rawURL, resp, logf)
	return e.parse(ctx, resp, logf), nil
}

// Backoff returns the wait before the next attempt, exponential in the
// attempt index starting at zero.
func (e *Extractor) Backoff(attempt int) time.Duration {
	delay := e.cfg.BaseDelay << uint(attempt)
	if delay > e.cfg.MaxDelay || delay <= 0 {
		delay = e.cfg.MaxDelay
	}
	return delay
}

func (e *Extractor) fetchWithRetry(ctx context.Context, rawURL string, logf LogFunc) (research.FetchResponse, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.Backoff(attempt-1)); err != nil {
				return research.FetchResponse{}, fmt.Errorf("fetch aborted: %w", err)
			}
		}
		ua := e.cfg.UserAgents[attempt%len(e.cfg.UserAgents)]
		resp, err := e.fetcher.Fetch(ctx, research.FetchRequest{URL: rawURL, UserAgent: ua})
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		if err == nil {
			err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		lastErr = err
		logf(research.LogWarning, "fetch attempt %d/%d failed: %v", attempt+1, e.cfg.MaxAttempts, err)
		e.logger.Warn("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return research.FetchResponse{}, fmt.Errorf("fetch %s after %d attempts: %w", rawURL, e.cfg.MaxAttempts, lastErr)
}

func (e *Extractor) maybeRender(ctx context.Context, rawURL string, probe research.FetchResponse, logf LogFunc) research.FetchResponse {
	if e.headless == nil || e.detector == nil || !e.detector.ShouldRender(probe) {
		return probe
	}
	rendered, err := e.headless.Fetch(ctx, research.FetchRequest{URL: rawURL})
	if err != nil {
		logf(research.LogWarning, "headless render failed, using probe body: %v", err)
		e.logger.Warn("headless render failed", zap.String("url", rawURL), zap.Error(err))
		return probe
	}
	rendered.Rendered = true
	return rendered
}

// parse runs the streaming HTML parse under the configured wall-clock
// timeout. A stalled or failed parse degrades to raw-body-only content
// rather than failing the stage.
func (e *Extractor) parse(ctx context.Context, resp research.FetchResponse, logf LogFunc) research.ExtractedContent {
	content := research.ExtractedContent{
		URL:         resp.URL,
		ContentType: resp.ContentType,
		RawBody:     truncate(resp.Body, e.cfg.MaxBodyBytes),
	}
	if digest, err := e.hasher.Hash(resp.Body); err == nil {
		content.ContentHash = digest
	}
	if !isHTML(resp.ContentType) {
		logf(research.LogInfo, "content type %q is not HTML, storing raw content only", resp.ContentType)
		return content
	}

	base, err := url.Parse(resp.URL)
	if err != nil {
		logf(research.LogWarning, "cannot parse base url %q: %v", resp.URL, err)
		return content
	}

	done := make(chan parsedDocument, 1)
	go func() {
		done <- parseDocument(resp.Body, base, parseLimits{
			maxLinks:  e.cfg.MaxLinks,
			maxImages: e.cfg.MaxImages,
		})
	}()

	timer := time.NewTimer(e.cfg.ParseTimeout)
	defer timer.Stop()
	select {
	case doc := <-done:
		doc.fill(&content)
	case <-timer.C:
		logf(research.LogWarning, "HTML parse exceeded %s, storing raw content only", e.cfg.ParseTimeout)
		e.logger.Warn("parse timeout", zap.String("url", resp.URL))
	case <-ctx.Done():
	}
	return content
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "xhtml")
}

func truncate(body []byte, limit int) string {
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
