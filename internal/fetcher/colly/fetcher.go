// Package collyfetcher implements research.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher executes single HTTP GETs through a Colly collector. Redirects are
// followed by the underlying transport; the final URL is reported back.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled transport.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request research.FetchRequest) (research.FetchResponse, error) {
	collector := f.baseCollector.Clone()
	ua := request.UserAgent
	if ua == "" {
		ua = f.cfg.UserAgent
	}
	if ua != "" {
		collector.UserAgent = ua
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		result   research.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		result = research.FetchResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			// Non-2xx after redirects: report the status, not an error,
			// so the caller's retry policy decides.
			contentType := ""
			if r.Headers != nil {
				contentType = r.Headers.Get("Content-Type")
			}
			result = research.FetchResponse{
				URL:         r.Request.URL.String(),
				StatusCode:  r.StatusCode,
				ContentType: contentType,
				Body:        append([]byte(nil), r.Body...),
				Duration:    time.Since(start),
			}
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		fetchErr = err
	})

	if err := collector.Visit(request.URL); err != nil {
		return research.FetchResponse{}, fmt.Errorf("visit %s: %w", request.URL, err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return research.FetchResponse{}, err
	}
	if fetchErr != nil {
		return research.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, fetchErr)
	}
	if result.StatusCode == 0 {
		return research.FetchResponse{}, errors.New("colly fetch produced no result")
	}
	return result, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}
