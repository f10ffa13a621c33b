// Package detector decides when extraction should re-fetch a page through a
// headless browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

// Heuristic implements a handful of rule-based render promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldRender decides whether a headless re-fetch is required.
func (h *Heuristic) ShouldRender(resp research.FetchResponse) bool {
	if resp.StatusCode != 200 || resp.Rendered {
		return false
	}
	if !strings.Contains(strings.ToLower(resp.ContentType), "html") && resp.ContentType != "" {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}
	scripted := 0
	for {
		open := strings.Index(lower, "<script")
		if open < 0 {
			break
		}
		rest := lower[open:]
		closeIdx := strings.Index(rest, "</script>")
		if closeIdx < 0 {
			scripted += len(rest)
			break
		}
		scripted += closeIdx + len("</script>")
		lower = rest[closeIdx+len("</script>"):]
	}
	return scripted*2 > total
}
