package research

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// NormalizeURL standardizes a URL before fetching. It lowercases the scheme
// and host, removes default ports and fragments, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

var urlPattern = regexp.MustCompile(`https?://(?:www\.)?[-a-zA-Z0-9@:%._\+~#=]{1,256}\.[a-zA-Z0-9()]{2,24}\b(?:[-a-zA-Z0-9()@:%_\+.~#?&/=]*)`)

// FirstURL extracts the first URL from free text, e.g. a completion-service
// answer to the official-website prompt. Trailing sentence punctuation is
// stripped. Returns "" when none is present.
func FirstURL(text string) string {
	return strings.TrimRight(urlPattern.FindString(text), ".,)")
}

// Subject names what the research is about, for prompt construction. Falls
// back to the fetched host when no company name is known.
func (j Job) Subject() string {
	if j.Target.Company != "" {
		return j.Target.Company
	}
	for _, raw := range []string{j.ResolvedURL, j.Target.URL, j.Target.Website} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return strings.TrimPrefix(u.Host, "www.")
		}
	}
	return j.Target.URL
}
