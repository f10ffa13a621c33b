package extractor

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

type parseLimits struct {
	maxLinks  int
	maxImages int
}

type parsedDocument struct {
	title       string
	description string
	keywords    string
	author      string
	social      map[string]string
	h1, h2, h3  []string
	links       []research.Link
	images      []research.Image
}

func (d parsedDocument) fill(content *research.ExtractedContent) {
	content.Title = d.title
	content.Description = d.description
	content.Keywords = d.keywords
	content.Author = d.author
	content.Social = d.social
	content.H1 = d.h1
	content.H2 = d.h2
	content.H3 = d.h3
	content.Links = d.links
	content.Images = d.images
}

// parseDocument scans the body once with the streaming tokenizer. Malformed
// markup is tolerated; the tokenizer yields whatever structure it can.
func parseDocument(body []byte, base *url.URL, limits parseLimits) parsedDocument {
	doc := parsedDocument{}
	z := html.NewTokenizer(bytes.NewReader(body))

	var (
		titleBuf   strings.Builder
		inTitle    bool
		headingBuf strings.Builder
		heading    string // "h1", "h2", "h3" while inside one
		anchorBuf  strings.Builder
		anchorURL  string
		inAnchor   bool
	)

	flushAnchor := func() {
		if !inAnchor {
			return
		}
		inAnchor = false
		if anchorURL == "" || len(doc.links) >= limits.maxLinks {
			return
		}
		text := collapseSpace(anchorBuf.String())
		if text == "" {
			text = anchorURL
		}
		doc.links = append(doc.links, research.Link{URL: anchorURL, Text: text})
	}
	flushHeading := func() {
		if heading == "" {
			return
		}
		text := collapseSpace(headingBuf.String())
		if text != "" {
			switch heading {
			case "h1":
				doc.h1 = append(doc.h1, text)
			case "h2":
				doc.h2 = append(doc.h2, text)
			case "h3":
				doc.h3 = append(doc.h3, text)
			}
		}
		heading = ""
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.TextToken:
			text := string(z.Text())
			if inTitle {
				titleBuf.WriteString(text)
			}
			if heading != "" {
				headingBuf.WriteString(text)
			}
			if inAnchor {
				anchorBuf.WriteString(text)
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			attrs := collectAttrs(z, hasAttr)
			switch string(name) {
			case "title":
				if tt == html.StartTagToken {
					inTitle = true
				}
			case "meta":
				doc.consumeMeta(attrs)
			case "h1", "h2", "h3":
				if tt == html.StartTagToken {
					flushHeading()
					heading = string(name)
					headingBuf.Reset()
				}
			case "a":
				flushAnchor()
				if tt == html.StartTagToken {
					if resolved, ok := resolveHref(base, attrs["href"]); ok {
						inAnchor = true
						anchorURL = resolved
						anchorBuf.Reset()
					}
				}
			case "img":
				if len(doc.images) >= limits.maxImages {
					break
				}
				if resolved, ok := resolveSrc(base, attrs["src"]); ok {
					doc.images = append(doc.images, research.Image{URL: resolved, Alt: attrs["alt"]})
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "title":
				inTitle = false
			case "h1", "h2", "h3":
				flushHeading()
			case "a":
				flushAnchor()
			}
		}
	}
	flushAnchor()
	flushHeading()

	doc.title = collapseSpace(titleBuf.String())
	return doc
}

func (d *parsedDocument) consumeMeta(attrs map[string]string) {
	content := attrs["content"]
	if name := strings.ToLower(attrs["name"]); name != "" {
		switch name {
		case "description":
			d.description = content
		case "keywords":
			d.keywords = content
		case "author":
			d.author = content
		default:
			if strings.HasPrefix(name, "twitter:") {
				d.addSocial(name, content)
			}
		}
	}
	if prop := strings.ToLower(attrs["property"]); strings.HasPrefix(prop, "og:") {
		d.addSocial(prop, content)
	}
}

func (d *parsedDocument) addSocial(key, value string) {
	if value == "" {
		return
	}
	if d.social == nil {
		d.social = make(map[string]string)
	}
	d.social[key] = value
}

// resolveHref resolves an anchor href against the fetch target. Empty,
// pure-fragment, and javascript: hrefs produce no link.
func resolveHref(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return resolved.String(), true
}

func resolveSrc(base *url.URL, src string) (string, bool) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", false
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

func collectAttrs(z *html.Tokenizer, hasAttr bool) map[string]string {
	if !hasAttr {
		return nil
	}
	attrs := make(map[string]string, 4)
	for {
		key, val, more := z.TagAttr()
		attrs[string(key)] = string(val)
		if !more {
			break
		}
	}
	return attrs
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
