package extractor

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBase(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParseDocument_LinkResolution(t *testing.T) {
	t.Parallel()

	body := `<html><body>
		<a href="/about">About</a>
		<a href="https://other.com/x">Other</a>
		<a href="#">Top</a>
		<a href="javascript:void(0)">Click</a>
		<a href="">Empty</a>
		<a href="contact.html"></a>
	</body></html>`

	doc := parseDocument([]byte(body), mustBase(t, "https://example.com/page"), parseLimits{maxLinks: 10, maxImages: 10})

	require.Len(t, doc.links, 3)
	assert.Equal(t, "https://example.com/about", doc.links[0].URL)
	assert.Equal(t, "About", doc.links[0].Text)
	assert.Equal(t, "https://other.com/x", doc.links[1].URL)
	// Empty link text falls back to the resolved URL.
	assert.Equal(t, "https://example.com/contact.html", doc.links[2].URL)
	assert.Equal(t, "https://example.com/contact.html", doc.links[2].Text)
}

func TestParseDocument_TitleAndMeta(t *testing.T) {
	t.Parallel()

	body := `<html><head>
		<title>Acme <!-- x --> Widgets</title>
		<meta name="description" content="Widgets for everyone">
		<meta name="keywords" content="widgets,acme">
		<meta name="author" content="Acme Inc">
		<meta property="og:image" content="https://example.com/og.png">
		<meta name="twitter:card" content="summary">
	</head></html>`

	doc := parseDocument([]byte(body), mustBase(t, "https://example.com"), parseLimits{maxLinks: 10, maxImages: 10})

	assert.Equal(t, "Acme Widgets", doc.title)
	assert.Equal(t, "Widgets for everyone", doc.description)
	assert.Equal(t, "widgets,acme", doc.keywords)
	assert.Equal(t, "Acme Inc", doc.author)
	assert.Equal(t, "https://example.com/og.png", doc.social["og:image"])
	assert.Equal(t, "summary", doc.social["twitter:card"])
}

func TestParseDocument_Headings(t *testing.T) {
	t.Parallel()

	body := `<h1> Main </h1><h2>Sub one</h2><h2>   </h2><h3>Fine print</h3><h1>Second</h1>`

	doc := parseDocument([]byte(body), mustBase(t, "https://example.com"), parseLimits{maxLinks: 10, maxImages: 10})

	assert.Equal(t, []string{"Main", "Second"}, doc.h1)
	assert.Equal(t, []string{"Sub one"}, doc.h2)
	assert.Equal(t, []string{"Fine print"}, doc.h3)
}

func TestParseDocument_Images(t *testing.T) {
	t.Parallel()

	body := `<img src="/logo.png" alt="Logo"><img src="https://cdn.example.com/a.jpg"><img alt="no src">`

	doc := parseDocument([]byte(body), mustBase(t, "https://example.com/page"), parseLimits{maxLinks: 10, maxImages: 10})

	require.Len(t, doc.images, 2)
	assert.Equal(t, "https://example.com/logo.png", doc.images[0].URL)
	assert.Equal(t, "Logo", doc.images[0].Alt)
	assert.Equal(t, "https://cdn.example.com/a.jpg", doc.images[1].URL)
	assert.Equal(t, "", doc.images[1].Alt)
}

func TestParseDocument_Caps(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 20; i++ {
		b.WriteString(`<a href="/p">link</a><img src="/i.png">`)
	}
	b.WriteString("</body></html>")

	doc := parseDocument([]byte(b.String()), mustBase(t, "https://example.com"), parseLimits{maxLinks: 5, maxImages: 3})

	assert.Len(t, doc.links, 5)
	assert.Len(t, doc.images, 3)
}

func TestParseDocument_MalformedHTML(t *testing.T) {
	t.Parallel()

	body := `<h1>Unclosed heading <a href="/x">link`
	doc := parseDocument([]byte(body), mustBase(t, "https://example.com"), parseLimits{maxLinks: 10, maxImages: 10})

	require.Len(t, doc.links, 1)
	assert.Equal(t, "https://example.com/x", doc.links[0].URL)
}
