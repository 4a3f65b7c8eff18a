package signals

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/olegrjumin/stackprobe/internal/fetch"
)

// ErrNoDOM is returned by DOM when the page could not be parsed
var ErrNoDOM = errors.New("document not parsed")

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	skipSchemeRe = regexp.MustCompile(`(?i)^(data|javascript|mailto):`)
)

// Limits caps every text-bearing signal before it can reach a regex engine.
// Values are in characters.
type Limits struct {
	MaxHTMLChars          int
	MaxTextChars          int
	MaxScriptsChars       int
	MaxCSSChars           int
	MaxURLParams          int
	MaxInlineScriptsChars int
	MaxInlineCSSChars     int
}

// DefaultLimits returns the standard signal caps
func DefaultLimits() Limits {
	return Limits{
		MaxHTMLChars:          1_500_000,
		MaxTextChars:          500_000,
		MaxScriptsChars:       600_000,
		MaxCSSChars:           400_000,
		MaxURLParams:          100,
		MaxInlineScriptsChars: 300_000,
		MaxInlineCSSChars:     200_000,
	}
}

// Param is one query string pair, in URL order
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CSS holds stylesheet references and the combined inline and fetched CSS text
type CSS struct {
	Hrefs  []string
	Inline string
}

// Bundle is the normalized, size-capped view of a fetched page that
// matchers consume
type Bundle struct {
	URL       string
	URLParams []Param
	Headers   fetch.Headers
	Cookies   []string          // names only
	Meta      map[string]string // lower-cased key, first seen wins
	ScriptSrc []string
	Scripts   string
	CSS       CSS
	Text      string
	HTML      string

	doc *goquery.Document
}

// DOM returns the nodes matching selector. An invalid selector is an error.
func (b *Bundle) DOM(selector string) (*goquery.Selection, error) {
	if b == nil || b.doc == nil {
		return nil, ErrNoDOM
	}
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return b.doc.FindMatcher(m), nil
}

// HasDOM reports whether DOM queries are available
func (b *Bundle) HasDOM() bool {
	return b != nil && b.doc != nil
}

// Build derives a Bundle from a fetched page
func Build(page *fetch.PageResult, limits Limits) *Bundle {
	if page == nil {
		return &Bundle{Headers: fetch.Headers{}, Meta: map[string]string{}}
	}

	html := capText(page.HTML, limits.MaxHTMLChars)

	rawURL := page.FinalURL
	if rawURL == "" {
		rawURL = page.RequestedURL
	}
	pageURL := normalizeURL(rawURL)

	headers := page.Headers
	if headers == nil {
		headers = fetch.Headers{}
	}

	b := &Bundle{
		URL:       pageURL,
		URLParams: extractURLParams(pageURL, limits.MaxURLParams),
		Headers:   headers,
		Cookies:   cookieNames(headers.Values("set-cookie")),
		Meta:      map[string]string{},
		HTML:      html,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		b.doc = doc
	}

	var inlineScripts, inlineCSS string
	var scriptRefs, cssRefs []string
	if b.doc != nil {
		b.Meta = extractMeta(b.doc)
		scriptRefs = extractScriptSrc(b.doc)
		cssRefs = extractCSSRefs(b.doc)
		inlineScripts = collectText(b.doc.Find("script"), true, limits.MaxInlineScriptsChars)
		inlineCSS = collectText(b.doc.Find("style"), false, limits.MaxInlineCSSChars)
	}

	b.ScriptSrc = resolveToAbsolute(scriptRefs, pageURL)
	b.CSS.Hrefs = resolveToAbsolute(cssRefs, pageURL)

	fetchedScripts := capText(joinBodies(page.External.Scripts), limits.MaxScriptsChars)
	fetchedCSS := capText(joinBodies(page.External.Stylesheets), limits.MaxCSSChars)

	b.Scripts = capText(joinNonEmpty(inlineScripts, fetchedScripts), limits.MaxScriptsChars)
	b.CSS.Inline = capText(joinNonEmpty(inlineCSS, fetchedCSS), limits.MaxCSSChars)
	b.Text = visibleText(b.doc, html, limits.MaxTextChars)

	return b
}

// capText truncates s to at most n characters without splitting a rune
func capText(s string, n int) string {
	if n < 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// normalizeURL lower-cases scheme and host. Unparseable input is returned trimmed.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Host != "" && u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return u.String()
}

// resolveToAbsolute resolves refs against base, normalizes and de-duplicates them
func resolveToAbsolute(refs []string, base string) []string {
	out := []string{}
	baseURL, err := url.Parse(base)
	if err != nil {
		return out
	}

	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		s := strings.TrimSpace(ref)
		if s == "" || skipSchemeRe.MatchString(s) {
			continue
		}
		abs, err := baseURL.Parse(s)
		if err != nil {
			continue
		}
		normalized := normalizeURL(abs.String())
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

// extractURLParams returns query pairs in the order they appear in the URL
func extractURLParams(rawURL string, maxPairs int) []Param {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return []Param{}
	}

	pairs := []Param{}
	for _, part := range strings.Split(u.RawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			k = key
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			v = value
		}
		pairs = append(pairs, Param{Key: k, Value: v})
		if len(pairs) >= maxPairs {
			break
		}
	}
	return pairs
}

// cookieNames keeps only the name of each Set-Cookie line
func cookieNames(lines []string) []string {
	names := []string{}
	for _, line := range lines {
		first, _, _ := strings.Cut(line, ";")
		name, _, found := strings.Cut(first, "=")
		if !found {
			continue
		}
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func extractMeta(doc *goquery.Document) map[string]string {
	meta := map[string]string{}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key := firstAttr(s, "name", "property", "http-equiv")
		key = strings.ToLower(strings.TrimSpace(key))
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if key == "" || content == "" {
			return
		}
		if _, exists := meta[key]; !exists {
			meta[key] = content
		}
	})
	return meta
}

// firstAttr returns the first non-empty value among attrs
func firstAttr(s *goquery.Selection, attrs ...string) string {
	for _, a := range attrs {
		if v := s.AttrOr(a, ""); v != "" {
			return v
		}
	}
	return ""
}

func extractScriptSrc(doc *goquery.Document) []string {
	var srcs []string
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		if src := strings.TrimSpace(s.AttrOr("src", "")); src != "" {
			srcs = append(srcs, src)
		}
	})
	return srcs
}

func extractCSSRefs(doc *goquery.Document) []string {
	var hrefs []string
	doc.Find("link").Each(func(_ int, s *goquery.Selection) {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		isStylesheet := false
		for _, token := range strings.Fields(rel) {
			if token == "stylesheet" {
				isStylesheet = true
				break
			}
		}
		if !isStylesheet {
			return
		}
		if href := strings.TrimSpace(s.AttrOr("href", "")); href != "" {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

// collectText concatenates the text of non-blank nodes, stopping at maxChars.
// With skipExternal, nodes carrying a src attribute are ignored.
func collectText(sel *goquery.Selection, skipExternal bool, maxChars int) string {
	var b strings.Builder
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if skipExternal && s.AttrOr("src", "") != "" {
			return true
		}
		text := s.Text()
		if strings.TrimSpace(text) == "" {
			return true
		}
		b.WriteString("\n")
		b.WriteString(text)
		return b.Len() <= maxChars
	})
	return capText(b.String(), maxChars)
}

// visibleText is the whitespace-collapsed body text, or the raw markup when
// no DOM is available
func visibleText(doc *goquery.Document, html string, maxChars int) string {
	source := html
	if doc != nil {
		source = doc.Find("body").Text()
	}
	return capText(strings.TrimSpace(whitespaceRe.ReplaceAllString(source, " ")), maxChars)
}

func joinBodies(resources []fetch.External) string {
	bodies := make([]string, 0, len(resources))
	for _, r := range resources {
		bodies = append(bodies, r.Body)
	}
	return strings.Join(bodies, "\n\n")
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
