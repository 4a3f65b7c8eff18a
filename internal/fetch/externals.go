package fetch

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	scriptSrcRe  = regexp.MustCompile(`(?i)<script\b[^>]*\bsrc\s*=\s*["']([^"']+)["'][^>]*>`)
	stylesheetRe = regexp.MustCompile(`(?i)<link\b[^>]*\brel\s*=\s*["']\s*stylesheet\s*["'][^>]*>`)
	hrefAttrRe   = regexp.MustCompile(`(?i)\bhref\s*=\s*["']([^"']+)["']`)
	// href before rel, with rel possibly carrying several tokens
	hrefThenRelRe = regexp.MustCompile(`(?i)<link\b[^>]*\bhref\s*=\s*["']([^"']+)["'][^>]*\brel\s*=\s*["']([^"']+)["'][^>]*>`)

	skipSchemeRe = regexp.MustCompile(`(?i)^(data|javascript|mailto):`)
)

// ExternalRefs are the linked scripts and stylesheets referenced by a page,
// as written in the markup
type ExternalRefs struct {
	Scripts     []string
	Stylesheets []string
}

// ExtractExternalResources scans raw HTML for script src and stylesheet href
// values. Values are trimmed and de-duplicated in document order.
func ExtractExternalResources(html string) ExternalRefs {
	var scripts, styles []string

	for _, m := range scriptSrcRe.FindAllStringSubmatch(html, -1) {
		scripts = append(scripts, m[1])
	}

	for _, tag := range stylesheetRe.FindAllString(html, -1) {
		if m := hrefAttrRe.FindStringSubmatch(tag); m != nil {
			styles = append(styles, m[1])
		}
	}

	for _, m := range hrefThenRelRe.FindAllStringSubmatch(html, -1) {
		for _, token := range strings.Fields(strings.ToLower(m[2])) {
			if token == "stylesheet" {
				styles = append(styles, m[1])
				break
			}
		}
	}

	return ExternalRefs{Scripts: uniq(scripts), Stylesheets: uniq(styles)}
}

// ResolveURLs turns references into absolute URLs against base. data:,
// javascript: and mailto: references and unparseable values are dropped.
func ResolveURLs(refs []string, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		s := strings.TrimSpace(ref)
		if s == "" || skipSchemeRe.MatchString(s) {
			continue
		}
		abs, err := baseURL.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, abs.String())
	}
	return uniq(out)
}

// uniq trims values, drops empties and keeps the first occurrence of each
func uniq(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
