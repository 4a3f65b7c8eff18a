package detect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/olegrjumin/stackprobe/internal/signals"
	"github.com/olegrjumin/stackprobe/internal/techdb"
)

// RawMatch is one rule hit before aggregation
type RawMatch struct {
	Slug       string
	Confidence int
	Version    string
	Evidence   string
}

// Matcher tests one signal category against every technology that has rules
// for it
type Matcher func(db *techdb.Database, b *signals.Bundle) []RawMatch

// NamedMatcher pairs a Matcher with the rule category it covers
type NamedMatcher struct {
	Name  string
	Match Matcher
}

// DefaultMatchers returns the matchers in evaluation order
func DefaultMatchers() []NamedMatcher {
	return []NamedMatcher{
		{Name: techdb.IndexURL, Match: MatchURL},
		{Name: techdb.IndexHeaders, Match: MatchHeaders},
		{Name: techdb.IndexCookies, Match: MatchCookies},
		{Name: techdb.IndexMeta, Match: MatchMeta},
		{Name: techdb.IndexHTML, Match: MatchHTML},
		{Name: techdb.IndexText, Match: MatchText},
		{Name: techdb.IndexScriptSrc, Match: MatchScriptSrc},
		{Name: techdb.IndexScripts, Match: MatchScripts},
		{Name: techdb.IndexCSS, Match: MatchCSS},
		{Name: techdb.IndexDOM, Match: MatchDOM},
	}
}

// MatchURL tests url rules against the normalized page URL
func MatchURL(db *techdb.Database, b *signals.Bundle) []RawMatch {
	return matchText(db, techdb.IndexURL, b.URL, "url", func(t *techdb.Technology) []string { return t.URL })
}

// MatchHTML tests html rules against the capped markup
func MatchHTML(db *techdb.Database, b *signals.Bundle) []RawMatch {
	return matchText(db, techdb.IndexHTML, b.HTML, "html", func(t *techdb.Technology) []string { return t.HTML })
}

// MatchText tests text rules against the visible page text
func MatchText(db *techdb.Database, b *signals.Bundle) []RawMatch {
	return matchText(db, techdb.IndexText, b.Text, "text", func(t *techdb.Technology) []string { return t.Text })
}

// MatchScripts tests scripts rules against inline and fetched script bodies
func MatchScripts(db *techdb.Database, b *signals.Bundle) []RawMatch {
	return matchText(db, techdb.IndexScripts, b.Scripts, "scripts", func(t *techdb.Technology) []string { return t.Scripts })
}

// matchText runs each pattern of a list rule once against subject
func matchText(db *techdb.Database, category, subject, evidence string, rules func(*techdb.Technology) []string) []RawMatch {
	if subject == "" {
		return nil
	}
	var out []RawMatch
	for _, slug := range db.Slugs(category) {
		tech := db.Technologies[slug]
		if tech == nil {
			continue
		}
		for _, raw := range rules(tech) {
			p := Compile(raw)
			if p == nil {
				continue
			}
			groups, ok := p.Exec(subject)
			if !ok {
				continue
			}
			out = append(out, hit(slug, p, groups, evidence))
		}
	}
	return out
}

// MatchHeaders tests header rules against response headers. Each pattern
// stops at the first matching value of its header.
func MatchHeaders(db *techdb.Database, b *signals.Bundle) []RawMatch {
	if len(b.Headers) == 0 {
		return nil
	}
	var out []RawMatch
	for _, slug := range db.Slugs(techdb.IndexHeaders) {
		tech := db.Technologies[slug]
		if tech == nil {
			continue
		}
		for _, key := range tech.Headers.Keys() {
			name := strings.ToLower(strings.TrimSpace(key))
			if name == "" {
				continue
			}
			values := b.Headers.Values(name)
			if len(values) == 0 {
				continue
			}
			for _, raw := range tech.Headers[key] {
				p := compileKeyed(raw)
				if p == nil {
					continue
				}
				for _, v := range values {
					if groups, ok := p.Exec(v); ok {
						out = append(out, hit(slug, p, groups, "header:"+name))
						break
					}
				}
			}
		}
	}
	return out
}

// MatchCookies matches on cookie name presence. Values are never kept, so a
// value pattern only contributes its confidence directive.
func MatchCookies(db *techdb.Database, b *signals.Bundle) []RawMatch {
	if len(b.Cookies) == 0 {
		return nil
	}
	present := make(map[string]struct{}, len(b.Cookies))
	for _, name := range b.Cookies {
		present[name] = struct{}{}
	}

	var out []RawMatch
	for _, slug := range db.Slugs(techdb.IndexCookies) {
		tech := db.Technologies[slug]
		if tech == nil {
			continue
		}
		for _, name := range tech.Cookies.Keys() {
			if _, ok := present[name]; !ok {
				continue
			}
			for _, raw := range tech.Cookies[name] {
				p := compileKeyed(raw)
				if p == nil {
					continue
				}
				out = append(out, RawMatch{Slug: slug, Confidence: p.Confidence, Evidence: "cookie:" + name})
			}
		}
	}
	return out
}

// MatchMeta tests meta rules against the first content seen per meta key
func MatchMeta(db *techdb.Database, b *signals.Bundle) []RawMatch {
	if len(b.Meta) == 0 {
		return nil
	}
	var out []RawMatch
	for _, slug := range db.Slugs(techdb.IndexMeta) {
		tech := db.Technologies[slug]
		if tech == nil {
			continue
		}
		for _, key := range tech.Meta.Keys() {
			name := strings.ToLower(strings.TrimSpace(key))
			value := b.Meta[name]
			if name == "" || value == "" {
				continue
			}
			for _, raw := range tech.Meta[key] {
				p := compileKeyed(raw)
				if p == nil {
					continue
				}
				if groups, ok := p.Exec(value); ok {
					out = append(out, hit(slug, p, groups, "meta:"+name))
				}
			}
		}
	}
	return out
}

// MatchScriptSrc tests scriptSrc rules against script URLs, first hit per pattern
func MatchScriptSrc(db *techdb.Database, b *signals.Bundle) []RawMatch {
	if len(b.ScriptSrc) == 0 {
		return nil
	}
	var out []RawMatch
	for _, slug := range db.Slugs(techdb.IndexScriptSrc) {
		tech := db.Technologies[slug]
		if tech == nil {
			continue
		}
		for _, raw := range tech.ScriptSrc {
			p := Compile(raw)
			if p == nil {
				continue
			}
			for _, src := range b.ScriptSrc {
				if groups, ok := p.Exec(src); ok {
					out = append(out, hit(slug, p, groups, "scriptSrc"))
					break
				}
			}
		}
	}
	return out
}

// MatchCSS tests css rules against style text first and falls back to the
// first matching stylesheet URL
func MatchCSS(db *techdb.Database, b *signals.Bundle) []RawMatch {
	if b.CSS.Inline == "" && len(b.CSS.Hrefs) == 0 {
		return nil
	}
	var out []RawMatch
	for _, slug := range db.Slugs(techdb.IndexCSS) {
		tech := db.Technologies[slug]
		if tech == nil {
			continue
		}
		for _, raw := range tech.CSS {
			p := Compile(raw)
			if p == nil {
				continue
			}
			if b.CSS.Inline != "" {
				if groups, ok := p.Exec(b.CSS.Inline); ok {
					out = append(out, hit(slug, p, groups, "css:inline"))
					continue
				}
			}
			for _, href := range b.CSS.Hrefs {
				if groups, ok := p.Exec(href); ok {
					out = append(out, hit(slug, p, groups, "css:href"))
					break
				}
			}
		}
	}
	return out
}

// MatchDOM evaluates selector rules against the parsed document. A selector
// that fails to evaluate is skipped; the technology's other rules still run.
func MatchDOM(db *techdb.Database, b *signals.Bundle) []RawMatch {
	if !b.HasDOM() {
		return nil
	}
	var out []RawMatch
	for _, slug := range db.Slugs(techdb.IndexDOM) {
		tech := db.Technologies[slug]
		if tech == nil {
			continue
		}
		out = append(out, matchDOMRules(slug, tech.DOM, b)...)
	}
	return out
}

func matchDOMRules(slug string, rules techdb.DOMRules, b *signals.Bundle) []RawMatch {
	var out []RawMatch
	for _, rule := range rules {
		if rule.Selector == "" {
			continue
		}
		nodes, err := b.DOM(rule.Selector)
		if err != nil {
			continue
		}
		if nodes.Length() == 0 {
			continue
		}

		if rule.Exists {
			out = append(out, RawMatch{Slug: slug, Confidence: 100, Evidence: "dom:" + rule.Selector})
			continue
		}

		if rule.Text != "" {
			if p := Compile(rule.Text); p != nil {
				texts := nodes.Map(func(_ int, s *goquery.Selection) string { return s.Text() })
				if groups, ok := p.Exec(strings.Join(texts, " ")); ok {
					out = append(out, hit(slug, p, groups, "dom:text:"+rule.Selector))
					continue
				}
			}
		}

		for _, attr := range rule.Attributes {
			p := Compile(attr.Pattern)
			if p == nil {
				continue
			}
			evidence := "dom:attr:" + rule.Selector + "[" + attr.Name + "]"
			nodes.EachWithBreak(func(_ int, s *goquery.Selection) bool {
				v, ok := s.Attr(attr.Name)
				if !ok || v == "" {
					return true
				}
				groups, matched := p.Exec(v)
				if !matched {
					return true
				}
				out = append(out, hit(slug, p, groups, evidence))
				return false
			})
		}
	}
	return out
}

// compileKeyed compiles a keyed rule (headers, cookies, meta). A rule with no
// regex source means the key being present is enough.
func compileKeyed(raw string) *Pattern {
	if raw == "" || strings.HasPrefix(raw, ";") || strings.HasPrefix(raw, `\;`) {
		raw = ".*" + raw
	}
	return Compile(raw)
}

func hit(slug string, p *Pattern, groups []string, evidence string) RawMatch {
	return RawMatch{
		Slug:       slug,
		Confidence: p.Confidence,
		Version:    ResolveVersion(p.Version, groups),
		Evidence:   evidence,
	}
}
