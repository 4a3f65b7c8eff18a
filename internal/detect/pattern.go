package detect

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

const (
	// DefaultCacheSize bounds the number of raw patterns kept compiled
	DefaultCacheSize = 50_000

	// MatchTimeout bounds a single regex evaluation
	MatchTimeout = 100 * time.Millisecond

	defaultPatternConfidence = 100
)

// Pattern is a compiled rule: a case-insensitive regex plus the directives
// that followed it in the raw rule string
type Pattern struct {
	re         *regexp2.Regexp
	Source     string
	Confidence int
	Version    string // template with \N placeholders, empty when absent
}

// Exec runs the pattern against s and returns the capture groups, with
// index 0 holding the whole match. Unmatched groups are empty strings.
// A regex timeout counts as no match.
func (p *Pattern) Exec(s string) ([]string, bool) {
	if p == nil || p.re == nil {
		return nil, false
	}
	m, err := p.re.FindStringMatch(s)
	if err != nil || m == nil {
		return nil, false
	}
	groups := m.Groups()
	out := make([]string, len(groups))
	for i, g := range groups {
		if len(g.Captures) > 0 {
			out[i] = g.String()
		}
	}
	return out, true
}

// MatchString reports whether s matches
func (p *Pattern) MatchString(s string) bool {
	_, ok := p.Exec(s)
	return ok
}

// ResolveVersion fills \N placeholders in tpl from groups. Missing groups
// resolve to the empty string.
func ResolveVersion(tpl string, groups []string) string {
	if tpl == "" {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(tpl); i++ {
		c := tpl[i]
		if c != '\\' || i+1 >= len(tpl) || !isDigit(tpl[i+1]) {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(tpl) && isDigit(tpl[j]) {
			j++
		}
		n, err := strconv.Atoi(tpl[i+1 : j])
		if err == nil && n < len(groups) {
			b.WriteString(groups[n])
		}
		i = j - 1
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// PatternCache memoizes compiled patterns by raw string. Failed compilations
// are cached too. Once full, the oldest entry is evicted first.
type PatternCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*Pattern
	order   []string
}

// NewPatternCache creates a cache holding at most max patterns
func NewPatternCache(max int) *PatternCache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &PatternCache{max: max, entries: make(map[string]*Pattern)}
}

var defaultCache = NewPatternCache(DefaultCacheSize)

// Compile compiles raw through the shared cache
func Compile(raw string) *Pattern {
	return defaultCache.Compile(raw)
}

// Compile returns the compiled form of raw, or nil when the regex is empty
// or malformed
func (c *PatternCache) Compile(raw string) *Pattern {
	c.mu.Lock()
	if p, ok := c.entries[raw]; ok {
		c.mu.Unlock()
		return p
	}
	c.mu.Unlock()

	compiled := compileUncached(raw)

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.entries[raw]; ok {
		return p
	}
	c.entries[raw] = compiled
	c.order = append(c.order, raw)
	for len(c.order) > c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	return compiled
}

// Len returns the number of cached entries
func (c *PatternCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func compileUncached(raw string) *Pattern {
	parts := splitDirectives(raw)
	source := parts[0]
	if source == "" {
		return nil
	}

	re, err := regexp2.Compile(source, regexp2.IgnoreCase|regexp2.ECMAScript)
	if err != nil {
		return nil
	}
	re.MatchTimeout = MatchTimeout

	p := &Pattern{re: re, Source: source, Confidence: defaultPatternConfidence}
	for _, d := range parts[1:] {
		key, value, ok := parseDirective(d)
		if !ok {
			continue
		}
		switch key {
		case "confidence":
			if n, ok := parseConfidence(value); ok {
				p.Confidence = n
			}
		case "version":
			p.Version = value
		}
	}
	return p
}

// splitDirectives splits a rule on ";" and on the escaped form "\;" used by
// the rule database. Any other escape is kept as is.
// The rule files write every directive separator as "\;", so splitting only on
// a bare ";" would leave their confidence and version directives in the regex.
func splitDirectives(s string) []string {
	var (
		out []string
		buf strings.Builder
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && s[i+1] == ';':
			out = append(out, buf.String())
			buf.Reset()
			i++
		case c == '\\' && i+1 < len(s):
			buf.WriteByte(c)
			buf.WriteByte(s[i+1])
			i++
		case c == ';':
			out = append(out, buf.String())
			buf.Reset()
		default:
			buf.WriteByte(c)
		}
	}
	return append(out, buf.String())
}

// parseDirective splits "key:value", lower-casing the key
func parseDirective(part string) (string, string, bool) {
	part = strings.TrimSpace(part)
	key, value, found := strings.Cut(part, ":")
	if !found {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// parseConfidence reads a confidence directive value. Values that are not
// finite numbers are rejected so the caller keeps its default.
func parseConfidence(value string) (int, bool) {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, false
	}
	return clampConfidence(n), true
}

// clampConfidence rounds n into 0..100
func clampConfidence(n float64) int {
	if math.IsNaN(n) {
		return 0
	}
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return int(math.Round(n))
}
