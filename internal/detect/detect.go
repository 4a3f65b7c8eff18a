package detect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/olegrjumin/stackprobe/internal/logging"
	"github.com/olegrjumin/stackprobe/internal/signals"
	"github.com/olegrjumin/stackprobe/internal/techdb"
)

const (
	// DefaultMinConfidence drops detections below this aggregate score
	DefaultMinConfidence = 50

	maxEvidence = 20
)

// Detection is one technology's aggregated result
type Detection struct {
	Slug       string   `json:"slug"`
	Name       string   `json:"name"`
	Confidence int      `json:"confidence"`
	Version    string   `json:"version,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Options controls a detection run
type Options struct {
	MinConfidence int
	Matchers      []NamedMatcher  // nil means DefaultMatchers
	Logger        *logging.Logger // optional, receives matcher failures
}

// DefaultOptions returns the standard detection options
func DefaultOptions() Options {
	return Options{MinConfidence: DefaultMinConfidence}
}

// AggregateConfidence combines two scores as a probabilistic OR:
// 1 - (1-a)(1-b), on the 0..100 scale
func AggregateConfidence(current, incoming int) int {
	a := float64(clampConfidence(float64(current))) / 100
	b := float64(clampConfidence(float64(incoming))) / 100
	return clampConfidence((1 - (1-a)*(1-b)) * 100)
}

// accumulator collects raw matches for one technology
type accumulator struct {
	slug            string
	name            string
	confidence      int
	version         string
	versionBestConf int
	evidence        []string
}

// Detect runs every matcher against the bundle, aggregates the hits per
// technology, applies requires, implies and excludes, then filters by
// MinConfidence. Results are ordered by confidence desc, then slug.
func Detect(db *techdb.Database, b *signals.Bundle, opts Options) ([]Detection, error) {
	if db == nil || db.Technologies == nil {
		return nil, techdb.ErrNotLoaded
	}
	if b == nil {
		b = signals.Build(nil, signals.DefaultLimits())
	}
	matchers := opts.Matchers
	if matchers == nil {
		matchers = DefaultMatchers()
	}

	acc := make(map[string]*accumulator)
	var order []string
	for _, m := range matchers {
		matches, err := runMatcher(m, db, b)
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.Warn("Matcher failed", "matcher", m.Name, "error", err)
			}
			continue
		}
		for _, rm := range matches {
			if rm.Slug == "" {
				continue
			}
			tech, ok := db.Technologies[rm.Slug]
			if !ok || tech == nil {
				continue
			}
			a, ok := acc[rm.Slug]
			if !ok {
				name := tech.Name
				if name == "" {
					name = rm.Slug
				}
				a = &accumulator{slug: rm.Slug, name: name, versionBestConf: -1}
				acc[rm.Slug] = a
				order = append(order, rm.Slug)
			}
			add(a, rm)
		}
	}

	found := make([]Detection, 0, len(order))
	for _, slug := range order {
		found = append(found, acc[slug].finalize())
	}

	found = ResolveRequires(found, db)
	found = ResolveImplies(found, db)
	found = ResolveExcludes(found, db)

	kept := found[:0]
	for _, d := range found {
		if d.Confidence >= opts.MinConfidence {
			kept = append(kept, d)
		}
	}
	SortDetections(kept)
	return kept, nil
}

// runMatcher isolates a matcher so a panic only loses its own results
func runMatcher(m NamedMatcher, db *techdb.Database, b *signals.Bundle) (matches []RawMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			matches = nil
			err = fmt.Errorf("matcher %s panicked: %v", m.Name, r)
		}
	}()
	if m.Match == nil {
		return nil, nil
	}
	return m.Match(db, b), nil
}

func add(a *accumulator, rm RawMatch) {
	incoming := clampConfidence(float64(rm.Confidence))
	a.confidence = AggregateConfidence(a.confidence, incoming)

	// The version comes from the single strongest match that carried one
	if rm.Version != "" && incoming > a.versionBestConf {
		a.versionBestConf = incoming
		a.version = rm.Version
	}
	if ev := strings.TrimSpace(rm.Evidence); ev != "" {
		a.evidence = append(a.evidence, ev)
	}
}

func (a *accumulator) finalize() Detection {
	return Detection{
		Slug:       a.slug,
		Name:       a.name,
		Confidence: clampConfidence(float64(a.confidence)),
		Version:    a.version,
		Evidence:   dedupe(a.evidence, maxEvidence),
	}
}

// dedupe keeps the first occurrence of each value, up to limit entries
func dedupe(values []string, limit int) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}

// SortDetections orders by confidence desc, then slug asc
func SortDetections(ds []Detection) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Confidence != ds[j].Confidence {
			return ds[i].Confidence > ds[j].Confidence
		}
		return ds[i].Slug < ds[j].Slug
	})
}
