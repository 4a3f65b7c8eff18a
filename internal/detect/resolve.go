package detect

import (
	"strings"

	"github.com/olegrjumin/stackprobe/internal/techdb"
)

const defaultImpliedConfidence = 50

// ResolveRequires drops detections whose technology is unknown or whose
// required technologies are not all present in the input set
func ResolveRequires(ds []Detection, db *techdb.Database) []Detection {
	if db == nil || db.Technologies == nil {
		return ds
	}
	present := make(map[string]struct{}, len(ds))
	for _, d := range ds {
		present[d.Slug] = struct{}{}
	}

	out := make([]Detection, 0, len(ds))
	for _, d := range ds {
		tech := db.Technologies[d.Slug]
		if tech == nil {
			continue
		}
		ok := true
		for _, req := range tech.Requires {
			if _, found := present[req]; !found {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, d)
		}
	}
	return out
}

// ResolveImplies adds technologies implied by the input detections, or
// raises an implied technology already present to the implied confidence.
// Only the input detections imply; added ones do not chain.
func ResolveImplies(ds []Detection, db *techdb.Database) []Detection {
	if db == nil || db.Technologies == nil {
		return ds
	}
	out := make([]Detection, len(ds))
	copy(out, ds)
	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.Slug] = i
	}

	for _, d := range ds {
		tech := db.Technologies[d.Slug]
		if tech == nil {
			continue
		}
		for _, entry := range tech.Implies {
			target, confidence, ok := parseImplied(entry)
			if !ok {
				continue
			}
			implied := db.Technologies[target]
			if implied == nil {
				continue
			}
			if i, exists := index[target]; exists {
				if confidence > out[i].Confidence {
					out[i].Confidence = confidence
				}
				continue
			}
			name := implied.Name
			if name == "" {
				name = target
			}
			index[target] = len(out)
			out = append(out, Detection{Slug: target, Name: name, Confidence: confidence})
		}
	}
	return out
}

// parseImplied reads "Slug" or "Slug\;confidence:N"
func parseImplied(entry string) (string, int, bool) {
	parts := splitDirectives(entry)
	slug := strings.TrimSpace(parts[0])
	if slug == "" {
		return "", 0, false
	}
	confidence := defaultImpliedConfidence
	for _, part := range parts[1:] {
		key, value, ok := parseDirective(part)
		if !ok || key != "confidence" {
			continue
		}
		if n, ok := parseConfidence(value); ok {
			confidence = n
		}
	}
	return slug, confidence, true
}

// ResolveExcludes removes one side of every excluded pair present in the
// set: the lower confidence one, or on a tie the lexicographically larger slug
func ResolveExcludes(ds []Detection, db *techdb.Database) []Detection {
	if db == nil || db.Technologies == nil {
		return ds
	}
	byConf := make(map[string]int, len(ds))
	for _, d := range ds {
		byConf[d.Slug] = d.Confidence
	}

	dropped := make(map[string]struct{})
	for _, d := range ds {
		tech := db.Technologies[d.Slug]
		if tech == nil {
			continue
		}
		for _, ex := range tech.Excludes {
			if ex == d.Slug {
				continue
			}
			if _, gone := dropped[d.Slug]; gone {
				break
			}
			if _, gone := dropped[ex]; gone {
				continue
			}
			exConf, present := byConf[ex]
			if !present {
				continue
			}
			dropped[loser(d.Slug, d.Confidence, ex, exConf)] = struct{}{}
		}
	}

	out := make([]Detection, 0, len(ds))
	for _, d := range ds {
		if _, gone := dropped[d.Slug]; !gone {
			out = append(out, d)
		}
	}
	return out
}

func loser(a string, ac int, b string, bc int) string {
	switch {
	case ac > bc:
		return b
	case bc > ac:
		return a
	case a <= b:
		return b
	default:
		return a
	}
}
