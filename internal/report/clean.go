package report

import (
	"sort"
)

// Ref is an id/name pair without nested groups
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProductRef is a product recommended for a single technology
type ProductRef struct {
	Product  string  `json:"product"`
	Priority string  `json:"priority"`
	Reason   *string `json:"reason"`
}

// CleanTechnology is a detection in the slim report shape
type CleanTechnology struct {
	Slug                string       `json:"slug"`
	Name                string       `json:"name"`
	Confidence          int          `json:"confidence"`
	Version             *string      `json:"version"`
	Description         *string      `json:"description"`
	Website             *string      `json:"website"`
	Icon                *string      `json:"icon"`
	Categories          []Ref        `json:"categories"`
	Groups              []Ref        `json:"groups"`
	RecommendedProducts []ProductRef `json:"recommendedProducts"`
}

// GroupItem is one entry of a byGroup bucket
type GroupItem struct {
	Name       string  `json:"name"`
	Confidence int     `json:"confidence"`
	Version    *string `json:"version"`
}

// CleanRecommendation drops scoring internals from a Recommendation
type CleanRecommendation struct {
	Title       string    `json:"title"`
	Product     string    `json:"product"`
	Priority    string    `json:"priority"`
	Description *string   `json:"description"`
	URL         *string   `json:"url"`
	Tags        []string  `json:"tags"`
	Reason      *string   `json:"reason"`
	Offer       *string   `json:"offer"`
	TriggeredBy []Trigger `json:"triggeredBy"`
}

// CleanMeta carries fetch details and timings when requested
type CleanMeta struct {
	Fetch   FetchInfo `json:"fetch"`
	Timings Timings   `json:"timings"`
}

// CleanReport is the payload returned by the API and printed by the CLI
type CleanReport struct {
	OK              bool                   `json:"ok"`
	URL             string                 `json:"url"`
	FinalURL        string                 `json:"finalUrl"`
	Technologies    []CleanTechnology      `json:"technologies"`
	ByGroup         map[string][]GroupItem `json:"byGroup"`
	Recommendations []CleanRecommendation  `json:"recommendations"`
	Summary         Summary                `json:"summary"`
	Meta            *CleanMeta             `json:"meta,omitempty"`
}

// Clean reduces a full report to the slim shape. Each technology lists the
// products recommended because of it; recommendations are ordered by
// priority, then title.
func Clean(r *Report, includeMeta bool) *CleanReport {
	if r == nil {
		return &CleanReport{
			Technologies:    []CleanTechnology{},
			ByGroup:         map[string][]GroupItem{},
			Recommendations: []CleanRecommendation{},
		}
	}

	products := productsByTechnology(r.Recommendations)

	techs := make([]CleanTechnology, 0, len(r.Detections))
	for _, d := range r.Detections {
		recommended := products[d.Name]
		if recommended == nil {
			recommended = []ProductRef{}
		}
		techs = append(techs, CleanTechnology{
			Slug:                d.Slug,
			Name:                d.Name,
			Confidence:          d.Confidence,
			Version:             nullable(d.Version),
			Description:         nullable(d.Description),
			Website:             nullable(d.Website),
			Icon:                nullable(d.Icon),
			Categories:          slimCategories(d.Categories),
			Groups:              slimGroups(d.Groups),
			RecommendedProducts: recommended,
		})
	}

	out := &CleanReport{
		OK:              r.OK,
		URL:             r.URL,
		FinalURL:        r.FinalURL,
		Technologies:    techs,
		ByGroup:         cleanGroups(r),
		Recommendations: cleanRecommendations(r.Recommendations),
		Summary:         r.Summary,
	}
	if includeMeta {
		out.Meta = &CleanMeta{Fetch: r.Fetch, Timings: r.Timings}
	}
	return out
}

func cleanGroups(r *Report) map[string][]GroupItem {
	groups := r.Groups
	if groups == nil {
		groups = Group(r.Detections)
	}
	out := make(map[string][]GroupItem, len(groups))
	for name, ts := range groups {
		items := make([]GroupItem, 0, len(ts))
		for _, t := range ts {
			items = append(items, GroupItem{Name: t.Name, Confidence: t.Confidence, Version: nullable(t.Version)})
		}
		out[name] = items
	}
	return out
}

func cleanRecommendations(recs []Recommendation) []CleanRecommendation {
	out := make([]CleanRecommendation, 0, len(recs))
	for _, r := range recs {
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		triggers := r.TriggeredBy
		if triggers == nil {
			triggers = []Trigger{}
		}
		out = append(out, CleanRecommendation{
			Title:       r.Title,
			Product:     r.Product,
			Priority:    r.Priority,
			Description: nullable(r.Description),
			URL:         nullable(r.URL),
			Tags:        tags,
			Reason:      nullable(r.Reason),
			Offer:       nullable(r.Offer),
			TriggeredBy: triggers,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := PriorityWeight(out[i].Priority), PriorityWeight(out[j].Priority)
		if pi != pj {
			return pi > pj
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// productsByTechnology indexes technology-triggered recommendations by the
// technology that triggered them, one entry per (product, priority)
func productsByTechnology(recs []Recommendation) map[string][]ProductRef {
	index := map[string][]ProductRef{}
	seen := map[string]map[string]struct{}{}

	for _, r := range recs {
		for _, t := range r.TriggeredBy {
			if t.Type != TriggerTechnology || t.Key == "" {
				continue
			}
			if seen[t.Key] == nil {
				seen[t.Key] = map[string]struct{}{}
			}
			k := r.Product + "||" + r.Priority
			if _, dup := seen[t.Key][k]; dup {
				continue
			}
			seen[t.Key][k] = struct{}{}
			index[t.Key] = append(index[t.Key], ProductRef{
				Product:  r.Product,
				Priority: r.Priority,
				Reason:   nullable(r.Reason),
			})
		}
	}
	return index
}

func slimCategories(cs []CategoryRef) []Ref {
	out := make([]Ref, 0, len(cs))
	for _, c := range cs {
		out = append(out, Ref{ID: c.ID, Name: c.Name})
	}
	return out
}

func slimGroups(gs []GroupRef) []Ref {
	out := make([]Ref, 0, len(gs))
	for _, g := range gs {
		out = append(out, Ref(g))
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
