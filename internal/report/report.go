package report

import (
	"fmt"
	"sort"

	"github.com/olegrjumin/stackprobe/internal/detect"
	"github.com/olegrjumin/stackprobe/internal/fetch"
	"github.com/olegrjumin/stackprobe/internal/httpclient"
	"github.com/olegrjumin/stackprobe/internal/techdb"
)

// OtherGroup collects technologies without any group
const OtherGroup = "Other"

// GroupRef identifies a group
type GroupRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CategoryRef identifies a category and the groups it belongs to
type CategoryRef struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Groups []GroupRef `json:"groups"`
}

// Technology is a detection enriched with rule database metadata
type Technology struct {
	detect.Detection
	Description string        `json:"description,omitempty"`
	Website     string        `json:"website,omitempty"`
	Icon        string        `json:"icon,omitempty"`
	Categories  []CategoryRef `json:"categories"`
	Groups      []GroupRef    `json:"groups"`
}

// FetchInfo describes the primary document fetch
type FetchInfo struct {
	Status      int               `json:"status"`
	ContentType string            `json:"contentType"`
	Bytes       int64             `json:"bytes"`
	TimingMs    int64             `json:"timingMs"`
	Phases      httpclient.Phases `json:"phases"`
	Headers     fetch.Headers     `json:"headers"`
}

// Timings are the analysis durations in milliseconds
type Timings struct {
	AnalysisMs int64 `json:"analysisMs"`
	TotalMs    int64 `json:"totalMs"`
}

// DebugSignals is a small preview of what the matchers saw
type DebugSignals struct {
	MetaKeys         []string `json:"metaKeys"`
	ScriptSrcPreview []string `json:"scriptSrcPreview"`
	CookieNames      []string `json:"cookieNames"`
}

// Report is the full analysis result
type Report struct {
	OK              bool                    `json:"ok"`
	URL             string                  `json:"url"`
	FinalURL        string                  `json:"finalUrl"`
	Fetch           FetchInfo               `json:"fetch"`
	Timings         Timings                 `json:"timings"`
	Detections      []Technology            `json:"detections"`
	Recommendations []Recommendation        `json:"recommendations"`
	Summary         Summary                 `json:"summary"`
	Groups          map[string][]Technology `json:"groups"`
	DebugSignals    *DebugSignals           `json:"_debugSignals,omitempty"`
}

// Enrich attaches description, website, icon, categories and groups to each
// detection
func Enrich(db *techdb.Database, detections []detect.Detection) []Technology {
	out := make([]Technology, 0, len(detections))
	for _, d := range detections {
		t := Technology{Detection: d, Categories: []CategoryRef{}, Groups: []GroupRef{}}

		var def *techdb.Technology
		if db != nil {
			def = db.Technologies[d.Slug]
		}
		if def == nil {
			out = append(out, t)
			continue
		}
		t.Description = def.Description
		t.Website = def.Website
		t.Icon = def.Icon

		seen := map[string]struct{}{}
		for _, id := range def.Cats {
			cat, ok := db.Category(id)
			if !ok {
				continue
			}
			ref := CategoryRef{ID: fmt.Sprint(id), Name: cat.Name, Groups: []GroupRef{}}
			for _, gid := range cat.Groups {
				g, ok := db.Group(gid)
				if !ok {
					continue
				}
				gr := GroupRef{ID: fmt.Sprint(gid), Name: g.Name}
				ref.Groups = append(ref.Groups, gr)
				if _, dup := seen[gr.ID]; !dup {
					seen[gr.ID] = struct{}{}
					t.Groups = append(t.Groups, gr)
				}
			}
			t.Categories = append(t.Categories, ref)
		}
		out = append(out, t)
	}
	return out
}

// SortTechnologies orders by confidence desc, then name asc
func SortTechnologies(ts []Technology) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Confidence != ts[j].Confidence {
			return ts[i].Confidence > ts[j].Confidence
		}
		return ts[i].Name < ts[j].Name
	})
}

// Group buckets technologies by group name. A technology appears in every
// group it belongs to, or in OtherGroup when it has none.
func Group(ts []Technology) map[string][]Technology {
	out := map[string][]Technology{}
	for _, t := range ts {
		for _, name := range groupNames(t) {
			out[name] = append(out[name], t)
		}
	}
	for name := range out {
		SortTechnologies(out[name])
	}
	return out
}

// groupNames returns the non-empty group names of t, or OtherGroup
func groupNames(t Technology) []string {
	var names []string
	for _, g := range t.Groups {
		if g.Name != "" {
			names = append(names, g.Name)
		}
	}
	if len(names) == 0 {
		return []string{OtherGroup}
	}
	return names
}
