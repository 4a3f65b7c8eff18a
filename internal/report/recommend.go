package report

import (
	"math"
	"sort"
	"strings"
)

// Trigger types, from most to least specific
const (
	TriggerTechnology = "technology"
	TriggerCategory   = "category"
	TriggerCategoryID = "categoryId"
	TriggerGroup      = "group"
	TriggerGroupID    = "groupId"
)

// Trigger records what caused a recommendation
type Trigger struct {
	Type    string `json:"triggerType"`
	Key     string `json:"key"`
	Matched string `json:"matched"`
}

// Recommendation is a merged, scored mapping item
type Recommendation struct {
	Title       string    `json:"title"`
	Product     string    `json:"product"`
	Priority    string    `json:"priority"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	Tags        []string  `json:"tags"`
	Reason      string    `json:"reason,omitempty"`
	Offer       string    `json:"offer,omitempty"`
	TriggeredBy []Trigger `json:"triggeredBy"`
	TriggerType string    `json:"triggerType"`
	Score       float64   `json:"score"`
}

// PriorityWeight ranks high 3, medium 2, anything else 1
func PriorityWeight(p string) int {
	switch p {
	case "high":
		return 3
	case "medium":
		return 2
	default:
		return 1
	}
}

func triggerWeight(t string) int {
	switch t {
	case TriggerTechnology:
		return 4
	case TriggerCategory, TriggerCategoryID:
		return 3
	case TriggerGroup, TriggerGroupID:
		return 2
	default:
		return 1
	}
}

func triggerBonus(t string) float64 {
	switch t {
	case TriggerTechnology:
		return 2
	case TriggerCategory, TriggerCategoryID:
		return 1
	case TriggerGroup, TriggerGroupID:
		return 0.5
	default:
		return 0
	}
}

// computeScore is priority weight plus up to three triggers plus a bonus for the
// most specific trigger type
func (r *Recommendation) computeScore() float64 {
	return float64(PriorityWeight(r.Priority)) +
		math.Min(3, float64(len(r.TriggeredBy))) +
		triggerBonus(r.TriggerType)
}

// Recommend collects every mapping item triggered by a technology at or above
// minConfidence, merges duplicates by (title, product), scores them and keeps
// only the best group-triggered item per product
func Recommend(ts []Technology, m *Mapping, minConfidence int) []Recommendation {
	if m == nil {
		return []Recommendation{}
	}

	var raw []Recommendation
	addAll := func(items []Item, triggerType, key, matched string) {
		for _, it := range items {
			raw = append(raw, Recommendation{
				Title:       it.Title,
				Product:     it.Product,
				Priority:    it.Priority,
				Description: it.Description,
				URL:         it.URL,
				Tags:        it.Tags,
				Reason:      it.Reason,
				Offer:       it.Offer,
				TriggerType: triggerType,
				TriggeredBy: []Trigger{{Type: triggerType, Key: key, Matched: matched}},
			})
		}
	}

	var kept []Technology
	for _, t := range ts {
		if t.Confidence >= minConfidence {
			kept = append(kept, t)
		}
	}

	for _, t := range kept {
		key := strings.TrimSpace(t.Name)
		if key == "" {
			key = strings.TrimSpace(t.Slug)
		}
		if items, ok := m.ByTechnology[key]; ok && key != "" {
			addAll(items, TriggerTechnology, key, key)
		}
	}
	for _, t := range kept {
		for _, c := range t.Categories {
			if items, ok := m.ByCategory[c.Name]; ok && c.Name != "" {
				addAll(items, TriggerCategory, c.Name, c.Name)
			}
			if items, ok := m.ByCategoryID[c.ID]; ok && c.ID != "" {
				addAll(items, TriggerCategoryID, c.ID, firstNonEmpty(c.Name, c.ID))
			}
		}
	}
	for _, t := range kept {
		for _, g := range t.Groups {
			if items, ok := m.ByGroup[g.Name]; ok && g.Name != "" {
				addAll(items, TriggerGroup, g.Name, g.Name)
			}
			if items, ok := m.ByGroupID[g.ID]; ok && g.ID != "" {
				addAll(items, TriggerGroupID, g.ID, firstNonEmpty(g.Name, g.ID))
			}
		}
	}

	merged := mergeRecommendations(raw)
	for i := range merged {
		merged[i].Score = merged[i].computeScore()
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Title < merged[j].Title
	})
	return capGroupNoise(merged)
}

func recommendationKey(r Recommendation) string {
	return strings.ToLower(strings.TrimSpace(r.Title)) + "||" + strings.ToLower(strings.TrimSpace(r.Product))
}

// mergeRecommendations folds duplicates together in first-seen order
func mergeRecommendations(raw []Recommendation) []Recommendation {
	index := map[string]int{}
	out := []Recommendation{}

	for _, r := range raw {
		k := recommendationKey(r)
		i, exists := index[k]
		if !exists {
			r.Tags = cleanTags(r.Tags)
			index[k] = len(out)
			out = append(out, r)
			continue
		}

		e := &out[i]
		if PriorityWeight(r.Priority) > PriorityWeight(e.Priority) {
			e.Priority = r.Priority
		}
		e.Description = firstNonEmpty(e.Description, r.Description)
		e.URL = firstNonEmpty(e.URL, r.URL)
		e.Reason = firstNonEmpty(e.Reason, r.Reason)
		e.Offer = firstNonEmpty(e.Offer, r.Offer)
		e.Tags = cleanTags(append(e.Tags, r.Tags...))
		e.TriggeredBy = dedupeTriggers(append(e.TriggeredBy, r.TriggeredBy...))
		if triggerWeight(r.TriggerType) > triggerWeight(e.TriggerType) {
			e.TriggerType = r.TriggerType
		}
	}
	return out
}

// capGroupNoise keeps only the highest scoring group-triggered item per product
func capGroupNoise(recs []Recommendation) []Recommendation {
	best := map[string]int{}
	for i, r := range recs {
		if r.TriggerType != TriggerGroup {
			continue
		}
		key := productKey(r)
		if j, ok := best[key]; !ok || r.Score > recs[j].Score {
			best[key] = i
		}
	}

	out := make([]Recommendation, 0, len(recs))
	for i, r := range recs {
		if r.TriggerType == TriggerGroup && best[productKey(r)] != i {
			continue
		}
		out = append(out, r)
	}
	return out
}

func productKey(r Recommendation) string {
	if p := strings.TrimSpace(r.Product); p != "" {
		return p
	}
	return "__none__"
}

func dedupeTriggers(ts []Trigger) []Trigger {
	seen := map[Trigger]struct{}{}
	out := make([]Trigger, 0, len(ts))
	for _, t := range ts {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func cleanTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, t := range tags {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
