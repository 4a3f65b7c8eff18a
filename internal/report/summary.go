package report

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// Totals counts detections and the distinct groups and categories they span
type Totals struct {
	Detections int `json:"detections"`
	Groups     int `json:"groups"`
	Categories int `json:"categories"`
}

// Count is one named tally
type Count struct {
	Name  string
	Count int
}

// Counts is an ordered tally. It encodes as a JSON object whose keys keep
// the slice order.
type Counts []Count

// MarshalJSON writes {"name": count, ...} in slice order
func (c Counts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(entry.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(entry.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Summary aggregates a report's detections
type Summary struct {
	Totals           Totals `json:"totals"`
	CountsByGroup    Counts `json:"countsByGroup"`
	CountsByCategory Counts `json:"countsByCategory"`
}

// Summarize tallies technologies per group and per category
func Summarize(ts []Technology) Summary {
	byGroup := map[string]int{}
	byCategory := map[string]int{}

	for _, t := range ts {
		for _, g := range groupNames(t) {
			byGroup[g]++
		}
		for _, c := range t.Categories {
			if c.Name != "" {
				byCategory[c.Name]++
			}
		}
	}

	return Summary{
		Totals: Totals{
			Detections: len(ts),
			Groups:     len(byGroup),
			Categories: len(byCategory),
		},
		CountsByGroup:    sortedCounts(byGroup),
		CountsByCategory: sortedCounts(byCategory),
	}
}

// sortedCounts orders by count desc, then name asc
func sortedCounts(m map[string]int) Counts {
	out := make(Counts, 0, len(m))
	for name, n := range m {
		out = append(out, Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
