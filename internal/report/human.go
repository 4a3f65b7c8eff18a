package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
)

const (
	maxHumanTechnologies    = 200
	maxHumanRecommendations = 100
	topRecommendations      = 5
	defaultCellWidth        = 48
)

// HumanOptions controls the terminal rendering
type HumanOptions struct {
	// Inspect narrows the output to one technology, by name or slug
	Inspect string
	// Wide disables cell truncation
	Wide bool
	// CellWidth caps each table cell, in runes. Zero means the default.
	CellWidth int
}

// FormatHuman renders a clean report as terminal sections and tables
func FormatHuman(c *CleanReport, opts HumanOptions) string {
	if c == nil {
		c = Clean(nil, false)
	}
	if opts.CellWidth <= 0 {
		opts.CellWidth = defaultCellWidth
	}
	h := &humanWriter{opts: opts}
	products := productsForTechnologies(c.Recommendations)

	h.line(pterm.DefaultBox.Sprint("Stackprobe Analysis"))
	h.blank()
	h.kv("URL", c.URL)
	if c.FinalURL != "" && c.FinalURL != c.URL {
		h.kv("Final URL", c.FinalURL)
	}
	if c.Meta != nil {
		h.kv("HTTP Status", strconv.Itoa(c.Meta.Fetch.Status))
		if c.Meta.Fetch.ContentType != "" {
			h.kv("Content Type", c.Meta.Fetch.ContentType)
		}
		h.kv("Bytes", strconv.FormatInt(c.Meta.Fetch.Bytes, 10))
		h.kv("Fetch Time", fmt.Sprintf("%d ms", c.Meta.Fetch.TimingMs))
		h.kv("Analysis Time", fmt.Sprintf("%d ms", c.Meta.Timings.AnalysisMs))
		h.kv("Total Time", fmt.Sprintf("%d ms", c.Meta.Timings.TotalMs))
	}
	h.blank()

	h.section("Summary")
	h.kv("Technologies detected", strconv.Itoa(c.Summary.Totals.Detections))
	h.kv("Groups", strconv.Itoa(c.Summary.Totals.Groups))
	h.kv("Categories", strconv.Itoa(c.Summary.Totals.Categories))
	h.blank()

	h.section("Top Recommendations")
	if len(c.Recommendations) == 0 {
		h.line("No recommendations were triggered.")
	}
	for i, rec := range topByPriority(c.Recommendations, topRecommendations) {
		line := fmt.Sprintf("%d) %s (%s): %s", i+1, orDefault(rec.Product, "Unknown product"),
			strings.ToLower(orDefault(rec.Priority, "medium")), orDefault(rec.Title, "Untitled"))
		if by := summarizeTriggers(rec.TriggeredBy, 2, 90); by != "" {
			line += " (Triggered by: " + by + ")"
		}
		h.line(line)
	}
	h.blank()

	if needle := strings.TrimSpace(opts.Inspect); needle != "" {
		h.inspect(c, products, needle)
		return h.String()
	}

	h.technologies(c.Technologies, products)
	h.recommendations(c.Recommendations, maxHumanRecommendations)

	h.line("Notes: technology-triggered recommendations are strongest; category-triggered ones are broader.")
	h.line("Primary product is shown first. Use --wide to view full cell text.")
	return h.String()
}

type humanWriter struct {
	opts HumanOptions
	b    strings.Builder
}

func (h *humanWriter) String() string {
	return strings.TrimRight(h.b.String(), "\n")
}

func (h *humanWriter) line(s string) {
	h.b.WriteString(strings.TrimRight(s, "\n"))
	h.b.WriteByte('\n')
}

func (h *humanWriter) blank() {
	h.b.WriteByte('\n')
}

func (h *humanWriter) kv(k, v string) {
	h.line(k + ": " + strings.TrimSpace(v))
}

func (h *humanWriter) section(name string) {
	h.line(strings.Trim(pterm.DefaultSection.Sprint(name), "\n"))
}

func (h *humanWriter) table(header []string, rows [][]string) {
	data := pterm.TableData{header}
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = h.cell(cell)
		}
		data = append(data, cells)
	}
	out, err := pterm.DefaultTable.WithHasHeader(true).WithBoxed(true).WithData(data).Srender()
	if err != nil {
		// Srender only fails on malformed data; fall back to plain rows
		for _, row := range data {
			h.line(strings.Join(row, " | "))
		}
		return
	}
	h.line(out)
}

func (h *humanWriter) cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if h.opts.Wide {
		return s
	}
	return truncateRunes(s, h.opts.CellWidth)
}

func (h *humanWriter) technologies(ts []CleanTechnology, products map[string][]string) {
	h.section(fmt.Sprintf("Technologies (%d)", len(ts)))
	if len(ts) == 0 {
		h.line("No technologies detected above the confidence threshold.")
		h.blank()
		return
	}

	shown := ts
	if len(shown) > maxHumanTechnologies {
		shown = shown[:maxHumanTechnologies]
	}
	var mapped int
	var unmapped []string
	rows := make([][]string, 0, len(shown))
	for _, t := range shown {
		name := orDefault(t.Name, orDefault(t.Slug, "Unknown"))
		replacement := formatProducts(products, name, t.Slug, 2)
		if replacement != "" {
			mapped++
		} else if len(unmapped) < 8 {
			unmapped = append(unmapped, name)
		}
		rows = append(rows, []string{
			name,
			strconv.Itoa(t.Confidence),
			deref(t.Version),
			replacement,
			joinNames(t.Categories, 3),
			joinNames(t.Groups, 3),
		})
	}
	h.table([]string{"Technology", "Conf", "Version", "Replacement (Primary > Secondary)", "Categories", "Groups"}, rows)
	h.blank()

	h.line(fmt.Sprintf("Mapped replacements: %d/%d technologies", mapped, len(shown)))
	if len(unmapped) > 0 {
		h.line("No replacement mapped for: " + strings.Join(unmapped, ", "))
	}
	if len(ts) > len(shown) {
		h.line(fmt.Sprintf("(Showing first %d technologies. Total: %d)", len(shown), len(ts)))
	}
	h.blank()
}

func (h *humanWriter) recommendations(recs []CleanRecommendation, limit int) {
	h.section(fmt.Sprintf("Recommendations (%d)", len(recs)))
	if len(recs) == 0 {
		h.line("No recommendations were triggered.")
		h.blank()
		return
	}
	shown := recs
	if len(shown) > limit {
		shown = shown[:limit]
	}
	h.table([]string{"Priority", "Product", "Recommendation", "Description", "Triggered by"}, recommendationRows(shown))
	if len(recs) > len(shown) {
		h.blank()
		h.line(fmt.Sprintf("(Showing first %d recommendations. Total: %d)", len(shown), len(recs)))
	}
	h.blank()
}

func (h *humanWriter) inspect(c *CleanReport, products map[string][]string, needle string) {
	h.section("Inspect: " + needle)

	tech := findTechnology(c.Technologies, needle)
	if tech == nil {
		h.line("No detected technology matched: " + needle)
		h.blank()
		h.line("Tip: technology names are case-sensitive.")
		return
	}

	h.kv("Technology", orDefault(tech.Name, tech.Slug))
	if v := deref(tech.Version); v != "" {
		h.kv("Version", v)
	}
	h.kv("Confidence", strconv.Itoa(tech.Confidence))
	if cats := joinNames(tech.Categories, 0); cats != "" {
		h.kv("Categories", cats)
	}
	if groups := joinNames(tech.Groups, 0); groups != "" {
		h.kv("Groups", groups)
	}
	if replacement := formatProducts(products, tech.Name, tech.Slug, 5); replacement != "" {
		h.kv("Replacement", replacement)
	}
	h.blank()

	keys := map[string]bool{tech.Name: true, tech.Slug: true}
	var recs []CleanRecommendation
	for _, rec := range c.Recommendations {
		for _, t := range rec.TriggeredBy {
			if t.Type == TriggerTechnology && keys[orDefault(t.Key, t.Matched)] {
				recs = append(recs, rec)
				break
			}
		}
	}

	h.section(fmt.Sprintf("Triggered Recommendations (%d)", len(recs)))
	if len(recs) == 0 {
		h.line("No recommendations were triggered by this technology.")
	} else {
		h.table([]string{"Priority", "Product", "Recommendation", "Description", "Triggered by"}, recommendationRows(recs))
	}
	h.blank()
	h.line("Tip: remove --inspect to see the full tables.")
}

func recommendationRows(recs []CleanRecommendation) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []string{
			orDefault(rec.Priority, "medium"),
			orDefault(rec.Product, "Unknown product"),
			orDefault(rec.Title, "Untitled"),
			orDefault(deref(rec.Description), deref(rec.Reason)),
			summarizeTriggers(rec.TriggeredBy, 3, 120),
		})
	}
	return rows
}

func findTechnology(ts []CleanTechnology, needle string) *CleanTechnology {
	for i := range ts {
		if ts[i].Name == needle {
			return &ts[i]
		}
	}
	for i := range ts {
		if ts[i].Slug == needle {
			return &ts[i]
		}
	}
	return nil
}

// priorityRank puts high first; unknown priorities sort last
func priorityRank(p string) int {
	switch strings.ToLower(p) {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

func topByPriority(recs []CleanRecommendation, n int) []CleanRecommendation {
	top := append([]CleanRecommendation(nil), recs...)
	sort.SliceStable(top, func(i, j int) bool {
		ri, rj := priorityRank(top[i].Priority), priorityRank(top[j].Priority)
		if ri != rj {
			return ri < rj
		}
		if top[i].Product != top[j].Product {
			return top[i].Product < top[j].Product
		}
		return top[i].Title < top[j].Title
	})
	if len(top) > n {
		top = top[:n]
	}
	return top
}

// productsForTechnologies maps a technology key to its products, best
// priority first and then in first-seen order
func productsForTechnologies(recs []CleanRecommendation) map[string][]string {
	type rank struct {
		priority  int
		firstSeen int
	}
	perTech := map[string]map[string]rank{}

	for i, rec := range recs {
		product := strings.TrimSpace(rec.Product)
		if product == "" {
			continue
		}
		r := priorityRank(rec.Priority)
		for _, t := range rec.TriggeredBy {
			key := strings.TrimSpace(orDefault(t.Key, t.Matched))
			if t.Type != TriggerTechnology || key == "" {
				continue
			}
			if perTech[key] == nil {
				perTech[key] = map[string]rank{}
			}
			cur, ok := perTech[key][product]
			if !ok {
				perTech[key][product] = rank{priority: r, firstSeen: i}
				continue
			}
			cur.priority = min(cur.priority, r)
			cur.firstSeen = min(cur.firstSeen, i)
			perTech[key][product] = cur
		}
	}

	out := make(map[string][]string, len(perTech))
	for key, ps := range perTech {
		names := make([]string, 0, len(ps))
		for p := range ps {
			names = append(names, p)
		}
		sort.Slice(names, func(i, j int) bool {
			a, b := ps[names[i]], ps[names[j]]
			if a.priority != b.priority {
				return a.priority < b.priority
			}
			if a.firstSeen != b.firstSeen {
				return a.firstSeen < b.firstSeen
			}
			return names[i] < names[j]
		})
		out[key] = names
	}
	return out
}

// formatProducts lists up to limit products for a technology found by name or
// slug, noting how many were left out
func formatProducts(products map[string][]string, name, slug string, limit int) string {
	var list []string
	seen := map[string]bool{}
	for _, key := range []string{name, slug} {
		for _, p := range products[strings.TrimSpace(key)] {
			if !seen[p] {
				seen[p] = true
				list = append(list, p)
			}
		}
	}
	if len(list) == 0 {
		return ""
	}
	if len(list) <= limit {
		return strings.Join(list, " > ")
	}
	return strings.Join(list[:limit], " > ") + fmt.Sprintf(" +%d", len(list)-limit)
}

func summarizeTriggers(triggers []Trigger, maxItems, maxLen int) string {
	var parts []string
	for _, t := range triggers {
		key := strings.TrimSpace(orDefault(t.Key, t.Matched))
		if t.Type == "" || key == "" {
			continue
		}
		switch t.Type {
		case TriggerTechnology:
			parts = append(parts, "Tech: "+key)
		case TriggerCategory:
			parts = append(parts, "Category: "+key)
		case TriggerGroup:
			parts = append(parts, "Group: "+key)
		default:
			parts = append(parts, t.Type+": "+key)
		}
		if len(parts) >= maxItems {
			break
		}
	}
	if len(parts) == 0 {
		return ""
	}
	s := strings.Join(parts, "; ")
	if rest := len(triggers) - len(parts); rest > 0 {
		s += fmt.Sprintf("; +%d", rest)
	}
	return truncateRunes(s, maxLen)
}

func joinNames(refs []Ref, limit int) string {
	var names []string
	for _, r := range refs {
		if r.Name == "" {
			continue
		}
		names = append(names, r.Name)
		if limit > 0 && len(names) == limit {
			break
		}
	}
	return strings.Join(names, ", ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return strings.TrimRight(string(r[:n-1]), " ") + "…"
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
