package techdb

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Technology is one entry of the rule database. Rule categories that are
// missing or malformed in the source data are left empty.
type Technology struct {
	Slug        string `json:"-"`
	Name        string `json:"-"`
	Cats        IntList
	Description string
	Website     string
	Icon        string
	CPE         string

	Headers   PatternMap
	Cookies   PatternMap
	Meta      PatternMap
	HTML      PatternList
	Text      PatternList
	URL       PatternList
	ScriptSrc PatternList
	Scripts   PatternList
	CSS       PatternList
	DOM       DOMRules

	Implies          SlugList
	Excludes         SlugList
	Requires         SlugList
	RequiresCategory SlugList
}

// technologyJSON mirrors the on-disk field names
type technologyJSON struct {
	Cats             IntList     `json:"cats"`
	Description      lenientStr  `json:"description"`
	Website          lenientStr  `json:"website"`
	Icon             lenientStr  `json:"icon"`
	CPE              lenientStr  `json:"cpe"`
	Headers          PatternMap  `json:"headers"`
	Cookies          PatternMap  `json:"cookies"`
	Meta             PatternMap  `json:"meta"`
	HTML             PatternList `json:"html"`
	Text             PatternList `json:"text"`
	URL              PatternList `json:"url"`
	ScriptSrc        PatternList `json:"scriptSrc"`
	Scripts          PatternList `json:"scripts"`
	CSS              PatternList `json:"css"`
	DOM              DOMRules    `json:"dom"`
	Implies          SlugList    `json:"implies"`
	Excludes         SlugList    `json:"excludes"`
	Requires         SlugList    `json:"requires"`
	RequiresCategory SlugList    `json:"requiresCategory"`
}

// UnmarshalJSON decodes a technology. Individual fields never fail the decode.
func (t *Technology) UnmarshalJSON(data []byte) error {
	var raw technologyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		// Not an object at all; keep an empty technology
		return nil
	}
	*t = Technology{
		Slug:             t.Slug,
		Name:             t.Name,
		Cats:             raw.Cats,
		Description:      string(raw.Description),
		Website:          string(raw.Website),
		Icon:             string(raw.Icon),
		CPE:              string(raw.CPE),
		Headers:          raw.Headers,
		Cookies:          raw.Cookies,
		Meta:             raw.Meta,
		HTML:             raw.HTML,
		Text:             raw.Text,
		URL:              raw.URL,
		ScriptSrc:        raw.ScriptSrc,
		Scripts:          raw.Scripts,
		CSS:              raw.CSS,
		DOM:              raw.DOM,
		Implies:          raw.Implies,
		Excludes:         raw.Excludes,
		Requires:         raw.Requires,
		RequiresCategory: raw.RequiresCategory,
	}
	return nil
}

// Category is one entry of categories.json
type Category struct {
	ID       string  `json:"-"`
	Name     string  `json:"name"`
	Priority int     `json:"priority"`
	Groups   IntList `json:"groups"`
}

// Group is one entry of groups.json
type Group struct {
	ID   string `json:"-"`
	Name string `json:"name"`
}

// Index lists, per rule category, the technologies declaring rules of that
// category. Slugs are sorted.
type Index map[string][]string

// Index categories
const (
	IndexHeaders          = "headers"
	IndexScriptSrc        = "scriptSrc"
	IndexMeta             = "meta"
	IndexURL              = "url"
	IndexCookies          = "cookies"
	IndexScripts          = "scripts"
	IndexText             = "text"
	IndexDOM              = "dom"
	IndexHTML             = "html"
	IndexCSS              = "css"
	IndexImplies          = "implies"
	IndexExcludes         = "excludes"
	IndexRequires         = "requires"
	IndexRequiresCategory = "requiresCategory"
)

// Meta describes where a Database came from
type Meta struct {
	Source                string    `json:"source"`
	TechCount             int       `json:"techCount"`
	CategoryCount         int       `json:"categoryCount"`
	GroupCount            int       `json:"groupCount"`
	TechnologyFilesLoaded int       `json:"technologyFilesLoaded"`
	LoadedAt              time.Time `json:"loadedAt"`
}

// Database is the loaded rule set. It is read-only once built.
type Database struct {
	Technologies map[string]*Technology
	Categories   map[string]Category
	Groups       map[string]Group
	Index        Index
	Root         string
	Meta         Meta
}

// Slugs returns the technologies to scan for a rule category, falling back to
// every technology in sorted order when the index is absent
func (db *Database) Slugs(category string) []string {
	if db.Index != nil {
		if slugs, ok := db.Index[category]; ok {
			return slugs
		}
	}
	all := make([]string, 0, len(db.Technologies))
	for slug := range db.Technologies {
		all = append(all, slug)
	}
	sort.Strings(all)
	return all
}

// Category looks up a category by numeric id
func (db *Database) Category(id int) (Category, bool) {
	c, ok := db.Categories[fmt.Sprint(id)]
	return c, ok
}

// Group looks up a group by numeric id
func (db *Database) Group(id int) (Group, bool) {
	g, ok := db.Groups[fmt.Sprint(id)]
	return g, ok
}

// BuildIndex computes the per-category index of technologies
func BuildIndex(technologies map[string]*Technology) Index {
	idx := Index{
		IndexHeaders: {}, IndexScriptSrc: {}, IndexMeta: {}, IndexURL: {}, IndexCookies: {},
		IndexScripts: {}, IndexText: {}, IndexDOM: {}, IndexHTML: {}, IndexCSS: {},
		IndexImplies: {}, IndexExcludes: {}, IndexRequires: {}, IndexRequiresCategory: {},
	}

	slugs := make([]string, 0, len(technologies))
	for slug := range technologies {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	for _, slug := range slugs {
		t := technologies[slug]
		if t == nil {
			continue
		}
		add := func(category string, present bool) {
			if present {
				idx[category] = append(idx[category], slug)
			}
		}
		add(IndexHeaders, len(t.Headers) > 0)
		add(IndexScriptSrc, len(t.ScriptSrc) > 0)
		add(IndexMeta, len(t.Meta) > 0)
		add(IndexURL, len(t.URL) > 0)
		add(IndexCookies, len(t.Cookies) > 0)
		add(IndexScripts, len(t.Scripts) > 0)
		add(IndexText, len(t.Text) > 0)
		add(IndexDOM, len(t.DOM) > 0)
		add(IndexHTML, len(t.HTML) > 0)
		add(IndexCSS, len(t.CSS) > 0)
		add(IndexImplies, len(t.Implies) > 0)
		add(IndexExcludes, len(t.Excludes) > 0)
		add(IndexRequires, len(t.Requires) > 0)
		add(IndexRequiresCategory, len(t.RequiresCategory) > 0)
	}
	return idx
}

// newDatabase assembles a Database and fills in derived fields
func newDatabase(source, root string, techs map[string]*Technology, cats map[string]Category, groups map[string]Group, files int) *Database {
	for slug, t := range techs {
		if t == nil {
			delete(techs, slug)
			continue
		}
		t.Slug = slug
		if strings.TrimSpace(t.Name) == "" {
			t.Name = slug
		}
	}
	for id, c := range cats {
		c.ID = id
		cats[id] = c
	}
	for id, g := range groups {
		g.ID = id
		groups[id] = g
	}

	return &Database{
		Technologies: techs,
		Categories:   cats,
		Groups:       groups,
		Index:        BuildIndex(techs),
		Root:         root,
		Meta: Meta{
			Source:                source,
			TechCount:             len(techs),
			CategoryCount:         len(cats),
			GroupCount:            len(groups),
			TechnologyFilesLoaded: files,
			LoadedAt:              time.Now(),
		},
	}
}
