package techdb

import (
	"sort"
	"strconv"
)

// TaxonomyCategory is a category as listed by Taxonomy
type TaxonomyCategory struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Groups []string `json:"groups"`
}

// TaxonomyGroup is a group as listed by Taxonomy
type TaxonomyGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TaxonomyView lists every category and group of a Database
type TaxonomyView struct {
	Categories []TaxonomyCategory `json:"categories"`
	Groups     []TaxonomyGroup    `json:"groups"`
	Meta       Meta               `json:"meta"`
}

// Taxonomy returns the categories and groups of db sorted by name, then id
func Taxonomy(db *Database) TaxonomyView {
	view := TaxonomyView{
		Categories: make([]TaxonomyCategory, 0, len(db.Categories)),
		Groups:     make([]TaxonomyGroup, 0, len(db.Groups)),
		Meta:       db.Meta,
	}

	for id, c := range db.Categories {
		groups := make([]string, 0, len(c.Groups))
		for _, g := range c.Groups {
			groups = append(groups, strconv.Itoa(g))
		}
		view.Categories = append(view.Categories, TaxonomyCategory{ID: id, Name: c.Name, Groups: groups})
	}
	sort.Slice(view.Categories, func(i, j int) bool {
		a, b := view.Categories[i], view.Categories[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})

	for id, g := range db.Groups {
		view.Groups = append(view.Groups, TaxonomyGroup{ID: id, Name: g.Name})
	}
	sort.Slice(view.Groups, func(i, j int) bool {
		a, b := view.Groups[i], view.Groups[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})

	return view
}
