package techdb

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFixture lays out a minimal rule tree. techs maps shard file name to contents.
func writeFixture(t *testing.T, techs map[string]string) string {
	t.Helper()
	root := t.TempDir()
	techDir := filepath.Join(root, "technologies")
	require.NoError(t, os.MkdirAll(techDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(root, "categories.json"),
		[]byte(`{"12": {"name": "JavaScript frameworks", "priority": 8, "groups": [9]}, "1": {"name": "CMS", "groups": [3]}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "groups.json"),
		[]byte(`{"9": {"name": "Web development"}, "3": {"name": "Content"}}`), 0o644))

	for _, f := range TechnologyFiles() {
		body, ok := techs[f]
		if !ok {
			body = "{}"
		}
		require.NoError(t, os.WriteFile(filepath.Join(techDir, f), []byte(body), 0o644))
	}
	return root
}

func TestLoadFiles(t *testing.T) {
	root := writeFixture(t, map[string]string{
		"r.json": `{
			"React": {
				"cats": [12],
				"website": "https://react.dev",
				"html": "<[^>]+data-react",
				"scriptSrc": ["react(?:-dom)?[.-]([\\d.]+)\\.js\\;version:\\1"],
				"dom": {"#root": {"exists": ""}},
				"implies": "JavaScript"
			}
		}`,
		"w.json": `{
			"WordPress": {
				"cats": ["1"],
				"meta": {"generator": "^WordPress ?([\\d.]+)?\\;version:\\1"},
				"headers": {"X-Pingback": ["/xmlrpc\\.php$"]},
				"excludes": "Joomla, Drupal"
			}
		}`,
	})

	db, err := LoadFiles(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, SourceFiles, db.Meta.Source)
	assert.Equal(t, 2, db.Meta.TechCount)
	assert.Equal(t, 2, db.Meta.CategoryCount)
	assert.Equal(t, 2, db.Meta.GroupCount)
	assert.Equal(t, 27, db.Meta.TechnologyFilesLoaded)

	react := db.Technologies["React"]
	require.NotNil(t, react)
	assert.Equal(t, "React", react.Slug)
	assert.Equal(t, "React", react.Name)
	assert.Equal(t, IntList{12}, react.Cats)
	assert.Equal(t, PatternList{"<[^>]+data-react"}, react.HTML)
	assert.Equal(t, SlugList{"JavaScript"}, react.Implies)
	require.Len(t, react.DOM, 1)
	assert.True(t, react.DOM[0].Exists)

	wp := db.Technologies["WordPress"]
	require.NotNil(t, wp)
	assert.Equal(t, IntList{1}, wp.Cats)
	assert.Equal(t, SlugList{"Joomla", "Drupal"}, wp.Excludes)
	assert.Equal(t, []string{"X-Pingback"}, wp.Headers.Keys())

	cat, ok := db.Category(12)
	require.True(t, ok)
	assert.Equal(t, "12", cat.ID)
	assert.Equal(t, "JavaScript frameworks", cat.Name)
	grp, ok := db.Group(9)
	require.True(t, ok)
	assert.Equal(t, "Web development", grp.Name)

	assert.Equal(t, []string{"React"}, db.Index[IndexHTML])
	assert.Equal(t, []string{"WordPress"}, db.Index[IndexMeta])
	assert.Equal(t, []string{"React"}, db.Slugs(IndexDOM))
	assert.Empty(t, db.Slugs(IndexCookies))
}

func TestLoadFilesReportsMissingFiles(t *testing.T) {
	root := writeFixture(t, nil)
	require.NoError(t, os.Remove(filepath.Join(root, "technologies", "a.json")))
	require.NoError(t, os.Remove(filepath.Join(root, "technologies", "z.json")))

	_, err := LoadFiles(context.Background(), root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.json")
	assert.Contains(t, err.Error(), "z.json")
}

func TestLoadFilesNamesBrokenFile(t *testing.T) {
	root := writeFixture(t, map[string]string{"q.json": `{"Broken": `})

	_, err := LoadFiles(context.Background(), root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "q.json")
}

func TestLoadFilesMissingCategories(t *testing.T) {
	root := writeFixture(t, nil)
	require.NoError(t, os.Remove(filepath.Join(root, "categories.json")))

	_, err := LoadFiles(context.Background(), root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "categories.json")
}

func TestTechnologyToleratesOddFields(t *testing.T) {
	var techs map[string]*Technology
	err := json.Unmarshal([]byte(`{
		"Odd": {
			"cats": "not a list",
			"description": 42,
			"html": {"unexpected": true},
			"cookies": {"sid": "", "n": 5},
			"requires": ["Ruby", "", 3],
			"dom": ["#app", ".x"],
			"url": null
		}
	}`), &techs)
	require.NoError(t, err)

	odd := techs["Odd"]
	require.NotNil(t, odd)
	assert.Empty(t, odd.Cats)
	assert.Equal(t, "42", odd.Description)
	assert.Empty(t, odd.HTML)
	assert.Equal(t, PatternMap{"sid": {""}, "n": {"5"}}, odd.Cookies)
	assert.Equal(t, SlugList{"Ruby", "3"}, odd.Requires)
	assert.Equal(t, DOMRules{{Selector: "#app", Exists: true}, {Selector: ".x", Exists: true}}, odd.DOM)
	assert.Empty(t, odd.URL)
}

func TestDOMRulesObjectForm(t *testing.T) {
	var rules DOMRules
	require.NoError(t, json.Unmarshal([]byte(`{
		"meta[name=x]": {"attributes": {"content": "v([\\d.]+)\\;version:\\1", "id": "x"}},
		"#app": {"exists": false, "text": "hello"}
	}`), &rules))

	require.Len(t, rules, 2)
	assert.Equal(t, "#app", rules[0].Selector)
	assert.False(t, rules[0].Exists)
	assert.Equal(t, "hello", rules[0].Text)
	assert.Equal(t, []AttributeRule{
		{Name: "content", Pattern: `v([\d.]+)\;version:\1`},
		{Name: "id", Pattern: "x"},
	}, rules[1].Attributes)
}

func TestSlugsFallsBackToAllTechnologies(t *testing.T) {
	db := &Database{Technologies: map[string]*Technology{"b": {}, "a": {}}}
	assert.Equal(t, []string{"a", "b"}, db.Slugs(IndexHTML))
}

func TestStoreSingleFlightAndRetry(t *testing.T) {
	var calls atomic.Int32
	fail := atomic.Bool{}
	fail.Store(true)

	store := NewStoreWithLoader(func(ctx context.Context) (*Database, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, errors.New("disk on fire")
		}
		return newDatabase("test", "", map[string]*Technology{"A": {}}, map[string]Category{}, map[string]Group{}, 0), nil
	})

	_, err := store.Get(context.Background())
	require.Error(t, err)
	assert.Nil(t, store.Loaded())

	fail.Store(false)
	var wg sync.WaitGroup
	results := make([]*Database, 16)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			db, err := store.Get(context.Background())
			assert.NoError(t, err)
			results[i] = db
		}()
	}
	wg.Wait()

	for _, db := range results {
		assert.Same(t, results[0], db)
	}
	// One failed load, then at most a handful of shared loads; never one per caller
	assert.Less(t, int(calls.Load()), 1+len(results))

	before := calls.Load()
	_, err = store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, calls.Load())

	store.Invalidate()
	_, err = store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before+1, calls.Load())
}

func TestLoadRejectsUnknownSource(t *testing.T) {
	_, err := Load(context.Background(), "ftp", "")
	assert.Error(t, err)
}

func TestTaxonomySortsByName(t *testing.T) {
	db := newDatabase(SourceFiles, "", map[string]*Technology{},
		map[string]Category{
			"12": {Name: "JavaScript frameworks", Groups: IntList{9}},
			"1":  {Name: "CMS", Groups: IntList{3, 9}},
		},
		map[string]Group{
			"9": {Name: "Web development"},
			"3": {Name: "Content"},
		}, 0)

	view := Taxonomy(db)
	assert.Equal(t, []TaxonomyCategory{
		{ID: "1", Name: "CMS", Groups: []string{"3", "9"}},
		{ID: "12", Name: "JavaScript frameworks", Groups: []string{"9"}},
	}, view.Categories)
	assert.Equal(t, []TaxonomyGroup{{ID: "3", Name: "Content"}, {ID: "9", Name: "Web development"}}, view.Groups)
	assert.Equal(t, 2, view.Meta.CategoryCount)
}
