package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/olegrjumin/stackprobe/internal/techdb"
)

func TestResolveRequires(t *testing.T) {
	db := testDB(map[string]*techdb.Technology{
		"WooCommerce": {Requires: techdb.SlugList{"WordPress"}},
		"WordPress":   {},
		"Magento":     {Requires: techdb.SlugList{"PHP", "MySQL"}},
		"PHP":         {},
	})

	got := ResolveRequires([]Detection{
		{Slug: "WooCommerce", Confidence: 80},
		{Slug: "WordPress", Confidence: 90},
		{Slug: "Magento", Confidence: 70},
		{Slug: "PHP", Confidence: 60},
		{Slug: "Unknown", Confidence: 99},
	}, db)

	assert.Equal(t, []string{"WooCommerce", "WordPress", "PHP"}, slugs(got))
}

func TestResolveRequiresChecksInputSetOnly(t *testing.T) {
	// B survives because A was present in the input, even though A itself is dropped
	db := testDB(map[string]*techdb.Technology{
		"A": {Requires: techdb.SlugList{"Missing"}},
		"B": {Requires: techdb.SlugList{"A"}},
	})

	got := ResolveRequires([]Detection{{Slug: "A"}, {Slug: "B"}}, db)
	assert.Equal(t, []string{"B"}, slugs(got))
}

func TestResolveImpliesAddsWithDefaultConfidence(t *testing.T) {
	db := testDB(map[string]*techdb.Technology{
		"AlphaTech": {Implies: techdb.SlugList{"BetaTech"}},
		"BetaTech":  {Name: "Beta Tech"},
	})

	got := ResolveImplies([]Detection{{Slug: "AlphaTech", Name: "AlphaTech", Confidence: 100}}, db)
	assert.Equal(t, []Detection{
		{Slug: "AlphaTech", Name: "AlphaTech", Confidence: 100},
		{Slug: "BetaTech", Name: "Beta Tech", Confidence: 50},
	}, got)
}

func TestResolveImpliesDirectivesAndExisting(t *testing.T) {
	db := testDB(map[string]*techdb.Technology{
		"Next.js": {Implies: techdb.SlugList{`React\;confidence:80`, "Node.js", "NotInDB", ""}},
		"React":   {Implies: techdb.SlugList{"Webpack"}},
		"Node.js": {},
		"Webpack": {},
	})

	got := ResolveImplies([]Detection{
		{Slug: "Next.js", Confidence: 100},
		{Slug: "Node.js", Confidence: 90},
	}, db)

	bySlug := map[string]int{}
	for _, d := range got {
		bySlug[d.Slug] = d.Confidence
	}
	assert.Equal(t, map[string]int{"Next.js": 100, "React": 80, "Node.js": 90}, bySlug)
}

func TestResolveImpliesIgnoresNonFiniteConfidence(t *testing.T) {
	db := testDB(map[string]*techdb.Technology{
		"Gatsby":  {Implies: techdb.SlugList{`React\;confidence:Infinity`, `Webpack\;confidence:NaN`}},
		"React":   {},
		"Webpack": {},
	})

	got := ResolveImplies([]Detection{{Slug: "Gatsby", Confidence: 100}}, db)

	bySlug := map[string]int{}
	for _, d := range got {
		bySlug[d.Slug] = d.Confidence
	}
	assert.Equal(t, map[string]int{"Gatsby": 100, "React": 50, "Webpack": 50}, bySlug)
}

func TestResolveExcludes(t *testing.T) {
	db := testDB(map[string]*techdb.Technology{
		"Joomla":    {Excludes: techdb.SlugList{"WordPress"}},
		"WordPress": {},
		"Vue":       {Excludes: techdb.SlugList{"Angular"}},
		"Angular":   {},
	})

	got := ResolveExcludes([]Detection{
		{Slug: "Joomla", Confidence: 60},
		{Slug: "WordPress", Confidence: 90},
		{Slug: "Vue", Confidence: 70},
		{Slug: "Angular", Confidence: 70},
	}, db)

	// Higher confidence wins; a tie keeps the smaller slug
	assert.Equal(t, []string{"WordPress", "Angular"}, slugs(got))
}

func TestResolversTolerateMissingDatabase(t *testing.T) {
	in := []Detection{{Slug: "X", Confidence: 10}}
	assert.Equal(t, in, ResolveRequires(in, nil))
	assert.Equal(t, in, ResolveImplies(in, nil))
	assert.Equal(t, in, ResolveExcludes(in, nil))
}
