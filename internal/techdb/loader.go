package techdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"golang.org/x/sync/errgroup"
)

// Sources a Database can be loaded from
const (
	SourceFiles    = "files"
	SourceEmbedded = "embedded"
)

// fileConcurrency bounds open technology files during a load
const fileConcurrency = 8

// TechnologyFiles returns the shard names expected under technologies/:
// "_.json" for names starting with a digit or symbol, then a.json to z.json
func TechnologyFiles() []string {
	files := []string{"_.json"}
	for c := 'a'; c <= 'z'; c++ {
		files = append(files, string(c)+".json")
	}
	return files
}

// LoadFiles reads a webappanalyzer-style tree rooted at root:
// categories.json, groups.json and technologies/{_,a..z}.json
func LoadFiles(ctx context.Context, root string) (*Database, error) {
	var (
		cats   map[string]Category
		groups map[string]Group
	)

	taxonomy, tctx := errgroup.WithContext(ctx)
	taxonomy.Go(func() error {
		return readJSON(tctx, filepath.Join(root, "categories.json"), &cats)
	})
	taxonomy.Go(func() error {
		return readJSON(tctx, filepath.Join(root, "groups.json"), &groups)
	})
	if err := taxonomy.Wait(); err != nil {
		return nil, err
	}

	techDir := filepath.Join(root, "technologies")
	files := TechnologyFiles()

	var missing []string
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(techDir, f)); err != nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("tech DB is missing required files: %s", strings.Join(missing, ", "))
	}

	chunks := make([]map[string]*Technology, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileConcurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			return readJSON(gctx, filepath.Join(techDir, f), &chunks[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Later shards win on duplicate names, matching file order
	techs := make(map[string]*Technology)
	for _, chunk := range chunks {
		for name, t := range chunk {
			techs[name] = t
		}
	}

	if cats == nil {
		cats = map[string]Category{}
	}
	if groups == nil {
		groups = map[string]Group{}
	}
	return newDatabase(SourceFiles, root, techs, cats, groups, len(files)), nil
}

// readJSON decodes path into v, naming the file in any error
func readJSON(ctx context.Context, path string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %s: %w", path, err)
	}
	return nil
}

// embeddedFingerprints is the layout of the fingerprint set bundled with wappalyzergo
type embeddedFingerprints struct {
	Apps map[string]*Technology `json:"apps"`
}

// LoadEmbedded builds a Database from the fingerprints compiled into the
// wappalyzergo module. Categories carry ids only; there are no groups.
func LoadEmbedded() (*Database, error) {
	raw := wappalyzer.GetFingerprints()
	if raw == "" {
		return nil, errors.New("embedded fingerprints are empty")
	}

	var fp embeddedFingerprints
	if err := json.Unmarshal([]byte(raw), &fp); err != nil {
		return nil, fmt.Errorf("failed to parse embedded fingerprints: %w", err)
	}
	if len(fp.Apps) == 0 {
		return nil, errors.New("embedded fingerprints contain no technologies")
	}

	cats := map[string]Category{}
	for _, t := range fp.Apps {
		if t == nil {
			continue
		}
		for _, id := range t.Cats {
			key := fmt.Sprint(id)
			if _, ok := cats[key]; !ok {
				cats[key] = Category{Name: "Category " + key}
			}
		}
	}

	return newDatabase(SourceEmbedded, "", fp.Apps, cats, map[string]Group{}, 0), nil
}

// Load dispatches on source
func Load(ctx context.Context, source, root string) (*Database, error) {
	switch source {
	case SourceEmbedded:
		return LoadEmbedded()
	case SourceFiles, "":
		return LoadFiles(ctx, root)
	default:
		return nil, fmt.Errorf("unknown tech DB source %q", source)
	}
}
