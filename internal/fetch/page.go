package fetch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olegrjumin/stackprobe/internal/apperr"
	"github.com/olegrjumin/stackprobe/internal/httpclient"
)

// External is one linked script or stylesheet that was fetched
type External struct {
	URL         string `json:"url"`
	Bytes       int    `json:"bytes"`
	ContentType string `json:"contentType"`
	Body        string `json:"-"`
}

// Skipped counts references cut by the per-type caps
type Skipped struct {
	Scripts     int `json:"scripts"`
	Stylesheets int `json:"stylesheets"`
}

// ExternalSet holds the linked resources fetched for a page
type ExternalSet struct {
	Scripts     []External `json:"scripts"`
	Stylesheets []External `json:"stylesheets"`
	Skipped     Skipped    `json:"skipped"`
}

// PageResult is a fetched page plus its best-effort linked resources
type PageResult struct {
	RequestedURL string
	FinalURL     string
	Status       int
	StatusText   string
	Headers      Headers
	ContentType  string
	Bytes        int
	TimingMs     int64
	Timings      httpclient.Phases
	HTML         string
	External     ExternalSet
}

// FetchPage fetches the document at rawURL, then a bounded set of the scripts
// and stylesheets it links to. One deadline covers everything. Failures of
// linked resources are dropped; failures of the document are returned.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string, opts PageOptions) (*PageResult, error) {
	opts = opts.withDefaults()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	page, err := f.FetchResource(ctx, rawURL, ResourceOptions{
		Accept:       AcceptDocument,
		UserAgent:    opts.UserAgent,
		MaxBytes:     opts.MaxBytes,
		MaxRedirects: opts.MaxRedirects,
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.New(apperr.CodeFetchFailed, "Fetch failed", http.StatusBadGateway, true, err)
	}

	refs := ExtractExternalResources(page.Body)
	scriptURLs := capList(ResolveURLs(refs.Scripts, page.FinalURL), opts.MaxExternalScripts)
	styleURLs := capList(ResolveURLs(refs.Stylesheets, page.FinalURL), opts.MaxExternalStylesheets)

	external := ExternalSet{
		Skipped: Skipped{
			Scripts:     max(0, len(refs.Scripts)-len(scriptURLs)),
			Stylesheets: max(0, len(refs.Stylesheets)-len(styleURLs)),
		},
	}

	budget := &byteBudget{remaining: opts.MaxExternalBytesTotal}
	resOpts := ResourceOptions{UserAgent: opts.UserAgent, MaxRedirects: opts.MaxRedirects}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		external.Scripts = f.fetchExternals(ctx, scriptURLs, AcceptScript, resOpts, opts, budget)
	}()
	go func() {
		defer wg.Done()
		external.Stylesheets = f.fetchExternals(ctx, styleURLs, AcceptStylesheet, resOpts, opts, budget)
	}()
	wg.Wait()

	return &PageResult{
		RequestedURL: rawURL,
		FinalURL:     page.FinalURL,
		Status:       page.Status,
		StatusText:   page.StatusText,
		Headers:      page.Headers,
		ContentType:  page.ContentType,
		Bytes:        len(page.Body),
		TimingMs:     time.Since(start).Milliseconds(),
		Timings:      page.Timings,
		HTML:         page.Body,
		External:     external,
	}, nil
}

// fetchExternals fetches urls with at most opts.ExternalConcurrency workers.
// Results keep input order; failed or skipped resources are omitted.
func (f *Fetcher) fetchExternals(ctx context.Context, urls []string, accept string, resOpts ResourceOptions, opts PageOptions, budget *byteBudget) []External {
	results := make([]*External, len(urls))

	var g errgroup.Group
	g.SetLimit(opts.ExternalConcurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = f.fetchExternal(ctx, u, accept, resOpts, opts.MaxExternalBytesEach, budget)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]External, 0, len(urls))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// fetchExternal fetches one linked resource within the remaining budget
func (f *Fetcher) fetchExternal(ctx context.Context, u, accept string, resOpts ResourceOptions, each int64, budget *byteBudget) *External {
	if ctx.Err() != nil {
		return nil
	}
	limit := budget.limit(each)
	if limit <= 0 {
		return nil
	}

	resOpts.Accept = accept
	resOpts.MaxBytes = limit
	r, err := f.FetchResource(ctx, u, resOpts)
	if err != nil {
		return nil
	}
	budget.spend(int64(r.Bytes))

	return &External{
		URL:         r.FinalURL,
		Bytes:       r.Bytes,
		ContentType: r.ContentType,
		Body:        r.Body,
	}
}

// byteBudget is the shared byte allowance for all linked resources of a page
type byteBudget struct {
	mu        sync.Mutex
	remaining int64
}

// limit returns the cap for the next resource, zero when the budget is spent
func (b *byteBudget) limit(each int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return 0
	}
	return min(each, b.remaining)
}

func (b *byteBudget) spend(n int64) {
	b.mu.Lock()
	b.remaining -= n
	b.mu.Unlock()
}

func capList(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}
