package service

import (
	"context"
	"sort"
	"time"

	"github.com/olegrjumin/stackprobe/internal/config"
	"github.com/olegrjumin/stackprobe/internal/detect"
	"github.com/olegrjumin/stackprobe/internal/fetch"
	"github.com/olegrjumin/stackprobe/internal/logging"
	"github.com/olegrjumin/stackprobe/internal/report"
	"github.com/olegrjumin/stackprobe/internal/signals"
	"github.com/olegrjumin/stackprobe/internal/techdb"
)

// reportedHeaders are copied from the response into the report's fetch block
var reportedHeaders = []string{
	"server",
	"x-powered-by",
	"via",
	"cf-ray",
	"cf-cache-status",
	"x-vercel-cache",
	"x-vercel-id",
	"x-served-by",
	"x-cache",
	"set-cookie",
}

const (
	debugMetaKeys  = 50
	debugScriptSrc = 20
)

// RuleStore hands out the current rule database
type RuleStore interface {
	Get(ctx context.Context) (*techdb.Database, error)
}

// PageFetcher retrieves a page and its linked resources
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string, opts fetch.PageOptions) (*fetch.PageResult, error)
}

// Options tune a single analysis
type Options struct {
	Page          fetch.PageOptions
	Limits        signals.Limits
	MinConfidence int
	DebugSignals  bool
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		Page:          fetch.DefaultPageOptions(),
		Limits:        signals.DefaultLimits(),
		MinConfidence: detect.DefaultMinConfidence,
	}
}

// OptionsFromConfig builds Options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.Page = fetch.PageOptions{
		Timeout:                cfg.FetchTimeout,
		MaxBytes:               cfg.MaxFetchBytes,
		MaxRedirects:           cfg.MaxRedirects,
		UserAgent:              cfg.UserAgent,
		MaxExternalScripts:     cfg.MaxExternalScripts,
		MaxExternalStylesheets: cfg.MaxExternalStylesheets,
		MaxExternalBytesEach:   cfg.MaxExternalBytesEach,
		MaxExternalBytesTotal:  cfg.MaxExternalBytesTotal,
		ExternalConcurrency:    cfg.ExternalConcurrency,
	}
	opts.MinConfidence = cfg.MinConfidence
	opts.DebugSignals = cfg.DebugSignals
	return opts
}

// Service runs the analysis pipeline. It sits between the transports (HTTP
// and CLI) and the fetch, detect and report packages.
type Service struct {
	store   RuleStore
	fetcher PageFetcher
	mapping *report.Mapping
	logger  *logging.Logger
	options Options
}

// New creates a Service. A nil mapping disables recommendations.
func New(store RuleStore, fetcher PageFetcher, mapping *report.Mapping, logger *logging.Logger, opts Options) *Service {
	if mapping == nil {
		mapping = &report.Mapping{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:   store,
		fetcher: fetcher,
		mapping: mapping,
		logger:  logger,
		options: opts,
	}
}

// Analyze fetches rawURL and builds the full report for it
func (s *Service) Analyze(ctx context.Context, rawURL string) (*report.Report, error) {
	totalStart := time.Now()

	db, err := s.store.Get(ctx)
	if err != nil {
		s.logger.Error("Rule database unavailable", "error", err)
		return nil, err
	}

	s.logger.Info("Analyzing URL", "url", rawURL)

	page, err := s.fetcher.FetchPage(ctx, rawURL, s.options.Page)
	if err != nil {
		s.logger.Warn("Fetch failed", "url", rawURL, "error", err)
		return nil, err
	}

	analysisStart := time.Now()
	bundle := signals.Build(page, s.options.Limits)

	detections, err := detect.Detect(db, bundle, detect.Options{
		MinConfidence: s.options.MinConfidence,
		Matchers:      detect.DefaultMatchers(),
		Logger:        s.logger,
	})
	if err != nil {
		return nil, err
	}

	techs := report.Enrich(db, detections)
	report.SortTechnologies(techs)

	r := &report.Report{
		OK:       true,
		URL:      rawURL,
		FinalURL: page.FinalURL,
		Fetch: report.FetchInfo{
			Status:      page.Status,
			ContentType: page.ContentType,
			Bytes:       int64(page.Bytes),
			TimingMs:    page.TimingMs,
			Phases:      page.Timings,
			Headers:     pickHeaders(page.Headers, reportedHeaders),
		},
		Detections:      techs,
		Recommendations: report.Recommend(techs, s.mapping, s.options.MinConfidence),
		Summary:         report.Summarize(techs),
		Groups:          report.Group(techs),
	}
	if s.options.DebugSignals {
		r.DebugSignals = debugSignals(bundle)
	}

	r.Timings = report.Timings{
		AnalysisMs: time.Since(analysisStart).Milliseconds(),
		TotalMs:    time.Since(totalStart).Milliseconds(),
	}

	s.logger.Info("Analysis completed",
		"url", rawURL,
		"final_url", r.FinalURL,
		"status", r.Fetch.Status,
		"detections", len(techs),
		"recommendations", len(r.Recommendations),
		"total_ms", r.Timings.TotalMs,
	)
	return r, nil
}

// pickHeaders copies only the listed headers that are present
func pickHeaders(h fetch.Headers, keys []string) fetch.Headers {
	out := fetch.Headers{}
	for _, k := range keys {
		if v, ok := h[k]; ok {
			out[k] = v
		}
	}
	return out
}

func debugSignals(b *signals.Bundle) *report.DebugSignals {
	keys := make([]string, 0, len(b.Meta))
	for k := range b.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > debugMetaKeys {
		keys = keys[:debugMetaKeys]
	}

	scripts := b.ScriptSrc
	if len(scripts) > debugScriptSrc {
		scripts = scripts[:debugScriptSrc]
	}
	cookies := b.Cookies
	if cookies == nil {
		cookies = []string{}
	}
	return &report.DebugSignals{
		MetaKeys:         keys,
		ScriptSrcPreview: append([]string{}, scripts...),
		CookieNames:      cookies,
	}
}
