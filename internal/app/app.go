// Package app assembles the analysis pipeline from configuration. Both the
// API server and the CLI start here.
package app

import (
	"github.com/olegrjumin/stackprobe/internal/config"
	"github.com/olegrjumin/stackprobe/internal/fetch"
	"github.com/olegrjumin/stackprobe/internal/httpclient"
	"github.com/olegrjumin/stackprobe/internal/logging"
	"github.com/olegrjumin/stackprobe/internal/report"
	"github.com/olegrjumin/stackprobe/internal/service"
	"github.com/olegrjumin/stackprobe/internal/ssrf"
	"github.com/olegrjumin/stackprobe/internal/techdb"
)

// App holds the long-lived components of one process
type App struct {
	Config  *config.Config
	Logger  *logging.Logger
	Store   *techdb.Store
	Mapping *report.Mapping
	Service *service.Service
	Limiter *service.Limiter
}

// LoggingOptions maps the logging section of cfg onto logger options
func LoggingOptions(cfg *config.Config) logging.Options {
	opts := logging.DefaultOptions()
	opts.Level = cfg.LogLevel
	opts.Format = cfg.LogFormat
	opts.Output = cfg.LogOutput
	if cfg.LogFile != "" {
		opts.File = cfg.LogFile
	}
	return opts
}

// New wires the SSRF guard, HTTP client, fetcher, rule store, mapping and
// service together. A broken mapping is logged and replaced by an empty one.
func New(cfg *config.Config, logger *logging.Logger) *App {
	guard := ssrf.NewGuard(nil)
	client := httpclient.NewClient(guard)
	fetcher := fetch.New(client, guard)

	store := techdb.NewStore(cfg.TechDBSource, cfg.DataRoot)

	mapping, err := report.LoadMapping(cfg.MappingPath)
	if err != nil {
		logger.Warn("Recommendation mapping unavailable, continuing without recommendations",
			"path", cfg.MappingPath,
			"error", err,
		)
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Mapping: mapping,
		Service: service.New(store, fetcher, mapping, logger, service.OptionsFromConfig(cfg)),
		Limiter: service.NewLimiter(cfg.MaxConcurrentAnalyses, cfg.MaxQueuedAnalyses),
	}
}
