package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/olegrjumin/stackprobe/internal/config"
	"github.com/olegrjumin/stackprobe/internal/logging"
	"github.com/olegrjumin/stackprobe/internal/report"
)

const serviceName = "stackprobe"

// Analyzer produces the full report for a URL
type Analyzer interface {
	Analyze(ctx context.Context, rawURL string) (*report.Report, error)
}

// Admission gates how many analyses run at once
type Admission interface {
	Acquire(ctx context.Context) (func(), error)
}

// Options configures the router
type Options struct {
	// Production hides internal error messages
	Production bool
	// CORSAllowOrigin is "*" or a single origin
	CORSAllowOrigin string
	// RequestLog emits one log line per request
	RequestLog bool
}

// OptionsFromConfig builds router Options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Production:      cfg.IsProduction(),
		CORSAllowOrigin: cfg.CORSAllowOrigin,
		RequestLog:      cfg.RequestLog,
	}
}

// NewRouter wires middleware and routes into a gin engine
func NewRouter(logger *logging.Logger, svc Analyzer, limiter Admission, opts Options) *gin.Engine {
	if opts.CORSAllowOrigin == "" {
		opts.CORSAllowOrigin = "*"
	}

	engine := gin.New()
	engine.Use(
		requestIDMiddleware(),
		loggingMiddleware(logger, opts.RequestLog),
		recoveryMiddleware(logger, opts.Production),
		securityHeadersMiddleware(),
		corsMiddleware(opts.CORSAllowOrigin),
	)

	engine.GET("/health", healthHandler)
	engine.GET("/analyze", analyzeHandler(svc, limiter, logger, opts.Production))

	engine.NoRoute(func(c *gin.Context) {
		writeJSON(c, http.StatusNotFound, gin.H{"ok": false, "error": "Not found"})
	})

	return engine
}

// NewServer creates and configures a new HTTP server
func NewServer(addr string, logger *logging.Logger, svc Analyzer, limiter Admission, opts Options) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(logger, svc, limiter, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
