package fetch

import "time"

// Accept headers sent for each kind of resource
const (
	AcceptDocument   = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	AcceptScript     = "application/javascript,text/javascript,*/*;q=0.8"
	AcceptStylesheet = "text/css,*/*;q=0.8"
)

// DefaultUserAgent is sent when no user agent is configured
const DefaultUserAgent = "stackprobe/1.0 (+tech detector)"

// ResourceOptions holds parameters for a single resource fetch.
// The deadline comes from the context.
type ResourceOptions struct {
	// Accept is the Accept header to send
	Accept string

	// UserAgent is the User-Agent header to send
	UserAgent string

	// MaxBytes caps the decoded body size
	MaxBytes int64

	// MaxRedirects is the maximum number of redirects to follow
	MaxRedirects int
}

// PageOptions holds parameters for fetching a page and its linked resources
type PageOptions struct {
	// Timeout for the page and every sub-fetch together
	Timeout time.Duration

	// MaxBytes caps the primary document
	MaxBytes int64

	// MaxRedirects is the maximum number of redirects to follow per resource
	MaxRedirects int

	// UserAgent is the User-Agent header to send
	UserAgent string

	// Linked resources are fetched best-effort within these bounds
	MaxExternalScripts     int
	MaxExternalStylesheets int
	MaxExternalBytesEach   int64
	MaxExternalBytesTotal  int64
	ExternalConcurrency    int
}

// DefaultPageOptions returns PageOptions with sensible defaults
func DefaultPageOptions() PageOptions {
	return PageOptions{
		Timeout:                12 * time.Second,
		MaxBytes:               2_000_000,
		MaxRedirects:           5,
		UserAgent:              DefaultUserAgent,
		MaxExternalScripts:     8,
		MaxExternalStylesheets: 8,
		MaxExternalBytesEach:   250_000,
		MaxExternalBytesTotal:  800_000,
		ExternalConcurrency:    4,
	}
}

// withDefaults fills zero values from DefaultPageOptions. Negative external
// caps are treated as zero so callers can disable linked fetches.
func (o PageOptions) withDefaults() PageOptions {
	def := DefaultPageOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = def.MaxBytes
	}
	if o.MaxRedirects < 0 {
		o.MaxRedirects = def.MaxRedirects
	}
	if o.UserAgent == "" {
		o.UserAgent = def.UserAgent
	}
	if o.ExternalConcurrency <= 0 {
		o.ExternalConcurrency = def.ExternalConcurrency
	}
	o.MaxExternalScripts = max(0, o.MaxExternalScripts)
	o.MaxExternalStylesheets = max(0, o.MaxExternalStylesheets)
	o.MaxExternalBytesEach = max(0, o.MaxExternalBytesEach)
	o.MaxExternalBytesTotal = max(0, o.MaxExternalBytesTotal)
	return o
}
