package httpclient

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// Client wraps http.Client and provides methods for making traced requests.
// It never follows redirects; callers walk redirect chains themselves.
type Client struct {
	httpClient *http.Client
}

// TimingInfo holds performance timing information for a request
type TimingInfo struct {
	DNSStart     time.Time
	DNSDone      time.Time
	ConnectStart time.Time
	ConnectDone  time.Time
	TLSStart     time.Time
	TLSDone      time.Time
	GotFirstByte time.Time
	RequestStart time.Time
}

// Phases is TimingInfo reduced to whole-millisecond durations
type Phases struct {
	DNSMs     int64 `json:"dnsMs"`
	ConnectMs int64 `json:"connectMs"`
	TLSMs     int64 `json:"tlsMs"`
	TTFBMs    int64 `json:"ttfbMs"`
}

// Phases returns the duration of each traced phase. Phases that did not
// happen, such as DNS on a reused connection, are zero.
func (t *TimingInfo) Phases() Phases {
	if t == nil {
		return Phases{}
	}
	return Phases{
		DNSMs:     span(t.DNSStart, t.DNSDone),
		ConnectMs: span(t.ConnectStart, t.ConnectDone),
		TLSMs:     span(t.TLSStart, t.TLSDone),
		TTFBMs:    span(t.RequestStart, t.GotFirstByte),
	}
}

func span(start, end time.Time) int64 {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start).Milliseconds()
}

// Response holds the HTTP response along with timing information.
// Body is open and must be closed by the caller.
type Response struct {
	StatusCode int
	Status     string
	Proto      string // e.g., "HTTP/2.0"
	Header     http.Header
	Body       io.ReadCloser
	TLS        *tls.ConnectionState
	Timings    *TimingInfo
}

// NewClient creates a new HTTP client. checker, when non-nil, vets every
// address the transport dials.
func NewClient(checker AddressChecker) *Client {
	return NewClientWithTransport(NewTransport(checker))
}

// NewClientWithTransport creates a Client over an existing RoundTripper
func NewClientWithTransport(rt http.RoundTripper) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: rt,
			// Don't follow redirects automatically; the fetcher checks every hop
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Get performs a traced GET request with the given headers.
// The context bounds the whole exchange including the body read.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	// Create timing info to capture performance metrics
	timings := &TimingInfo{
		RequestStart: time.Now(),
	}

	// Create HTTP trace to capture timing events
	trace := &httptrace.ClientTrace{
		DNSStart: func(_ httptrace.DNSStartInfo) {
			timings.DNSStart = time.Now()
		},
		DNSDone: func(_ httptrace.DNSDoneInfo) {
			timings.DNSDone = time.Now()
		},
		ConnectStart: func(_, _ string) {
			timings.ConnectStart = time.Now()
		},
		ConnectDone: func(_, _ string, _ error) {
			timings.ConnectDone = time.Now()
		},
		TLSHandshakeStart: func() {
			timings.TLSStart = time.Now()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			timings.TLSDone = time.Now()
		},
		GotFirstResponseByte: func() {
			timings.GotFirstByte = time.Now()
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Proto:      resp.Proto,
		Header:     resp.Header,
		Body:       resp.Body,
		TLS:        resp.TLS,
		Timings:    timings,
	}, nil
}
