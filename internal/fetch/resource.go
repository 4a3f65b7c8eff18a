package fetch

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/olegrjumin/stackprobe/internal/apperr"
	"github.com/olegrjumin/stackprobe/internal/httpclient"
)

// HostGuard validates a hostname before any connection is made to it
type HostGuard interface {
	AssertPublicHost(ctx context.Context, host string) ([]string, error)
}

// Fetcher retrieves resources with per-hop host validation, a shared
// deadline and a byte cap
type Fetcher struct {
	client *httpclient.Client
	guard  HostGuard
}

// New creates a Fetcher
func New(client *httpclient.Client, guard HostGuard) *Fetcher {
	return &Fetcher{client: client, guard: guard}
}

// Headers maps lower-cased header names to values. Only set-cookie keeps one
// entry per header line; other repeated headers are joined with ", ".
type Headers map[string][]string

// Get returns the value of name, joining multiple values with ", "
func (h Headers) Get(name string) string {
	return strings.Join(h[strings.ToLower(name)], ", ")
}

// Values returns every value of name
func (h Headers) Values(name string) []string {
	return h[strings.ToLower(name)]
}

// MarshalJSON writes set-cookie as an array and everything else as a string
func (h Headers) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(h))
	for k, v := range h {
		if k == "set-cookie" {
			out[k] = v
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return json.Marshal(out)
}

// Resource is one fetched document, script or stylesheet
type Resource struct {
	FinalURL    string
	Status      int
	StatusText  string
	Headers     Headers
	ContentType string
	Bytes       int
	Body        string
	Timings     httpclient.Phases
}

// FetchResource fetches rawURL, following up to opts.MaxRedirects redirects.
// Every hop is checked by the HostGuard. The context deadline bounds the
// whole chain including body reads.
func (f *Fetcher) FetchResource(ctx context.Context, rawURL string, opts ResourceOptions) (*Resource, error) {
	currentURL := rawURL

	for redirects := 0; redirects <= opts.MaxRedirects; redirects++ {
		if ctx.Err() != nil {
			return nil, timeoutError(ctx.Err())
		}

		u, err := url.Parse(currentURL)
		if err != nil || u.Scheme == "" {
			return nil, apperr.New(apperr.CodeFetchInvalidURL, "Invalid URL", http.StatusBadRequest, true, err)
		}
		if !isHTTP(u) {
			return nil, apperr.BadRequest(apperr.CodeFetchUnsupportedProtocol, "Only http:// and https:// URLs are supported")
		}
		if u.Host == "" {
			return nil, apperr.BadRequest(apperr.CodeFetchInvalidURL, "Invalid URL")
		}

		// Redirect targets are attacker-influenced, so every hop is validated
		if _, err := f.guard.AssertPublicHost(ctx, u.Hostname()); err != nil {
			return nil, err
		}

		resp, err := f.client.Get(ctx, u.String(), http.Header{
			"User-Agent":      {opts.UserAgent},
			"Accept":          {opts.Accept},
			"Accept-Encoding": {"gzip, br"},
		})
		if err != nil {
			return nil, apperr.ClassifyTransport(err)
		}

		if location := resp.Header.Get("Location"); isRedirect(resp.StatusCode) && location != "" {
			resp.Body.Close()

			if redirects == opts.MaxRedirects {
				return nil, apperr.New(apperr.CodeFetchTooManyRedirects,
					fmt.Sprintf("Too many redirects (max %d)", opts.MaxRedirects), http.StatusBadGateway, true, nil)
			}

			next, err := u.Parse(location)
			if err != nil {
				return nil, apperr.New(apperr.CodeFetchFailed, "Fetch failed", http.StatusBadGateway, true, err)
			}
			if !isHTTP(next) {
				return nil, apperr.New(apperr.CodeFetchRedirectUnsupportedProto,
					"Redirected to non-http(s) URL", http.StatusBadGateway, true, nil)
			}

			currentURL = next.String()
			continue
		}

		headers := lowerHeaders(resp.Header)
		body, err := readBody(ctx, resp, opts.MaxBytes)
		if err != nil {
			return nil, err
		}

		return &Resource{
			FinalURL:    currentURL,
			Status:      resp.StatusCode,
			StatusText:  statusText(resp),
			Headers:     headers,
			ContentType: headers.Get("content-type"),
			Bytes:       len(body),
			Body:        strings.ToValidUTF8(string(body), "\uFFFD"),
			Timings:     resp.Timings.Phases(),
		}, nil
	}

	return nil, apperr.New(apperr.CodeFetchFailed, "Fetch failed", http.StatusBadGateway, true, nil)
}

// readBody streams the decoded body and stops as soon as it exceeds maxBytes.
// The body is always closed, which aborts the connection on early exit.
func readBody(ctx context.Context, resp *httpclient.Response, maxBytes int64) ([]byte, error) {
	if resp.Body == nil {
		return nil, unreadable(nil)
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(resp.Body)
		if errors.Is(err, io.EOF) {
			// Empty body despite the encoding header
			return []byte{}, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, timeoutError(ctx.Err())
			}
			return nil, unreadable(err)
		}
		defer gz.Close()
		r = gz
	case "br":
		r = brotli.NewReader(resp.Body)
	}

	buf, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, timeoutError(ctx.Err())
		}
		if errors.Is(err, gzip.ErrChecksum) || errors.Is(err, gzip.ErrHeader) {
			return nil, unreadable(err)
		}
		return nil, apperr.ClassifyTransport(err)
	}
	if int64(len(buf)) > maxBytes {
		return nil, apperr.New(apperr.CodeFetchTooLarge,
			fmt.Sprintf("Response exceeded max size of %d bytes", maxBytes), http.StatusRequestEntityTooLarge, true, nil)
	}
	return buf, nil
}

// lowerHeaders flattens response headers into Headers
func lowerHeaders(h http.Header) Headers {
	out := make(Headers, len(h))
	for k, values := range h {
		key := strings.ToLower(k)
		if key == "set-cookie" {
			out[key] = append([]string(nil), values...)
			continue
		}
		out[key] = []string{strings.Join(values, ", ")}
	}
	return out
}

func statusText(resp *httpclient.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func isHTTP(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func timeoutError(cause error) error {
	return apperr.New(apperr.CodeFetchTimeout, "Fetch timed out", http.StatusGatewayTimeout, true, cause)
}

func unreadable(cause error) error {
	return apperr.New(apperr.CodeFetchUnreadableBody, "Response body is not readable", http.StatusBadGateway, true, cause)
}
