package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegrjumin/stackprobe/internal/apperr"
	"github.com/olegrjumin/stackprobe/internal/httpclient"
)

// recordingGuard allows every host except those listed in deny
type recordingGuard struct {
	mu    sync.Mutex
	hosts []string
	deny  map[string]bool
}

func (g *recordingGuard) AssertPublicHost(_ context.Context, host string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hosts = append(g.hosts, host)
	if g.deny[host] {
		return nil, apperr.BadRequest(apperr.CodeSSRFBlockedHost, "Blocked host")
	}
	return []string{"127.0.0.1"}, nil
}

func newTestFetcher(guard HostGuard) *Fetcher {
	return New(httpclient.NewClient(nil), guard)
}

func resourceOpts() ResourceOptions {
	return ResourceOptions{Accept: AcceptDocument, UserAgent: "test", MaxBytes: 1 << 20, MaxRedirects: 5}
}

func TestFetchResourceFollowsRedirectsAndChecksEveryHop(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, AcceptDocument, r.Header.Get("Accept"))
		assert.Equal(t, "test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		w.Header().Add("X-Multi", "one")
		w.Header().Add("X-Multi", "two")
		_, _ = io.WriteString(w, "<html>done</html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	guard := &recordingGuard{}
	res, err := newTestFetcher(guard).FetchResource(context.Background(), srv.URL+"/start", resourceOpts())
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/end", res.FinalURL)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "OK", res.StatusText)
	assert.Equal(t, "<html>done</html>", res.Body)
	assert.Equal(t, len("<html>done</html>"), res.Bytes)
	assert.Equal(t, "text/html", res.ContentType)
	assert.Equal(t, []string{"a=1", "b=2"}, res.Headers.Values("set-cookie"))
	assert.Equal(t, "one, two", res.Headers.Get("x-multi"))
	assert.Len(t, guard.hosts, 3)
}

func TestFetchResourceRejectsBadInput(t *testing.T) {
	f := newTestFetcher(&recordingGuard{})

	_, err := f.FetchResource(context.Background(), "ftp://example.com/file", resourceOpts())
	assert.True(t, apperr.HasCode(err, apperr.CodeFetchUnsupportedProtocol))

	_, err = f.FetchResource(context.Background(), "not a url", resourceOpts())
	assert.True(t, apperr.HasCode(err, apperr.CodeFetchInvalidURL))

	_, err = f.FetchResource(context.Background(), "http://", resourceOpts())
	assert.True(t, apperr.HasCode(err, apperr.CodeFetchInvalidURL))
}

func TestFetchResourceBlockedRedirectHop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://metadata.internal/latest", http.StatusFound)
	}))
	defer srv.Close()

	guard := &recordingGuard{deny: map[string]bool{"metadata.internal": true}}
	_, err := newTestFetcher(guard).FetchResource(context.Background(), srv.URL, resourceOpts())
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeSSRFBlockedHost))
}

func TestFetchResourceRedirectToUnsupportedScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "file:///etc/passwd")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(&recordingGuard{}).FetchResource(context.Background(), srv.URL, resourceOpts())
	assert.True(t, apperr.HasCode(err, apperr.CodeFetchRedirectUnsupportedProto))
}

func TestFetchResourceTooManyRedirects(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		http.Redirect(w, r, fmt.Sprintf("/hop%d", n), http.StatusFound)
	}))
	defer srv.Close()

	opts := resourceOpts()
	opts.MaxRedirects = 2
	_, err := newTestFetcher(&recordingGuard{}).FetchResource(context.Background(), srv.URL, opts)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeFetchTooManyRedirects))
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetchResourceTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 4096))
	}))
	defer srv.Close()

	opts := resourceOpts()
	opts.MaxBytes = 1000
	_, err := newTestFetcher(&recordingGuard{}).FetchResource(context.Background(), srv.URL, opts)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeFetchTooLarge, appErr.Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, appErr.StatusCode)
}

func TestFetchResourceExactlyAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 1000))
	}))
	defer srv.Close()

	opts := resourceOpts()
	opts.MaxBytes = 1000
	res, err := newTestFetcher(&recordingGuard{}).FetchResource(context.Background(), srv.URL, opts)
	require.NoError(t, err)
	assert.Equal(t, 1000, res.Bytes)
}

func TestFetchResourceDecodesCompressedBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip, br", r.Header.Get("Accept-Encoding"))
		switch r.URL.Path {
		case "/gz":
			w.Header().Set("Content-Encoding", "gzip")
			zw := gzip.NewWriter(w)
			_, _ = io.WriteString(zw, "gzip body")
			_ = zw.Close()
		case "/br":
			w.Header().Set("Content-Encoding", "br")
			bw := brotli.NewWriter(w)
			_, _ = io.WriteString(bw, "brotli body")
			_ = bw.Close()
		}
	}))
	defer srv.Close()

	f := newTestFetcher(&recordingGuard{})

	res, err := f.FetchResource(context.Background(), srv.URL+"/gz", resourceOpts())
	require.NoError(t, err)
	assert.Equal(t, "gzip body", res.Body)

	res, err = f.FetchResource(context.Background(), srv.URL+"/br", resourceOpts())
	require.NoError(t, err)
	assert.Equal(t, "brotli body", res.Body)
}

func TestFetchResourceCorruptGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = io.WriteString(w, "definitely not gzip")
	}))
	defer srv.Close()

	_, err := newTestFetcher(&recordingGuard{}).FetchResource(context.Background(), srv.URL, resourceOpts())
	assert.True(t, apperr.HasCode(err, apperr.CodeFetchUnreadableBody))
}

func TestFetchPageTimeoutCoversRedirectChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(120 * time.Millisecond)
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	opts := DefaultPageOptions()
	opts.Timeout = 300 * time.Millisecond
	opts.MaxRedirects = 10

	_, err := newTestFetcher(&recordingGuard{}).FetchPage(context.Background(), srv.URL+"/a", opts)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeFetchTimeout))
}

func TestFetchPageFetchesLinkedResources(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><head>
<script src="/app.js"></script>
<script src="data:text/javascript,alert(1)"></script>
<script src="/missing.js"></script>
<link rel="stylesheet" href="/site.css">
<link href="/print.css" rel="alternate stylesheet">
</head><body>hi</body></html>`)
	})
	mux.HandleFunc("/app.js", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, AcceptScript, r.Header.Get("Accept"))
		_, _ = io.WriteString(w, "window.React={}")
	})
	mux.HandleFunc("/missing.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "gopher://nowhere")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/site.css", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, AcceptStylesheet, r.Header.Get("Accept"))
		_, _ = io.WriteString(w, ".btn{}")
	})
	mux.HandleFunc("/print.css", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "@media print{}")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := DefaultPageOptions()
	opts.MaxExternalScripts = 1

	page, err := newTestFetcher(&recordingGuard{}).FetchPage(context.Background(), srv.URL+"/", opts)
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/", page.FinalURL)
	assert.Equal(t, "text/html; charset=utf-8", page.ContentType)
	assert.Contains(t, page.HTML, "<body>hi</body>")
	assert.Equal(t, len(page.HTML), page.Bytes)

	require.Len(t, page.External.Scripts, 1)
	assert.Equal(t, srv.URL+"/app.js", page.External.Scripts[0].URL)
	assert.Equal(t, "window.React={}", page.External.Scripts[0].Body)
	// Three script refs, one kept by the cap
	assert.Equal(t, 2, page.External.Skipped.Scripts)

	require.Len(t, page.External.Stylesheets, 2)
	assert.Equal(t, srv.URL+"/site.css", page.External.Stylesheets[0].URL)
	assert.Equal(t, srv.URL+"/print.css", page.External.Stylesheets[1].URL)
	assert.Equal(t, 0, page.External.Skipped.Stylesheets)
}

func TestFetchPageSharedExternalBudget(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		for i := 0; i < 4; i++ {
			fmt.Fprintf(&b, `<script src="/s%d.js"></script>`, i)
		}
		_, _ = io.WriteString(w, b.String())
	})
	for i := 0; i < 4; i++ {
		mux.HandleFunc(fmt.Sprintf("/s%d.js", i), func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(bytes.Repeat([]byte("j"), 100))
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := DefaultPageOptions()
	opts.ExternalConcurrency = 1
	opts.MaxExternalBytesEach = 150
	opts.MaxExternalBytesTotal = 250

	page, err := newTestFetcher(&recordingGuard{}).FetchPage(context.Background(), srv.URL+"/", opts)
	require.NoError(t, err)

	// 100 + 100 fit, the third gets a 50 byte cap and fails, the fourth likewise
	assert.Len(t, page.External.Scripts, 2)
}

func TestFetchPageWrapsDocumentErrors(t *testing.T) {
	guard := &recordingGuard{deny: map[string]bool{"127.0.0.1": true}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := newTestFetcher(guard).FetchPage(context.Background(), srv.URL, DefaultPageOptions())
	assert.True(t, apperr.HasCode(err, apperr.CodeSSRFBlockedHost))
}

func TestExtractExternalResources(t *testing.T) {
	html := `
<SCRIPT type="module" SRC="/a.js"></SCRIPT>
<script src='/a.js'></script>
<script>inline()</script>
<link rel="stylesheet" href="/one.css">
<link rel=" stylesheet " href="/two.css">
<link href="/three.css" rel="preload stylesheet">
<link href="/icon.png" rel="icon">
`
	refs := ExtractExternalResources(html)
	assert.Equal(t, []string{"/a.js"}, refs.Scripts)
	assert.Equal(t, []string{"/one.css", "/two.css", "/three.css"}, refs.Stylesheets)
}

func TestResolveURLs(t *testing.T) {
	got := ResolveURLs([]string{
		"/static/app.js",
		"https://cdn.example.net/lib.js",
		"data:text/javascript,1",
		"JavaScript:void(0)",
		"mailto:a@b.c",
		"  ",
		"app.js",
		"/static/app.js",
	}, "https://example.com/blog/post")

	assert.Equal(t, []string{
		"https://example.com/static/app.js",
		"https://cdn.example.net/lib.js",
		"https://example.com/blog/app.js",
	}, got)
}
