package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBlocked = errors.New("blocked address")

type denyAll struct{ seen []string }

func (d *denyAll) CheckAddress(ip string) error {
	d.seen = append(d.seen, ip)
	return errBlocked
}

func TestGetDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "stackprobe-test", r.Header.Get("User-Agent"))
		http.Redirect(w, r, "/next", http.StatusFound)
	}))
	defer srv.Close()

	c := NewClient(nil)
	resp, err := c.Get(context.Background(), srv.URL, http.Header{"User-Agent": {"stackprobe-test"}})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/next", resp.Header.Get("Location"))
	assert.NotNil(t, resp.Timings)
}

func TestGetReturnsOpenBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	}))
	defer srv.Close()

	resp, err := NewClient(nil).Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.GreaterOrEqual(t, resp.Timings.Phases().TTFBMs, int64(0))
}

func TestDialIsCheckedAgainstChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should never reach the server")
	}))
	defer srv.Close()

	checker := &denyAll{}
	_, err := NewClient(checker).Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBlocked)
	assert.Equal(t, []string{"127.0.0.1"}, checker.seen)
}

func TestPhases(t *testing.T) {
	start := time.Now()
	ti := &TimingInfo{
		RequestStart: start,
		DNSStart:     start,
		DNSDone:      start.Add(5 * time.Millisecond),
		GotFirstByte: start.Add(40 * time.Millisecond),
	}

	p := ti.Phases()
	assert.EqualValues(t, 5, p.DNSMs)
	assert.EqualValues(t, 0, p.TLSMs)
	assert.EqualValues(t, 40, p.TTFBMs)

	var nilTimings *TimingInfo
	assert.Equal(t, Phases{}, nilTimings.Phases())
}
