package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	err := New("", "", 0, false, nil)
	assert.Equal(t, CodeInternal, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
	assert.Equal(t, "Error", err.Message)
}

func TestAsFindsWrappedError(t *testing.T) {
	inner := BadRequest(CodeSSRFBlockedHost, "Blocked host")
	wrapped := fmt.Errorf("fetching page: %w", inner)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.True(t, HasCode(wrapped, CodeSSRFBlockedHost))
	assert.Equal(t, http.StatusBadRequest, StatusCode(wrapped))
}

func TestPublicMessage(t *testing.T) {
	exposed := BadRequest(CodeFetchInvalidURL, "Invalid URL")
	hidden := New("DB_DOWN", "connection string leaked", http.StatusInternalServerError, false, nil)
	plain := errors.New("boom")

	assert.Equal(t, "Invalid URL", PublicMessage(exposed, true))
	assert.Equal(t, "Request failed", PublicMessage(hidden, false))
	assert.Equal(t, "Internal server error", PublicMessage(plain, true))
	assert.Equal(t, "boom", PublicMessage(plain, false))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(plain))
}

func TestCode(t *testing.T) {
	assert.Equal(t, CodeSSRFBlockedHost, Code(fmt.Errorf("fetch: %w", BadRequest(CodeSSRFBlockedHost, "Blocked host"))))
	assert.Equal(t, CodeUnexpected, Code(errors.New("boom")))
}

func TestClassifyTransport(t *testing.T) {
	timeout := ClassifyTransport(context.DeadlineExceeded)
	assert.Equal(t, CodeFetchTimeout, timeout.Code)
	assert.Equal(t, http.StatusGatewayTimeout, timeout.StatusCode)

	failed := ClassifyTransport(errors.New("connection refused"))
	assert.Equal(t, CodeFetchFailed, failed.Code)
	assert.Equal(t, http.StatusBadGateway, failed.StatusCode)

	ssrf := BadRequest(CodeSSRFBlockedIP, "Blocked host")
	assert.Same(t, ssrf, ClassifyTransport(fmt.Errorf("dial: %w", ssrf)))

	assert.Nil(t, ClassifyTransport(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ClassifyTransport(context.DeadlineExceeded)))
	assert.False(t, Retryable(BadRequest(CodeSSRFBlockedHost, "Blocked host")))
	assert.False(t, Retryable(errors.New("plain")))
}
