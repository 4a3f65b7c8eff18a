package apperr

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ClassifyTransport maps an error returned by the HTTP transport to an AppError.
// An AppError already in the chain (for example an SSRF rejection raised by the
// dialer) is returned unchanged.
func ClassifyTransport(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := As(err); ok {
		return appErr
	}

	// Deadline of the shared request context
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return New(CodeFetchTimeout, "Fetch timed out", http.StatusGatewayTimeout, true, err)
	}

	// Network errors with Timeout() method
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return New(CodeFetchTimeout, "Fetch timed out", http.StatusGatewayTimeout, true, err)
	}

	// Some transports only report the timeout in the text
	if strings.Contains(err.Error(), "Client.Timeout exceeded") {
		return New(CodeFetchTimeout, "Fetch timed out", http.StatusGatewayTimeout, true, err)
	}

	return New(CodeFetchFailed, "Fetch failed", http.StatusBadGateway, true, err)
}

// Retryable reports whether the caller may retry the request later.
// Only upstream transient failures qualify; input and policy errors never do.
func Retryable(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case CodeFetchTimeout, CodeFetchFailed, CodeFetchTooManyRedirects, CodeAnalyzeOverloaded:
		return true
	}
	return false
}
