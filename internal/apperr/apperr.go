package apperr

import (
	"errors"
	"net/http"
)

// Stable machine-readable error codes surfaced to callers
const (
	CodeFetchTimeout                  = "FETCH_TIMEOUT"
	CodeFetchTooLarge                 = "FETCH_TOO_LARGE"
	CodeFetchFailed                   = "FETCH_FAILED"
	CodeFetchInvalidURL               = "FETCH_INVALID_URL"
	CodeFetchUnsupportedProtocol      = "FETCH_UNSUPPORTED_PROTOCOL"
	CodeFetchTooManyRedirects         = "FETCH_TOO_MANY_REDIRECTS"
	CodeFetchRedirectUnsupportedProto = "FETCH_REDIRECT_UNSUPPORTED_PROTOCOL"
	CodeFetchUnreadableBody           = "FETCH_UNREADABLE_BODY"

	CodeSSRFBlockedHost = "SSRF_BLOCKED_HOST"
	CodeSSRFBlockedIP   = "SSRF_BLOCKED_IP"
	CodeSSRFDNSFail     = "SSRF_DNS_FAIL"
	CodeSSRFDNSEmpty    = "SSRF_DNS_EMPTY"

	CodeAnalyzeOverloaded = "ANALYZE_OVERLOADED"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInternal          = "APP_ERROR"

	// CodeUnexpected labels errors that are not AppErrors
	CodeUnexpected = "INTERNAL_ERROR"
)

// AppError is an operational error with an HTTP status and a flag telling
// whether Message may be shown to external callers
type AppError struct {
	Code       string
	Message    string
	StatusCode int
	Expose     bool
	Cause      error
}

// New creates an AppError. A zero status becomes 500 and an empty code becomes APP_ERROR.
func New(code, message string, status int, expose bool, cause error) *AppError {
	if code == "" {
		code = CodeInternal
	}
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if message == "" {
		message = "Error"
	}
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: status,
		Expose:     expose,
		Cause:      cause,
	}
}

// BadRequest returns an exposed 400 error
func BadRequest(code, message string) *AppError {
	return New(code, message, http.StatusBadRequest, true, nil)
}

// TooManyRequests returns an exposed 429 error
func TooManyRequests(code, message string) *AppError {
	return New(code, message, http.StatusTooManyRequests, true, nil)
}

// ServiceUnavailable returns an exposed 503 error
func ServiceUnavailable(code, message string) *AppError {
	return New(code, message, http.StatusServiceUnavailable, true, nil)
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Code + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// As extracts an *AppError from anywhere in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// Code returns the stable code carried by err, or INTERNAL_ERROR when err is
// not an AppError
func Code(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeUnexpected
}

// PublicMessage returns the text that is safe to show an external caller.
// Internal details never leave the process in production.
func PublicMessage(err error, production bool) string {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		if appErr.Expose {
			return appErr.Message
		}
		return "Request failed"
	}
	if production {
		return "Internal server error"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown error"
}

// StatusCode returns the HTTP status for err, 500 for anything that is not an AppError
func StatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
