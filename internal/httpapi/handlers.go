package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/olegrjumin/stackprobe/internal/apperr"
	"github.com/olegrjumin/stackprobe/internal/logging"
	"github.com/olegrjumin/stackprobe/internal/report"
)

const (
	maxTargetURLLength = 2048
	analyzeExample     = "/analyze?url=https://react.dev/"
)

// healthHandler handles GET requests to /health
func healthHandler(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true, "service": serviceName})
}

// analyzeHandler handles GET /analyze?url=...&pretty=1&includeMeta=1 and
// responds with the clean report
func analyzeHandler(svc Analyzer, limiter Admission, logger *logging.Logger, production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		target, problem := normalizeTargetURL(c.Query("url"))
		if problem != "" {
			writeJSON(c, http.StatusBadRequest, gin.H{
				"ok":        false,
				"error":     problem,
				"code":      apperr.CodeInvalidRequest,
				"retryable": false,
				"example":   analyzeExample,
			})
			return
		}
		includeMeta := isTruthy(c.Query("includeMeta"))

		release, err := limiter.Acquire(c.Request.Context())
		if err != nil {
			if apperr.HasCode(err, apperr.CodeAnalyzeOverloaded) {
				logger.Warn("Analysis rejected, queue is full",
					"request_id", c.GetString(ctxRequestID),
					"url", target,
				)
			}
			writeError(c, err, production)
			return
		}
		defer release()

		r, err := svc.Analyze(c.Request.Context(), target)
		if err != nil {
			if _, ok := apperr.As(err); !ok {
				logger.Error("Analysis failed",
					"request_id", c.GetString(ctxRequestID),
					"url", target,
					"error", err,
				)
			}
			writeError(c, err, production)
			return
		}

		writeJSON(c, http.StatusOK, report.Clean(r, includeMeta))
	}
}

// normalizeTargetURL validates the url query parameter. It returns the
// normalized URL, or a message for the caller when the value is unusable.
func normalizeTargetURL(raw string) (string, string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "Missing or invalid 'url' in query string"
	}
	if len(trimmed) > maxTargetURLLength {
		return "", "URL is too long"
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "Invalid URL format"
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "Only http:// and https:// URLs are supported"
	}
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), ""
}

// writeError maps err to its status, its stable code and a message that is
// safe to expose. retryable marks upstream failures worth another attempt.
func writeError(c *gin.Context, err error, production bool) {
	writeJSON(c, apperr.StatusCode(err), gin.H{
		"ok":        false,
		"error":     apperr.PublicMessage(err, production),
		"code":      apperr.Code(err),
		"retryable": apperr.Retryable(err),
	})
}

// writeJSON writes an uncached JSON response, indented when ?pretty=1
func writeJSON(c *gin.Context, status int, data interface{}) {
	c.Header("Cache-Control", "no-store")
	if isTruthy(c.Query("pretty")) {
		c.IndentedJSON(status, data)
		return
	}
	c.JSON(status, data)
}

func isTruthy(v string) bool {
	v = strings.ToLower(v)
	return v == "1" || v == "true"
}
