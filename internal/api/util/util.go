// Package util carries the small pieces shared by every controller: the
// fixed JSON error envelope and the admission middleware guarding the
// gateway's costly routes.
package util

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"tokgate/internal/extractor"
	"tokgate/internal/limiter"
)

// ErrorResponse is the one shape every non-committed failure is reported
// in: a short machine-readable kind and a human-readable message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func Error(ec echo.Context, status int, kind string, message string) error {
	return ec.JSON(status, ErrorResponse{Error: kind, Message: message})
}

// Admitter is the slice of the rate limiter the middleware needs.
type Admitter interface {
	Admit(key string) limiter.Decision
}

// RateLimited gates a route group behind per-client admission control. The
// client key is the request's real IP. Rejections carry a Retry-After
// header indicating when the client's window resets.
func RateLimited(admitter Admitter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			decision := admitter.Admit(ec.RealIP())
			if !decision.Allowed {
				retryAfter := int(decision.RetryAfter.Seconds()) + 1
				ec.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				return Error(ec, http.StatusTooManyRequests, "Rate limit exceeded", "Too many requests. Please try again later.")
			}

			return next(ec)
		}
	}
}

// ExtractionFailure maps a supervisor error onto the envelope, provided no
// response has been committed yet. The kind parameter names the operation
// that failed ("Extraction failed", "Transcription failed", ...).
func ExtractionFailure(ec echo.Context, kind string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Error(ec, http.StatusInternalServerError, "Download timeout", "The download did not complete within the allowed time.")
	}

	if errors.Is(err, extractor.ErrTooMuchOutput) {
		return Error(ec, http.StatusInternalServerError, kind, "The extraction tool produced more output than the gateway will buffer.")
	}

	return Error(ec, http.StatusInternalServerError, kind, err.Error())
}
