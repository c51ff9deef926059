package yt

import (
	"fmt"
	"net/http"
)

// ErrorKind is the closed set of upstream failure classes.
type ErrorKind int

const (
	KindAPI ErrorKind = iota
	KindCommentsDisabled
	KindQuotaExceeded
	KindForbidden
	KindVideoNotFound
	KindMaxRetries
)

func (k ErrorKind) String() string {
	switch k {
	case KindCommentsDisabled:
		return "COMMENTS_DISABLED"
	case KindQuotaExceeded:
		return "QUOTA_EXCEEDED"
	case KindForbidden:
		return "API_FORBIDDEN"
	case KindVideoNotFound:
		return "VIDEO_NOT_FOUND"
	case KindMaxRetries:
		return "MAX_RETRIES_EXCEEDED"
	default:
		return "API_ERROR"
	}
}

// Retryable reports whether a later run may succeed without operator action.
func (k ErrorKind) Retryable() bool {
	return k == KindAPI || k == KindMaxRetries
}

// APIError is a classified failure of an upstream call.
type APIError struct {
	Kind     ErrorKind
	Status   int
	Reason   string
	Body     string
	Attempts int
	Err      error
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindForbidden:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case KindAPI:
		return fmt.Sprintf("%s: %d %s", e.Kind, e.Status, e.Body)
	default:
		return e.Kind.String()
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// classify maps a final non-2xx response to its error kind. reason is the
// upstream error.errors[0].reason, possibly empty.
func classify(status int, reason string, body []byte) *APIError {
	e := &APIError{Status: status, Reason: reason}
	switch {
	case status == http.StatusForbidden && reason == "commentsDisabled":
		e.Kind = KindCommentsDisabled
	case status == http.StatusForbidden && (reason == "quotaExceeded" || reason == "dailyLimitExceeded"):
		e.Kind = KindQuotaExceeded
	case status == http.StatusForbidden:
		e.Kind = KindForbidden
		if e.Reason == "" {
			e.Reason = http.StatusText(status)
		}
	case status == http.StatusNotFound:
		e.Kind = KindVideoNotFound
	default:
		e.Kind = KindAPI
		e.Body = string(body)
	}
	return e
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
