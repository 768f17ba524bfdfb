package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes. Use errors.Is to classify anything returned by Client.Get.
var (
	// ErrTransient marks connection failures and timeouts.
	ErrTransient = errors.New("transient network error")
	// ErrRateLimited marks HTTP 429 responses.
	ErrRateLimited = errors.New("rate limited")
	// ErrServer marks HTTP 5xx responses.
	ErrServer = errors.New("server error")
	// ErrClient marks non-retriable 4xx responses.
	ErrClient = errors.New("client error")
	// ErrRetryBudgetExhausted is returned once every allowed attempt failed.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
)

const maxErrorBody = 512

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func newStatusError(code int, u string, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{Code: code, URL: u, Body: string(body)}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d %s for %s", e.Code, http.StatusText(e.Code), e.URL)
}

// Unwrap exposes the error class so errors.Is works on the status family.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Code >= 500:
		return ErrServer
	default:
		return ErrClient
	}
}

// Retriable reports whether the status warrants another attempt.
func (e *StatusError) Retriable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}
