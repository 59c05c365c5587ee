package llm

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/af-corp/hass-agent/internal/config"
)

// Kind names a failure class for logs, metrics and API results.
type Kind string

const (
	KindNone          Kind = ""
	KindNetwork       Kind = "network_error"
	KindHTTP          Kind = "http_error"
	KindMalformed     Kind = "malformed_response"
	KindConfiguration Kind = "configuration_error"
	KindUnknown       Kind = "unknown_error"
)

// maxErrorBody bounds the response body kept on an HTTPError.
const maxErrorBody = 512

// NetworkError means the endpoint could not be reached or did not answer in
// time.
type NetworkError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("network error: request to %s timed out: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("network error: request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError means the endpoint answered with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Body)
}

// MalformedResponseError means a 2xx answer lacked the expected JSON shape.
type MalformedResponseError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response (status %d): %s: %v", e.StatusCode, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed response (status %d): %s", e.StatusCode, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// KindOf classifies err. A nil error yields KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var netErr *NetworkError
	var httpErr *HTTPError
	var malformed *MalformedResponseError
	var cfgErr *config.ConfigurationError
	switch {
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &httpErr):
		return KindHTTP
	case errors.As(err, &malformed):
		return KindMalformed
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// Describe renders err as its taxonomy value, e.g. HTTPError{401} or
// NetworkError{timeout}.
func Describe(err error) string {
	var netErr *NetworkError
	var httpErr *HTTPError
	var malformed *MalformedResponseError
	var cfgErr *config.ConfigurationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &netErr):
		if netErr.Timeout {
			return "NetworkError{timeout}"
		}
		return "NetworkError"
	case errors.As(err, &httpErr):
		return fmt.Sprintf("HTTPError{%d}", httpErr.StatusCode)
	case errors.As(err, &malformed):
		return "MalformedResponse"
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("ConfigurationError{%s}", cfgErr.Field)
	default:
		return "UnknownError"
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
