// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport indicates a network level failure such as a timeout, a DNS error or a reset
	// connection. Transport errors are retried.
	ErrTransport = errors.New("transport error")

	// ErrUnavailable indicates that the backend answered with a server error, 429 or another
	// unexpected status. Such responses are retried.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrRejected indicates that the backend rejected the request with a 4xx status other than
	// 429. Retrying cannot fix a bad credential or payload, so rejections are terminal.
	ErrRejected = errors.New("rejected by server")
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.StatusCode, e.Body)
}

// Unwrap classifies the status code into ErrRejected or ErrUnavailable.
func (e *StatusError) Unwrap() error {
	if IsTerminalStatus(e.StatusCode) {
		return ErrRejected
	}
	return ErrUnavailable
}

// IsTerminalStatus reports whether a response with the given status code must not be retried.
func IsTerminalStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// Retryable reports whether a failed attempt with the given error should be retried.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrUnavailable)
}

// StatusCode returns the HTTP status code carried by err or 0 if there is none.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
