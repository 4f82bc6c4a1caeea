// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"time"

	"github.com/wneessen/geotrack/internal/logger"
)

const (
	// DefaultTimeout is the default timeout value for the HTTPClient
	DefaultTimeout = time.Second * 10

	// maxResponseSize limits how much of a response body is read
	maxResponseSize = 1 << 20
)

var (
	// version is the version of the application (will be set at build time)
	version = "dev"
	// UserAgent is the User-Agent that the HTTP client sends with API requests
	UserAgent = fmt.Sprintf("geotrack/%s (%s; %s; +https://github.com/wneessen/geotrack/)",
		version,
		runtime.GOOS,
		runtime.GOARCH,
	)

	// ErrRequestFailed is returned when the HTTP request could not be performed at all
	ErrRequestFailed = errors.New("failed to perform HTTP request")
)

// Response is the raw result of a HTTP request.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the response carries a 2xx status code.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client is a type wrapper for the Go stdlib http.Client
type Client struct {
	*http.Client
	logger *logger.Logger
}

// New returns a new HTTP client
func New(logger *logger.Logger) *Client {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	httpTransport := &http.Transport{TLSClientConfig: tlsConfig}
	httpClient := &http.Client{
		Timeout:   DefaultTimeout,
		Transport: httpTransport,
	}
	return &Client{httpClient, logger}
}

// PostJSON JSON-encodes payload and POSTs it to endpoint using the DefaultTimeout.
func (h *Client) PostJSON(ctx context.Context, endpoint string, payload any, headers map[string]string) (Response, error) {
	return h.PostJSONWithTimeout(ctx, endpoint, payload, headers, DefaultTimeout)
}

// PostJSONWithTimeout JSON-encodes payload and POSTs it to endpoint within the given timeout.
// A non-2xx status code is not an error; the caller decides how to interpret the response.
func (h *Client) PostJSONWithTimeout(ctx context.Context, endpoint string, payload any, headers map[string]string,
	timeout time.Duration,
) (Response, error) {
	var response Response
	body, err := json.Marshal(payload)
	if err != nil {
		return response, fmt.Errorf("failed to encode JSON payload: %w", err)
	}
	reqURL, err := url.Parse(endpoint)
	if err != nil {
		return response, fmt.Errorf("failed to parse URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Prepare HTTP request
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(body))
	if err != nil {
		return response, fmt.Errorf("failed create new HTTP request with context: %w", err)
	}
	request.Header.Set("User-Agent", UserAgent)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for k, v := range headers {
		request.Header.Set(k, v)
	}

	// Execute HTTP request
	resp, err := h.Do(request)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return response, err
		}
		return response, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if resp == nil {
		return response, fmt.Errorf("%w: nil response received", ErrRequestFailed)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			h.logger.Error("failed to close HTTP response body", logger.Err(err))
		}
	}(resp.Body)

	response.StatusCode = resp.StatusCode
	response.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return response, fmt.Errorf("failed to read HTTP response body: %w", err)
	}

	return response, nil
}
