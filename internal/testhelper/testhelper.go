// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package testhelper provides shared helpers for package tests.
package testhelper

import (
	"net/http"
	"os"
	"testing"
)

// TestEndpoint is the delivery endpoint used throughout the tests. Requests to it are expected
// to be served by a MockRoundTripper.
const TestEndpoint = "https://tracking.example.com/api/v1/location"

// MockRoundTripper is a http.RoundTripper that hands every request to Fn.
type MockRoundTripper struct {
	Fn func(*http.Request) (*http.Response, error)
}

// RoundTrip implements the http.RoundTripper interface.
func (m MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Fn(req)
}

// PerformIntegrationTests skips the calling test unless integration tests are enabled via the
// PERFORM_INTEGRATION_TESTS environment variable.
func PerformIntegrationTests(t *testing.T) {
	t.Helper()
	if val := os.Getenv("PERFORM_INTEGRATION_TESTS"); val != "true" {
		t.Skip("skipping integration tests")
	}
}
