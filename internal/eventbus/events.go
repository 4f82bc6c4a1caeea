// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package eventbus

import (
	"encoding/json"
	"time"

	"github.com/wneessen/geotrack/internal/location"
)

// LocationUpdate is published for every sample received from the native provider.
type LocationUpdate struct {
	Sample      location.Sample
	Significant bool
}

// LocationSent is published when a sample was acknowledged by the backend.
type LocationSent struct {
	Sample     location.Sample
	StatusCode int
	Ack        json.RawMessage
	Attempts   int
}

// LocationSendError is published for every failed delivery attempt.
type LocationSendError struct {
	Sample     location.Sample
	Err        error
	Attempt    int
	StatusCode int
	Retryable  bool
	// NextRetryAt is zero if no further attempt is scheduled.
	NextRetryAt time.Time
}

// LocationSendFailed is published once a sample is dropped, either because the backend
// rejected it or because the retry ceiling was reached.
type LocationSendFailed struct {
	Sample   location.Sample
	Err      error
	Attempts int
}

// ServiceStarted is published when the coordinator transitions into the active state.
type ServiceStarted struct {
	Provider string
	Endpoint string
}

// ServiceStopped is published when the coordinator transitions back into the inactive state.
type ServiceStopped struct {
	Reason string
}

// Error is published when the coordinator enters the failed state.
type Error struct {
	Kind string
	Err  error
}

// BatteryOptimizationStatus reports whether the process is exempt from power management.
type BatteryOptimizationStatus struct {
	Exempt bool
}

// AppStateChange is published on every app state transition.
type AppStateChange struct {
	From location.AppState
	To   location.AppState
}

// Initialized is published once the coordinator finished its initialization.
type Initialized struct {
	Provider           string
	ForegroundLocation string
	BackgroundLocation string
	Notification       string
	PowerExempt        bool
}

// InitializationError is published if the coordinator could not be initialized.
type InitializationError struct {
	Err error
}
