// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package tracker

import (
	"errors"
)

// State is the lifecycle state of the tracking coordinator.
type State int

const (
	Inactive State = iota
	Starting
	Active
	Stopping
	Failed
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason classifies why the coordinator entered the Failed state. It is used as the Kind of
// the published error event.
type Reason string

const (
	ReasonPermissionDenied      Reason = "permission_denied"
	ReasonCapabilityUnavailable Reason = "capability_unavailable"
	ReasonNativeProvider        Reason = "native_provider_error"
	ReasonPermissionRevoked     Reason = "permission_revoked"
	ReasonProviderNotRunning    Reason = "provider_not_running"
	ReasonCredentialUnavailable Reason = "credential_unavailable"
)

var (
	// ErrNoCredential is returned when a session is requested without a credential.
	ErrNoCredential = errors.New("no credential available")

	// ErrInvalidAppState is returned for app states the coordinator does not know.
	ErrInvalidAppState = errors.New("invalid app state")
)

// Failure describes why the coordinator entered the Failed state.
type Failure struct {
	Reason Reason
	Err    error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return string(f.Reason) + ": " + f.Err.Error()
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}
