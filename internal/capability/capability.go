// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package capability tracks the permissions and power management exemption that location
// tracking depends on and requests them from the host platform.
package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPermissionDenied is returned when a permission was refused by the user or platform.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCapabilityUnavailable is returned when the platform cannot express a capability at all.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
)

// Status is the grant status of a single capability.
type Status int

const (
	Unknown Status = iota
	Granted
	Denied
	NotApplicable
)

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case NotApplicable:
		return "not_applicable"
	default:
		return "unknown"
	}
}

// ParseStatus parses the textual representation of a Status.
func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "unknown":
		return Unknown, nil
	case "granted":
		return Granted, nil
	case "denied":
		return Denied, nil
	case "not_applicable", "notapplicable", "n/a":
		return NotApplicable, nil
	default:
		return Unknown, fmt.Errorf("invalid capability status: %q", value)
	}
}

// Allows reports whether the status does not block tracking.
func (s Status) Allows() bool {
	return s == Granted || s == NotApplicable
}

// State is a snapshot of all capabilities.
type State struct {
	ForegroundLocation    Status
	BackgroundLocation    Status
	Notification          Status
	PowerExemptionGranted bool
}

// Platform is the host specific side of the capability handling. Request methods may prompt
// the user and block for an unbounded time; Check never prompts.
type Platform interface {
	Name() string
	Check(ctx context.Context) (State, error)
	RequestForegroundLocation(ctx context.Context) (Status, error)
	RequestBackgroundLocation(ctx context.Context) (Status, error)
	RequestNotification(ctx context.Context) (Status, error)
	IsPowerExemptionGranted(ctx context.Context) (bool, error)
	RequestPowerExemption(ctx context.Context) (bool, error)
}
