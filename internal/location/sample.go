// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package location provides the position sample type together with the distance and change
// detection logic that decides whether a sample is worth reporting.
package location

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppState describes whether the user-facing session is in the foreground.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateBackground AppState = "background"
	AppStateInactive   AppState = "inactive"
)

// Valid reports whether the AppState is one of the known states.
func (a AppState) Valid() bool {
	switch a {
	case AppStateActive, AppStateBackground, AppStateInactive:
		return true
	default:
		return false
	}
}

// Sample is a single position report yielded by a native provider. Samples are values and
// are never mutated after creation.
type Sample struct {
	ID        string
	Latitude  float64
	Longitude float64
	// Accuracy is the horizontal accuracy radius in meters, nil if the source did not report one.
	Accuracy *float64
	// Timestamp is the capture time in milliseconds since the Unix epoch.
	Timestamp int64
	Provider  string
}

// NewSample returns a Sample with a fresh identity. An accuracy of zero or less is treated as
// unknown.
func NewSample(lat, lon, acc float64, capturedAt time.Time, provider string) Sample {
	sample := Sample{
		ID:        uuid.NewString(),
		Latitude:  lat,
		Longitude: lon,
		Timestamp: capturedAt.UnixMilli(),
		Provider:  provider,
	}
	if acc > 0 {
		sample.Accuracy = &acc
	}
	return sample
}

// Time returns the capture time of the sample.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Valid checks if the sample coordinates are valid according to the EPSG:4326 bounds.
func (s Sample) Valid() bool {
	return s.Latitude >= -90 && s.Latitude <= 90 && s.Longitude >= -180 && s.Longitude <= 180
}

// String implements the fmt.Stringer interface.
func (s Sample) String() string {
	return fmt.Sprintf("%.6f,%.6f@%d (%s)", s.Latitude, s.Longitude, s.Timestamp, s.Provider)
}
