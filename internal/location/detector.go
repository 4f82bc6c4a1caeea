// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import "time"

const (
	DefaultDistanceThreshold = 10.0 // meters
	DefaultTimeThreshold     = 30 * time.Second
)

// Detector decides whether a new sample differs significantly from the last delivered one.
type Detector struct {
	DistanceThreshold float64
	TimeThreshold     time.Duration
}

// DefaultDetector returns a Detector using a 10m distance and 30s time threshold.
func DefaultDetector() Detector {
	return Detector{
		DistanceThreshold: DefaultDistanceThreshold,
		TimeThreshold:     DefaultTimeThreshold,
	}
}

// IsSignificant reports whether next should be delivered given the last delivered sample.
// The first sample is always significant. After that a sample is significant if it moved
// further than the distance threshold or was captured more than the time threshold after last.
func (d Detector) IsSignificant(last *Sample, next Sample) bool {
	if last == nil {
		return true
	}
	if last.DistanceTo(next) > d.DistanceThreshold {
		return true
	}
	return next.Timestamp-last.Timestamp > d.TimeThreshold.Milliseconds()
}

// IsSignificant is a shortcut for DefaultDetector().IsSignificant.
func IsSignificant(last *Sample, next Sample) bool {
	return DefaultDetector().IsSignificant(last, next)
}
