// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpsd implements a location source that polls a gpsd instance at a fixed period.
package gpsd

import (
	"context"
	"net"
	"time"

	"github.com/wneessen/geotrack/internal/gpspoll"
	"github.com/wneessen/geotrack/internal/location"
)

const (
	name = "gpsd"

	DefaultHost   = "localhost"
	DefaultPort   = "2947"
	DefaultPeriod = time.Second * 10

	pollTimeout = time.Second * 5
)

// Source polls gpsd for a TPV report every period and emits a sample for every report that
// carries at least a 2D fix.
type Source struct {
	name     string
	addr     string
	period   time.Duration
	locateFn func(context.Context) (gpspoll.Fix, error)
}

// New returns a Source polling the gpsd instance at host and port. A non-positive period
// selects DefaultPeriod.
func New(host, port string, period time.Duration) *Source {
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	client := gpspoll.New(host, port)
	return &Source{
		name:     name,
		addr:     net.JoinHostPort(host, port),
		period:   period,
		locateFn: client.Poll,
	}
}

// Name returns the name of the Source.
func (s *Source) Name() string {
	return s.name
}

// Addr returns the address of the polled gpsd instance.
func (s *Source) Addr() string {
	return s.addr
}

// LookupStream polls gpsd until ctx is done. Failed polls and reports without a fix are
// skipped.
func (s *Source) LookupStream(ctx context.Context) <-chan location.Sample {
	out := make(chan location.Sample)
	go func() {
		defer close(out)
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.period):
				}
			}
			firstRun = false

			fix, ok := s.poll(ctx)
			if !ok {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- s.createSample(fix):
			}
		}
	}()
	return out
}

func (s *Source) poll(ctx context.Context) (gpspoll.Fix, bool) {
	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	fix, err := s.locateFn(pollCtx)
	if err != nil || !fix.Has2DFix() {
		return fix, false
	}
	return fix, true
}

// createSample converts a fix into a sample. Fixes without a receiver time are stamped with
// the local clock.
func (s *Source) createSample(fix gpspoll.Fix) location.Sample {
	capturedAt := fix.Time
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	return location.NewSample(fix.Lat, fix.Lon, fix.Acc, capturedAt, s.name)
}
