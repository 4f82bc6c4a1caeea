// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpsdwatch implements a location source that keeps a gpsd watch session open and
// emits a sample for every TPV report with at least a 2D fix.
package gpsdwatch

import (
	"context"
	"math"
	"net"
	"sync"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/geotrack/internal/location"
)

const (
	name = "gpsdwatch"

	DefaultHost = "localhost"
	DefaultPort = "2947"
)

// session is the subset of *gpsd.Session the Source needs.
type session interface {
	AddFilter(class string, f gpsd.Filter)
	Watch() chan bool
}

// Source streams TPV reports from gpsd.
type Source struct {
	name   string
	addr   string
	dialFn func(addr string) (session, error)
}

// New returns a Source watching the gpsd instance at host and port.
func New(host, port string) *Source {
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	return &Source{
		name:   name,
		addr:   net.JoinHostPort(host, port),
		dialFn: dial,
	}
}

func dial(addr string) (session, error) {
	return gpsd.Dial(addr)
}

// Name returns the name of the Source.
func (s *Source) Name() string {
	return s.name
}

// Addr returns the address of the watched gpsd instance.
func (s *Source) Addr() string {
	return s.addr
}

// LookupStream opens a watch session and streams its TPV reports. The returned channel is
// closed when the session ends or ctx is done; the provider runner takes care of reconnecting.
func (s *Source) LookupStream(ctx context.Context) <-chan location.Sample {
	out := make(chan location.Sample)
	go func() {
		sess, err := s.dialFn(s.addr)
		if err != nil {
			close(out)
			return
		}

		// The filter runs on the session's reader goroutine and may outlive this stream.
		var mu sync.Mutex
		closed := false
		streamDone := make(chan struct{})
		defer func() {
			close(streamDone)
			mu.Lock()
			closed = true
			mu.Unlock()
			close(out)
		}()

		sess.AddFilter("TPV", func(r interface{}) {
			sample, ok := s.sampleFromReport(r)
			if !ok {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			select {
			case <-ctx.Done():
			case <-streamDone:
			case out <- sample:
			}
		})

		// go-gpsd has no Close(); the session is torn down with its connection.
		select {
		case <-ctx.Done():
		case <-sess.Watch():
		}
	}()
	return out
}

// sampleFromReport converts a TPV report into a sample. Reports with less than a 2D fix or
// of an unexpected type are rejected.
func (s *Source) sampleFromReport(r interface{}) (location.Sample, bool) {
	tpv, ok := r.(*gpsd.TPVReport)
	if !ok || tpv == nil {
		return location.Sample{}, false
	}
	if tpv.Mode < gpsd.Mode2D {
		return location.Sample{}, false
	}

	var acc float64
	if tpv.Epx > 0 && tpv.Epy > 0 {
		acc = math.Hypot(tpv.Epx, tpv.Epy)
	}
	return location.NewSample(tpv.Lat, tpv.Lon, acc, time.Now(), s.name), true
}
