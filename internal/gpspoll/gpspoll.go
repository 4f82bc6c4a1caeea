// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpspoll implements a minimal one-shot gpsd client. It opens a connection, enables
// the JSON watcher and returns the first TPV report it receives.
package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

const (
	fallbackAccuracy3DFix = 10  // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25  // worse than 3D, but still accurate enough
	fallbackAccuracyNoFix = 1e6 // effectively unusable
	watchTimeout          = time.Second * 2

	watchCommand = `?WATCH={"enable":true,"json":true}` + "\n"
)

var (
	// ErrNoReport is returned when gpsd closed the stream without sending a TPV report.
	ErrNoReport = errors.New("no TPV report received from gpsd")

	// ErrConnect is returned when the connection to gpsd could not be established.
	ErrConnect = errors.New("failed to connect to gpsd")
)

// Client is a minimal gpsd client.
type Client struct {
	Addr string
}

// Fix represents a single GPS fix from gpsd.
type Fix struct {
	Lat  float64
	Lon  float64
	Alt  float64
	Acc  float64
	Mode int
	// Time is the time of the fix as reported by the receiver. It is the zero time if gpsd
	// did not report one.
	Time time.Time
}

// tpvReport matches the subset of gpsd's TPV report we care about.
type tpvReport struct {
	Class string    `json:"class"`
	Mode  int       `json:"mode"`
	Time  time.Time `json:"time"`
	Lat   float64   `json:"lat"`
	Lon   float64   `json:"lon"`
	Alt   float64   `json:"alt"`
	Epx   float64   `json:"epx"`
	Epy   float64   `json:"epy"`
	Eph   float64   `json:"eph"`
}

// New returns a Client for the gpsd instance at host and port.
func New(host, port string) *Client {
	return &Client{Addr: net.JoinHostPort(host, port)}
}

// Poll connects to gpsd, enables the watcher and returns the first TPV report. The connection
// is closed before returning.
func (c *Client) Poll(ctx context.Context) (Fix, error) {
	var zero Fix

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return zero, fmt.Errorf("%w at %s: %w", ErrConnect, c.Addr, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	// Without a deadline on ctx we would block forever on a silent gpsd.
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(watchTimeout)
	}
	_ = conn.SetDeadline(deadline)

	if _, err = fmt.Fprint(conn, watchCommand); err != nil {
		return zero, fmt.Errorf("failed to send WATCH command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if err = ctx.Err(); err != nil {
			return zero, err
		}

		var report tpvReport
		if err = json.Unmarshal(scanner.Bytes(), &report); err != nil {
			continue
		}
		if report.Class != "TPV" {
			continue
		}

		return Fix{
			Lat:  report.Lat,
			Lon:  report.Lon,
			Alt:  report.Alt,
			Acc:  report.horizontalAccuracy(),
			Mode: report.Mode,
			Time: report.Time,
		}, nil
	}
	if err = scanner.Err(); err != nil {
		return zero, fmt.Errorf("failed to read gpsd response: %w", err)
	}

	return zero, ErrNoReport
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= 2
}

// horizontalAccuracy returns the horizontal error estimate in meters, falling back to a
// mode-based guess if the receiver does not report one.
func (r tpvReport) horizontalAccuracy() float64 {
	switch {
	case r.Eph > 0:
		return r.Eph
	case r.Epx > 0 && r.Epy > 0:
		return math.Hypot(r.Epx, r.Epy)
	}

	switch r.Mode {
	case 3:
		return fallbackAccuracy3DFix
	case 2:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
