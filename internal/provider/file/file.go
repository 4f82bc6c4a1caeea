// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package file implements a location source that periodically reads a position from a file.
//
// The file holds one position per line in the form "lat,lon" or "lat,lon,accuracy". Empty lines
// and lines starting with "#" are ignored; the first valid line wins.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/geotrack/internal/location"
)

const (
	name = "file"

	DefaultPeriod = time.Second * 30
)

var ErrNoCoordinates = errors.New("no valid coordinates found in location file")

// position is a single parsed line of the location file.
type position struct {
	lat, lon, acc float64
}

// Source reads the location file every period and emits a sample for every successful read.
type Source struct {
	name     string
	path     string
	period   time.Duration
	locateFn func() (position, error)
}

// New returns a Source reading the file at path. A non-positive period selects DefaultPeriod.
func New(path string, period time.Duration) *Source {
	if period <= 0 {
		period = DefaultPeriod
	}
	source := &Source{
		name:   name,
		path:   path,
		period: period,
	}
	source.locateFn = source.readFile
	return source
}

// Name returns the name of the Source.
func (s *Source) Name() string {
	return s.name
}

// LookupStream reads the file until ctx is done. Unreadable or malformed files are retried
// on the next period.
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

			pos, err := s.locateFn()
			if err != nil {
				continue
			}
			sample := location.NewSample(pos.lat, pos.lon, pos.acc, time.Now(), s.name)

			select {
			case <-ctx.Done():
				return
			case out <- sample:
			}
		}
	}()
	return out
}

// readFile reads the location file and returns its first valid position.
func (s *Source) readFile() (position, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return position{}, fmt.Errorf("failed to read location file %q: %w", s.path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if pos, ok := parseLine(line); ok {
			return pos, nil
		}
	}
	return position{}, ErrNoCoordinates
}

func parseLine(line string) (position, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return position{}, false
	}

	values := make([]float64, len(fields))
	for i, field := range fields {
		value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return position{}, false
		}
		values[i] = value
	}

	pos := position{lat: values[0], lon: values[1]}
	if len(values) == 3 {
		pos.acc = values[2]
	}
	if pos.lat < -90 || pos.lat > 90 || pos.lon < -180 || pos.lon > 180 {
		return position{}, false
	}
	return pos, true
}
