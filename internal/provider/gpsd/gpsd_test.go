// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/geotrack/internal/gpspoll"
)

const (
	testLat = 40.7185
	testLon = -74.0025
)

func TestNew(t *testing.T) {
	t.Run("defaults are applied", func(t *testing.T) {
		source := New("", "", 0)
		if source.Addr() != "localhost:2947" {
			t.Errorf("expected address to be localhost:2947, got %s", source.Addr())
		}
		if source.period != DefaultPeriod {
			t.Errorf("expected period to be %s, got %s", DefaultPeriod, source.period)
		}
		if source.Name() != name {
			t.Errorf("expected name to be %s, got %s", name, source.Name())
		}
	})
	t.Run("explicit values are kept", func(t *testing.T) {
		source := New("gps.local", "2948", time.Second)
		if source.Addr() != "gps.local:2948" {
			t.Errorf("expected address to be gps.local:2948, got %s", source.Addr())
		}
		if source.period != time.Second {
			t.Errorf("expected period to be 1s, got %s", source.period)
		}
	})
}

func TestSource_LookupStream(t *testing.T) {
	t.Run("failed polls and missing fixes are skipped", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			fixTime := time.Date(2025, 11, 24, 10, 44, 41, 0, time.UTC)
			calls := 0
			source := New("", "", time.Millisecond*10)
			source.locateFn = func(context.Context) (gpspoll.Fix, error) {
				calls++
				switch calls {
				case 1:
					return gpspoll.Fix{}, errors.New("intentionally failing")
				case 2:
					return gpspoll.Fix{Lat: 1, Lon: 2, Acc: 3, Mode: 1}, nil
				default:
					return gpspoll.Fix{Lat: testLat, Lon: testLon, Acc: 3, Mode: 2, Time: fixTime}, nil
				}
			}

			start := time.Now()
			sample := <-source.LookupStream(ctx)
			if calls != 3 {
				t.Errorf("expected 3 polls before the first sample, got %d", calls)
			}
			if elapsed := time.Since(start); elapsed != time.Millisecond*20 {
				t.Errorf("expected first sample after 20ms, got %s", elapsed)
			}
			if sample.Latitude != testLat || sample.Longitude != testLon {
				t.Errorf("expected sample at %f,%f, got %s", testLat, testLon, sample)
			}
			if sample.Accuracy == nil || *sample.Accuracy != 3 {
				t.Errorf("expected accuracy to be 3, got %v", sample.Accuracy)
			}
			if sample.Timestamp != fixTime.UnixMilli() {
				t.Errorf("expected timestamp to be %d, got %d", fixTime.UnixMilli(), sample.Timestamp)
			}
			if sample.Provider != name {
				t.Errorf("expected provider to be %s, got %s", name, sample.Provider)
			}
		})
	})
	t.Run("fix without time is stamped with the local clock", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			source := New("", "", time.Second)
			source.locateFn = func(context.Context) (gpspoll.Fix, error) {
				return gpspoll.Fix{Lat: testLat, Lon: testLon, Mode: 3}, nil
			}
			sample := <-source.LookupStream(ctx)
			if sample.Timestamp != time.Now().UnixMilli() {
				t.Errorf("expected timestamp to be now, got %d", sample.Timestamp)
			}
			if sample.Accuracy != nil {
				t.Errorf("expected accuracy to be unknown, got %f", *sample.Accuracy)
			}
		})
	})
	t.Run("stream closes when context is canceled", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			source := New("", "", time.Second)
			source.locateFn = func(context.Context) (gpspoll.Fix, error) {
				return gpspoll.Fix{}, errors.New("no gpsd")
			}
			out := source.LookupStream(ctx)
			cancel()
			if _, ok := <-out; ok {
				t.Error("expected stream to be closed")
			}
		})
	})
}
