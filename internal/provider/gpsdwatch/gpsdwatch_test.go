// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsdwatch

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/stratoberry/go-gpsd"
)

type fakeSession struct {
	mu      sync.Mutex
	filters map[string][]gpsd.Filter
	done    chan bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{filters: make(map[string][]gpsd.Filter), done: make(chan bool)}
}

func (f *fakeSession) AddFilter(class string, filter gpsd.Filter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters[class] = append(f.filters[class], filter)
}

func (f *fakeSession) Watch() chan bool {
	return f.done
}

func (f *fakeSession) emit(class string, report interface{}) {
	f.mu.Lock()
	filters := append([]gpsd.Filter(nil), f.filters[class]...)
	f.mu.Unlock()
	for _, filter := range filters {
		filter(report)
	}
}

func TestNew(t *testing.T) {
	source := New("", "")
	if source.Addr() != "localhost:2947" {
		t.Errorf("expected address to be localhost:2947, got %s", source.Addr())
	}
	if source.Name() != name {
		t.Errorf("expected name to be %s, got %s", name, source.Name())
	}
}

func TestSource_sampleFromReport(t *testing.T) {
	source := New("", "")
	tests := []struct {
		name   string
		report interface{}
		ok     bool
		acc    float64
	}{
		{"3D fix with error estimates", &gpsd.TPVReport{Mode: gpsd.Mode3D, Lat: 51, Lon: 7, Epx: 3, Epy: 4}, true, 5},
		{"2D fix without error estimates", &gpsd.TPVReport{Mode: gpsd.Mode2D, Lat: 51, Lon: 7}, true, 0},
		{"no fix", &gpsd.TPVReport{Mode: gpsd.NoFix, Lat: 51, Lon: 7}, false, 0},
		{"wrong report type", &gpsd.SKYReport{}, false, 0},
		{"nil report", (*gpsd.TPVReport)(nil), false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sample, ok := source.sampleFromReport(tc.report)
			if ok != tc.ok {
				t.Fatalf("expected ok to be %t, got %t", tc.ok, ok)
			}
			if !ok {
				return
			}
			if sample.Latitude != 51 || sample.Longitude != 7 {
				t.Errorf("expected sample at 51,7, got %s", sample)
			}
			switch {
			case tc.acc == 0 && sample.Accuracy != nil:
				t.Errorf("expected accuracy to be unknown, got %f", *sample.Accuracy)
			case tc.acc > 0 && (sample.Accuracy == nil || math.Abs(*sample.Accuracy-tc.acc) > 1e-9):
				t.Errorf("expected accuracy to be %f, got %v", tc.acc, sample.Accuracy)
			}
		})
	}
}

func TestSource_LookupStream(t *testing.T) {
	t.Run("reports are streamed until the session ends", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			sess := newFakeSession()
			source := New("", "")
			source.dialFn = func(string) (session, error) { return sess, nil }

			out := source.LookupStream(t.Context())
			synctest.Wait()

			go sess.emit("TPV", &gpsd.TPVReport{Mode: gpsd.NoFix, Lat: 1, Lon: 1})
			go sess.emit("TPV", &gpsd.TPVReport{Mode: gpsd.Mode3D, Lat: 51, Lon: 7})
			sample := <-out
			if sample.Latitude != 51 || sample.Longitude != 7 {
				t.Errorf("expected sample at 51,7, got %s", sample)
			}
			if sample.Provider != name {
				t.Errorf("expected provider to be %s, got %s", name, sample.Provider)
			}

			close(sess.done)
			if _, ok := <-out; ok {
				t.Error("expected stream to be closed after session ended")
			}

			// Late reports of a dead session must not panic.
			sess.emit("TPV", &gpsd.TPVReport{Mode: gpsd.Mode3D, Lat: 52, Lon: 8})
		})
	})
	t.Run("dial failure closes the stream", func(t *testing.T) {
		source := New("", "")
		source.dialFn = func(string) (session, error) { return nil, errors.New("connection refused") }
		if _, ok := <-source.LookupStream(t.Context()); ok {
			t.Error("expected stream to be closed")
		}
	})
	t.Run("canceled context closes the stream", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			sess := newFakeSession()
			source := New("", "")
			source.dialFn = func(string) (session, error) { return sess, nil }

			out := source.LookupStream(ctx)
			cancel()
			if _, ok := <-out; ok {
				t.Error("expected stream to be closed")
			}
		})
	})
}
