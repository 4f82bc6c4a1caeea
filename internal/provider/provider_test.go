// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wneessen/geotrack/internal/location"
	"github.com/wneessen/geotrack/internal/logger"
)

const (
	testEndpoint   = "https://tracking.example.com/api/v1/location"
	testCredential = "secret-token"
)

// fakeSource hands out the streams produced by lookup and records the time of every lookup.
type fakeSource struct {
	mu      sync.Mutex
	lookups []time.Duration
	start   time.Time
	lookup  func(ctx context.Context, n int) <-chan location.Sample
}

func newFakeSource(lookup func(ctx context.Context, n int) <-chan location.Sample) *fakeSource {
	return &fakeSource{start: time.Now(), lookup: lookup}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) LookupStream(ctx context.Context) <-chan location.Sample {
	f.mu.Lock()
	f.lookups = append(f.lookups, time.Since(f.start))
	n := len(f.lookups)
	f.mu.Unlock()
	return f.lookup(ctx, n)
}

func (f *fakeSource) lookupTimes() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.lookups...)
}

func closedStream(samples ...location.Sample) <-chan location.Sample {
	ch := make(chan location.Sample, len(samples))
	for _, s := range samples {
		ch <- s
	}
	close(ch)
	return ch
}

func testLogger() *logger.Logger {
	return logger.NewLogger(slog.LevelDebug, io.Discard)
}

func TestNewRunner(t *testing.T) {
	t.Run("defaults are applied", func(t *testing.T) {
		runner, err := NewRunner(newFakeSource(nil), testLogger(), Options{MaxRestarts: -1})
		if err != nil {
			t.Fatalf("failed to create runner: %s", err)
		}
		if cap(runner.samples) != DefaultBufferSize {
			t.Errorf("expected buffer size %d, got %d", DefaultBufferSize, cap(runner.samples))
		}
		if runner.opts.MaxRestarts != 0 {
			t.Errorf("expected negative max restarts to be reset to 0, got %d", runner.opts.MaxRestarts)
		}
		if runner.Name() != "fake" {
			t.Errorf("expected name to be fake, got %s", runner.Name())
		}
	})
	t.Run("source is required", func(t *testing.T) {
		if _, err := NewRunner(nil, testLogger(), Options{}); err == nil {
			t.Error("expected error for missing source")
		}
	})
	t.Run("logger is required", func(t *testing.T) {
		if _, err := NewRunner(newFakeSource(nil), nil, Options{}); err == nil {
			t.Error("expected error for missing logger")
		}
	})
}

func TestRunner_Lifecycle(t *testing.T) {
	t.Run("start requires a credential", func(t *testing.T) {
		runner, _ := NewRunner(newFakeSource(nil), testLogger(), Options{})
		err := runner.Start(t.Context(), testEndpoint, "")
		if !errors.Is(err, ErrNativeProvider) {
			t.Errorf("expected error to be %s, got %v", ErrNativeProvider, err)
		}
		if runner.IsRunning() {
			t.Error("expected runner not to be running")
		}
	})
	t.Run("samples are forwarded until stopped", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			want := []location.Sample{
				location.NewSample(28.61, 77.23, 5, time.Now(), "fake"),
				location.NewSample(28.62, 77.25, 5, time.Now().Add(time.Second), "fake"),
			}
			source := newFakeSource(func(ctx context.Context, _ int) <-chan location.Sample {
				ch := make(chan location.Sample)
				go func() {
					defer close(ch)
					for _, s := range want {
						ch <- s
					}
					<-ctx.Done()
				}()
				return ch
			})
			runner, _ := NewRunner(source, testLogger(), Options{})
			if err := runner.Start(t.Context(), testEndpoint, testCredential); err != nil {
				t.Fatalf("failed to start runner: %s", err)
			}
			if !runner.IsRunning() {
				t.Error("expected runner to be running")
			}
			if err := runner.Start(t.Context(), testEndpoint, testCredential); !errors.Is(err, ErrAlreadyRunning) {
				t.Errorf("expected error to be %s, got %v", ErrAlreadyRunning, err)
			}

			got := []location.Sample{<-runner.Samples(), <-runner.Samples()}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("forwarded samples mismatch (-want +got):\n%s", diff)
			}

			if err := runner.Stop(t.Context()); err != nil {
				t.Fatalf("failed to stop runner: %s", err)
			}
			if runner.IsRunning() {
				t.Error("expected runner to be stopped")
			}
			if err := runner.Stop(t.Context()); err != nil {
				t.Errorf("expected second stop to succeed, got %s", err)
			}
		})
	})
	t.Run("runner can be restarted after stop", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			source := newFakeSource(func(ctx context.Context, _ int) <-chan location.Sample {
				ch := make(chan location.Sample)
				go func() {
					<-ctx.Done()
					close(ch)
				}()
				return ch
			})
			runner, _ := NewRunner(source, testLogger(), Options{})
			for i := 0; i < 2; i++ {
				if err := runner.Start(t.Context(), testEndpoint, testCredential); err != nil {
					t.Fatalf("failed to start runner: %s", err)
				}
				if err := runner.Stop(t.Context()); err != nil {
					t.Fatalf("failed to stop runner: %s", err)
				}
			}
			if len(source.lookupTimes()) != 2 {
				t.Errorf("expected 2 lookups, got %d", len(source.lookupTimes()))
			}
		})
	})
}

func TestRunner_track(t *testing.T) {
	t.Run("reconnects with exponential backoff and gives up", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			source := newFakeSource(func(context.Context, int) <-chan location.Sample {
				return closedStream()
			})
			runner, _ := NewRunner(source, testLogger(), Options{MaxRestarts: 3})
			if err := runner.Start(t.Context(), testEndpoint, testCredential); err != nil {
				t.Fatalf("failed to start runner: %s", err)
			}

			time.Sleep(time.Minute)
			synctest.Wait()

			want := []time.Duration{0, time.Second, time.Second * 3, time.Second * 7}
			if diff := cmp.Diff(want, source.lookupTimes()); diff != "" {
				t.Errorf("lookup times mismatch (-want +got):\n%s", diff)
			}
			if runner.IsRunning() {
				t.Error("expected runner to have given up")
			}
		})
	})
	t.Run("received samples reset the backoff", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			sample := location.NewSample(51, 7, 0, time.Now(), "fake")
			source := newFakeSource(func(_ context.Context, n int) <-chan location.Sample {
				if n == 3 {
					return closedStream(sample)
				}
				return closedStream()
			})
			runner, _ := NewRunner(source, testLogger(), Options{MaxRestarts: 2})
			if err := runner.Start(t.Context(), testEndpoint, testCredential); err != nil {
				t.Fatalf("failed to start runner: %s", err)
			}

			time.Sleep(time.Minute)
			synctest.Wait()

			// 0: fail, +1s: fail, +2s: sample, +1s: fail, +2s: give up
			want := []time.Duration{0, time.Second, time.Second * 3, time.Second * 4, time.Second * 6}
			if diff := cmp.Diff(want, source.lookupTimes()); diff != "" {
				t.Errorf("lookup times mismatch (-want +got):\n%s", diff)
			}
			if got := <-runner.Samples(); got.ID != sample.ID {
				t.Errorf("expected sample %s, got %s", sample, got)
			}
		})
	})
	t.Run("panicking source is recovered", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			source := newFakeSource(func(_ context.Context, n int) <-chan location.Sample {
				if n == 1 {
					panic("intentional panic")
				}
				return closedStream(location.NewSample(51, 7, 0, time.Now(), "fake"))
			})
			runner, _ := NewRunner(source, testLogger(), Options{})
			if err := runner.Start(t.Context(), testEndpoint, testCredential); err != nil {
				t.Fatalf("failed to start runner: %s", err)
			}
			sample := <-runner.Samples()
			if sample.Latitude != 51 {
				t.Errorf("expected sample from second lookup, got %s", sample)
			}
			if err := runner.Stop(t.Context()); err != nil {
				t.Fatalf("failed to stop runner: %s", err)
			}
		})
	})
	t.Run("invalid samples are dropped", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			valid := location.NewSample(51, 7, 0, time.Now(), "fake")
			source := newFakeSource(func(ctx context.Context, _ int) <-chan location.Sample {
				ch := make(chan location.Sample, 2)
				ch <- location.NewSample(91, 7, 0, time.Now(), "fake")
				ch <- valid
				return ch
			})
			runner, _ := NewRunner(source, testLogger(), Options{})
			if err := runner.Start(t.Context(), testEndpoint, testCredential); err != nil {
				t.Fatalf("failed to start runner: %s", err)
			}
			if got := <-runner.Samples(); got.ID != valid.ID {
				t.Errorf("expected valid sample, got %s", got)
			}
			if err := runner.Stop(t.Context()); err != nil {
				t.Fatalf("failed to stop runner: %s", err)
			}
		})
	})
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{time.Second, time.Second * 2},
		{time.Second * 16, time.Second * 30},
		{maxBackoff, maxBackoff},
	}
	for _, tc := range tests {
		if got := nextBackoff(tc.in); got != tc.want {
			t.Errorf("nextBackoff(%s): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}
