// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package provider implements the native location provider boundary. A Runner drives a
// Source, which yields location samples, and exposes the start/stop/running lifecycle the
// tracking coordinator works with.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/geotrack/internal/location"
	"github.com/wneessen/geotrack/internal/logger"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second

	DefaultBufferSize  = 16
	DefaultMaxRestarts = 10
)

var (
	// ErrNativeProvider is the base error for all failures of the native provider.
	ErrNativeProvider = errors.New("native provider error")

	// ErrAlreadyRunning is returned when starting a provider that is already running.
	ErrAlreadyRunning = fmt.Errorf("%w: provider is already running", ErrNativeProvider)
)

// Source streams location samples. The stream is closed when the source loses its
// underlying connection; the Runner then reconnects with backoff.
type Source interface {
	Name() string
	LookupStream(ctx context.Context) <-chan location.Sample
}

// Native is the lifecycle boundary between the tracking coordinator and the platform's
// location provider.
type Native interface {
	Name() string
	Start(ctx context.Context, endpoint, credential string) error
	Stop(ctx context.Context) error
	IsRunning() bool
	Samples() <-chan location.Sample
}

// Options configures a Runner.
type Options struct {
	// BufferSize is the capacity of the samples channel.
	BufferSize int
	// MaxRestarts is the number of consecutive failed lookups after which the runner gives up
	// and reports itself as no longer running. Zero retries forever.
	MaxRestarts int
}

// Runner drives a Source and implements Native.
type Runner struct {
	source  Source
	logger  *logger.Logger
	opts    Options
	samples chan location.Sample

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	endpoint string
}

// NewRunner returns a Runner for the given Source.
func NewRunner(source Source, log *logger.Logger, opts Options) (*Runner, error) {
	if source == nil {
		return nil, errors.New("location source is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.MaxRestarts < 0 {
		opts.MaxRestarts = 0
	}
	return &Runner{
		source:  source,
		logger:  log,
		opts:    opts,
		samples: make(chan location.Sample, opts.BufferSize),
	}, nil
}

// Name returns the name of the underlying Source.
func (r *Runner) Name() string {
	return r.source.Name()
}

// Samples returns the channel the samples of all sessions are delivered on.
func (r *Runner) Samples() <-chan location.Sample {
	return r.samples
}

// Start starts tracking the Source. The endpoint and credential are kept for diagnostics only,
// since local sources do not report by themselves. The tracking goroutine outlives ctx.
func (r *Runner) Start(_ context.Context, endpoint, credential string) error {
	if credential == "" {
		return fmt.Errorf("%w: credential is required", ErrNativeProvider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		if r.runningLocked() {
			return ErrAlreadyRunning
		}
		r.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.endpoint = endpoint

	go r.track(ctx, done)
	r.logger.Debug("native provider started", slog.String("source", r.source.Name()),
		slog.String("endpoint", endpoint))
	return nil
}

// Stop stops tracking and waits until the tracking goroutine has exited or ctx is done.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		r.logger.Debug("native provider stopped", slog.String("source", r.source.Name()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: stop not confirmed: %w", ErrNativeProvider, ctx.Err())
	}
}

// IsRunning reports whether the tracking goroutine is alive.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked()
}

func (r *Runner) runningLocked() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// track continuously tracks the Source, forwarding its samples and reconnecting with backoff
// whenever its stream ends.
func (r *Runner) track(ctx context.Context, done chan struct{}) {
	defer close(done)

	backoff := initialBackoff
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		received := false
		if stream := r.safeLookup(ctx); stream != nil {
			received = r.forward(ctx, stream)
		}
		if ctx.Err() != nil {
			return
		}

		if received {
			backoff = initialBackoff
			failures = 0
		}
		failures++
		if r.opts.MaxRestarts > 0 && failures > r.opts.MaxRestarts {
			r.logger.Error("native provider gave up after repeated failures",
				slog.String("source", r.source.Name()), slog.Int("failures", failures-1))
			return
		}
		r.logger.Warn("location source stream ended, reconnecting", slog.String("source", r.source.Name()),
			slog.Duration("backoff", backoff), slog.Int("failures", failures))
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// forward copies samples from stream until it closes or ctx is done. It reports whether at
// least one sample was forwarded.
func (r *Runner) forward(ctx context.Context, stream <-chan location.Sample) bool {
	received := false
	for {
		select {
		case <-ctx.Done():
			return received
		case sample, ok := <-stream:
			if !ok {
				return received
			}
			if !sample.Valid() {
				r.logger.Debug("dropping invalid location sample", slog.String("sample", sample.String()))
				continue
			}
			received = true
			select {
			case <-ctx.Done():
				return received
			case r.samples <- sample:
			}
		}
	}
}

// safeLookup safely invokes the LookupStream method on the Source and recovers from potential
// panics. Returns nil if the operation fails.
func (r *Runner) safeLookup(ctx context.Context) (ch <-chan location.Sample) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("location source panicked", slog.String("source", r.source.Name()),
				logger.Err(fmt.Errorf("%v", rec)))
			ch = nil
		}
	}()
	return r.source.LookupStream(ctx)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}
