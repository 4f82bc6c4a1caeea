// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package delivery sends location samples to the backend with bounded exponential backoff.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wneessen/geotrack/internal/eventbus"
	"github.com/wneessen/geotrack/internal/http"
	"github.com/wneessen/geotrack/internal/location"
	"github.com/wneessen/geotrack/internal/logger"
)

const (
	DefaultTimeout     = time.Second * 10
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second * 2

	// maxErrorBody limits how much of a rejected response body ends up in errors and logs
	maxErrorBody = 256
)

// Poster performs the authenticated JSON POST to the backend.
type Poster interface {
	PostJSONWithTimeout(ctx context.Context, endpoint string, payload any, headers map[string]string,
		timeout time.Duration) (http.Response, error)
}

// Options configures a Pipeline. Zero values are replaced by the defaults.
type Options struct {
	Endpoint    string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
}

// Attempt describes a sample that is currently being delivered.
type Attempt struct {
	Sample       location.Sample
	AttemptCount int
	// NextRetryAt is zero while an attempt is in flight.
	NextRetryAt time.Time
}

type task struct {
	attempt Attempt
	cancel  context.CancelFunc
}

// Pipeline delivers samples asynchronously. Every sample is handled by its own cancellable
// task keyed by the sample ID, so all pending retries can be enumerated and cancelled.
type Pipeline struct {
	client Poster
	bus    *eventbus.Bus
	logger *logger.Logger
	opts   Options

	mu      sync.Mutex
	pending map[string]*task
	wg      sync.WaitGroup
}

// New returns a new Pipeline.
func New(client Poster, bus *eventbus.Bus, log *logger.Logger, opts Options) (*Pipeline, error) {
	if client == nil {
		return nil, errors.New("HTTP client is required")
	}
	if bus == nil {
		return nil, errors.New("event bus is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Endpoint == "" {
		return nil, errors.New("delivery endpoint is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}

	return &Pipeline{
		client:  client,
		bus:     bus,
		logger:  log,
		opts:    opts,
		pending: make(map[string]*task),
	}, nil
}

// Endpoint returns the URL samples are posted to.
func (p *Pipeline) Endpoint() string {
	return p.opts.Endpoint
}

// Send performs a single delivery attempt for sample. Failures are classified into
// ErrTransport, ErrUnavailable and ErrRejected.
func (p *Pipeline) Send(ctx context.Context, sample location.Sample, credential string,
	appState location.AppState,
) (Ack, error) {
	headers := map[string]string{"Authorization": "Bearer " + credential}
	resp, err := p.client.PostJSONWithTimeout(ctx, p.opts.Endpoint, NewPayload(sample, appState), headers,
		p.opts.Timeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Ack{}, fmt.Errorf("delivery aborted: %w", ctxErr)
		}
		return Ack{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	ack := Ack{StatusCode: resp.StatusCode}
	if !resp.OK() {
		body := string(resp.Body)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return ack, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	if json.Valid(resp.Body) {
		ack.Payload = json.RawMessage(resp.Body)
	}
	return ack, nil
}

// Deliver starts delivering sample in the background and returns immediately. onSuccess is
// called once the backend acknowledged the sample. It returns false if the sample is already
// being delivered.
func (p *Pipeline) Deliver(ctx context.Context, sample location.Sample, credential string,
	appState location.AppState, onSuccess func(location.Sample, Ack),
) bool {
	p.mu.Lock()
	if _, ok := p.pending[sample.ID]; ok {
		p.mu.Unlock()
		p.logger.Debug("sample is already being delivered", slog.String("sample", sample.ID))
		return false
	}
	taskCtx, cancel := context.WithCancel(ctx)
	p.pending[sample.ID] = &task{attempt: Attempt{Sample: sample}, cancel: cancel}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(taskCtx, sample, credential, appState, onSuccess)
	return true
}

// Pending returns a snapshot of all samples that are currently in flight or waiting for a
// retry, ordered by capture time.
func (p *Pipeline) Pending() []Attempt {
	p.mu.Lock()
	attempts := make([]Attempt, 0, len(p.pending))
	for _, t := range p.pending {
		attempts = append(attempts, t.attempt)
	}
	p.mu.Unlock()

	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].Sample.Timestamp < attempts[j].Sample.Timestamp
	})
	return attempts
}

// CancelAll cancels every pending delivery and retry timer. Cancelled samples are dropped
// without a failure event. It returns the number of cancelled deliveries.
func (p *Pipeline) CancelAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.pending {
		t.cancel()
	}
	return len(p.pending)
}

// Wait blocks until all delivery tasks have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// run drives the attempts for a single sample until it succeeds, fails terminally, exhausts
// the retry ceiling or gets cancelled.
func (p *Pipeline) run(ctx context.Context, sample location.Sample, credential string, appState location.AppState,
	onSuccess func(location.Sample, Ack),
) {
	defer p.wg.Done()
	defer p.finish(sample.ID)

	for attempt := 1; ; attempt++ {
		p.track(sample.ID, attempt, time.Time{})
		ack, err := p.Send(ctx, sample, credential, appState)
		if err == nil {
			p.logger.Debug("location sample delivered", slog.String("sample", sample.ID),
				slog.Int64("timestamp", sample.Timestamp), slog.Int("attempt", attempt),
				slog.Int("status", ack.StatusCode))
			p.bus.Publish(eventbus.TopicLocationSent, eventbus.LocationSent{
				Sample: sample, StatusCode: ack.StatusCode, Ack: ack.Payload, Attempts: attempt,
			})
			if onSuccess != nil {
				onSuccess(sample, ack)
			}
			return
		}
		if ctx.Err() != nil {
			p.logger.Debug("location delivery cancelled", slog.String("sample", sample.ID),
				slog.Int64("timestamp", sample.Timestamp), slog.Int("attempt", attempt))
			return
		}

		retryable := Retryable(err)
		exhausted := !retryable || attempt >= p.opts.MaxAttempts
		var delay time.Duration
		var nextRetry time.Time
		if !exhausted {
			delay = p.backoff(attempt)
			nextRetry = time.Now().Add(delay)
			p.track(sample.ID, attempt, nextRetry)
		}

		p.logger.Warn("location delivery attempt failed", logger.Err(err),
			slog.String("sample", sample.ID), slog.Int64("timestamp", sample.Timestamp),
			slog.Int("attempt", attempt), slog.Int("status", StatusCode(err)),
			slog.Bool("retryable", retryable), slog.Duration("retry_in", delay))
		p.bus.Publish(eventbus.TopicLocationSendError, eventbus.LocationSendError{
			Sample: sample, Err: err, Attempt: attempt, StatusCode: StatusCode(err), Retryable: retryable,
			NextRetryAt: nextRetry,
		})

		if exhausted {
			p.logger.Error("dropping location sample after failed delivery", logger.Err(err),
				slog.String("sample", sample.ID), slog.Int64("timestamp", sample.Timestamp),
				slog.Int("attempts", attempt), slog.Int("status", StatusCode(err)))
			p.bus.Publish(eventbus.TopicLocationSendFailed, eventbus.LocationSendFailed{
				Sample: sample, Err: err, Attempts: attempt,
			})
			return
		}

		if !sleepOrDone(ctx, delay) {
			p.logger.Debug("location delivery retry cancelled", slog.String("sample", sample.ID),
				slog.Int64("timestamp", sample.Timestamp), slog.Int("attempt", attempt))
			return
		}
	}
}

// backoff returns the delay after the given failed attempt: BaseDelay * 2^(attempt-1).
func (p *Pipeline) backoff(attempt int) time.Duration {
	return p.opts.BaseDelay << (attempt - 1)
}

func (p *Pipeline) track(id string, attempt int, nextRetry time.Time) {
	p.mu.Lock()
	if t, ok := p.pending[id]; ok {
		t.attempt.AttemptCount = attempt
		t.attempt.NextRetryAt = nextRetry
	}
	p.mu.Unlock()
}

func (p *Pipeline) finish(id string) {
	p.mu.Lock()
	if t, ok := p.pending[id]; ok {
		t.cancel()
		delete(p.pending, id)
	}
	p.mu.Unlock()
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
