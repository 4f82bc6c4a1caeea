// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package tracker implements the tracking coordinator. The coordinator owns the tracking
// lifecycle: it binds a credential, starts and stops the native provider, routes incoming
// samples through the change detector into the delivery pipeline and reacts to capability,
// credential and app state changes.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/geotrack/internal/capability"
	"github.com/wneessen/geotrack/internal/delivery"
	"github.com/wneessen/geotrack/internal/eventbus"
	"github.com/wneessen/geotrack/internal/job"
	"github.com/wneessen/geotrack/internal/location"
	"github.com/wneessen/geotrack/internal/logger"
	"github.com/wneessen/geotrack/internal/provider"
)

const (
	DefaultHealthCheckInterval = time.Minute
	DefaultStartConfirmDelay   = time.Second * 5
	DefaultStopTimeout         = time.Second * 10
)

// ErrProviderNotRunning is reported when the native provider stopped behind the coordinator's back.
var ErrProviderNotRunning = fmt.Errorf("%w: provider is no longer running", provider.ErrNativeProvider)

// Deliverer hands significant samples to the delivery pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, sample location.Sample, credential string, appState location.AppState,
		onSuccess func(location.Sample, delivery.Ack)) bool
	CancelAll() int
}

// Options configures a Coordinator.
type Options struct {
	Bus          *eventbus.Bus
	Capabilities *capability.Manager
	Provider     provider.Native
	Pipeline     Deliverer
	Detector     location.Detector
	Logger       *logger.Logger

	// Endpoint is handed to the native provider on start.
	Endpoint string

	HealthCheckInterval time.Duration
	StartConfirmDelay   time.Duration
	// StopTimeout bounds how long a provider stop is waited for in the background.
	StopTimeout time.Duration
}

// session is a single Starting/Active period. A session is current as long as its generation
// matches the coordinator's.
type session struct {
	gen        uint64
	ctx        context.Context
	cancel     context.CancelFunc
	credential string
}

// providerOp is a queued call into the native provider.
type providerOp struct {
	start *session
}

type event struct {
	topic   eventbus.Topic
	payload any
}

// Coordinator is the tracking state machine. All state transitions are serialized by mu and
// events are published after it is released.
type Coordinator struct {
	bus          *eventbus.Bus
	caps         *capability.Manager
	provider     provider.Native
	pipeline     Deliverer
	detector     location.Detector
	logger       *logger.Logger
	endpoint     string
	healthCheck  time.Duration
	confirmDelay time.Duration
	stopTimeout  time.Duration

	lastDelivered location.LastDelivered

	mu         sync.Mutex
	state      State
	failure    *Failure
	credential string
	appState   location.AppState
	gen        uint64
	session    *session
	ops        []providerOp
	opsRunning bool
	unwatch    func()
}

// New returns a Coordinator in the Inactive state.
func New(opts Options) (*Coordinator, error) {
	switch {
	case opts.Bus == nil:
		return nil, errors.New("event bus is required")
	case opts.Capabilities == nil:
		return nil, errors.New("capability manager is required")
	case opts.Provider == nil:
		return nil, errors.New("native provider is required")
	case opts.Pipeline == nil:
		return nil, errors.New("delivery pipeline is required")
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	case opts.Endpoint == "":
		return nil, errors.New("endpoint is required")
	}
	if opts.Detector == (location.Detector{}) {
		opts.Detector = location.DefaultDetector()
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if opts.StartConfirmDelay <= 0 {
		opts.StartConfirmDelay = DefaultStartConfirmDelay
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	c := &Coordinator{
		bus:          opts.Bus,
		caps:         opts.Capabilities,
		provider:     opts.Provider,
		pipeline:     opts.Pipeline,
		detector:     opts.Detector,
		logger:       opts.Logger,
		endpoint:     opts.Endpoint,
		healthCheck:  opts.HealthCheckInterval,
		confirmDelay: opts.StartConfirmDelay,
		stopTimeout:  opts.StopTimeout,
		appState:     location.AppStateActive,
	}
	c.unwatch = c.caps.Watch(c.capabilitiesChanged)
	return c, nil
}

// Initialize refreshes the capability state and stops a native provider left running by a
// previous process. It publishes initialized or initializationError.
func (c *Coordinator) Initialize(ctx context.Context) error {
	if err := c.caps.Refresh(ctx); err != nil {
		c.logger.Error("failed to initialize tracking", logger.Err(err))
		c.bus.Publish(eventbus.TopicInitializationError, eventbus.InitializationError{Err: err})
		return err
	}

	c.mu.Lock()
	if c.state == Inactive && c.provider.IsRunning() {
		c.logger.Warn("stopping orphaned native provider", slog.String("provider", c.provider.Name()))
		c.enqueueLocked(providerOp{})
	}
	c.mu.Unlock()

	exempt := c.caps.IsPowerExemptionGranted(ctx)
	state := c.caps.State()
	c.logger.Info("tracking initialized", slog.String("provider", c.provider.Name()),
		slog.String("platform", c.caps.Platform()),
		slog.String("foreground_location", state.ForegroundLocation.String()),
		slog.String("background_location", state.BackgroundLocation.String()),
		slog.String("notification", state.Notification.String()),
		slog.Bool("power_exempt", exempt))
	c.bus.Publish(eventbus.TopicInitialized, eventbus.Initialized{
		Provider:           c.provider.Name(),
		ForegroundLocation: state.ForegroundLocation.String(),
		BackgroundLocation: state.BackgroundLocation.String(),
		Notification:       state.Notification.String(),
		PowerExempt:        exempt,
	})
	return nil
}

// Close stops tracking and detaches the coordinator from the capability manager.
func (c *Coordinator) Close() {
	c.Stop()
	c.mu.Lock()
	unwatch := c.unwatch
	c.unwatch = nil
	c.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

// SetCredential binds token to the coordinator. An empty token is equivalent to
// ClearCredential. A token starts tracking from Inactive or Failed unless foreground location
// is denied, and restarts a running session if it differs from the current one.
func (c *Coordinator) SetCredential(token string) {
	if token == "" {
		c.ClearCredential()
		return
	}
	foregroundDenied := c.caps.State().ForegroundLocation == capability.Denied

	c.mu.Lock()
	changed := token != c.credential
	c.credential = token

	switch c.state {
	case Inactive, Failed:
		if foregroundDenied {
			c.logger.Warn("foreground location denied, tracking waits for the grant")
			break
		}
		c.beginLocked()
	case Starting, Active:
		if changed {
			c.logger.Info("credential changed, restarting tracking session")
			c.setStateLocked(Stopping)
			c.endSessionLocked()
			c.beginLocked()
		}
	}
	c.mu.Unlock()
}

// ClearCredential stops tracking and forgets the credential.
func (c *Coordinator) ClearCredential() {
	c.Stop()
}

// Stop stops tracking and clears the credential. Pending delivery retries are cancelled and
// the native provider stop is issued without waiting for it to be confirmed.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.credential = ""
	events := c.stopLocked()
	c.mu.Unlock()
	c.publish(events)
}

// Start explicitly (re)starts tracking from Inactive or Failed with the held credential. It is
// a no-op if tracking is already starting or active.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.credential == "" {
		c.mu.Unlock()
		return ErrNoCredential
	}
	if c.state == Inactive || c.state == Failed {
		c.beginLocked()
	}
	c.mu.Unlock()
	return nil
}

// SetAppState records the app state and publishes appStateChange. Returning to the foreground
// while Inactive with a credential restarts tracking unless foreground location is denied.
// Moving to the background never changes the tracking state.
func (c *Coordinator) SetAppState(state location.AppState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAppState, state)
	}
	foregroundDenied := c.caps.State().ForegroundLocation == capability.Denied

	c.mu.Lock()
	from := c.appState
	if from == state {
		c.mu.Unlock()
		return nil
	}
	c.appState = state
	c.logger.Info("app state changed", slog.String("from", string(from)), slog.String("to", string(state)),
		slog.String("tracking", c.state.String()))

	events := []event{{eventbus.TopicAppStateChange, eventbus.AppStateChange{From: from, To: state}}}
	if state == location.AppStateActive && c.state == Inactive && c.credential != "" && !foregroundDenied {
		c.logger.Info("restarting tracking after returning to foreground")
		c.beginLocked()
	}
	c.mu.Unlock()
	c.publish(events)
	return nil
}

// State returns the current tracking state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FailReason returns why the coordinator is in the Failed state, or nil otherwise.
func (c *Coordinator) FailReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Failed || c.failure == nil {
		return nil
	}
	return c.failure
}

// AppState returns the last reported app state.
func (c *Coordinator) AppState() location.AppState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appState
}

// LastDelivered returns the freshest sample acknowledged by the backend in the current or last
// session, or nil if there is none.
func (c *Coordinator) LastDelivered() *location.Sample {
	return c.lastDelivered.Get()
}

// beginLocked opens a new session and queues its start.
func (c *Coordinator) beginLocked() {
	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{gen: c.gen, ctx: ctx, cancel: cancel, credential: c.credential}
	c.session = sess
	c.failure = nil
	c.lastDelivered.Reset()
	c.setStateLocked(Starting)
	c.enqueueLocked(providerOp{start: sess})
}

// stopLocked ends the current session, if any, and moves to Inactive. Failed is left as is.
func (c *Coordinator) stopLocked() []event {
	if c.state != Starting && c.state != Active {
		return nil
	}
	c.setStateLocked(Stopping)
	c.endSessionLocked()
	c.setStateLocked(Inactive)
	return []event{{eventbus.TopicServiceStopped, eventbus.ServiceStopped{Reason: "stopped"}}}
}

// endSessionLocked invalidates the current session, cancels its deliveries and queues a
// provider stop.
func (c *Coordinator) endSessionLocked() {
	c.gen++
	if c.session != nil {
		c.session.cancel()
		c.session = nil
	}
	if n := c.pipeline.CancelAll(); n > 0 {
		c.logger.Debug("cancelled pending deliveries", slog.Int("count", n))
	}
	c.enqueueLocked(providerOp{})
}

func (c *Coordinator) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.logger.Debug("tracking state changed", slog.String("from", c.state.String()),
		slog.String("to", state.String()))
	c.state = state
}

func (c *Coordinator) currentLocked(sess *session) bool {
	return c.session == sess && sess.gen == c.gen
}

// fail moves a current session to Failed. Stale sessions are ignored.
func (c *Coordinator) fail(sess *session, reason Reason, err error) {
	c.mu.Lock()
	if !c.currentLocked(sess) {
		c.mu.Unlock()
		return
	}
	c.endSessionLocked()
	c.failure = &Failure{Reason: reason, Err: err}
	c.setStateLocked(Failed)
	c.mu.Unlock()

	c.logger.Error("tracking failed", slog.String("reason", string(reason)), logger.Err(err))
	c.bus.Publish(eventbus.TopicError, eventbus.Error{Kind: string(reason), Err: err})
}

func (c *Coordinator) publish(events []event) {
	for _, e := range events {
		c.bus.Publish(e.topic, e.payload)
	}
}

// enqueueLocked queues a provider call. Calls are executed in order by a single worker, so
// a stop always reaches the provider before the start of a later session.
func (c *Coordinator) enqueueLocked(op providerOp) {
	c.ops = append(c.ops, op)
	if c.opsRunning {
		return
	}
	c.opsRunning = true
	go c.runOps()
}

func (c *Coordinator) runOps() {
	for {
		c.mu.Lock()
		if len(c.ops) == 0 {
			c.opsRunning = false
			c.mu.Unlock()
			return
		}
		op := c.ops[0]
		c.ops = c.ops[1:]
		c.mu.Unlock()

		if op.start != nil {
			c.startSession(op.start)
			continue
		}
		c.stopProvider()
	}
}

// startSession performs the Starting phase of sess: capability requests, then the native
// provider start.
func (c *Coordinator) startSession(sess *session) {
	c.mu.Lock()
	current := c.currentLocked(sess)
	c.mu.Unlock()
	if !current {
		return
	}

	if _, err := c.caps.RequestForegroundLocation(sess.ctx); err != nil {
		if sess.ctx.Err() != nil {
			return
		}
		reason := ReasonPermissionDenied
		if errors.Is(err, capability.ErrCapabilityUnavailable) {
			reason = ReasonCapabilityUnavailable
		}
		c.fail(sess, reason, err)
		return
	}
	c.requestOptionalCapabilities(sess.ctx)
	if sess.ctx.Err() != nil {
		return
	}

	if err := c.provider.Start(sess.ctx, c.endpoint, sess.credential); err != nil {
		if !errors.Is(err, provider.ErrNativeProvider) {
			err = fmt.Errorf("%w: %w", provider.ErrNativeProvider, err)
		}
		c.fail(sess, ReasonNativeProvider, err)
		return
	}
	c.activate(sess)
}

// requestOptionalCapabilities requests the capabilities that never gate tracking.
func (c *Coordinator) requestOptionalCapabilities(ctx context.Context) {
	if status, err := c.caps.RequestBackgroundLocationIfSupported(ctx); err != nil {
		c.logger.Warn("background location request failed", logger.Err(err))
	} else if status == capability.Denied {
		c.logger.Warn("background location denied, tracking may pause in the background")
	}
	if status, err := c.caps.RequestNotification(ctx); err != nil {
		c.logger.Warn("notification request failed", logger.Err(err))
	} else if status == capability.Denied {
		c.logger.Debug("notifications denied")
	}
	if !c.caps.IsPowerExemptionGranted(ctx) && !c.caps.RequestPowerExemption(ctx) {
		c.logger.Warn("power management exemption not granted, tracking may be suspended")
	}
}

// activate moves sess to Active once the provider acknowledged the start. A late
// acknowledgment for a stale session is left to the provider stop queued behind it.
func (c *Coordinator) activate(sess *session) {
	c.mu.Lock()
	if !c.currentLocked(sess) {
		c.mu.Unlock()
		c.logger.Debug("ignoring late native provider start acknowledgment")
		return
	}
	c.setStateLocked(Active)
	c.mu.Unlock()

	go c.consume(sess)
	go c.confirmStart(sess)
	health := job.New("health-check", c.healthCheck, func(context.Context) { c.checkHealth(sess) }, c.logger)
	go health.Start(sess.ctx)

	c.logger.Info("tracking started", slog.String("provider", c.provider.Name()),
		slog.String("endpoint", c.endpoint))
	c.bus.Publish(eventbus.TopicServiceStarted, eventbus.ServiceStarted{
		Provider: c.provider.Name(),
		Endpoint: c.endpoint,
	})
}

// stopProvider issues a provider stop and waits at most the stop timeout for it.
func (c *Coordinator) stopProvider() {
	ctx, cancel := context.WithTimeout(context.Background(), c.stopTimeout)
	defer cancel()
	if err := c.provider.Stop(ctx); err != nil {
		c.logger.Warn("native provider did not confirm stop", slog.String("provider", c.provider.Name()),
			logger.Err(err))
	}
}

// consume processes the provider's samples in arrival order until sess ends.
func (c *Coordinator) consume(sess *session) {
	samples := c.provider.Samples()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case sample := <-samples:
			c.handleSample(sess, sample)
		}
	}
}

func (c *Coordinator) handleSample(sess *session, sample location.Sample) {
	significant := c.detector.IsSignificant(c.lastDelivered.Get(), sample)
	c.bus.Publish(eventbus.TopicLocationUpdate, eventbus.LocationUpdate{Sample: sample, Significant: significant})
	if !significant {
		c.logger.Debug("skipping insignificant location sample", slog.String("sample", sample.String()))
		return
	}

	c.pipeline.Deliver(sess.ctx, sample, sess.credential, c.AppState(), func(s location.Sample, _ delivery.Ack) {
		c.delivered(sess, s)
	})
}

// delivered records s as delivered unless its session has ended in the meantime.
func (c *Coordinator) delivered(sess *session, s location.Sample) {
	c.mu.Lock()
	current := c.currentLocked(sess)
	c.mu.Unlock()
	if !current {
		return
	}
	if !c.lastDelivered.Update(s) {
		c.logger.Debug("delivered sample is older than last delivered sample", slog.String("sample", s.String()))
	}
}

func (c *Coordinator) confirmStart(sess *session) {
	t := time.NewTimer(c.confirmDelay)
	defer t.Stop()
	select {
	case <-sess.ctx.Done():
	case <-t.C:
		c.checkHealth(sess)
	}
}

// checkHealth fails an Active session whose preconditions no longer hold.
func (c *Coordinator) checkHealth(sess *session) {
	c.mu.Lock()
	if !c.currentLocked(sess) || c.state != Active {
		c.mu.Unlock()
		return
	}
	hasCredential := c.credential != ""
	c.mu.Unlock()

	foreground := c.caps.State().ForegroundLocation
	switch {
	case !hasCredential:
		c.fail(sess, ReasonCredentialUnavailable, ErrNoCredential)
	case foreground != capability.Granted:
		c.fail(sess, ReasonPermissionRevoked,
			fmt.Errorf("foreground location %s: %w", foreground, capability.ErrPermissionDenied))
	case !c.provider.IsRunning():
		c.fail(sess, ReasonProviderNotRunning, ErrProviderNotRunning)
	default:
		c.logger.Debug("tracking health check passed", slog.String("provider", c.provider.Name()))
	}
}

// capabilitiesChanged fails an Active session as soon as foreground location is revoked.
func (c *Coordinator) capabilitiesChanged(state capability.State) {
	if state.ForegroundLocation == capability.Granted {
		return
	}
	c.mu.Lock()
	sess := c.session
	active := c.state == Active
	c.mu.Unlock()
	if !active || sess == nil {
		return
	}
	c.fail(sess, ReasonPermissionRevoked,
		fmt.Errorf("foreground location %s: %w", state.ForegroundLocation, capability.ErrPermissionDenied))
}
