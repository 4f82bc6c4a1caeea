// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wneessen/geotrack/internal/eventbus"
	"github.com/wneessen/geotrack/internal/logger"
)

// Manager owns the capability State. It is the only component that mutates it, and it informs
// watchers whenever it changes.
type Manager struct {
	platform Platform
	bus      *eventbus.Bus
	logger   *logger.Logger

	mu       sync.RWMutex
	state    State
	nextID   uint64
	watchers map[uint64]func(State)
}

// NewManager returns a new Manager for the given platform.
func NewManager(platform Platform, bus *eventbus.Bus, log *logger.Logger) (*Manager, error) {
	if platform == nil {
		return nil, errors.New("capability platform is required")
	}
	if bus == nil {
		return nil, errors.New("event bus is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Manager{
		platform: platform,
		bus:      bus,
		logger:   log,
		watchers: make(map[uint64]func(State)),
	}, nil
}

// Platform returns the name of the underlying platform.
func (m *Manager) Platform() string {
	return m.platform.Name()
}

// State returns the current capability snapshot.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Watch registers fn to be called with the new State after every change. It returns a
// function that removes the watcher.
func (m *Manager) Watch(fn func(State)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.watchers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// Refresh queries the platform for the current grants without prompting the user.
func (m *Manager) Refresh(ctx context.Context) error {
	state, err := m.platform.Check(ctx)
	if err != nil {
		return fmt.Errorf("failed to check capabilities on %s: %w", m.platform.Name(), err)
	}
	m.update(func(s *State) { *s = state })
	return nil
}

// RequestForegroundLocation requests foreground location access. An unavailable capability
// is reported as Denied since tracking cannot work without it.
func (m *Manager) RequestForegroundLocation(ctx context.Context) (Status, error) {
	status, err := m.platform.RequestForegroundLocation(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Unknown, fmt.Errorf("foreground location request aborted: %w", err)
		}
		m.update(func(s *State) { s.ForegroundLocation = Denied })
		return Denied, fmt.Errorf("foreground location request failed: %w", err)
	}
	m.update(func(s *State) { s.ForegroundLocation = status })
	if status != Granted {
		return status, fmt.Errorf("foreground location %s: %w", status, ErrPermissionDenied)
	}
	return status, nil
}

// RequestBackgroundLocationIfSupported requests background location access. Platforms without
// a background location concept report NotApplicable, which never blocks tracking.
func (m *Manager) RequestBackgroundLocationIfSupported(ctx context.Context) (Status, error) {
	status, err := m.platform.RequestBackgroundLocation(ctx)
	switch {
	case errors.Is(err, ErrCapabilityUnavailable):
		status, err = NotApplicable, nil
	case err != nil:
		return Unknown, fmt.Errorf("background location request failed: %w", err)
	}
	m.update(func(s *State) { s.BackgroundLocation = status })
	return status, nil
}

// RequestNotification requests permission to show notifications.
func (m *Manager) RequestNotification(ctx context.Context) (Status, error) {
	status, err := m.platform.RequestNotification(ctx)
	switch {
	case errors.Is(err, ErrCapabilityUnavailable):
		status, err = NotApplicable, nil
	case err != nil:
		return Unknown, fmt.Errorf("notification request failed: %w", err)
	}
	m.update(func(s *State) { s.Notification = status })
	return status, nil
}

// IsPowerExemptionGranted reports whether the process is exempt from power management and
// publishes the result as batteryOptimizationStatus.
func (m *Manager) IsPowerExemptionGranted(ctx context.Context) bool {
	granted, err := m.platform.IsPowerExemptionGranted(ctx)
	if err != nil {
		m.logger.Warn("failed to query power management exemption", logger.Err(err),
			slog.String("platform", m.platform.Name()))
		granted = false
	}
	m.setPowerExemption(granted)
	return granted
}

// RequestPowerExemption asks the platform to exempt the process from power management and
// publishes the result as batteryOptimizationStatus.
func (m *Manager) RequestPowerExemption(ctx context.Context) bool {
	granted, err := m.platform.RequestPowerExemption(ctx)
	if err != nil {
		m.logger.Warn("failed to request power management exemption", logger.Err(err),
			slog.String("platform", m.platform.Name()))
		granted = false
	}
	m.setPowerExemption(granted)
	return granted
}

func (m *Manager) setPowerExemption(granted bool) {
	m.update(func(s *State) { s.PowerExemptionGranted = granted })
	m.bus.Publish(eventbus.TopicBatteryOptimizationStatus, eventbus.BatteryOptimizationStatus{Exempt: granted})
}

// update applies fn to the state and notifies the watchers outside the lock if it changed.
func (m *Manager) update(fn func(*State)) {
	m.mu.Lock()
	prev := m.state
	fn(&m.state)
	state := m.state
	watchers := make([]func(State), 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	if state == prev {
		return
	}
	m.logger.Debug("capability state changed",
		slog.String("foreground_location", state.ForegroundLocation.String()),
		slog.String("background_location", state.BackgroundLocation.String()),
		slog.String("notification", state.Notification.String()),
		slog.Bool("power_exempt", state.PowerExemptionGranted))
	for _, w := range watchers {
		w(state)
	}
}
