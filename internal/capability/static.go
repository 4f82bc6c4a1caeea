// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package capability

import (
	"context"
	"sync"
)

// StaticPlatform reports a fixed set of grants. It is used on headless hosts where there is no
// one to prompt, with the grants taken from the configuration.
type StaticPlatform struct {
	mu    sync.RWMutex
	state State
}

// NewStaticPlatform returns a StaticPlatform reporting state.
func NewStaticPlatform(state State) *StaticPlatform {
	return &StaticPlatform{state: state}
}

// Name returns the name of the platform.
func (p *StaticPlatform) Name() string {
	return "static"
}

// Set replaces the reported grants. The change becomes visible to a Manager on its next
// Refresh.
func (p *StaticPlatform) Set(state State) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *StaticPlatform) get() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Check returns the configured grants.
func (p *StaticPlatform) Check(context.Context) (State, error) {
	return p.get(), nil
}

// RequestForegroundLocation returns the configured foreground location grant.
func (p *StaticPlatform) RequestForegroundLocation(context.Context) (Status, error) {
	return p.get().ForegroundLocation, nil
}

// RequestBackgroundLocation returns the configured background location grant.
func (p *StaticPlatform) RequestBackgroundLocation(context.Context) (Status, error) {
	status := p.get().BackgroundLocation
	if status == NotApplicable {
		return status, ErrCapabilityUnavailable
	}
	return status, nil
}

// RequestNotification returns the configured notification grant.
func (p *StaticPlatform) RequestNotification(context.Context) (Status, error) {
	status := p.get().Notification
	if status == NotApplicable {
		return status, ErrCapabilityUnavailable
	}
	return status, nil
}

// IsPowerExemptionGranted returns the configured power management exemption.
func (p *StaticPlatform) IsPowerExemptionGranted(context.Context) (bool, error) {
	return p.get().PowerExemptionGranted, nil
}

// RequestPowerExemption returns the configured power management exemption. A static platform
// cannot grant anything on request.
func (p *StaticPlatform) RequestPowerExemption(context.Context) (bool, error) {
	return p.get().PowerExemptionGranted, nil
}
