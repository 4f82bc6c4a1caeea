// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	DBusNameHasOwner     = "org.freedesktop.DBus.NameHasOwner"
	DBusPropertiesGet    = "org.freedesktop.DBus.Properties.Get"
	GeoClueBusName       = "org.freedesktop.GeoClue2"
	GeoClueManagerPath   = "/org/freedesktop/GeoClue2/Manager"
	GeoClueManagerIface  = "org.freedesktop.GeoClue2.Manager"
	GeoClueAccuracyProp  = "AvailableAccuracyLevel"
	NotificationsBusName = "org.freedesktop.Notifications"
	LogindBusName        = "org.freedesktop.login1"
	LogindObjectPath     = "/org/freedesktop/login1"
	LogindInhibit        = "org.freedesktop.login1.Manager.Inhibit"

	inhibitWhat = "sleep:idle"
	inhibitWhy  = "continuous location tracking"
	inhibitMode = "block"
)

// DBusPlatform maps the capabilities onto freedesktop services of a Linux desktop session:
//   - foreground location is granted while the GeoClue2 location service is enabled,
//   - background location is not applicable since agents keep running when the session is
//     backgrounded,
//   - notifications are granted when a notification daemon owns its name on the session bus,
//   - the power management exemption is a logind sleep/idle inhibitor lock held by the process.
type DBusPlatform struct {
	appID string

	mu        sync.Mutex
	inhibitor io.Closer

	accuracyLevel func(ctx context.Context) (uint32, error)
	nameHasOwner  func(ctx context.Context, name string) (bool, error)
	inhibit       func(ctx context.Context, who, why string) (io.Closer, error)
}

// NewDBusPlatform returns a DBusPlatform that identifies itself as appID towards logind.
func NewDBusPlatform(appID string) *DBusPlatform {
	return &DBusPlatform{
		appID:         appID,
		accuracyLevel: geoClueAccuracyLevel,
		nameHasOwner:  sessionNameHasOwner,
		inhibit:       logindInhibit,
	}
}

// Name returns the name of the platform.
func (p *DBusPlatform) Name() string {
	return "dbus"
}

// Check queries all capabilities without prompting.
func (p *DBusPlatform) Check(ctx context.Context) (State, error) {
	state := State{BackgroundLocation: NotApplicable}

	foreground, err := p.RequestForegroundLocation(ctx)
	switch {
	case errors.Is(err, ErrCapabilityUnavailable):
		state.ForegroundLocation = Denied
	case err != nil:
		return state, err
	default:
		state.ForegroundLocation = foreground
	}

	state.Notification, err = p.RequestNotification(ctx)
	if errors.Is(err, ErrCapabilityUnavailable) {
		state.Notification = NotApplicable
	} else if err != nil {
		return state, err
	}

	state.PowerExemptionGranted, _ = p.IsPowerExemptionGranted(ctx)
	return state, nil
}

// RequestForegroundLocation reports whether the GeoClue2 service allows location access. The
// user controls this through the desktop's location privacy setting.
func (p *DBusPlatform) RequestForegroundLocation(ctx context.Context) (Status, error) {
	level, err := p.accuracyLevel(ctx)
	if err != nil {
		return Unknown, fmt.Errorf("%w: GeoClue2 service not reachable: %w", ErrCapabilityUnavailable, err)
	}
	// GCLUE_ACCURACY_LEVEL_NONE means location services are switched off
	if level == 0 {
		return Denied, nil
	}
	return Granted, nil
}

// RequestBackgroundLocation always reports the capability as unavailable.
func (p *DBusPlatform) RequestBackgroundLocation(context.Context) (Status, error) {
	return NotApplicable, ErrCapabilityUnavailable
}

// RequestNotification reports whether a notification daemon is running on the session bus.
func (p *DBusPlatform) RequestNotification(ctx context.Context) (Status, error) {
	running, err := p.nameHasOwner(ctx, NotificationsBusName)
	if err != nil {
		return Unknown, fmt.Errorf("failed to look up notification service: %w", err)
	}
	if !running {
		return NotApplicable, ErrCapabilityUnavailable
	}
	return Granted, nil
}

// IsPowerExemptionGranted reports whether the process currently holds an inhibitor lock.
func (p *DBusPlatform) IsPowerExemptionGranted(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inhibitor != nil, nil
}

// RequestPowerExemption takes a logind sleep/idle inhibitor lock unless one is held already.
func (p *DBusPlatform) RequestPowerExemption(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inhibitor != nil {
		return true, nil
	}
	inhibitor, err := p.inhibit(ctx, p.appID, inhibitWhy)
	if err != nil {
		if inhibitor != nil {
			_ = inhibitor.Close()
		}
		return false, fmt.Errorf("failed to take logind inhibitor lock: %w", err)
	}
	p.inhibitor = inhibitor
	return true, nil
}

// Close releases the inhibitor lock if one is held.
func (p *DBusPlatform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inhibitor == nil {
		return nil
	}
	err := p.inhibitor.Close()
	p.inhibitor = nil
	if err != nil {
		return fmt.Errorf("failed to release logind inhibitor lock: %w", err)
	}
	return nil
}

// geoClueAccuracyLevel reads the accuracy level the GeoClue2 manager currently allows.
func geoClueAccuracyLevel(ctx context.Context) (level uint32, err error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close system bus: %w", closeErr))
		}
	}()

	var value dbus.Variant
	obj := conn.Object(GeoClueBusName, GeoClueManagerPath)
	if err = obj.CallWithContext(ctx, DBusPropertiesGet, 0, GeoClueManagerIface,
		GeoClueAccuracyProp).Store(&value); err != nil {
		return 0, fmt.Errorf("failed to read GeoClue2 accuracy level: %w", err)
	}
	level, ok := value.Value().(uint32)
	if !ok {
		return 0, fmt.Errorf("unexpected GeoClue2 accuracy level type %T", value.Value())
	}
	return level, nil
}

// sessionNameHasOwner reports whether name is owned by a connection on the session bus.
func sessionNameHasOwner(ctx context.Context, name string) (hasOwner bool, err error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close session bus: %w", closeErr))
		}
	}()

	if err = conn.BusObject().CallWithContext(ctx, DBusNameHasOwner, 0, name).Store(&hasOwner); err != nil {
		return false, fmt.Errorf("failed to call DBus NameHasOwner: %w", err)
	}
	return hasOwner, nil
}

// logindInhibit takes a block inhibitor lock. The lock is held for as long as the returned
// file descriptor stays open, independent of the bus connection.
func logindInhibit(ctx context.Context, who, why string) (inhibitor io.Closer, err error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close system bus: %w", closeErr))
		}
	}()

	var fd dbus.UnixFD
	obj := conn.Object(LogindBusName, LogindObjectPath)
	if err = obj.CallWithContext(ctx, LogindInhibit, 0, inhibitWhat, who, why, inhibitMode).Store(&fd); err != nil {
		return nil, fmt.Errorf("failed to call logind Inhibit: %w", err)
	}
	return os.NewFile(uintptr(fd), "logind-inhibitor"), nil
}
