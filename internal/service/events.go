// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"log/slog"

	"github.com/wneessen/geotrack/internal/eventbus"
	"github.com/wneessen/geotrack/internal/logger"
)

// logEvent traces every bus event at debug level. The publishing components log failures
// themselves.
func (s *Service) logEvent(event eventbus.Event) {
	attrs := []any{slog.String("topic", string(event.Topic))}

	switch payload := event.Payload.(type) {
	case eventbus.LocationUpdate:
		attrs = append(attrs, slog.String("sample", payload.Sample.String()),
			slog.Bool("significant", payload.Significant))
	case eventbus.LocationSent:
		attrs = append(attrs, slog.Int64("timestamp", payload.Sample.Timestamp),
			slog.Int("status", payload.StatusCode), slog.Int("attempts", payload.Attempts))
	case eventbus.LocationSendError:
		attrs = append(attrs, slog.Int64("timestamp", payload.Sample.Timestamp),
			slog.Int("attempt", payload.Attempt), slog.Int("status", payload.StatusCode),
			slog.Bool("retryable", payload.Retryable), logger.Err(payload.Err))
	case eventbus.LocationSendFailed:
		attrs = append(attrs, slog.Int64("timestamp", payload.Sample.Timestamp),
			slog.Int("attempts", payload.Attempts), logger.Err(payload.Err))
	case eventbus.ServiceStarted:
		attrs = append(attrs, slog.String("provider", payload.Provider), slog.String("endpoint", payload.Endpoint))
	case eventbus.ServiceStopped:
		attrs = append(attrs, slog.String("reason", payload.Reason))
	case eventbus.Error:
		attrs = append(attrs, slog.String("kind", payload.Kind), logger.Err(payload.Err))
	case eventbus.BatteryOptimizationStatus:
		attrs = append(attrs, slog.Bool("exempt", payload.Exempt))
	case eventbus.AppStateChange:
		attrs = append(attrs, slog.String("from", string(payload.From)), slog.String("to", string(payload.To)))
	case eventbus.Initialized:
		attrs = append(attrs, slog.String("provider", payload.Provider),
			slog.String("foreground_location", payload.ForegroundLocation),
			slog.Bool("power_exempt", payload.PowerExempt))
	case eventbus.InitializationError:
		attrs = append(attrs, logger.Err(payload.Err))
	}

	s.logger.Debug("event published", attrs...)
}
