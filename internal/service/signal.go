// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wneessen/geotrack/internal/logger"
)

type signalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

// stdLibSignalSource is the production implementation.
type stdLibSignalSource struct{}

func (stdLibSignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

func (stdLibSignalSource) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}

// HandleSignals reloads the credential on SIGHUP and explicitly restarts tracking on SIGUSR1.
func (s *Service) HandleSignals(ctx context.Context, sigChan chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				s.logger.Info("reloading credential")
				s.reloadCredential()
			case syscall.SIGUSR1:
				s.logger.Info("restarting tracking")
				if err := s.coordinator.Start(); err != nil {
					s.logger.Error("failed to restart tracking", logger.Err(err))
				}
			default:
				s.logger.Debug("ignoring signal", slog.String("signal", sig.String()))
			}
		}
	}
}
