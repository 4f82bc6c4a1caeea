// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package service wires the tracking components together and runs them until the context
// is cancelled.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/wneessen/geotrack/internal/capability"
	"github.com/wneessen/geotrack/internal/config"
	"github.com/wneessen/geotrack/internal/delivery"
	"github.com/wneessen/geotrack/internal/eventbus"
	"github.com/wneessen/geotrack/internal/http"
	"github.com/wneessen/geotrack/internal/location"
	"github.com/wneessen/geotrack/internal/logger"
	"github.com/wneessen/geotrack/internal/provider"
	"github.com/wneessen/geotrack/internal/tracker"
)

const capabilityRefreshJob = "capability_refresh_job"

type Service struct {
	config      *config.Config
	logger      *logger.Logger
	bus         *eventbus.Bus
	client      *http.Client
	platform    capability.Platform
	caps        *capability.Manager
	runner      *provider.Runner
	pipeline    *delivery.Pipeline
	coordinator *tracker.Coordinator
	scheduler   gocron.Scheduler

	SignalSrc signalSource
}

// New builds all tracking components from the configuration. Nothing is started until Run
// is called.
func New(conf *config.Config, log *logger.Logger) (*Service, error) {
	if conf == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	service := &Service{
		config:    conf,
		logger:    log,
		bus:       eventbus.New(log),
		client:    http.New(log),
		scheduler: scheduler,
		SignalSrc: stdLibSignalSource{},
	}

	service.platform, err = selectPlatform(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create capability platform: %w", err)
	}
	service.caps, err = capability.NewManager(service.platform, service.bus, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create capability manager: %w", err)
	}

	source, err := selectSource(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create location source: %w", err)
	}
	service.runner, err = provider.NewRunner(source, log.With(slog.String("provider", source.Name())),
		provider.Options{MaxRestarts: conf.Provider.MaxRestarts})
	if err != nil {
		return nil, fmt.Errorf("failed to create native provider: %w", err)
	}

	service.pipeline, err = delivery.New(service.client, service.bus, log, delivery.Options{
		Endpoint:    conf.Endpoint,
		Timeout:     conf.Delivery.Timeout,
		MaxAttempts: conf.Delivery.MaxAttempts,
		BaseDelay:   conf.Delivery.BaseDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery pipeline: %w", err)
	}

	service.coordinator, err = tracker.New(tracker.Options{
		Bus:          service.bus,
		Capabilities: service.caps,
		Provider:     service.runner,
		Pipeline:     service.pipeline,
		Detector: location.Detector{
			DistanceThreshold: conf.Detection.DistanceThreshold,
			TimeThreshold:     conf.Detection.TimeThreshold,
		},
		Logger:              log,
		Endpoint:            conf.Endpoint,
		HealthCheckInterval: conf.Intervals.HealthCheck,
		StartConfirmDelay:   conf.Intervals.StartConfirm,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracking coordinator: %w", err)
	}

	return service, nil
}

// Run initializes the coordinator, binds the configured credential and serves signals and
// sleep/resume events until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	unsubscribe := s.bus.SubscribeAll(s.logEvent)
	defer unsubscribe()

	if err := s.coordinator.Initialize(ctx); err != nil {
		return errors.Join(fmt.Errorf("failed to initialize tracking: %w", err), s.shutdown())
	}

	if err := s.createScheduledJob(ctx, s.config.Intervals.CapabilityRefresh, s.refreshCapabilities,
		capabilityRefreshJob); err != nil {
		return errors.Join(err, s.shutdown())
	}
	s.scheduler.Start()

	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, syscall.SIGHUP, syscall.SIGUSR1)
	go func() {
		defer s.SignalSrc.Stop(sigChan)
		s.HandleSignals(ctx, sigChan)
	}()

	if !s.config.DisableSleepMonitor {
		go s.monitorSleepResume(ctx)
	}

	s.reloadCredential()

	<-ctx.Done()
	return s.shutdown()
}

// shutdown stops tracking, the scheduler and releases platform resources.
func (s *Service) shutdown() error {
	s.coordinator.Close()
	s.pipeline.Wait()

	var errs []error
	if err := s.scheduler.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down scheduler: %w", err))
	}
	if closer, ok := s.platform.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// refreshCapabilities re-reads the platform grants. A revoked foreground grant fails an active
// session through the capability watch of the coordinator.
func (s *Service) refreshCapabilities(ctx context.Context) {
	if err := s.caps.Refresh(ctx); err != nil {
		s.logger.Error("failed to refresh capabilities", logger.Err(err))
	}
}

// reloadCredential reads the credential from the configuration and binds it to the
// coordinator. An empty credential stops tracking.
func (s *Service) reloadCredential() {
	token, err := s.config.Credential()
	if err != nil {
		s.logger.Error("failed to load credential", logger.Err(err))
		return
	}
	if token == "" {
		s.logger.Warn("no credential configured, tracking stays inactive")
	}
	s.coordinator.SetCredential(token)
}

// setAppState forwards an app state transition to the coordinator.
func (s *Service) setAppState(state location.AppState) {
	if err := s.coordinator.SetAppState(state); err != nil {
		s.logger.Error("failed to set app state", slog.String("app_state", string(state)), logger.Err(err))
	}
}
