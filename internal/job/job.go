// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package job runs periodic tasks that never overlap with themselves.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/geotrack/internal/logger"
)

// Job represents a scheduled task that runs at a fixed interval and never overlaps with
// itself (singleton mode).
type Job struct {
	name     string
	interval time.Duration
	task     func(context.Context)
	logger   *logger.Logger
}

// New creates a new Job with the given name, interval and task. A nil logger disables logging
// of skipped and panicking runs.
func New(name string, interval time.Duration, task func(context.Context), log *logger.Logger) *Job {
	return &Job{
		name:     name,
		interval: interval,
		task:     task,
		logger:   log,
	}
}

// Name returns the name of the job.
func (j *Job) Name() string {
	return j.name
}

// Start executes the job until ctx is canceled. If a tick fires while a previous run is still
// executing, that tick is skipped.
func (j *Job) Start(ctx context.Context) {
	if j.task == nil || j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// 1-slot semaphore guarding the running task
	sem := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case sem <- struct{}{}:
				go func() {
					defer func() { <-sem }()
					j.run(ctx)
				}()
			default:
				j.debug("skipping job run, previous run still in progress")
			}
		}
	}
}

func (j *Job) run(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil && j.logger != nil {
			j.logger.Error("job panicked", slog.String("job", j.name), logger.Err(fmt.Errorf("%v", rec)))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	j.task(runCtx)
}

func (j *Job) debug(msg string) {
	if j.logger == nil {
		return
	}
	j.logger.Debug(msg, slog.String("job", j.name))
}
