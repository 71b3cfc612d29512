// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/oops"
)

// DefaultSchedule flushes statistics once a minute.
const DefaultSchedule = "@every 60s"

// Flush deadlines. A scheduled flush outlives cancellation of Run's context
// so that shutdown waits for it instead of interrupting delivery.
const (
	tickFlushTimeout  = 30 * time.Second
	finalFlushTimeout = 5 * time.Second
)

// Flusher is flushed on every tick.
type Flusher interface {
	Flush(ctx context.Context) int
}

// Scheduler flushes an aggregator on a cron schedule.
type Scheduler struct {
	flusher  Flusher
	schedule cron.Schedule
	spec     string
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduler validates spec and returns a scheduler for flusher. spec
// accepts standard five-field cron expressions and descriptors such as
// "@every 30s".
func NewScheduler(flusher Flusher, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, oops.Code("INVALID_SCHEDULE").With("schedule", spec).Wrap(err)
	}
	return &Scheduler{flusher: flusher, schedule: schedule, spec: spec}, nil
}

// Run flushes on schedule until ctx is cancelled, then waits for a running
// flush to finish and performs one final flush so the last window is not
// lost.
func (s *Scheduler) Run(ctx context.Context) {
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tickFlushTimeout)
		defer cancel()
		n := s.flusher.Flush(tickCtx)
		slog.Debug("statistics flushed", "snapshots", n)
	}))
	c.Start()
	slog.Info("statistics scheduler started", "schedule", s.spec)

	<-ctx.Done()
	<-c.Stop().Done()

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	n := s.flusher.Flush(finalCtx)
	slog.Info("statistics scheduler stopped", "final_snapshots", n)
}
