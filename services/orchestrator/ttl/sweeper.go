// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Evictor is a store with time-bounded entries.
//
// # Thread Safety
//
// EvictExpired is called from the sweeper goroutine concurrently with the
// store's normal traffic and must be safe for that.
type Evictor interface {
	// Name identifies the store in logs and results.
	Name() string

	// EvictExpired removes entries expired at now and returns how many.
	EvictExpired(ctx context.Context, now time.Time) (int, error)
}

// SweepResult summarizes one sweep cycle.
type SweepResult struct {
	StartTime time.Time
	EndTime   time.Time
	Evicted   map[string]int
	Skipped   bool
	Errors    []error
}

// Total returns the number of entries evicted across all stores.
func (r SweepResult) Total() int {
	n := 0
	for _, c := range r.Evicted {
		n += c
	}
	return n
}

// SweeperConfig configures the sweeper.
//
// # Fields
//
//   - Interval: Time between cycles. Default: 1 minute.
//   - Clock: Time source and sanity checker. Default: a checker with
//     DefaultClockConfig over time.Now.
//   - Logger: Default: slog.Default().
type SweeperConfig struct {
	Interval time.Duration
	Clock    ClockChecker
	Logger   *slog.Logger
}

// Sweeper periodically evicts expired entries from a set of stores.
//
// # Description
//
// Uses the ticker + done channel pattern: Start launches one goroutine that
// runs a cycle immediately and then on every tick until Stop or context
// cancellation. A cycle whose clock check fails is skipped entirely.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Sweeper struct {
	evictors []Evictor
	interval time.Duration
	clock    ClockChecker
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewSweeper creates a sweeper over evictors.
//
// # Outputs
//
//   - *Sweeper: Ready to Start.
//   - error: Non-nil if no evictor is given or the interval is negative.
func NewSweeper(cfg SweeperConfig, evictors ...Evictor) (*Sweeper, error) {
	if len(evictors) == 0 {
		return nil, errors.New("sweeper needs at least one evictor")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("invalid sweep interval %s", cfg.Interval)
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = NewClockChecker(DefaultClockConfig(), nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{
		evictors: evictors,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "ttl_sweeper"),
	}, nil
}

// Start launches the background loop.
//
// # Outputs
//
//   - error: Non-nil if the sweeper is already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	s.logger.Info("TTL sweeper starting",
		"interval", s.interval.String(),
		"stores", len(s.evictors))
	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop signals the loop and waits for the current cycle to finish. Safe to
// call more than once.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	s.logger.Info("TTL sweeper stopped")
}

// RunNow runs one cycle synchronously.
func (s *Sweeper) RunNow(ctx context.Context) SweepResult {
	return s.sweep(ctx)
}

func (s *Sweeper) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.execute(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *Sweeper) execute(ctx context.Context) {
	res := s.sweep(ctx)
	for _, err := range res.Errors {
		s.logger.Error("TTL sweep error", "error", err)
	}
	if total := res.Total(); total > 0 {
		s.logger.Info("TTL sweep completed",
			"evicted", total,
			"duration_ms", res.EndTime.Sub(res.StartTime).Milliseconds())
	}
}

func (s *Sweeper) sweep(ctx context.Context) SweepResult {
	res := SweepResult{StartTime: time.Now(), Evicted: make(map[string]int, len(s.evictors))}

	now, err := s.clock.Now()
	if err != nil {
		res.Skipped = true
		res.Errors = append(res.Errors, fmt.Errorf("sweep skipped: %w", err))
		res.EndTime = time.Now()
		return res
	}

	for _, ev := range s.evictors {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err())
			break
		}
		n, err := ev.EvictExpired(ctx, now)
		res.Evicted[ev.Name()] = n
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", ev.Name(), err))
		}
	}
	res.EndTime = time.Now()
	return res
}
