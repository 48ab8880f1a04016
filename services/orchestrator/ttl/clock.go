// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl runs background expiry of the sidecar's bounded state: review
// queue items and PII token-store entries.
package ttl

import (
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// Clock Sanity Checking
// =============================================================================

// ClockChecker validates the wall clock before time-driven eviction.
//
// # Description
//
// A clock set forward would expire every pending review at once; a clock set
// backward would keep token-store entries forever. The sweeper skips a cycle
// when the check fails.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type ClockChecker interface {
	// Now returns the current time if the clock passes the sanity checks.
	Now() (time.Time, error)

	// ResetJumpDetection makes the next check skip jump detection. Call it
	// after a known legitimate time change.
	ResetJumpDetection()
}

// ClockConfig bounds acceptable clock readings.
//
// # Fields
//
//   - MinValidTime, MaxValidTime: Absolute bounds.
//   - MaxBackwardJump: Largest allowed step backward between checks.
//   - MaxForwardJump: Largest allowed step forward between checks. Must
//     exceed the sweep interval.
type ClockConfig struct {
	MinValidTime    time.Time
	MaxValidTime    time.Time
	MaxBackwardJump time.Duration
	MaxForwardJump  time.Duration
}

// DefaultClockConfig returns production bounds.
func DefaultClockConfig() ClockConfig {
	return ClockConfig{
		MinValidTime:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2035, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
}

type clockChecker struct {
	config ClockConfig
	source func() time.Time

	mu       sync.Mutex
	lastGood time.Time
	primed   bool
}

// NewClockChecker creates a checker reading time from source. A nil source
// uses time.Now.
func NewClockChecker(config ClockConfig, source func() time.Time) ClockChecker {
	if source == nil {
		source = time.Now
	}
	return &clockChecker{config: config, source: source}
}

// Now validates the absolute bounds, then the step since the previous
// reading. The first call only checks the bounds. A rejected jump re-anchors
// the checker at the new reading, so only the cycle that observed the jump
// is skipped.
func (c *clockChecker) Now() (time.Time, error) {
	now := c.source()

	if now.Before(c.config.MinValidTime) {
		return time.Time{}, fmt.Errorf("clock sanity: time %s is before minimum valid time %s",
			now.Format(time.RFC3339), c.config.MinValidTime.Format(time.RFC3339))
	}
	if now.After(c.config.MaxValidTime) {
		return time.Time{}, fmt.Errorf("clock sanity: time %s is after maximum valid time %s",
			now.Format(time.RFC3339), c.config.MaxValidTime.Format(time.RFC3339))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev, primed := c.lastGood, c.primed
	c.lastGood = now
	c.primed = true
	if primed {
		diff := now.Sub(prev)
		if diff < -c.config.MaxBackwardJump {
			return time.Time{}, fmt.Errorf("clock sanity: backward jump of %s (max %s)", -diff, c.config.MaxBackwardJump)
		}
		if diff > c.config.MaxForwardJump {
			return time.Time{}, fmt.Errorf("clock sanity: forward jump of %s (max %s)", diff, c.config.MaxForwardJump)
		}
	}
	return now, nil
}

func (c *clockChecker) ResetJumpDetection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primed = false
}

// systemClock never fails. Used when clock checking is disabled.
type systemClock struct {
	source func() time.Time
}

// NewSystemClock returns a ClockChecker that performs no validation.
func NewSystemClock(source func() time.Time) ClockChecker {
	if source == nil {
		source = time.Now
	}
	return systemClock{source: source}
}

func (s systemClock) Now() (time.Time, error) { return s.source(), nil }

func (s systemClock) ResetJumpDetection() {}
