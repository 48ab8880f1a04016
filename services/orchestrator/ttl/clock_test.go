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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct{ t time.Time }

func (s *stepClock) now() time.Time { return s.t }

func TestClockChecker(t *testing.T) {
	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		steps   []time.Duration
		wantErr bool
	}{
		{name: "steady forward", steps: []time.Duration{time.Minute, time.Minute}},
		{name: "small backward step", steps: []time.Duration{-30 * time.Minute}},
		{name: "large backward jump", steps: []time.Duration{-2 * time.Hour}, wantErr: true},
		{name: "large forward jump", steps: []time.Duration{3 * time.Hour}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &stepClock{t: base}
			c := NewClockChecker(DefaultClockConfig(), src.now)
			_, err := c.Now()
			require.NoError(t, err)

			var last error
			for _, step := range tt.steps {
				src.t = src.t.Add(step)
				_, last = c.Now()
			}
			if tt.wantErr {
				assert.Error(t, last)
			} else {
				assert.NoError(t, last)
			}
		})
	}
}

func TestClockChecker_AbsoluteBounds(t *testing.T) {
	early := &stepClock{t: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	_, err := NewClockChecker(DefaultClockConfig(), early.now).Now()
	assert.Error(t, err)

	late := &stepClock{t: time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC)}
	_, err = NewClockChecker(DefaultClockConfig(), late.now).Now()
	assert.Error(t, err)
}

func TestClockChecker_ResetJumpDetection(t *testing.T) {
	src := &stepClock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	c := NewClockChecker(DefaultClockConfig(), src.now)
	_, err := c.Now()
	require.NoError(t, err)

	src.t = src.t.Add(5 * time.Hour)
	_, err = c.Now()
	require.Error(t, err)

	c.ResetJumpDetection()
	got, err := c.Now()
	require.NoError(t, err)
	assert.Equal(t, src.t, got)
}

func TestClockChecker_RecoversAfterJump(t *testing.T) {
	for _, jump := range []time.Duration{3 * time.Hour, -2 * time.Hour} {
		src := &stepClock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
		c := NewClockChecker(DefaultClockConfig(), src.now)
		_, err := c.Now()
		require.NoError(t, err)

		src.t = src.t.Add(jump)
		_, err = c.Now()
		require.Error(t, err, "jump %s", jump)

		for i := 0; i < 5; i++ {
			src.t = src.t.Add(time.Minute)
			got, err := c.Now()
			require.NoError(t, err, "jump %s, tick %d", jump, i)
			assert.Equal(t, src.t, got)
		}
	}
}
