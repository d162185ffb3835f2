// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package flashprog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	tests := []struct {
		err       error
		name      string
		results   []ChannelMask
		budget    int
		wantMask  ChannelMask
		wantCalls int
	}{
		{
			name:      "Clear on first attempt",
			results:   []ChannelMask{0},
			budget:    3,
			wantCalls: 1,
		},
		{
			name:      "Clears after retries",
			results:   []ChannelMask{MaskOf(0, 1), MaskOf(1), 0},
			budget:    5,
			wantCalls: 3,
		},
		{
			name:      "Budget exhausted returns last mask",
			results:   []ChannelMask{MaskOf(0, 1), MaskOf(1), MaskOf(1), MaskOf(1)},
			budget:    3,
			wantMask:  MaskOf(1),
			wantCalls: 3,
		},
		{
			name:      "Zero budget still attempts once",
			results:   []ChannelMask{MaskOf(2)},
			budget:    0,
			wantMask:  MaskOf(2),
			wantCalls: 1,
		},
		{
			name:      "Negative budget still attempts once",
			results:   []ChannelMask{0},
			budget:    -4,
			wantCalls: 1,
		},
		{
			name:      "Error stops at once",
			results:   []ChannelMask{MaskOf(0), MaskOf(0)},
			err:       errBoom,
			budget:    5,
			wantMask:  MaskOf(0),
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			mask, err := WithRetry(func() (ChannelMask, error) {
				m := tt.results[min(calls, len(tt.results)-1)]
				calls++
				return m, tt.err
			}, tt.budget)

			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantMask, mask)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestWithRetryIsBounded(t *testing.T) {
	t.Parallel()

	for _, budget := range []int{1, 2, 7, 100} {
		calls := 0
		mask, err := WithRetry(func() (ChannelMask, error) {
			calls++
			return AllChannels, nil
		}, budget)
		require.NoError(t, err)
		assert.Equal(t, AllChannels, mask)
		assert.Equal(t, budget, calls)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRetryConfig()

	require.NotNil(t, config)
	assert.Equal(t, DefaultConnectionRetries, config.MaxAttempts)
	assert.Greater(t, config.MaxBackoff, config.InitialBackoff)
	assert.Greater(t, config.BackoffMultiplier, 1.0)
	assert.GreaterOrEqual(t, config.Jitter, 0.0)
	assert.LessOrEqual(t, config.Jitter, 1.0)
	assert.Positive(t, config.RetryTimeout)
}

func TestCalculateNextBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current time.Duration
		mult    float64
		max     time.Duration
		want    time.Duration
	}{
		{name: "Doubles", current: 100 * time.Millisecond, mult: 2, max: 5 * time.Second, want: 200 * time.Millisecond},
		{name: "Capped", current: 3 * time.Second, mult: 2, max: 5 * time.Second, want: 5 * time.Second},
		{name: "Fractional", current: 200 * time.Millisecond, mult: 1.5, max: time.Second, want: 300 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calculateNextBackoff(tt.current, &RetryConfig{BackoffMultiplier: tt.mult, MaxBackoff: tt.max})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateJitteredSleep(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	assert.Equal(t, base, calculateJitteredSleep(base, 0))

	for range 50 {
		got := calculateJitteredSleep(base, 0.5)
		assert.GreaterOrEqual(t, got, base)
		assert.LessOrEqual(t, got, base+base/2)
	}
}

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Microsecond,
		MaxBackoff:        10 * time.Microsecond,
		BackoffMultiplier: 2.0,
		RetryTimeout:      100 * time.Millisecond,
	}
}

func TestRetryWithConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fail      func(call int) error
		name      string
		wantErr   string
		attempts  int
		wantCalls int
	}{
		{
			name:      "Success on first attempt",
			attempts:  3,
			fail:      func(int) error { return nil },
			wantCalls: 1,
		},
		{
			name:     "Success after retries",
			attempts: 3,
			fail: func(call int) error {
				if call < 3 {
					return NewTransportTimeoutError("open", "ttyUSB0")
				}
				return nil
			},
			wantCalls: 3,
		},
		{
			name:      "Non-retryable error fails immediately",
			attempts:  3,
			fail:      func(int) error { return NewInvalidResponseError("open", "ttyUSB0") },
			wantErr:   "invalid response",
			wantCalls: 1,
		},
		{
			name:      "Retryable error exhausts attempts",
			attempts:  2,
			fail:      func(int) error { return NewTransportTimeoutError("open", "ttyUSB0") },
			wantErr:   "timeout",
			wantCalls: 2,
		},
		{
			name:      "No retry configured",
			attempts:  0,
			fail:      func(int) error { return NewTransportTimeoutError("open", "ttyUSB0") },
			wantErr:   "timeout",
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			err := RetryWithConfig(context.Background(), fastRetryConfig(tt.attempts), func() error {
				calls++
				return tt.fail(calls)
			})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestRetryWithConfigCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryWithConfig(ctx, fastRetryConfig(5), func() error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func BenchmarkWithRetry(b *testing.B) {
	op := func() (ChannelMask, error) { return MaskOf(1), nil }
	b.ResetTimer()
	for range b.N {
		_, _ = WithRetry(op, 8)
	}
}
