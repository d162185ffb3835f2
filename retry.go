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
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// FaultOp is one attempt of a readiness or compare operation. It returns the
// channels that are still faulted.
type FaultOp func() (ChannelMask, error)

// WithRetry runs op until it reports no faulted channel or budget attempts
// have been made, and returns the last fault mask. A budget below one still
// makes a single attempt. Errors from op are returned at once; escalating a
// nonzero mask is up to the caller.
func WithRetry(op FaultOp, budget int) (ChannelMask, error) {
	budget = max(budget, 1)

	var mask ChannelMask
	for attempt := range budget {
		var err error
		mask, err = op()
		if err != nil {
			return mask, err
		}
		if mask.Empty() {
			return 0, nil
		}
		if attempt < budget-1 {
			Debugf("retry %d/%d: channels %s still faulted", attempt+1, budget, mask)
		}
	}
	return mask, nil
}

// RetryConfig configures host-level retries such as opening the adapter.
// Protocol exchanges are bounded by Budget instead.
type RetryConfig struct {
	// MaxAttempts caps the number of calls; zero or less calls once.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BackoffMultiplier grows the pause after every failed attempt.
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the pause at random.
	Jitter float64
	// RetryTimeout bounds all attempts together; zero means no bound.
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the retry settings used to open an adapter.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultConnectionRetries,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
		RetryTimeout:      ConnectionRetryTimeout,
	}
}

// RetryableFunc is one attempt of a host-level operation.
type RetryableFunc func() error

// RetryWithConfig calls fn until it succeeds, fails with an error IsRetryable
// rejects, or the attempts or the timeout run out. The last error is
// returned. A nil config uses DefaultRetryConfig.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return fn()
	}
	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	pause := config.InitialBackoff
	var lastErr error
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry context cancelled: %w", ctx.Err())
		}

		lastErr = fn()
		if lastErr == nil || IsFatal(lastErr) || !IsRetryable(lastErr) || attempt >= config.MaxAttempts {
			return lastErr
		}

		timer := time.NewTimer(calculateJitteredSleep(pause, config.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
		pause = calculateNextBackoff(pause, config)
	}
}

// calculateNextBackoff grows backoff by the multiplier, capped at MaxBackoff.
func calculateNextBackoff(backoff time.Duration, config *RetryConfig) time.Duration {
	next := time.Duration(float64(backoff) * config.BackoffMultiplier)
	return min(next, config.MaxBackoff)
}

// calculateJitteredSleep adds a random share of up to jitter*base to base.
func calculateJitteredSleep(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return base
	}
	frac := float64(binary.LittleEndian.Uint64(b[:])) / float64(1<<64)
	return base + time.Duration(frac*jitter*float64(base))
}
