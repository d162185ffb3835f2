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
	"fmt"
)

// OpenFunc opens a transport. It is called once per attempt.
type OpenFunc func(ctx context.Context) (Transport, error)

// OpenWithRetry opens a transport with exponential backoff. Only errors that
// IsRetryable accepts and IsFatal rejects are retried; a nil config uses
// DefaultRetryConfig.
func OpenWithRetry(ctx context.Context, config *RetryConfig, open OpenFunc, name string) (Transport, error) {
	var (
		transport Transport
		attempt   int
	)

	err := RetryWithConfig(ctx, config, func() error {
		attempt++
		t, err := open(ctx)
		if err != nil {
			Debugf("open %s attempt %d failed: %v", name, attempt, err)
			return err
		}
		transport = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s after %d attempts: %w", name, attempt, err)
	}
	if attempt > 1 {
		Debugf("open %s succeeded on attempt %d", name, attempt)
	}
	return transport, nil
}
