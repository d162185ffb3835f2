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

import "time"

// Connection retry constants control opening the gang adapter.
const (
	// DefaultConnectionRetries is the number of attempts to open the adapter.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between attempts.
	ConnectionInitialBackoff = 100 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between attempts.
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all connection attempts.
	ConnectionRetryTimeout = 10 * time.Second
)

// Budget bounds one readiness wait: up to Attempts calls of WaitLevel, each
// polling the line Poll times.
type Budget struct {
	Attempts int
	Poll     int
}

// Total returns the number of polls the budget allows.
func (b Budget) Total() int {
	return max(b.Attempts, 1) * max(b.Poll, 1)
}

// Budgets groups the readiness budgets per operation class. Short budgets
// cover command acknowledgement, long ones erase and unlock operations.
type Budgets struct {
	Ack        Budget
	Erase      Budget
	Program    Budget
	BlankCheck Budget
	Secure     Budget
}

// DefaultBudgets returns budgets sized for a loop of about one microsecond
// per poll.
func DefaultBudgets() Budgets {
	return Budgets{
		Ack:        Budget{Attempts: 3, Poll: 10_000},
		Erase:      Budget{Attempts: 20, Poll: 200_000},
		Program:    Budget{Attempts: 5, Poll: 50_000},
		BlankCheck: Budget{Attempts: 10, Poll: 100_000},
		Secure:     Budget{Attempts: 40, Poll: 200_000},
	}
}

// orDefault fills zero budgets from def.
func (b Budgets) orDefault(def Budgets) Budgets {
	pick := func(v, d Budget) Budget {
		if v.Attempts <= 0 && v.Poll <= 0 {
			return d
		}
		return v
	}
	return Budgets{
		Ack:        pick(b.Ack, def.Ack),
		Erase:      pick(b.Erase, def.Erase),
		Program:    pick(b.Program, def.Program),
		BlankCheck: pick(b.BlankCheck, def.BlankCheck),
		Secure:     pick(b.Secure, def.Secure),
	}
}
