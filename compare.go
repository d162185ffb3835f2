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

import "github.com/ZaparooProject/go-flashprog/internal/frame"

// CompareEngine evaluates responses across the gang. It holds no state of its
// own; every call is one broadcast on the transport.
type CompareEngine struct {
	transport Transport
}

// NewCompareEngine returns an engine bound to t.
func NewCompareEngine(t Transport) CompareEngine {
	return CompareEngine{transport: t}
}

// Compare clocks in bitCount bits on every selected channel and returns the
// channels whose bits differ from expected outside ignore.
func (e CompareEngine) Compare(expected, ignore byte, bitCount int) (ChannelMask, error) {
	mask, err := e.transport.CompareBits(uint32(expected), uint32(ignore), bitCount)
	if err != nil {
		return 0, err
	}
	if ignore == frame.IgnoreAll {
		return 0, nil
	}
	return mask & AllChannels, nil
}

// WaitForLevel polls the data-in lines until every selected channel reaches
// level or budget polls have passed. It returns the channels still not at
// level.
func (e CompareEngine) WaitForLevel(level Level, budget int) (ChannelMask, error) {
	mask, err := e.transport.WaitLevel(level, max(budget, 1))
	if err != nil {
		return 0, err
	}
	return mask & AllChannels, nil
}

// WaitReady retries WaitForLevel on the ready level within b.
func (e CompareEngine) WaitReady(b Budget) (ChannelMask, error) {
	return WithRetry(func() (ChannelMask, error) {
		return e.WaitForLevel(ReadyLevel, b.Poll)
	}, b.Attempts)
}
