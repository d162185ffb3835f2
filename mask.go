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
	"fmt"
	"math/bits"
	"strings"
)

// MaxChannels is the number of parallel target channels a gang adapter drives.
const MaxChannels = 4

// ChannelMask carries one bit per channel, bit 0 being channel 0. As a fault
// mask a set bit marks a channel whose response diverged or never became ready.
type ChannelMask uint8

// AllChannels has every supported channel set.
const AllChannels ChannelMask = 1<<MaxChannels - 1

// ChannelBit returns the mask with only channel i set.
func ChannelBit(i int) ChannelMask {
	if i < 0 || i >= MaxChannels {
		return 0
	}
	return 1 << uint(i)
}

// MaskOf returns the mask with the given channels set.
func MaskOf(channels ...int) ChannelMask {
	var m ChannelMask
	for _, ch := range channels {
		m |= ChannelBit(ch)
	}
	return m
}

// Has reports whether channel i is set.
func (m ChannelMask) Has(i int) bool {
	return m&ChannelBit(i) != 0
}

// Count returns the number of set channels.
func (m ChannelMask) Count() int {
	return bits.OnesCount8(uint8(m & AllChannels))
}

// Empty reports whether no channel is set.
func (m ChannelMask) Empty() bool {
	return m&AllChannels == 0
}

// Lowest returns the lowest set channel index, or -1.
func (m ChannelMask) Lowest() int {
	if m.Empty() {
		return -1
	}
	return bits.TrailingZeros8(uint8(m))
}

// Channels returns the set channel indices in ascending order.
func (m ChannelMask) Channels() []int {
	out := make([]int, 0, MaxChannels)
	for i := range MaxChannels {
		if m.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// String formats the mask as a channel list, e.g. "[0 2]".
func (m ChannelMask) String() string {
	parts := make([]string, 0, MaxChannels)
	for _, ch := range m.Channels() {
		parts = append(parts, fmt.Sprintf("%d", ch))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
