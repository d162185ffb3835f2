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

// FaultState records why a channel dropped out of the gang.
type FaultState int

const (
	// FaultNone means the channel has not failed.
	FaultNone FaultState = iota
	// FaultTimedOut means the channel never reached the expected level.
	FaultTimedOut
	// FaultMismatch means the channel answered with unexpected data.
	FaultMismatch
)

func (f FaultState) String() string {
	switch f {
	case FaultNone:
		return "ok"
	case FaultTimedOut:
		return "timed out"
	case FaultMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// SecureState is the validation state of a channel's secure region.
type SecureState int

const (
	// SecureUnknown means the channel was not queried or did not answer.
	SecureUnknown SecureState = iota
	// SecureValid means the region is validated and locked.
	SecureValid
	// SecureInvalid means the region is ordinary memory.
	SecureInvalid
)

func (s SecureState) String() string {
	switch s {
	case SecureUnknown:
		return "unknown"
	case SecureValid:
		return "valid"
	case SecureInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Channel is one target connection of the gang.
type Channel struct {
	Index  int
	Fault  FaultState
	Secure SecureState
	Active bool
}

// Channels is the fixed channel array owned by a Session.
type Channels [MaxChannels]Channel

// NewChannels returns the channel array with the channels in mask active.
func NewChannels(mask ChannelMask) Channels {
	var c Channels
	for i := range c {
		c[i] = Channel{Index: i, Active: mask.Has(i)}
	}
	return c
}

// ActiveMask returns the mask of active channels.
func (c *Channels) ActiveMask() ChannelMask {
	var m ChannelMask
	for i := range c {
		if c[i].Active {
			m |= ChannelBit(i)
		}
	}
	return m
}

// Disable marks the channels in mask inactive with the given fault.
func (c *Channels) Disable(mask ChannelMask, fault FaultState) {
	for i := range c {
		if mask.Has(i) && c[i].Active {
			c[i].Active = false
			c[i].Fault = fault
		}
	}
}

// FailedMask returns the channels that dropped out with a fault.
func (c *Channels) FailedMask() ChannelMask {
	var m ChannelMask
	for i := range c {
		if c[i].Fault != FaultNone {
			m |= ChannelBit(i)
		}
	}
	return m
}
