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

// Package testing provides a gang of simulated targets for protocol tests.
//
// VirtualTarget models one device at the frame level: it parses command and
// data frames, keeps flash, option and secure-region state, and queues the
// response frames a real boot firmware would send. GangSimulator implements
// flashprog.Transport over up to four targets, broadcasting sent bytes to the
// selected sockets and reporting per-channel compare and readiness results.
package testing

import (
	"fmt"

	"github.com/ZaparooProject/go-flashprog"
	"github.com/ZaparooProject/go-flashprog/internal/syncutil"
)

// GangSimulator is a flashprog.Transport over virtual targets. Channel i is
// targets[i]; an empty socket never becomes ready and reads idle.
type GangSimulator struct {
	targets    [flashprog.MaxChannels]*VirtualTarget
	selections []flashprog.ChannelMask
	sent       int
	mu         syncutil.Mutex
	selected   flashprog.ChannelMask
	pin        flashprog.Level
	closed     bool
}

// NewGangSimulator places targets in sockets 0.. in order. Nil entries are
// empty sockets. Every populated socket starts selected.
func NewGangSimulator(targets ...*VirtualTarget) *GangSimulator {
	g := &GangSimulator{pin: flashprog.High}
	for i, t := range targets {
		if i >= flashprog.MaxChannels {
			break
		}
		g.targets[i] = t
		if t != nil {
			g.selected |= flashprog.ChannelBit(i)
		}
	}
	return g
}

// NewGang returns a simulator with n fresh targets for profile.
func NewGang(profile *flashprog.Profile, n int) *GangSimulator {
	targets := make([]*VirtualTarget, n)
	for i := range targets {
		targets[i] = NewVirtualTarget(profile)
	}
	return NewGangSimulator(targets...)
}

// Target returns the target in socket i.
func (g *GangSimulator) Target(i int) *VirtualTarget {
	if i < 0 || i >= flashprog.MaxChannels {
		return nil
	}
	return g.targets[i]
}

func (g *GangSimulator) check(op string, n int) error {
	if g.closed {
		return flashprog.NewTransportClosedError(op, "simulator")
	}
	if n != 8 {
		return fmt.Errorf("%w: simulator shifts whole bytes, got %d bits", flashprog.ErrInvalidParameter, n)
	}
	return nil
}

// SendBits implements flashprog.Transport.
func (g *GangSimulator) SendBits(value uint32, n int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("SendBits", n); err != nil {
		return err
	}
	g.sent++
	for _, ch := range g.selected.Channels() {
		if t := g.targets[ch]; t != nil {
			_, _ = t.Write([]byte{byte(value)})
		}
	}
	return nil
}

// SampleBits implements flashprog.Transport.
func (g *GangSimulator) SampleBits(n int) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("SampleBits", n); err != nil {
		return 0, err
	}
	low := g.selected.Lowest()
	if low < 0 || g.targets[low] == nil {
		return 0xFF, nil
	}
	b, _ := g.targets[low].next()
	return uint32(b), nil
}

// CompareBits implements flashprog.Transport.
func (g *GangSimulator) CompareBits(expected, ignore uint32, n int) (flashprog.ChannelMask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("CompareBits", n); err != nil {
		return 0, err
	}
	var mask flashprog.ChannelMask
	for _, ch := range g.selected.Channels() {
		got := byte(0xFF)
		if t := g.targets[ch]; t != nil {
			got, _ = t.next()
		}
		if (got^byte(expected))&^byte(ignore) != 0 {
			mask |= flashprog.ChannelBit(ch)
		}
	}
	return mask, nil
}

// SetPin implements flashprog.Transport. A rising edge resets every target.
func (g *GangSimulator) SetPin(level flashprog.Level) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return flashprog.NewTransportClosedError("SetPin", "simulator")
	}
	if g.pin == flashprog.Low && level == flashprog.High {
		for _, t := range g.targets {
			if t != nil {
				t.Reset()
			}
		}
	}
	g.pin = level
	return nil
}

// WaitLevel implements flashprog.Transport. Busy targets count down one
// poll per iteration.
func (g *GangSimulator) WaitLevel(level flashprog.Level, budget int) (flashprog.ChannelMask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return 0, flashprog.NewTransportClosedError("WaitLevel", "simulator")
	}
	for range max(budget, 1) {
		if g.notAt(level).Empty() {
			return 0, nil
		}
		for _, ch := range g.selected.Channels() {
			if t := g.targets[ch]; t != nil {
				t.tick()
			}
		}
	}
	return g.notAt(level), nil
}

func (g *GangSimulator) notAt(level flashprog.Level) flashprog.ChannelMask {
	var mask flashprog.ChannelMask
	for _, ch := range g.selected.Channels() {
		t := g.targets[ch]
		at := flashprog.High
		if t != nil && t.Ready() {
			at = flashprog.ReadyLevel
		}
		if at != level {
			mask |= flashprog.ChannelBit(ch)
		}
	}
	return mask
}

// SelectChannels implements flashprog.Transport.
func (g *GangSimulator) SelectChannels(mask flashprog.ChannelMask) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return flashprog.NewTransportClosedError("SelectChannels", "simulator")
	}
	g.selected = mask & flashprog.AllChannels
	g.selections = append(g.selections, g.selected)
	return nil
}

// Close implements flashprog.Transport.
func (g *GangSimulator) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}

// Type implements flashprog.Transport.
func (*GangSimulator) Type() flashprog.TransportType {
	return flashprog.TransportMock
}

// Selected returns the current selection.
func (g *GangSimulator) Selected() flashprog.ChannelMask {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selected
}

// Selections returns every mask passed to SelectChannels.
func (g *GangSimulator) Selections() []flashprog.ChannelMask {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]flashprog.ChannelMask(nil), g.selections...)
}

// BytesSent returns how many bytes were broadcast.
func (g *GangSimulator) BytesSent() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent
}
