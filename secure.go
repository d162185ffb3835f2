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
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-flashprog/internal/frame"
)

// SecureAggregate is the combined secure state of the active channels.
// Homogeneous holds when every channel with a known state agrees; State is
// then that state, or SecureUnknown when no channel is known.
type SecureAggregate struct {
	State       SecureState
	Homogeneous bool
}

func (a SecureAggregate) String() string {
	if a.Homogeneous {
		return "homogeneous " + a.State.String()
	}
	return "divergent"
}

// SecureOp performs one secure-region operation on the selected channels,
// all of which are in state. mask is the selection it runs on.
type SecureOp func(state SecureState, mask ChannelMask) error

// secureTarget is the part of a session the coordinator drives.
type secureTarget interface {
	selectChannels(mask ChannelMask) error
	querySecure(ch int) (SecureState, error)
}

// SecureCoordinator tracks the secure-region state of every channel and
// decides whether an operation can be broadcast or has to be issued one
// channel at a time.
type SecureCoordinator struct {
	channels      *Channels
	target        secureTarget
	degraded      int
	resyncPending bool
}

// NewSecureCoordinator returns a coordinator over channels.
func NewSecureCoordinator(channels *Channels, target secureTarget) *SecureCoordinator {
	return &SecureCoordinator{channels: channels, target: target}
}

// QueryAllChannels asks every active channel for its secure state on its own
// and caches the answers. Channels that do not answer stay SecureUnknown.
func (c *SecureCoordinator) QueryAllChannels() (SecureAggregate, error) {
	for _, ch := range c.channels.ActiveMask().Channels() {
		state, err := c.target.querySecure(ch)
		if err != nil {
			if !isQueryFault(err) {
				return SecureAggregate{}, fmt.Errorf("query channel %d: %w", ch, err)
			}
			Debugf("secure query channel %d: %v", ch, err)
			state = SecureUnknown
		}
		c.channels[ch].Secure = state
	}
	return c.Aggregate(), nil
}

// isQueryFault reports errors that leave a channel's state unknown instead
// of failing the query.
func isQueryFault(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrFrameDecode) ||
		errors.Is(err, ErrChecksum) || errors.Is(err, ErrDeviceStatus)
}

// Aggregate derives the combined state of the active channels.
func (c *SecureCoordinator) Aggregate() SecureAggregate {
	agg := SecureAggregate{State: SecureUnknown, Homogeneous: true}
	for _, ch := range c.channels.ActiveMask().Channels() {
		state := c.channels[ch].Secure
		if state == SecureUnknown {
			continue
		}
		if agg.State == SecureUnknown {
			agg.State = state
			continue
		}
		if agg.State != state {
			return SecureAggregate{State: SecureUnknown, Homogeneous: false}
		}
	}
	return agg
}

// State returns the cached state of channel ch.
func (c *SecureCoordinator) State(ch int) SecureState {
	if ch < 0 || ch >= MaxChannels {
		return SecureUnknown
	}
	return c.channels[ch].Secure
}

// SetValid records a successful validation of channel ch.
func (c *SecureCoordinator) SetValid(ch int) {
	c.set(ch, SecureValid)
}

// SetInvalid records a successful erase of channel ch's secure region.
func (c *SecureCoordinator) SetInvalid(ch int) {
	c.set(ch, SecureInvalid)
}

func (c *SecureCoordinator) set(ch int, state SecureState) {
	if ch < 0 || ch >= MaxChannels || c.channels[ch].Secure == state {
		return
	}
	Debugf("channel %d secure state %s -> %s", ch, c.channels[ch].Secure, state)
	c.channels[ch].Secure = state
	c.resyncPending = true
}

// ResyncPending reports whether a state changed since the last resync.
func (c *SecureCoordinator) ResyncPending() bool {
	return c.resyncPending
}

// ResyncDone clears the pending resync.
func (c *SecureCoordinator) ResyncDone() {
	c.resyncPending = false
}

// Degraded returns how many operations ran one channel at a time.
func (c *SecureCoordinator) Degraded() int {
	return c.degraded
}

// ApplyHomogeneousOrDegrade runs op once across the gang when the active
// channels agree, otherwise once per channel with only that channel
// selected, passing each channel its own state. Gang selection is restored
// afterwards.
func (c *SecureCoordinator) ApplyHomogeneousOrDegrade(op SecureOp) error {
	active := c.channels.ActiveMask()
	if active.Empty() {
		return nil
	}
	agg := c.Aggregate()
	if agg.Homogeneous {
		return op(agg.State, active)
	}

	c.degraded++
	var err error
	for _, ch := range active.Channels() {
		if !c.channels[ch].Active {
			continue
		}
		if err = c.target.selectChannels(ChannelBit(ch)); err != nil {
			break
		}
		if err = op(c.channels[ch].Secure, ChannelBit(ch)); err != nil {
			break
		}
	}
	if rerr := c.target.selectChannels(c.channels.ActiveMask()); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// secureArea performs the current mode on the secure region, per channel
// state.
func (s *Session) secureArea() error {
	if s.secureSize == 0 {
		s.emit(EventInfo, s.fc.Sector, 0, "no secure region reported")
		return nil
	}
	region := s.secureRegion
	s.fc.Address = region.Begin

	if s.mode.Capture() {
		low := s.channels.ActiveMask().Lowest()
		if s.secure.State(low) == SecureValid {
			s.emit(EventInfo, s.fc.Sector, ChannelBit(low), "secure region validated, not read")
			return nil
		}
		return s.readRange(region.Begin, region.End)
	}

	var op SecureOp
	switch s.mode {
	case ModeErase:
		op = s.eraseSecure
	case ModeProgram, ModeVerify, ModeBlankCheck:
		op = func(state SecureState, mask ChannelMask) error {
			if state == SecureValid {
				s.emit(EventInfo, s.fc.Sector, mask, "secure region validated, skipped")
				return nil
			}
			return s.memoryArea(region.Begin, region.End, false)
		}
	default:
		return nil
	}
	if err := s.secure.ApplyHomogeneousOrDegrade(op); err != nil {
		return err
	}
	return s.resyncIfPending()
}

// eraseSecure erases the secure region of the selected channels. A
// validated region needs the region-erase sequence, every step but the last
// answering busy.
func (s *Session) eraseSecure(state SecureState, mask ChannelMask) error {
	region := s.secureRegion
	if state != SecureValid {
		return s.command("erase", s.profile.Opcodes.Erase, addressParams(region.Begin, region.End), s.budgets.Erase)
	}
	if s.job.SecureExpected {
		s.emit(EventInfo, s.fc.Sector, mask, "validated secure region kept")
		return nil
	}
	if s.profile.Secure.EraseProhibited {
		return s.fault(&CompareMismatchError{Op: "secure erase prohibited", Address: region.Begin, Mask: mask})
	}

	op := s.profile.Opcodes.SecureErase
	steps := max(s.profile.Secure.EraseSteps, 1)
	for step := range steps {
		if s.idle() {
			return nil
		}
		status := StatusBusy
		if step == steps-1 {
			status = s.profile.OKStatus(op)
		}
		if err := s.send("secure erase", frame.Command(op, addressParams(region.Begin, region.End))); err != nil {
			return err
		}
		if err := s.expectStatus("secure erase", op, status, s.budgets.Secure); err != nil {
			return err
		}
	}
	for _, ch := range (mask & s.selected).Channels() {
		s.secure.SetInvalid(ch)
	}
	return s.resyncIfPending()
}

// validateSecure validates the secure region of every channel not yet valid.
func (s *Session) validateSecure() error {
	if !s.profile.Secure.Supported || s.secureSize == 0 {
		return fmt.Errorf("%w: no secure region to validate", ErrNotSupported)
	}
	err := s.secure.ApplyHomogeneousOrDegrade(func(state SecureState, mask ChannelMask) error {
		if state == SecureValid {
			s.emit(EventInfo, s.fc.Sector, mask, "secure region already validated")
			return nil
		}
		if err := s.command("secure validate", s.profile.Opcodes.SecureValidate, nil, s.budgets.Secure); err != nil {
			return err
		}
		for _, ch := range (mask & s.selected).Channels() {
			s.secure.SetValid(ch)
		}
		return s.resyncIfPending()
	})
	if err != nil {
		return err
	}
	return s.resyncIfPending()
}
