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
	"strings"
)

// Family selects the protocol conventions a device speaks.
type Family int

const (
	// FamilyPacket is the UART packet protocol. Status bytes are fixed values
	// and the target streams read chunks without further requests.
	FamilyPacket Family = iota
	// FamilyThreeWire is the three-wire serial protocol. The host waits for
	// the ready level before every frame, a good status echoes the opcode and
	// each read chunk is requested with a reverse acknowledgement.
	FamilyThreeWire
)

func (f Family) String() string {
	switch f {
	case FamilyPacket:
		return "packet"
	case FamilyThreeWire:
		return "three-wire"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// ParseFamily maps a profile name to a Family.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "packet", "uart":
		return FamilyPacket, nil
	case "three-wire", "threewire", "3wire":
		return FamilyThreeWire, nil
	default:
		return 0, fmt.Errorf("%w: unknown protocol family %q", ErrInvalidParameter, s)
	}
}

// Opcodes is the command set of a device.
type Opcodes struct {
	Inquiry         byte
	Signature       byte
	AreaInfo        byte
	Erase           byte
	Program         byte
	Read            byte
	Verify          byte
	BlankCheck      byte
	ConfigClear     byte
	OptionSet       byte
	OptionRead      byte
	IDCodeSet       byte
	LockBitSet      byte
	OTPSet          byte
	SerialDisable   byte
	SecureValidate  byte
	SecureModeCheck byte
	SecureErase     byte
}

// Status codes shared by both families.
const (
	StatusOK         byte = 0x00
	StatusBusy       byte = 0xD6
	StatusProtection byte = 0xDA
	StatusDisabled   byte = 0xDC
	StatusErase      byte = 0xE1
	StatusWrite      byte = 0xE2
	StatusBlank      byte = 0xE3
	StatusSequence   byte = 0xE7
)

// SecureSupport describes the lockable sub-region of a device.
type SecureSupport struct {
	// Supported devices report the region at session start.
	Supported bool
	// EraseProhibited devices refuse to erase a validated region.
	EraseProhibited bool
	// EraseSteps is the number of region-erase commands needed; every step
	// but the last answers busy.
	EraseSteps int
}

// Profile is the capability table of one device: protocol conventions,
// command set and memory map.
type Profile struct {
	Name      string
	Signature []byte
	Sectors   []Sector
	Opcodes   Opcodes
	Budgets   Budgets
	Secure    SecureSupport
	Family    Family
	PageSize  int
	WriteUnit int
	StatusOK  byte
	Erased    byte
}

// OKStatus returns the status byte a good answer to opcode carries.
func (p *Profile) OKStatus(opcode byte) byte {
	if p.Family == FamilyThreeWire {
		return opcode
	}
	return p.StatusOK
}

// Validate checks the profile for values the session cannot work with.
func (p *Profile) Validate() error {
	if p.PageSize <= 0 || p.PageSize > 0xFFFF-1 {
		return fmt.Errorf("%w: profile %q page size %d", ErrInvalidParameter, p.Name, p.PageSize)
	}
	if p.WriteUnit <= 0 || p.PageSize%p.WriteUnit != 0 {
		return fmt.Errorf("%w: profile %q write unit %d does not divide page size %d",
			ErrInvalidParameter, p.Name, p.WriteUnit, p.PageSize)
	}
	if len(p.Sectors) == 0 {
		return fmt.Errorf("%w: profile %q has no sectors", ErrInvalidParameter, p.Name)
	}
	for i, s := range p.Sectors {
		if s.Kind != AreaSecure && s.End < s.Begin {
			return fmt.Errorf("%w: profile %q sector %d ends before it begins", ErrInvalidParameter, p.Name, i)
		}
		if i > 0 && s.Kind != AreaConfig && s.Kind != AreaSecure {
			prev := p.Sectors[i-1]
			if prev.Kind != AreaConfig && prev.Kind != AreaSecure && s.Begin <= prev.End {
				return fmt.Errorf("%w: profile %q sector %d overlaps sector %d", ErrInvalidParameter, p.Name, i, i-1)
			}
		}
	}
	if p.Secure.Supported && p.Secure.EraseSteps <= 0 {
		return fmt.Errorf("%w: profile %q secure erase steps must be positive", ErrInvalidParameter, p.Name)
	}
	return nil
}

// MemorySpan returns the lowest and highest address covered by the code and
// data sectors.
func (p *Profile) MemorySpan() (begin, end uint32) {
	first := true
	for _, s := range p.Sectors {
		if s.Kind != AreaCode && s.Kind != AreaData {
			continue
		}
		if first || s.Begin < begin {
			begin = s.Begin
		}
		if first || s.End > end {
			end = s.End
		}
		first = false
	}
	return begin, end
}
