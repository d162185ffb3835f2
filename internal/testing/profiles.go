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


package testing

import "github.com/ZaparooProject/go-flashprog"

// Secure region every virtual target of a secure-capable profile reports.
const (
	SecureBegin uint32 = 0x0200
	SecureSize  uint32 = 0x0100
)

// Sector indices of the test profiles.
const (
	SectorCode0 = iota
	SectorCode1
	SectorConfig
	SectorData
	SectorSecure
)

// TestSignature is the device signature of the test profiles.
var TestSignature = []byte{0x10, 0x32, 0x54, 0x76}

func testOpcodes() flashprog.Opcodes {
	return flashprog.Opcodes{
		Inquiry:         0x00,
		Signature:       0x3A,
		AreaInfo:        0x3B,
		Erase:           0x22,
		Program:         0x40,
		Read:            0x15,
		Verify:          0x13,
		BlankCheck:      0x32,
		ConfigClear:     0x23,
		OptionSet:       0x41,
		OptionRead:      0x42,
		IDCodeSet:       0xA0,
		LockBitSet:      0xA1,
		OTPSet:          0xA2,
		SerialDisable:   0xA3,
		SecureValidate:  0xA4,
		SecureModeCheck: 0xA5,
		SecureErase:     0xA6,
	}
}

// PacketProfile returns a small packet-family device: two code sectors, a
// data sector, a secure region and a configuration area listed between them.
func PacketProfile() *flashprog.Profile {
	return &flashprog.Profile{
		Name:      "test-packet",
		Family:    flashprog.FamilyPacket,
		Signature: append([]byte(nil), TestSignature...),
		Opcodes:   testOpcodes(),
		PageSize:  64,
		WriteUnit: 4,
		StatusOK:  flashprog.StatusOK,
		Erased:    0xFF,
		Secure: flashprog.SecureSupport{
			Supported:  true,
			EraseSteps: 3,
		},
		Budgets: flashprog.Budgets{
			Ack:        flashprog.Budget{Attempts: 2, Poll: 4},
			Erase:      flashprog.Budget{Attempts: 2, Poll: 8},
			Program:    flashprog.Budget{Attempts: 2, Poll: 4},
			BlankCheck: flashprog.Budget{Attempts: 2, Poll: 8},
			Secure:     flashprog.Budget{Attempts: 2, Poll: 8},
		},
		Sectors: []flashprog.Sector{
			{Begin: 0x0000, End: 0x00FF, Kind: flashprog.AreaCode},
			{Begin: 0x0100, End: 0x01FF, Kind: flashprog.AreaCode},
			{Kind: flashprog.AreaConfig},
			{Begin: 0x1000, End: 0x103F, Kind: flashprog.AreaData},
			{Kind: flashprog.AreaSecure},
		},
	}
}

// ThreeWireProfile returns PacketProfile speaking the three-wire family.
func ThreeWireProfile() *flashprog.Profile {
	p := PacketProfile()
	p.Name = "test-threewire"
	p.Family = flashprog.FamilyThreeWire
	p.PageSize = 32
	return p
}
