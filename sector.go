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

import "fmt"

// AreaKind selects the handler a sector is dispatched to.
type AreaKind int

const (
	// AreaCode is program flash, always written densely.
	AreaCode AreaKind = iota
	// AreaData is data flash, written densely or sparsely.
	AreaData
	// AreaConfig holds option bytes, lock bits and other one-way settings.
	AreaConfig
	// AreaSecure is the lockable sub-region managed per channel.
	AreaSecure
)

func (k AreaKind) String() string {
	switch k {
	case AreaCode:
		return "code"
	case AreaData:
		return "data"
	case AreaConfig:
		return "config"
	case AreaSecure:
		return "secure"
	default:
		return fmt.Sprintf("area(%d)", int(k))
	}
}

// ParseAreaKind maps a profile name to an AreaKind.
func ParseAreaKind(s string) (AreaKind, error) {
	switch s {
	case "code":
		return AreaCode, nil
	case "data":
		return AreaData, nil
	case "config":
		return AreaConfig, nil
	case "secure":
		return AreaSecure, nil
	default:
		return 0, fmt.Errorf("%w: unknown area kind %q", ErrInvalidParameter, s)
	}
}

// SectorFlags select which operations a job requests for a sector.
type SectorFlags uint8

const (
	FlagErase SectorFlags = 1 << iota
	FlagProgram
	FlagVerify
	FlagBlankCheck
	FlagRead
)

// FlagsAll requests every operation.
const FlagsAll = FlagErase | FlagProgram | FlagVerify | FlagBlankCheck | FlagRead

// Has reports whether every flag in f2 is set.
func (f SectorFlags) Has(f2 SectorFlags) bool {
	return f&f2 == f2
}

// Sector is one entry of the device sector table. The address range is fixed
// by the device profile, the flags by the job.
type Sector struct {
	Begin uint32
	End   uint32 // inclusive
	Kind  AreaKind
	Flags SectorFlags
}

// Size returns the number of bytes in the sector.
func (s Sector) Size() uint32 {
	if s.End < s.Begin {
		return 0
	}
	return s.End - s.Begin + 1
}

// Requested reports whether the sector is flagged for mode.
func (s Sector) Requested(mode OperationMode) bool {
	flag, ok := mode.sectorFlag()
	if !ok {
		return false
	}
	return s.Flags.Has(flag)
}

func (s Sector) String() string {
	return fmt.Sprintf("%s 0x%08X-0x%08X", s.Kind, s.Begin, s.End)
}
