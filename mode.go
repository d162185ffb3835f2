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

// OperationMode selects the opcode set and how responses are interpreted.
type OperationMode int

const (
	ModePowerUp OperationMode = iota
	ModeIDCheck
	ModeBlankCheck
	ModeErase
	ModeProgram
	ModeVerify
	ModeSecure
	ModeRead
)

var modeNames = map[OperationMode]string{
	ModePowerUp:    "powerup",
	ModeIDCheck:    "idcheck",
	ModeBlankCheck: "blankcheck",
	ModeErase:      "erase",
	ModeProgram:    "program",
	ModeVerify:     "verify",
	ModeSecure:     "secure",
	ModeRead:       "read",
}

func (m OperationMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseOperationMode maps a name such as "program" to its mode.
func ParseOperationMode(s string) (OperationMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for mode, name := range modeNames {
		if name == s {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown operation mode %q", ErrInvalidParameter, s)
}

// Capture reports whether responses are read back byte by byte from a single
// channel instead of being compared across the gang.
func (m OperationMode) Capture() bool {
	return m == ModeRead
}

// sectorFlag returns the sector flag that selects sectors for m. Modes that
// do not walk the sector table return false.
func (m OperationMode) sectorFlag() (SectorFlags, bool) {
	switch m {
	case ModeErase:
		return FlagErase, true
	case ModeProgram:
		return FlagProgram, true
	case ModeVerify:
		return FlagVerify, true
	case ModeBlankCheck:
		return FlagBlankCheck, true
	case ModeRead:
		return FlagRead, true
	case ModeSecure:
		return FlagProgram, true
	default:
		return 0, false
	}
}
