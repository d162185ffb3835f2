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

// FillPolicy selects how data areas are committed.
type FillPolicy int

const (
	// FillDense commits every address unit of the sector.
	FillDense FillPolicy = iota
	// FillSparse commits only the units the image marks as used.
	FillSparse
)

func (f FillPolicy) String() string {
	if f == FillSparse {
		return "sparse"
	}
	return "dense"
}

// ParseFillPolicy maps "dense" or "sparse" to a FillPolicy.
func ParseFillPolicy(s string) (FillPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dense":
		return FillDense, nil
	case "sparse":
		return FillSparse, nil
	default:
		return 0, fmt.Errorf("%w: unknown fill policy %q", ErrInvalidParameter, s)
	}
}

// ConfigRequest lists the configuration-area work of a job. Lock bits, OTP,
// secure validation and serial-programming disable are one-way and only
// issued in ModeSecure.
type ConfigRequest struct {
	OptionBytes              []byte
	IDCode                   []byte
	LockBits                 []byte
	OTP                      []byte
	ValidateSecure           bool
	DisableSerialProgramming bool
}

// Empty reports whether nothing is requested.
func (r ConfigRequest) Empty() bool {
	return len(r.OptionBytes) == 0 && len(r.IDCode) == 0 && len(r.LockBits) == 0 &&
		len(r.OTP) == 0 && !r.ValidateSecure && !r.DisableSerialProgramming
}

// Job is the per-run input of a session: which channels take part, which
// sectors get which operations and what goes into the configuration area.
type Job struct {
	// SectorFlags overrides AllSectors for individual sector indices.
	SectorFlags map[int]SectorFlags
	Config      ConfigRequest
	// AllSectors is applied to every sector without an override.
	AllSectors SectorFlags
	Channels   ChannelMask
	Fill       FillPolicy
	// SecureExpected marks jobs that expect a validated secure region to
	// stay in place.
	SecureExpected bool
}

// Apply returns a copy of sectors with the job's flags set.
func (j Job) Apply(sectors []Sector) []Sector {
	out := make([]Sector, len(sectors))
	for i, s := range sectors {
		s.Flags = j.AllSectors
		if f, ok := j.SectorFlags[i]; ok {
			s.Flags = f
		}
		out[i] = s
	}
	return out
}

// Validate checks the job against a profile.
func (j Job) Validate(p *Profile) error {
	if j.Channels&^AllChannels != 0 {
		return fmt.Errorf("%w: channel mask 0x%02X", ErrInvalidParameter, uint8(j.Channels))
	}
	if j.Channels.Empty() {
		return ErrNoActiveChannels
	}
	for i := range j.SectorFlags {
		if i < 0 || i >= len(p.Sectors) {
			return fmt.Errorf("%w: sector %d not in profile %q", ErrInvalidParameter, i, p.Name)
		}
	}
	if j.Config.ValidateSecure && !p.Secure.Supported {
		return fmt.Errorf("%w: profile %q has no secure region", ErrNotSupported, p.Name)
	}
	return nil
}
