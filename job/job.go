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


// Package job loads programming jobs from TOML files.
//
// A job file selects the device profile and the active channels, assigns
// operations to sectors, requests configuration-area work and lists the
// binary segments that make up the image:
//
//	profile = "generic-threewire"
//	channels = [0, 1, 2, 3]
//	fill = "sparse"
//
//	[sectors]
//	all = ["erase", "program", "verify"]
//	4 = ["blank_check", "program", "verify"]
//
//	[config]
//	option_bytes = "FF FF E8 85"
//
//	[[segment]]
//	file = "app.bin"
//	address = 0x0
package job

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ZaparooProject/go-flashprog"
)

// ErrUnknownKeys is returned when a job file carries keys this package does
// not understand. A misspelt one-way setting must never be silently ignored.
var ErrUnknownKeys = errors.New("unknown job keys")

// Segment is one binary file placed at an address of the image.
type Segment struct {
	File    string
	Address uint32
}

// File is a decoded job file.
type File struct {
	// Profile is a built-in profile name or a path to a profile YAML file.
	Profile  string
	Segments []Segment
	Job      flashprog.Job
}

type configSection struct {
	OptionBytes              string `toml:"option_bytes"`
	IDCode                   string `toml:"id_code"`
	LockBits                 string `toml:"lock_bits"`
	OTP                      string `toml:"otp"`
	ValidateSecure           bool   `toml:"validate_secure"`
	DisableSerialProgramming bool   `toml:"disable_serial_programming"`
}

type segmentSection struct {
	File    string `toml:"file"`
	Address uint32 `toml:"address"`
}

type fileConfig struct {
	Sectors        map[string][]string `toml:"sectors"`
	Profile        string              `toml:"profile"`
	Fill           string              `toml:"fill"`
	Channels       []int               `toml:"channels"`
	Segments       []segmentSection    `toml:"segment"`
	Config         configSection       `toml:"config"`
	SecureExpected bool                `toml:"secure_expected"`
}

// Load decodes the job file at path. Relative segment paths are resolved
// against the directory holding the job file.
func Load(path string) (*File, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	f, err := build(&raw, meta)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i := range f.Segments {
		if !filepath.IsAbs(f.Segments[i].File) {
			f.Segments[i].File = filepath.Join(base, f.Segments[i].File)
		}
	}
	return f, nil
}

// Decode parses a job from TOML text. Segment paths are left as written.
func Decode(text string) (*File, error) {
	var raw fileConfig
	meta, err := toml.Decode(text, &raw)
	if err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return build(&raw, meta)
}

func build(raw *fileConfig, meta toml.MetaData) (*File, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeys, strings.Join(keys, ", "))
	}

	f := &File{Profile: strings.TrimSpace(raw.Profile)}

	fill, err := flashprog.ParseFillPolicy(raw.Fill)
	if err != nil {
		return nil, err
	}
	f.Job.Fill = fill
	f.Job.SecureExpected = raw.SecureExpected

	if meta.IsDefined("channels") {
		if len(raw.Channels) == 0 {
			return nil, fmt.Errorf("%w: channels list is empty", flashprog.ErrNoActiveChannels)
		}
		for _, ch := range raw.Channels {
			if ch < 0 || ch >= flashprog.MaxChannels {
				return nil, fmt.Errorf("%w: channel %d", flashprog.ErrInvalidParameter, ch)
			}
			f.Job.Channels |= flashprog.ChannelBit(ch)
		}
	}

	if err := f.sectors(raw.Sectors); err != nil {
		return nil, err
	}
	if f.Job.Config, err = raw.Config.request(); err != nil {
		return nil, err
	}

	for i, s := range raw.Segments {
		if strings.TrimSpace(s.File) == "" {
			return nil, fmt.Errorf("%w: segment %d has no file", flashprog.ErrInvalidParameter, i)
		}
		f.Segments = append(f.Segments, Segment{File: strings.TrimSpace(s.File), Address: s.Address})
	}
	return f, nil
}

func (f *File) sectors(table map[string][]string) error {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		flags, err := ParseFlags(table[key])
		if err != nil {
			return fmt.Errorf("sector %s: %w", key, err)
		}
		if key == "all" {
			f.Job.AllSectors = flags
			continue
		}
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return fmt.Errorf("%w: sector key %q is neither an index nor \"all\"", flashprog.ErrInvalidParameter, key)
		}
		if f.Job.SectorFlags == nil {
			f.Job.SectorFlags = make(map[int]flashprog.SectorFlags)
		}
		f.Job.SectorFlags[idx] = flags
	}
	return nil
}

// ParseFlags maps operation names to sector flags. "all" selects every
// operation.
func ParseFlags(names []string) (flashprog.SectorFlags, error) {
	var flags flashprog.SectorFlags
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "erase":
			flags |= flashprog.FlagErase
		case "program":
			flags |= flashprog.FlagProgram
		case "verify":
			flags |= flashprog.FlagVerify
		case "blank_check", "blank-check", "blankcheck":
			flags |= flashprog.FlagBlankCheck
		case "read":
			flags |= flashprog.FlagRead
		case "all":
			flags |= flashprog.FlagsAll
		default:
			return 0, fmt.Errorf("%w: unknown operation %q", flashprog.ErrInvalidParameter, name)
		}
	}
	return flags, nil
}

func (c configSection) request() (flashprog.ConfigRequest, error) {
	req := flashprog.ConfigRequest{
		ValidateSecure:           c.ValidateSecure,
		DisableSerialProgramming: c.DisableSerialProgramming,
	}
	fields := []struct {
		dst  *[]byte
		name string
		text string
	}{
		{dst: &req.OptionBytes, name: "option_bytes", text: c.OptionBytes},
		{dst: &req.IDCode, name: "id_code", text: c.IDCode},
		{dst: &req.LockBits, name: "lock_bits", text: c.LockBits},
		{dst: &req.OTP, name: "otp", text: c.OTP},
	}
	for _, fld := range fields {
		b, err := parseHex(fld.text)
		if err != nil {
			return req, fmt.Errorf("%w: config %s: %w", flashprog.ErrInvalidParameter, fld.name, err)
		}
		*fld.dst = b
	}
	return req, nil
}

// parseHex accepts hex digits with optional spaces, colons and a 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "_", "").Replace(s)
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

// Image reads the segments into an image spanning the lowest to the highest
// segment byte. Bytes between segments read as erased and are left unused.
func (f *File) Image(erased byte) (*flashprog.Image, error) {
	if len(f.Segments) == 0 {
		return nil, fmt.Errorf("%w: job has no image segments", flashprog.ErrInvalidParameter)
	}

	contents := make([][]byte, len(f.Segments))
	var lo, hi uint64
	for i, s := range f.Segments {
		data, err := os.ReadFile(s.File)
		if err != nil {
			return nil, fmt.Errorf("read segment %d: %w", i, err)
		}
		contents[i] = data
		begin, end := uint64(s.Address), uint64(s.Address)+uint64(len(data))
		if end > 1<<32 {
			return nil, fmt.Errorf("%w: segment %d runs past the 32-bit address space", flashprog.ErrInvalidParameter, i)
		}
		if i == 0 || begin < lo {
			lo = begin
		}
		if i == 0 || end > hi {
			hi = end
		}
	}

	im := flashprog.NewImage(uint32(lo), int(hi-lo), erased)
	for i, s := range f.Segments {
		if err := im.Write(s.Address, contents[i]); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return im, nil
}
