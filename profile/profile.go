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


// Package profile loads device capability tables from YAML.
//
// A profile names the protocol family, the command set, the page and write
// unit sizes and the sector table of one device. Two generic profiles are
// embedded and available through Builtin.
package profile

import (
	"bytes"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ZaparooProject/go-flashprog"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// ErrUnknownProfile is returned by Builtin for names it does not ship.
var ErrUnknownProfile = errors.New("unknown built-in profile")

type budgetConfig struct {
	Attempts int `yaml:"attempts"`
	Poll     int `yaml:"poll"`
}

type sectorConfig struct {
	Kind  string `yaml:"kind"`
	Begin uint32 `yaml:"begin"`
	End   uint32 `yaml:"end"`
}

type secureConfig struct {
	Supported       bool `yaml:"supported"`
	EraseProhibited bool `yaml:"erase_prohibited"`
	EraseSteps      int  `yaml:"erase_steps"`
}

type fileConfig struct {
	Opcodes   map[string]uint8        `yaml:"opcodes"`
	Budgets   map[string]budgetConfig `yaml:"budgets"`
	Erased    *uint8                  `yaml:"erased"`
	Name      string                  `yaml:"name"`
	Family    string                  `yaml:"family"`
	Signature string                  `yaml:"signature"`
	Sectors   []sectorConfig          `yaml:"sectors"`
	Secure    secureConfig            `yaml:"secure"`
	PageSize  int                     `yaml:"page_size"`
	WriteUnit int                     `yaml:"write_unit"`
	StatusOK  uint8                   `yaml:"status_ok"`
}

// Load reads and validates the profile at path.
func Load(filename string) (*flashprog.Profile, error) {
	f, err := os.Open(filename) //nolint:gosec // path is an operator-supplied profile
	if err != nil {
		return nil, fmt.Errorf("open profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", filename, err)
	}
	return p, nil
}

// Builtin returns one of the embedded profiles by name.
func Builtin(name string) (*flashprog.Profile, error) {
	data, err := builtinFS.ReadFile(path.Join("builtin", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownProfile, name, strings.Join(BuiltinNames(), ", "))
	}
	return Decode(bytes.NewReader(data))
}

// BuiltinNames lists the embedded profiles in sorted order.
func BuiltinNames() []string {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Decode parses one YAML profile document. Unknown keys are an error.
func Decode(r io.Reader) (*flashprog.Profile, error) {
	var raw fileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", flashprog.ErrInvalidParameter, err)
	}
	return raw.profile()
}

func (c *fileConfig) profile() (*flashprog.Profile, error) {
	family, err := flashprog.ParseFamily(c.Family)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(strings.ReplaceAll(c.Signature, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %w", flashprog.ErrInvalidParameter, err)
	}
	ops, err := opcodes(c.Opcodes)
	if err != nil {
		return nil, err
	}
	budgets, err := budgets(c.Budgets)
	if err != nil {
		return nil, err
	}

	p := &flashprog.Profile{
		Name:      c.Name,
		Family:    family,
		Signature: sig,
		Opcodes:   ops,
		Budgets:   budgets,
		PageSize:  c.PageSize,
		WriteUnit: c.WriteUnit,
		StatusOK:  c.StatusOK,
		Erased:    0xFF,
		Secure: flashprog.SecureSupport{
			Supported:       c.Secure.Supported,
			EraseProhibited: c.Secure.EraseProhibited,
			EraseSteps:      c.Secure.EraseSteps,
		},
	}
	if c.Erased != nil {
		p.Erased = *c.Erased
	}
	for i, s := range c.Sectors {
		kind, err := flashprog.ParseAreaKind(s.Kind)
		if err != nil {
			return nil, fmt.Errorf("sector %d: %w", i, err)
		}
		p.Sectors = append(p.Sectors, flashprog.Sector{Begin: s.Begin, End: s.End, Kind: kind})
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func opcodes(m map[string]uint8) (flashprog.Opcodes, error) {
	var ops flashprog.Opcodes
	fields := map[string]*byte{
		"inquiry":           &ops.Inquiry,
		"signature":         &ops.Signature,
		"area_info":         &ops.AreaInfo,
		"erase":             &ops.Erase,
		"program":           &ops.Program,
		"read":              &ops.Read,
		"verify":            &ops.Verify,
		"blank_check":       &ops.BlankCheck,
		"config_clear":      &ops.ConfigClear,
		"option_set":        &ops.OptionSet,
		"option_read":       &ops.OptionRead,
		"id_code_set":       &ops.IDCodeSet,
		"lock_bit_set":      &ops.LockBitSet,
		"otp_set":           &ops.OTPSet,
		"serial_disable":    &ops.SerialDisable,
		"secure_validate":   &ops.SecureValidate,
		"secure_mode_check": &ops.SecureModeCheck,
		"secure_erase":      &ops.SecureErase,
	}
	for name, v := range m {
		dst, ok := fields[name]
		if !ok {
			return ops, fmt.Errorf("%w: unknown opcode %q", flashprog.ErrInvalidParameter, name)
		}
		*dst = v
	}
	return ops, nil
}

func budgets(m map[string]budgetConfig) (flashprog.Budgets, error) {
	var b flashprog.Budgets
	fields := map[string]*flashprog.Budget{
		"ack":         &b.Ack,
		"erase":       &b.Erase,
		"program":     &b.Program,
		"blank_check": &b.BlankCheck,
		"secure":      &b.Secure,
	}
	for name, v := range m {
		dst, ok := fields[name]
		if !ok {
			return b, fmt.Errorf("%w: unknown budget %q", flashprog.ErrInvalidParameter, name)
		}
		if v.Attempts < 0 || v.Poll < 0 {
			return b, fmt.Errorf("%w: budget %q must not be negative", flashprog.ErrInvalidParameter, name)
		}
		*dst = flashprog.Budget{Attempts: v.Attempts, Poll: v.Poll}
	}
	return b, nil
}
