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

import (
	"encoding/binary"

	"github.com/ZaparooProject/go-flashprog"
	"github.com/ZaparooProject/go-flashprog/internal/frame"
	"github.com/ZaparooProject/go-flashprog/internal/syncutil"
)

// Status codes the target answers with besides the profile's good status.
const (
	statusUnsupported byte = 0xC0
	statusChecksum    byte = 0xC2
	statusFlow        byte = 0xC3
	statusAddress     byte = 0xD0
)

// CommandLogEntry records one command frame a target received.
type CommandLogEntry struct {
	Params []byte
	Begin  uint32
	End    uint32
	Opcode byte
	Ranged bool
}

type programState struct {
	next uint32
	end  uint32
}

// VirtualTarget simulates one device in a gang socket at the frame level.
// It implements io.ReadWriter: Write feeds host bytes, Read drains the
// response bytes.
type VirtualTarget struct {
	profile     *flashprog.Profile
	memory      map[uint32]byte
	forced      map[byte]byte
	program     *programState
	signature   []byte
	options     []byte
	idCode      []byte
	lockBits    []byte
	otp         []byte
	rx          []byte
	tx          []byte
	chunks      [][]byte
	log         []CommandLogEntry
	secureBegin uint32
	secureSize  uint32
	busy        int
	eraseBusy   int
	eraseStep   int
	dataStatus  byte
	resets      int
	mu          syncutil.Mutex
	secureValid bool
	spDisabled  bool
	dead        bool
	dataForced  bool
}

// NewVirtualTarget returns an erased target speaking profile's protocol. A
// secure-capable profile reports an unvalidated region at SecureBegin.
func NewVirtualTarget(profile *flashprog.Profile) *VirtualTarget {
	v := &VirtualTarget{
		profile:   profile,
		memory:    make(map[uint32]byte),
		forced:    make(map[byte]byte),
		signature: append([]byte(nil), profile.Signature...),
		eraseBusy: 2,
	}
	if profile.Secure.Supported {
		v.secureBegin = SecureBegin
		v.secureSize = SecureSize
	}
	return v
}

// Write feeds host bytes to the target. Complete frames are handled at once.
func (v *VirtualTarget) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dead {
		return len(data), nil
	}
	v.rx = append(v.rx, data...)
	v.processFrames()
	return len(data), nil
}

// Read drains pending response bytes.
func (v *VirtualTarget) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := copy(buf, v.tx)
	v.tx = v.tx[n:]
	return n, nil
}

// next pops one response byte. An idle line reads 0xFF.
func (v *VirtualTarget) next() (byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dead || len(v.tx) == 0 {
		return 0xFF, false
	}
	b := v.tx[0]
	v.tx = v.tx[1:]
	return b, true
}

// Ready reports whether the target drives the ready level.
func (v *VirtualTarget) Ready() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.dead && v.busy == 0
}

// tick advances the busy counter by one poll.
func (v *VirtualTarget) tick() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.busy > 0 {
		v.busy--
	}
}

// Reset returns the protocol state machine to idle, as after a control line
// pulse. Memory and one-way settings survive.
func (v *VirtualTarget) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rx = nil
	v.tx = nil
	v.chunks = nil
	v.program = nil
	v.busy = 0
	v.eraseStep = 0
	v.resets++
}

// Test helper methods

// SetDead makes the target stop answering and never become ready.
func (v *VirtualTarget) SetDead(dead bool) {
	v.mu.Lock()
	v.dead = dead
	v.mu.Unlock()
}

// SetEraseBusy sets how many polls erase-class commands keep the target busy.
func (v *VirtualTarget) SetEraseBusy(polls int) {
	v.mu.Lock()
	v.eraseBusy = polls
	v.mu.Unlock()
}

// ForceStatus makes every later command with opcode answer status.
func (v *VirtualTarget) ForceStatus(opcode, status byte) {
	v.mu.Lock()
	v.forced[opcode] = status
	v.mu.Unlock()
}

// ForceDataStatus makes every later program data frame answer status.
func (v *VirtualTarget) ForceDataStatus(status byte) {
	v.mu.Lock()
	v.dataStatus = status
	v.dataForced = true
	v.mu.Unlock()
}

// ClearForcedStatus removes a ForceStatus override.
func (v *VirtualTarget) ClearForcedStatus(opcode byte) {
	v.mu.Lock()
	delete(v.forced, opcode)
	v.mu.Unlock()
}

// SetSignature overrides the signature the target reports.
func (v *VirtualTarget) SetSignature(sig []byte) {
	v.mu.Lock()
	v.signature = append([]byte(nil), sig...)
	v.mu.Unlock()
}

// SetSecureRegion sets the secure region the target reports.
func (v *VirtualTarget) SetSecureRegion(begin, size uint32, valid bool) {
	v.mu.Lock()
	v.secureBegin = begin
	v.secureSize = size
	v.secureValid = valid
	v.mu.Unlock()
}

// SecureValid reports whether the secure region is validated.
func (v *VirtualTarget) SecureValid() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.secureValid
}

// Poke writes memory directly, bypassing the protocol.
func (v *VirtualTarget) Poke(addr uint32, data ...byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, b := range data {
		v.memory[addr+uint32(i)] = b
	}
}

// Peek reads n bytes of memory directly.
func (v *VirtualTarget) Peek(addr uint32, n int) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.readMemory(addr, addr+uint32(n)-1)
}

// Options returns the option bytes last written.
func (v *VirtualTarget) Options() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.options...)
}

// IDCode returns the ID code last written.
func (v *VirtualTarget) IDCode() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.idCode...)
}

// LockBits returns the lock bits last written.
func (v *VirtualTarget) LockBits() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.lockBits...)
}

// SerialProgrammingDisabled reports whether the disable command was received.
func (v *VirtualTarget) SerialProgrammingDisabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.spDisabled
}

// Log returns every command frame received.
func (v *VirtualTarget) Log() []CommandLogEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]CommandLogEntry(nil), v.log...)
}

// Opcodes returns the opcodes of every command received, in order.
func (v *VirtualTarget) Opcodes() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]byte, 0, len(v.log))
	for _, e := range v.log {
		out = append(out, e.Opcode)
	}
	return out
}

// CommandCount returns how many times opcode was received.
func (v *VirtualTarget) CommandCount(opcode byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, e := range v.log {
		if e.Opcode == opcode {
			n++
		}
	}
	return n
}

// Resets returns how many times the target was reset.
func (v *VirtualTarget) Resets() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.resets
}

// ClearLog forgets the command log.
func (v *VirtualTarget) ClearLog() {
	v.mu.Lock()
	v.log = nil
	v.mu.Unlock()
}

// processFrames handles every complete frame in rx. Bytes that cannot start
// a frame are dropped.
func (v *VirtualTarget) processFrames() {
	for len(v.rx) >= frame.HeaderLength {
		start := v.rx[0]
		if start != frame.StartCommand && start != frame.StartData {
			v.rx = v.rx[1:]
			continue
		}
		length := int(v.rx[1])<<8 | int(v.rx[2])
		total := length + frame.Overhead
		if len(v.rx) < total {
			return
		}
		raw := v.rx[:total]
		v.rx = v.rx[total:]

		f, err := frame.Parse(raw, start == frame.StartData)
		if err != nil {
			v.status(v.opcodeOf(f), statusChecksum)
			continue
		}
		if start == frame.StartCommand {
			v.handleCommand(f.Payload[0], f.Payload[1:])
		} else {
			v.handleData(f)
		}
	}
}

func (*VirtualTarget) opcodeOf(f frame.Frame) byte {
	if f.HasAck {
		return f.Ack
	}
	if len(f.Payload) > 0 {
		return f.Payload[0]
	}
	return 0
}

func (v *VirtualTarget) reply(f frame.Frame) {
	v.tx = f.AppendTo(v.tx)
}

func (v *VirtualTarget) status(opcode, code byte) {
	v.reply(frame.Data(opcode, []byte{code}, frame.EndText))
}

func (v *VirtualTarget) ok(opcode byte) {
	v.status(opcode, v.profile.OKStatus(opcode))
}

func (v *VirtualTarget) handleCommand(opcode byte, params []byte) {
	entry := CommandLogEntry{Opcode: opcode, Params: append([]byte(nil), params...)}
	if len(params) == 8 {
		entry.Begin = binary.BigEndian.Uint32(params[0:4])
		entry.End = binary.BigEndian.Uint32(params[4:8])
		entry.Ranged = true
	}
	v.log = append(v.log, entry)

	if v.spDisabled {
		v.status(opcode, flashprog.StatusDisabled)
		return
	}
	if code, ok := v.forced[opcode]; ok {
		v.status(opcode, code)
		return
	}

	ops := v.profile.Opcodes
	switch opcode {
	case ops.Inquiry:
		v.ok(opcode)
	case ops.Signature:
		v.reply(frame.Data(opcode, v.signature, frame.EndText))
	case ops.AreaInfo:
		info := make([]byte, 8)
		binary.BigEndian.PutUint32(info[0:4], v.secureBegin)
		binary.BigEndian.PutUint32(info[4:8], v.secureSize)
		v.reply(frame.Data(opcode, info, frame.EndText))
	case ops.SecureModeCheck:
		mode := byte(0)
		if v.secureValid {
			mode = flashprog.SecureModeValid
		}
		v.reply(frame.Data(opcode, []byte{mode}, frame.EndText))
	case ops.Erase, ops.BlankCheck, ops.Program, ops.Verify, ops.Read:
		v.handleRange(opcode, entry)
	case ops.ConfigClear:
		if len(v.lockBits) > 0 {
			v.status(opcode, flashprog.StatusProtection)
			return
		}
		v.options = nil
		v.idCode = nil
		v.busy = v.eraseBusy
		v.ok(opcode)
	case ops.OptionSet:
		v.options = entry.Params
		v.ok(opcode)
	case ops.OptionRead:
		v.reply(frame.Data(opcode, v.options, frame.EndText))
	case ops.IDCodeSet:
		v.idCode = entry.Params
		v.ok(opcode)
	case ops.LockBitSet:
		v.lockBits = entry.Params
		v.ok(opcode)
	case ops.OTPSet:
		v.otp = entry.Params
		v.ok(opcode)
	case ops.SerialDisable:
		v.ok(opcode)
		v.spDisabled = true
	case ops.SecureValidate:
		v.secureValid = true
		v.busy = v.eraseBusy
		v.ok(opcode)
	case ops.SecureErase:
		v.secureEraseStep(opcode)
	default:
		v.status(opcode, statusUnsupported)
	}
}

func (v *VirtualTarget) handleRange(opcode byte, entry CommandLogEntry) {
	if !entry.Ranged || entry.End < entry.Begin {
		v.status(opcode, statusAddress)
		return
	}
	ops := v.profile.Opcodes
	if v.secureValid && v.overlapsSecure(entry.Begin, entry.End) {
		v.status(opcode, flashprog.StatusProtection)
		return
	}

	switch opcode {
	case ops.Erase:
		for a := entry.Begin; a <= entry.End && a >= entry.Begin; a++ {
			delete(v.memory, a)
		}
		v.busy = v.eraseBusy
		v.ok(opcode)
	case ops.BlankCheck:
		v.busy = v.eraseBusy
		for a := entry.Begin; a <= entry.End && a >= entry.Begin; a++ {
			if b, ok := v.memory[a]; ok && b != v.profile.Erased {
				v.status(opcode, flashprog.StatusBlank)
				return
			}
		}
		v.ok(opcode)
	case ops.Program:
		v.program = &programState{next: entry.Begin, end: entry.End}
		v.ok(opcode)
	default:
		v.ok(opcode)
		chunks := frame.Chunk(opcode, v.readMemory(entry.Begin, entry.End), v.profile.PageSize)
		v.chunks = v.chunks[:0]
		for _, c := range chunks {
			v.chunks = append(v.chunks, c.Bytes())
		}
		if v.profile.Family == flashprog.FamilyPacket {
			for _, c := range v.chunks {
				v.tx = append(v.tx, c...)
			}
			v.chunks = nil
		}
	}
}

func (v *VirtualTarget) handleData(f frame.Frame) {
	ops := v.profile.Opcodes
	switch {
	case f.Ack == ops.Program && v.program != nil:
		p := v.program
		if uint64(p.next)+uint64(len(f.Payload)) > uint64(p.end)+1 {
			v.program = nil
			v.status(f.Ack, statusFlow)
			return
		}
		for i, b := range f.Payload {
			v.memory[p.next+uint32(i)] = b
		}
		p.next += uint32(len(f.Payload))
		if p.next > p.end || f.End == frame.EndText {
			v.program = nil
		}
		if v.dataForced {
			v.status(f.Ack, v.dataStatus)
			return
		}
		v.ok(f.Ack)
	case (f.Ack == ops.Read || f.Ack == ops.Verify) && len(v.chunks) > 0:
		v.tx = append(v.tx, v.chunks[0]...)
		v.chunks = v.chunks[1:]
	default:
		v.status(f.Ack, statusFlow)
	}
}

func (v *VirtualTarget) secureEraseStep(opcode byte) {
	if !v.secureValid {
		v.status(opcode, flashprog.StatusSequence)
		return
	}
	v.busy = v.eraseBusy
	v.eraseStep++
	if v.eraseStep < v.profile.Secure.EraseSteps {
		v.status(opcode, flashprog.StatusBusy)
		return
	}
	v.eraseStep = 0
	v.secureValid = false
	for a := v.secureBegin; a < v.secureBegin+v.secureSize; a++ {
		delete(v.memory, a)
	}
	v.ok(opcode)
}

func (v *VirtualTarget) overlapsSecure(begin, end uint32) bool {
	if v.secureSize == 0 {
		return false
	}
	last := v.secureBegin + v.secureSize - 1
	return begin <= last && end >= v.secureBegin
}

func (v *VirtualTarget) readMemory(begin, end uint32) []byte {
	if end < begin {
		return nil
	}
	out := make([]byte, 0, end-begin+1)
	for a := begin; ; a++ {
		b, ok := v.memory[a]
		if !ok {
			b = v.profile.Erased
		}
		out = append(out, b)
		if a == end {
			break
		}
	}
	return out
}
