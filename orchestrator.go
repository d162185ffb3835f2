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
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-flashprog/internal/frame"
)

// Run executes mode over the sector table. Sectors not flagged for mode are
// skipped and the configuration area is handled after every other sector.
// A fault the policy declines stops the run at once. A host abort or the
// loss of every active channel returns a *HardwareAbortError and leaves the
// session unusable.
func (s *Session) Run(ctx context.Context, mode OperationMode) error {
	if s.aborted {
		return &SequenceError{Op: mode.String(), Reason: "session was aborted"}
	}
	switch mode {
	case ModePowerUp:
		return s.Start(ctx)
	case ModeIDCheck:
		if !s.started {
			return s.Start(ctx)
		}
		s.mode = mode
		s.fc = FaultContext{Sector: -1}
		return s.failed("id check", s.checkSignature())
	}

	if !s.started {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	if s.channels.ActiveMask().Empty() {
		return ErrNoActiveChannels
	}

	s.mode = mode
	err := s.run(ctx)
	if err != nil {
		if errors.Is(err, ErrHardwareAbort) {
			s.aborted = true
		}
		s.emit(EventError, s.fc.Sector, s.channels.FailedMask(), "%s failed: %v", mode, err)
		return err
	}
	s.emit(EventInfo, -1, s.selected, "%s complete", mode)
	return nil
}

func (s *Session) run(ctx context.Context) error {
	if s.mode.Capture() {
		begin, end := s.captureSpan()
		s.readBack = NewImage(begin, int(end-begin+1), s.profile.Erased)
		return s.capture(func() error {
			return s.runSectors(ctx)
		})
	}
	return s.runSectors(ctx)
}

func (s *Session) runSectors(ctx context.Context) error {
	var config []int
	for i, sec := range s.sectors {
		if sec.Kind == AreaConfig {
			config = append(config, i)
			continue
		}
		if s.mode == ModeSecure || !sec.Requested(s.mode) {
			continue
		}
		if err := s.dispatch(i, sec); err != nil {
			return err
		}
		if err := s.afterSector(ctx, i); err != nil {
			return err
		}
	}
	s.completed[s.mode] = true

	return s.runConfigSectors(ctx, config)
}

// RunConfig handles only the configuration area for mode. The memory areas
// of the same mode must have completed in this session first.
func (s *Session) RunConfig(ctx context.Context, mode OperationMode) error {
	if s.aborted {
		return &SequenceError{Op: "config", Reason: "session was aborted"}
	}
	if !s.completed[mode] {
		return &SequenceError{Op: "config", Reason: fmt.Sprintf("%s of the memory areas has not completed", mode)}
	}
	s.mode = mode
	var config []int
	for i, sec := range s.sectors {
		if sec.Kind == AreaConfig {
			config = append(config, i)
		}
	}
	err := s.runConfigSectors(ctx, config)
	if errors.Is(err, ErrHardwareAbort) {
		s.aborted = true
	}
	return err
}

func (s *Session) runConfigSectors(ctx context.Context, config []int) error {
	for _, i := range config {
		sec := s.sectors[i]
		if !sec.Requested(s.mode) {
			continue
		}
		if err := s.dispatch(i, sec); err != nil {
			return err
		}
		if err := s.afterSector(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

// afterSector reports progress and checks the host abort signal.
func (s *Session) afterSector(ctx context.Context, i int) error {
	if s.progress != nil {
		s.progress(Progress{Mode: s.mode, Sector: i, Total: len(s.sectors), Active: s.channels.ActiveMask()})
	}
	if s.abort != nil && s.abort.CheckAbort() {
		reason := "host abort"
		if latch, ok := s.abort.(*AbortLatch); ok && latch.Reason() != "" {
			reason = latch.Reason()
		}
		return &HardwareAbortError{Reason: reason, Sector: i}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled after sector %d: %w", i, err)
	}
	return nil
}

// dispatch hands one sector to its area handler.
func (s *Session) dispatch(i int, sec Sector) error {
	s.fc = FaultContext{Sector: i, Area: sec.Kind, Address: sec.Begin}
	s.emit(EventInfo, i, s.selected, "%s", sec)

	var err error
	switch sec.Kind {
	case AreaCode:
		err = s.memoryArea(sec.Begin, sec.End, false)
	case AreaData:
		err = s.memoryArea(sec.Begin, sec.End, s.job.Fill == FillSparse)
	case AreaSecure:
		err = s.secureArea()
	case AreaConfig:
		err = s.configArea()
	default:
		err = fmt.Errorf("%w: sector %d has area kind %d", ErrInvalidParameter, i, int(sec.Kind))
	}
	if err != nil {
		return fmt.Errorf("sector %d (%s): %w", i, sec, err)
	}
	return nil
}

// memoryArea performs the current mode on an ordinary flash range.
func (s *Session) memoryArea(begin, end uint32, sparse bool) error {
	ops := s.profile.Opcodes
	switch s.mode {
	case ModeErase:
		return s.command("erase", ops.Erase, addressParams(begin, end), s.budgets.Erase)
	case ModeBlankCheck:
		return s.command("blank check", ops.BlankCheck, addressParams(begin, end), s.budgets.BlankCheck)
	case ModeProgram:
		if s.image == nil {
			return fmt.Errorf("%w: program needs an image", ErrInvalidParameter)
		}
		if sparse {
			return s.programSparse(begin, end)
		}
		return s.programRange(begin, end)
	case ModeVerify:
		if s.image == nil {
			return fmt.Errorf("%w: verify needs an image", ErrInvalidParameter)
		}
		return s.verifyRange(begin, end, sparse)
	case ModeRead:
		return s.readRange(begin, end)
	default:
		return nil
	}
}

// programRange writes begin..end from the image in page-sized data frames.
func (s *Session) programRange(begin, end uint32) error {
	op := s.profile.Opcodes.Program
	data, _ := s.image.Slice(begin, end, s.profile.Erased)
	if err := s.command("program", op, addressParams(begin, end), s.budgets.Ack); err != nil {
		return err
	}
	off := 0
	for _, f := range frame.Chunk(op, data, s.profile.PageSize) {
		if s.idle() {
			return nil
		}
		s.fc.Address = begin + uint32(off)
		if err := s.send("program", f); err != nil {
			return err
		}
		if err := s.expectStatus("program", op, s.profile.OKStatus(op), s.budgets.Program); err != nil {
			return err
		}
		off += len(f.Payload)
	}
	return nil
}

// programSparse writes only the marked runs of begin..end, each run one
// command and one data frame.
func (s *Session) programSparse(begin, end uint32) error {
	runs := s.image.SparseRuns(begin, end, s.profile.PageSize)
	Debugf("sparse program 0x%08X-0x%08X: %d runs", begin, end, len(runs))
	for _, r := range runs {
		if s.idle() {
			return nil
		}
		if err := s.programRange(r.Begin, r.End); err != nil {
			return err
		}
	}
	return nil
}

// verifyRange has the targets send begin..end back and compares it on every
// channel. With sparse set, unmarked bytes are not compared.
func (s *Session) verifyRange(begin, end uint32, sparse bool) error {
	op := s.profile.Opcodes.Verify
	data, used := s.image.Slice(begin, end, s.profile.Erased)
	if !sparse {
		used = nil
	}
	if err := s.command("verify", op, addressParams(begin, end), s.budgets.Ack); err != nil {
		return err
	}
	off := 0
	for _, f := range frame.Chunk(op, data, s.profile.PageSize) {
		if s.idle() {
			return nil
		}
		s.fc.Address = begin + uint32(off)
		if err := s.requestChunk("verify", op); err != nil {
			return err
		}
		if err := s.waitReady("verify", s.budgets.Ack); err != nil {
			return err
		}
		var chunkUsed []bool
		if used != nil {
			chunkUsed = used[off : off+len(f.Payload)]
		}
		if err := s.expectFrame("verify", f, chunkUsed); err != nil {
			return err
		}
		off += len(f.Payload)
	}
	return nil
}

// readRange captures begin..end from the lowest channel into the read-back
// image.
func (s *Session) readRange(begin, end uint32) error {
	op := s.profile.Opcodes.Read
	if err := s.send("read", frame.Command(op, addressParams(begin, end))); err != nil {
		return err
	}
	if err := s.waitReady("read", s.budgets.Ack); err != nil {
		return err
	}
	if err := s.codec.DecodeStatus(op, s.profile.OKStatus(op)); err != nil {
		return err
	}
	data, err := s.codec.ReadChunks(op, int(end-begin+1), s.profile.PageSize, func() error {
		if err := s.requestChunk("read", op); err != nil {
			return err
		}
		return s.waitReady("read", s.budgets.Ack)
	})
	if err != nil {
		return err
	}
	return s.readBack.Write(begin, data)
}

// captureSpan returns the address range the read-back image covers.
func (s *Session) captureSpan() (begin, end uint32) {
	begin, end = s.profile.MemorySpan()
	if s.secureSize > 0 {
		begin = min(begin, s.secureRegion.Begin)
		end = max(end, s.secureRegion.End)
	}
	return begin, end
}

// configArea handles option bytes, ID code and the one-way settings. One-way
// steps are only issued in ModeSecure, in a fixed order, and serial
// programming is only disabled when the job asks for it.
func (s *Session) configArea() error {
	req := s.job.Config
	ops := s.profile.Opcodes
	switch s.mode {
	case ModeErase:
		return s.command("config clear", ops.ConfigClear, nil, s.budgets.Erase)
	case ModeProgram:
		return s.writeOptions(req)
	case ModeVerify:
		if len(req.OptionBytes) == 0 {
			return nil
		}
		if err := s.send("option read", frame.Command(ops.OptionRead, nil)); err != nil {
			return err
		}
		if err := s.waitReady("option read", s.budgets.Ack); err != nil {
			return err
		}
		return s.expectFrame("option verify", frame.Data(ops.OptionRead, req.OptionBytes, EndText), nil)
	case ModeSecure:
		return s.secureConfig(req)
	default:
		return nil
	}
}

// writeOptions writes the reversible option bytes and ID code.
func (s *Session) writeOptions(req ConfigRequest) error {
	ops := s.profile.Opcodes
	if len(req.OptionBytes) > 0 {
		if err := s.command("option set", ops.OptionSet, req.OptionBytes, s.budgets.Program); err != nil {
			return err
		}
	}
	if len(req.IDCode) > 0 {
		if err := s.command("id code set", ops.IDCodeSet, req.IDCode, s.budgets.Program); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) secureConfig(req ConfigRequest) error {
	ops := s.profile.Opcodes
	if err := s.writeOptions(req); err != nil {
		return err
	}
	if req.ValidateSecure {
		if err := s.validateSecure(); err != nil {
			return err
		}
	}
	if len(req.LockBits) > 0 {
		if err := s.command("lock bit set", ops.LockBitSet, req.LockBits, s.budgets.Program); err != nil {
			return err
		}
	}
	if len(req.OTP) > 0 {
		if err := s.command("otp set", ops.OTPSet, req.OTP, s.budgets.Program); err != nil {
			return err
		}
	}
	if req.DisableSerialProgramming {
		s.emit(EventWarn, s.fc.Sector, s.selected, "disabling serial programming")
		if err := s.command("serial programming disable", ops.SerialDisable, nil, s.budgets.Ack); err != nil {
			return err
		}
	}
	return nil
}
