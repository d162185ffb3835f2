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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-flashprog/internal/frame"
)

// Session owns the channel array and sector table of one programming run
// against a gang of targets. It is driven by a single goroutine.
type Session struct {
	transport    Transport
	policy       MismatchPolicy
	abort        AbortSignal
	events       EventSink
	resetter     Resetter
	codec        *Codec
	secure       *SecureCoordinator
	profile      *Profile
	image        *Image
	readBack     *Image
	progress     func(Progress)
	completed    map[OperationMode]bool
	budgets      *Budgets
	sectors      []Sector
	job          Job
	fc           FaultContext
	secureRegion Run
	compare      CompareEngine
	secureSize   uint32
	resyncs      int
	mode         OperationMode
	channels     Channels
	selected     ChannelMask
	started      bool
	aborted      bool
	capturing    bool
}

// Option configures a Session.
type Option func(*Session) error

// WithJob sets the job: channels, sector flags, fill policy and config request.
func WithJob(job Job) Option {
	return func(s *Session) error {
		s.job = job
		return nil
	}
}

// WithChannels overrides the job's active channel set.
func WithChannels(mask ChannelMask) Option {
	return func(s *Session) error {
		s.job.Channels = mask
		return nil
	}
}

// WithFillPolicy overrides the job's fill policy for data areas.
func WithFillPolicy(fill FillPolicy) Option {
	return func(s *Session) error {
		s.job.Fill = fill
		return nil
	}
}

// WithPolicy sets the mismatch-resolution policy. The default is FailFast.
func WithPolicy(policy MismatchPolicy) Option {
	return func(s *Session) error {
		if policy == nil {
			return fmt.Errorf("%w: nil mismatch policy", ErrInvalidParameter)
		}
		s.policy = policy
		return nil
	}
}

// WithAbortSignal sets the host abort signal checked after every sector.
func WithAbortSignal(abort AbortSignal) Option {
	return func(s *Session) error {
		s.abort = abort
		return nil
	}
}

// WithEventSink sets the diagnostic event sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Session) error {
		if sink == nil {
			sink = NopEventSink{}
		}
		s.events = sink
		return nil
	}
}

// WithResetter sets how the targets are resynchronized. Without one the
// session pulses the control line low then high.
func WithResetter(r Resetter) Option {
	return func(s *Session) error {
		s.resetter = r
		return nil
	}
}

// WithBudgets overrides the profile's readiness budgets.
func WithBudgets(b Budgets) Option {
	return func(s *Session) error {
		s.budgets = &b
		return nil
	}
}

// WithProgress sets a callback invoked after every dispatched sector.
func WithProgress(fn func(Progress)) Option {
	return func(s *Session) error {
		s.progress = fn
		return nil
	}
}

// WithImage sets the memory image programmed and verified.
func WithImage(im *Image) Option {
	return func(s *Session) error {
		s.image = im
		return nil
	}
}

// NewSession validates profile and job and returns a session bound to t.
// The transport is not touched until Start or Run.
func NewSession(t Transport, profile *Profile, opts ...Option) (*Session, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: nil profile", ErrInvalidParameter)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		transport: t,
		profile:   profile,
		policy:    FailFast,
		events:    NopEventSink{},
		codec:     NewCodec(t),
		compare:   NewCompareEngine(t),
		completed: make(map[OperationMode]bool),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	wired := AllChannels
	if r, ok := t.(ChannelReporter); ok {
		wired = r.Present()
	}
	if s.job.Channels == 0 {
		s.job.Channels = wired
	}
	if err := s.job.Validate(profile); err != nil {
		return nil, err
	}
	if missing := s.job.Channels &^ wired; !missing.Empty() {
		return nil, fmt.Errorf("%w: channels %s are not wired on the %s transport",
			ErrInvalidParameter, missing, t.Type())
	}
	budgets := profile.Budgets.orDefault(DefaultBudgets())
	if s.budgets != nil {
		budgets = s.budgets.orDefault(budgets)
	}
	s.budgets = &budgets

	s.channels = NewChannels(s.job.Channels)
	s.selected = s.channels.ActiveMask()
	s.sectors = s.job.Apply(profile.Sectors)
	s.secure = NewSecureCoordinator(&s.channels, s)
	s.fc = FaultContext{Sector: -1}
	return s, nil
}

// Start powers the session up: resynchronize, inquiry, signature check and,
// on devices with a secure region, the region's bounds and per-channel state.
func (s *Session) Start(ctx context.Context) error {
	if s.aborted {
		return &SequenceError{Op: "start", Reason: "session was aborted"}
	}
	s.mode = ModePowerUp
	s.fc = FaultContext{Sector: -1}

	if err := s.resync(); err != nil {
		return fmt.Errorf("session start: %w", err)
	}
	if err := s.command("inquiry", s.profile.Opcodes.Inquiry, nil, s.budgets.Ack); err != nil {
		return s.failed("session start", err)
	}

	s.mode = ModeIDCheck
	if err := s.checkSignature(); err != nil {
		return s.failed("session start", err)
	}

	if s.profile.Secure.Supported {
		if err := s.readAreaInfo(); err != nil {
			return s.failed("session start", err)
		}
		agg, err := s.secure.QueryAllChannels()
		if err != nil {
			return s.failed("session start", err)
		}
		s.emit(EventInfo, -1, s.selected, "secure region 0x%08X+%d: %s", s.secureRegion.Begin, s.secureSize, agg)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("session start cancelled: %w", err)
	}
	s.started = true
	s.emit(EventInfo, -1, s.selected, "session started on %s", s.profile.Name)
	return nil
}

// Channels returns a copy of the channel array.
func (s *Session) Channels() Channels {
	return s.channels
}

// ActiveMask returns the channels still taking part.
func (s *Session) ActiveMask() ChannelMask {
	return s.channels.ActiveMask()
}

// Sectors returns a copy of the sector table with the job's flags applied.
func (s *Session) Sectors() []Sector {
	return append([]Sector(nil), s.sectors...)
}

// SecureRegion returns the device-reported secure region and its size.
func (s *Session) SecureRegion() (Run, uint32) {
	return s.secureRegion, s.secureSize
}

// Secure returns the secure-region state coordinator.
func (s *Session) Secure() *SecureCoordinator {
	return s.secure
}

// ReadBack returns the image captured by the last ModeRead run, or nil.
func (s *Session) ReadBack() *Image {
	return s.readBack
}

// Resyncs returns how many times the targets were resynchronized.
func (s *Session) Resyncs() int {
	return s.resyncs
}

// Trace returns the wire trace of recent exchanges.
func (s *Session) Trace() *TraceBuffer {
	return s.codec.Trace()
}

func (s *Session) failed(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrHardwareAbort) {
		s.aborted = true
	}
	return fmt.Errorf("%s: %w", op, err)
}

// selectChannels implements secureTarget.
func (s *Session) selectChannels(mask ChannelMask) error {
	s.selected = mask
	if err := s.transport.SelectChannels(mask); err != nil {
		return fmt.Errorf("select channels %s: %w", mask, err)
	}
	return nil
}

// resync puts every active target back into a known protocol state.
func (s *Session) resync() error {
	s.resyncs++
	if s.resetter != nil {
		if err := s.resetter.Resync(); err != nil {
			return fmt.Errorf("resync: %w", err)
		}
	} else {
		if err := s.transport.SetPin(Low); err != nil {
			return fmt.Errorf("resync: %w", err)
		}
		if err := s.transport.SetPin(High); err != nil {
			return fmt.Errorf("resync: %w", err)
		}
	}
	return s.selectChannels(s.channels.ActiveMask())
}

// resyncIfPending resynchronizes after a secure state change and repeats the
// inquiry handshake before any further exchange.
func (s *Session) resyncIfPending() error {
	if !s.secure.ResyncPending() {
		return nil
	}
	Debugf("secure state changed, resynchronizing")
	if err := s.resync(); err != nil {
		return err
	}
	s.secure.ResyncDone()
	return s.command("inquiry", s.profile.Opcodes.Inquiry, nil, s.budgets.Ack)
}

// idle reports whether every selected channel has dropped out.
func (s *Session) idle() bool {
	return s.selected.Empty()
}

// fault resolves a routable fault at the exchange that produced it. It
// returns nil when the policy accepted and the channels were disabled.
func (s *Session) fault(err error) error {
	mask, ok := FaultMask(err)
	if !ok || !IsPolicyRoutable(err) {
		return err
	}
	active := s.channels.ActiveMask()
	mask &= active
	if mask.Empty() {
		return nil
	}

	fc := s.fc
	fc.Err = err
	if mask == active {
		s.emit(EventError, fc.Sector, mask, "all active channels failed: %v", err)
		return &HardwareAbortError{Reason: "all active channels failed: " + err.Error(), Sector: fc.Sector, Mask: mask}
	}
	if !s.policy.Resolve(s.mode, mask, fc) {
		s.emit(EventError, fc.Sector, mask, "policy declined: %v", err)
		return err
	}

	state := FaultMismatch
	if errors.Is(err, ErrTimeout) {
		state = FaultTimedOut
	}
	s.channels.Disable(mask, state)
	s.emit(EventWarn, fc.Sector, mask, "channels disabled: %v", err)
	return s.selectChannels(s.selected &^ mask)
}

// waitReady waits for the ready level within b. Outside capture sections a
// timeout is resolved through the policy.
func (s *Session) waitReady(op string, b Budget) error {
	mask, err := s.compare.WaitReady(b)
	if err != nil {
		return err
	}
	mask &= s.selected
	if mask.Empty() {
		return nil
	}
	te := &TimeoutError{Op: op, Mask: mask}
	if s.capturing {
		return te
	}
	return s.fault(te)
}

// send broadcasts f, waiting for the ready level first on three-wire targets.
func (s *Session) send(op string, f Frame) error {
	if s.profile.Family == FamilyThreeWire {
		if err := s.waitReady(op, s.budgets.Ack); err != nil {
			return err
		}
	}
	if s.idle() {
		return nil
	}
	return s.codec.Send(f)
}

// expectFrame compares the response on every selected channel against f.
// With used set, unused payload bytes are ignored.
func (s *Session) expectFrame(op string, f Frame, used []bool) error {
	var (
		mask ChannelMask
		err  error
	)
	if used != nil {
		mask, err = s.codec.CompareSparse(f, used)
	} else {
		mask, err = s.codec.CompareFrame(f)
	}
	if err != nil {
		return err
	}
	mask &= s.selected
	if mask.Empty() {
		return nil
	}
	return s.fault(&CompareMismatchError{Op: op, Address: s.fc.Address, Mask: mask})
}

// expectStatus waits within b and compares the status answering opcode.
func (s *Session) expectStatus(op string, opcode, status byte, b Budget) error {
	if err := s.waitReady(op, b); err != nil {
		return err
	}
	if s.idle() {
		return nil
	}
	return s.expectFrame(op, frame.Data(opcode, []byte{status}, EndText), nil)
}

// command sends opcode with params and expects a good status within b.
func (s *Session) command(op string, opcode byte, params []byte, b Budget) error {
	if s.idle() {
		return nil
	}
	if err := s.send(op, frame.Command(opcode, params)); err != nil {
		return err
	}
	return s.expectStatus(op, opcode, s.profile.OKStatus(opcode), b)
}

// requestChunk sends the reverse acknowledgement a three-wire target needs
// before each data chunk.
func (s *Session) requestChunk(op string, opcode byte) error {
	if s.profile.Family != FamilyThreeWire {
		return nil
	}
	return s.send(op, frame.Data(opcode, []byte{s.profile.OKStatus(opcode)}, EndText))
}

// capture runs fn with only the lowest active channel selected, restoring
// the previous selection afterwards.
func (s *Session) capture(fn func() error) error {
	low := s.channels.ActiveMask().Lowest()
	if low < 0 {
		return ErrNoActiveChannels
	}
	prev := s.selected
	wasCapturing := s.capturing
	s.capturing = true
	defer func() { s.capturing = wasCapturing }()

	if err := s.selectChannels(ChannelBit(low)); err != nil {
		return err
	}
	err := fn()
	if serr := s.selectChannels(prev & s.channels.ActiveMask()); serr != nil && err == nil {
		err = serr
	}
	return err
}

// checkSignature compares the device signature on every channel.
func (s *Session) checkSignature() error {
	if len(s.profile.Signature) == 0 {
		return nil
	}
	op := s.profile.Opcodes.Signature
	if err := s.send("signature", frame.Command(op, nil)); err != nil {
		return err
	}
	if err := s.waitReady("signature", s.budgets.Ack); err != nil {
		return err
	}
	return s.expectFrame("signature", frame.Data(op, s.profile.Signature, EndText), nil)
}

// readAreaInfo captures the secure region bounds from the lowest channel.
func (s *Session) readAreaInfo() error {
	op := s.profile.Opcodes.AreaInfo
	return s.capture(func() error {
		if err := s.send("area info", frame.Command(op, nil)); err != nil {
			return err
		}
		if err := s.waitReady("area info", s.budgets.Ack); err != nil {
			return err
		}
		f, err := s.codec.Decode(8, true)
		if err != nil {
			return err
		}
		if f.Ack != op {
			return &FrameDecodeError{Op: "area info", Offset: frame.HeaderLength, Expected: op, Got: f.Ack}
		}
		begin := binary.BigEndian.Uint32(f.Payload[0:4])
		size := binary.BigEndian.Uint32(f.Payload[4:8])
		s.secureSize = size
		s.secureRegion = Run{}
		if size > 0 {
			s.secureRegion = Run{Begin: begin, End: begin + size - 1}
		}
		for i := range s.sectors {
			if s.sectors[i].Kind == AreaSecure {
				s.sectors[i].Begin = s.secureRegion.Begin
				s.sectors[i].End = s.secureRegion.End
			}
		}
		return nil
	})
}

// querySecure implements secureTarget. It captures the secure mode of
// channel ch alone.
func (s *Session) querySecure(ch int) (SecureState, error) {
	op := s.profile.Opcodes.SecureModeCheck
	prev := s.selected
	wasCapturing := s.capturing
	s.capturing = true
	defer func() { s.capturing = wasCapturing }()

	if err := s.selectChannels(ChannelBit(ch)); err != nil {
		return SecureUnknown, err
	}
	state, err := func() (SecureState, error) {
		if err := s.send("secure mode check", frame.Command(op, nil)); err != nil {
			return SecureUnknown, err
		}
		if err := s.waitReady("secure mode check", s.budgets.Ack); err != nil {
			return SecureUnknown, err
		}
		f, err := s.codec.Decode(1, true)
		if err != nil {
			return SecureUnknown, err
		}
		if f.Ack != op {
			return SecureUnknown, &FrameDecodeError{
				Op: "secure mode check", Offset: frame.HeaderLength, Expected: op, Got: f.Ack,
			}
		}
		if f.Payload[0] == SecureModeValid {
			return SecureValid, nil
		}
		return SecureInvalid, nil
	}()
	if serr := s.selectChannels(prev); serr != nil && err == nil {
		err = serr
	}
	return state, err
}

// SecureModeValid is the mode-check answer of a validated secure region.
const SecureModeValid byte = 0x01

// addressParams encodes an inclusive address range as command parameters.
func addressParams(begin, end uint32) []byte {
	p := make([]byte, 8)
	binary.BigEndian.PutUint32(p[0:4], begin)
	binary.BigEndian.PutUint32(p[4:8], end)
	return p
}
