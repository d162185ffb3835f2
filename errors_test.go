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
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolErrorsUnwrapToCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		sentinel error
		name     string
		contains string
	}{
		{
			name:     "FrameDecode",
			err:      &FrameDecodeError{Op: "decode", Offset: 3, Expected: 0x81, Got: 0x01},
			sentinel: ErrFrameDecode,
			contains: "frame byte 3: expected 0x81, got 0x01",
		},
		{
			name:     "FrameDecodeWithCause",
			err:      &FrameDecodeError{Op: "read", Err: io.ErrUnexpectedEOF},
			sentinel: io.ErrUnexpectedEOF,
			contains: "read: unexpected EOF",
		},
		{
			name:     "Checksum",
			err:      &ChecksumError{Op: "decode", Sum: 0x12},
			sentinel: ErrChecksum,
			contains: "sum 0x12",
		},
		{
			name:     "Timeout",
			err:      &TimeoutError{Op: "erase", Mask: MaskOf(1)},
			sentinel: ErrTimeout,
			contains: "erase: channels",
		},
		{
			name:     "CompareMismatch",
			err:      &CompareMismatchError{Op: "verify", Address: 0x1000, Mask: MaskOf(0, 2)},
			sentinel: ErrCompareMismatch,
			contains: "mismatch at 0x00001000",
		},
		{
			name:     "HardwareAbort",
			err:      &HardwareAbortError{Reason: "over-current", Sector: 4},
			sentinel: ErrHardwareAbort,
			contains: "after sector 4: over-current",
		},
		{
			name:     "Sequence",
			err:      &SequenceError{Op: "config", Reason: "memory areas not done"},
			sentinel: ErrSequence,
			contains: "config: memory areas not done",
		},
		{
			name:     "DeviceStatus",
			err:      &DeviceStatusError{Op: "status", Opcode: 0x22, Status: StatusErase},
			sentinel: ErrDeviceStatus,
			contains: "erase error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wrapped := fmt.Errorf("sector 2 (code): %w", tt.err)
			require.ErrorIs(t, wrapped, tt.sentinel)
			assert.Contains(t, tt.err.Error(), tt.contains)
		})
	}
}

func TestFrameDecodeErrorMatchesCategoryWithCause(t *testing.T) {
	t.Parallel()

	err := &FrameDecodeError{Op: "read", Err: io.ErrUnexpectedEOF}
	assert.ErrorIs(t, err, ErrFrameDecode)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStatusMeaning(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "busy", statusMeaning(StatusBusy))
	assert.Equal(t, "protection error", statusMeaning(StatusProtection))
	assert.Equal(t, "unknown status", statusMeaning(0x5A))
}

func TestFaultMaskAndRouting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		name     string
		mask     ChannelMask
		hasMask  bool
		routable bool
	}{
		{
			name:     "Timeout",
			err:      &TimeoutError{Mask: MaskOf(3)},
			mask:     MaskOf(3),
			hasMask:  true,
			routable: true,
		},
		{
			name:     "WrappedMismatch",
			err:      fmt.Errorf("sector 0: %w", &CompareMismatchError{Mask: MaskOf(0, 1)}),
			mask:     MaskOf(0, 1),
			hasMask:  true,
			routable: true,
		},
		{
			name: "HardwareAbort",
			err:  &HardwareAbortError{Reason: "adapter changed", Mask: AllChannels},
		},
		{
			name: "Checksum",
			err:  &ChecksumError{Sum: 1},
		},
		{
			name: "Sequence",
			err:  &SequenceError{Op: "x", Reason: "y"},
		},
		{
			name: "Nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mask, ok := FaultMask(tt.err)
			assert.Equal(t, tt.hasMask, ok)
			assert.Equal(t, tt.mask, mask)
			assert.Equal(t, tt.routable, IsPolicyRoutable(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "Nil", err: nil, want: false},
		{name: "TransportTimeout", err: ErrTransportTimeout, want: true},
		{name: "WrappedRead", err: fmt.Errorf("open: %w", ErrTransportRead), want: true},
		{name: "NotReady", err: ErrTransportNotReady, want: true},
		{name: "Closed", err: ErrTransportClosed, want: false},
		{name: "ProtocolTimeout", err: &TimeoutError{Mask: 1}, want: false},
		{name: "TransientTransportError", err: NewTransportError("open", "p", io.EOF, ErrorTypeTransient), want: true},
		{name: "PermanentTransportError", err: NewTransportError("open", "p", ErrTransportTimeout, ErrorTypePermanent), want: false},
		{name: "Generic", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "Nil", err: nil, want: false},
		{name: "HardwareAbort", err: &HardwareAbortError{Reason: "x"}, want: true},
		{name: "Closed", err: ErrTransportClosed, want: true},
		{name: "DeviceNotFound", err: fmt.Errorf("detect: %w", ErrDeviceNotFound), want: true},
		{name: "EOF", err: io.EOF, want: true},
		{name: "ClosedPipe", err: io.ErrClosedPipe, want: true},
		{name: "EIO", err: fmt.Errorf("read: %w", syscall.EIO), want: true},
		{name: "ENODEV", err: syscall.ENODEV, want: true},
		{name: "EAGAIN", err: syscall.EAGAIN, want: false},
		{name: "PermanentTransportError", err: NewInvalidResponseError("read", "p"), want: true},
		{name: "TimeoutTransportError", err: NewTransportTimeoutError("read", "p"), want: false},
		{
			name: "TransientTransportErrorDeviceGone",
			err:  NewTransportError("open", "p", syscall.ENODEV, ErrorTypeTransient),
			want: true,
		},
		{name: "Mismatch", err: &CompareMismatchError{Mask: 1}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	err := NewTransportError("write", "/dev/ttyUSB0", ErrTransportWrite, ErrorTypeTransient)
	assert.Equal(t, "write /dev/ttyUSB0: transport write failed", err.Error())
	assert.True(t, err.Retryable)
	require.ErrorIs(t, err, ErrTransportWrite)

	noPort := NewTransportError("select", "", ErrTransportClosed, ErrorTypePermanent)
	assert.Equal(t, "select: transport is closed", noPort.Error())
	assert.False(t, noPort.Retryable)

	tests := []struct {
		err  *TransportError
		want error
		typ  ErrorType
	}{
		{err: NewTransportTimeoutError("op", "p"), want: ErrTransportTimeout, typ: ErrorTypeTimeout},
		{err: NewTransportWriteError("op", "p"), want: ErrTransportWrite, typ: ErrorTypeTransient},
		{err: NewTransportReadError("op", "p"), want: ErrTransportRead, typ: ErrorTypeTransient},
		{err: NewInvalidResponseError("op", "p"), want: ErrInvalidResponse, typ: ErrorTypePermanent},
		{err: NewTransportClosedError("op", "p"), want: ErrTransportClosed, typ: ErrorTypePermanent},
	}
	for _, tt := range tests {
		require.ErrorIs(t, tt.err, tt.want)
		assert.Equal(t, tt.typ, tt.err.Type)
	}
}

func TestTraceBuffer(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("adapter", "/dev/ttyUSB0", 3)
	assert.Nil(t, tb.WrapError(nil))

	tb.RecordTX([]byte{0x01, 0x00, 0x01}, "")
	tb.RecordRX([]byte{0x81, 0x00, 0x02}, "match")
	tb.RecordTimeout("status")
	tb.RecordTX([]byte{0x01, 0x00, 0x09}, "second")
	assert.Equal(t, 3, tb.Len(), "ring keeps the newest entries")

	err := tb.WrapError(fmt.Errorf("erase: %w", &TimeoutError{Op: "erase", Mask: 1}))
	require.ErrorIs(t, err, ErrTimeout)

	te := GetTrace(fmt.Errorf("sector 0: %w", err))
	require.NotNil(t, te)
	require.Len(t, te.Trace, 3)
	assert.Equal(t, TraceRX, te.Trace[0].Direction)
	assert.Equal(t, "TIMEOUT: status", te.Trace[1].Note)

	out := te.FormatTrace()
	assert.True(t, strings.HasPrefix(out, "[adapter:/dev/ttyUSB0] Wire trace (3 entries):"))
	assert.Contains(t, out, "< 81 00 02 (match)")
	assert.Contains(t, out, "> 01 00 09 (second)")

	tb.Clear()
	assert.Equal(t, 0, tb.Len())
	assert.Nil(t, GetTrace(errors.New("plain")))
}

func TestTraceFormatting(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(empty)", formatHexBytes(nil))
	long := make([]byte, 40)
	assert.Contains(t, formatHexBytes(long), "(40 bytes total)")

	entry := TraceEntry{Direction: TraceTX, Data: []byte{0xAB}, Note: "n"}
	assert.Contains(t, entry.String(), "TX: AB (n)")

	empty := &TraceableError{Err: errors.New("x"), Transport: "gpio", Port: "gpiochip0"}
	assert.Equal(t, "[gpio:gpiochip0] (no trace data)", empty.FormatTrace())
	assert.Equal(t, "x", empty.Error())
}
