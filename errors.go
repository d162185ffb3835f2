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
	"runtime"
	"strings"
	"syscall"
	"time"
)

// Protocol error categories. Typed errors below unwrap to one of these so
// callers can test with errors.Is.
var (
	// ErrFrameDecode is a structural byte mismatch. The transfer cannot be resynchronized.
	ErrFrameDecode = errors.New("frame decode failed")
	// ErrChecksum is a captured frame whose bytes do not sum to zero.
	ErrChecksum = errors.New("frame checksum mismatch")
	// ErrTimeout is a readiness condition not reached within its budget.
	ErrTimeout = errors.New("readiness timeout")
	// ErrCompareMismatch is per-channel data divergence.
	ErrCompareMismatch = errors.New("channel compare mismatch")
	// ErrHardwareAbort is an over-current, adapter change or total loss of communication.
	ErrHardwareAbort = errors.New("hardware abort")
	// ErrSequence is an operation attempted out of its required order.
	ErrSequence = errors.New("operation out of sequence")
	// ErrDeviceStatus is a non-OK status code reported by the target.
	ErrDeviceStatus = errors.New("device reported error status")
)

// Transport and setup errors
var (
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrTransportWrite    = errors.New("transport write failed")
	ErrTransportRead     = errors.New("transport read failed")
	ErrTransportClosed   = errors.New("transport is closed")
	ErrTransportNotReady = errors.New("transport not ready")
	ErrInvalidResponse   = errors.New("invalid response format")
	ErrDeviceNotFound    = errors.New("device not found")

	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNoActiveChannels = errors.New("no active channels")
	ErrNotSupported     = errors.New("operation not supported by device profile")
)

// FrameDecodeError reports a structural mismatch while capturing a frame.
type FrameDecodeError struct {
	Err      error
	Op       string
	Offset   int
	Expected byte
	Got      byte
}

func (e *FrameDecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: frame byte %d: expected 0x%02X, got 0x%02X", e.Op, e.Offset, e.Expected, e.Got)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *FrameDecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrFrameDecode, e.Err}
	}
	return []error{ErrFrameDecode}
}

// ChecksumError reports a captured frame that failed its checksum.
type ChecksumError struct {
	Op  string
	Sum byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s: checksum sum 0x%02X, expected 0x00", e.Op, e.Sum)
}

func (*ChecksumError) Unwrap() error {
	return ErrChecksum
}

// TimeoutError reports channels that never reached the expected level.
type TimeoutError struct {
	Op   string
	Mask ChannelMask
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: channels %s not ready", e.Op, e.Mask)
}

func (*TimeoutError) Unwrap() error {
	return ErrTimeout
}

// CompareMismatchError reports channels whose response diverged.
type CompareMismatchError struct {
	Op      string
	Address uint32
	Mask    ChannelMask
}

func (e *CompareMismatchError) Error() string {
	return fmt.Sprintf("%s: channels %s mismatch at 0x%08X", e.Op, e.Mask, e.Address)
}

func (*CompareMismatchError) Unwrap() error {
	return ErrCompareMismatch
}

// HardwareAbortError is always fatal and never offered to the mismatch policy.
type HardwareAbortError struct {
	Reason string
	Sector int
	Mask   ChannelMask
}

func (e *HardwareAbortError) Error() string {
	if e.Mask != 0 {
		return fmt.Sprintf("hardware abort after sector %d: %s (channels %s)", e.Sector, e.Reason, e.Mask)
	}
	return fmt.Sprintf("hardware abort after sector %d: %s", e.Sector, e.Reason)
}

func (*HardwareAbortError) Unwrap() error {
	return ErrHardwareAbort
}

// SequenceError reports an operation attempted before its prerequisites.
type SequenceError struct {
	Op     string
	Reason string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (*SequenceError) Unwrap() error {
	return ErrSequence
}

// DeviceStatusError wraps a status code returned by the target in capture mode.
type DeviceStatusError struct {
	Op     string
	Opcode byte
	Status byte
}

func (e *DeviceStatusError) Error() string {
	return fmt.Sprintf("%s: opcode 0x%02X status 0x%02X (%s)", e.Op, e.Opcode, e.Status, statusMeaning(e.Status))
}

func (*DeviceStatusError) Unwrap() error {
	return ErrDeviceStatus
}

// statusMeaning returns a human-readable meaning for boot firmware status codes.
func statusMeaning(code byte) string {
	meanings := map[byte]string{
		0x00: "OK",
		0xC0: "unsupported command",
		0xC1: "packet error",
		0xC2: "checksum error",
		0xC3: "flow error",
		0xD0: "address error",
		0xD4: "baud rate margin error",
		0xD6: "busy",
		0xDA: "protection error",
		0xDB: "ID mismatch",
		0xDC: "serial programming disabled",
		0xE1: "erase error",
		0xE2: "write error",
		0xE3: "blank check error",
		0xE7: "sequence error",
	}
	if m, ok := meanings[code]; ok {
		return m
	}
	return "unknown status"
}

// FaultMask returns the channel mask carried by a Timeout or CompareMismatch error.
func FaultMask(err error) (ChannelMask, bool) {
	var te *TimeoutError
	if errors.As(err, &te) {
		return te.Mask, true
	}
	var ce *CompareMismatchError
	if errors.As(err, &ce) {
		return ce.Mask, true
	}
	return 0, false
}

// IsPolicyRoutable reports whether err may be offered to the mismatch policy.
// Only timeouts and compare mismatches qualify; everything else aborts the run.
func IsPolicyRoutable(err error) bool {
	if errors.Is(err, ErrHardwareAbort) {
		return false
	}
	_, ok := FaultMask(err)
	return ok
}

// ErrorType represents the category of a transport error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or pin set identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if a host-level operation such as opening the
// adapter may be attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrTransportNotReady):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the adapter or link is gone.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrHardwareAbort) {
		return true
	}

	if isDeviceGoneError(err) {
		return true
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors raised when the USB adapter is
// unplugged during I/O.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // only device-gone errors matter here
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // only device-gone errors matter here
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTransportTimeoutError creates a timeout error for transport operations
func NewTransportTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewTransportWriteError creates a write error (transient)
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewTransportReadError creates a read error (transient)
func NewTransportReadError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportRead, ErrorTypeTransient)
}

// NewInvalidResponseError creates an invalid response error (permanent)
func NewInvalidResponseError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrInvalidResponse, ErrorTypePermanent)
}

// NewTransportClosedError creates a closed transport error (permanent)
func NewTransportClosedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportClosed, ErrorTypePermanent)
}

// =============================================================================
// Wire Trace Logging
// =============================================================================
// TraceableError embeds wire-level trace data in errors so a failed exchange
// can be printed together with the last frames that crossed the link.

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates data sent to the targets
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data captured or compared from the targets
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single wire-level operation
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	hexData := formatHexBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError wraps an error with wire-level trace data for debugging.
//
//	var te *flashprog.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

// Error implements the error interface
func (e *TraceableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable formatted trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Transport, e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s:%s] Wire trace (%d entries):\n", e.Transport, e.Port, len(e.Trace))

	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		hexData := formatHexBytes(entry.Data)
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", direction, hexData, entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, hexData)
		}
	}

	return sb.String()
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	n := min(len(data), 32)
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("%02X", data[i])
	}
	if len(data) > n {
		return strings.Join(parts, " ") + fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return strings.Join(parts, " ")
}

// TraceBuffer collects trace entries during an exchange in a fixed-size ring.
type TraceBuffer struct {
	transport string
	port      string
	entries   []TraceEntry
	maxSize   int
}

// NewTraceBuffer creates a new trace buffer with the specified capacity
func NewTraceBuffer(transport, port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries:   make([]TraceEntry, 0, maxSize),
		maxSize:   maxSize,
		transport: transport,
		port:      port,
	}
}

// RecordTX records bytes sent to the targets
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records bytes captured or compared from the targets
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a timeout event
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

// record adds an entry to the buffer, evicting the oldest if full
func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	entry := TraceEntry{
		Direction: dir,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// WrapError wraps an error with the collected trace data.
// Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}

	entriesCopy := make([]TraceEntry, len(tb.entries))
	copy(entriesCopy, tb.entries)

	return &TraceableError{
		Err:       err,
		Trace:     entriesCopy,
		Transport: tb.transport,
		Port:      tb.port,
	}
}

// Len returns the number of recorded entries
func (tb *TraceBuffer) Len() int {
	return len(tb.entries)
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
