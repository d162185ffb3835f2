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


// Package adapter implements flashprog.Transport for a USB gang-programming
// adapter attached as a serial port. Each bit-level operation is one command
// frame; the adapter answers every command with a data frame echoing the
// opcode whose first payload byte is a status.
package adapter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/go-flashprog"
	"github.com/ZaparooProject/go-flashprog/internal/frame"
	"github.com/ZaparooProject/go-flashprog/internal/syncutil"
	"go.bug.st/serial"
)

// Adapter command opcodes.
const (
	CmdIdentify    byte = 0x70
	CmdSendBits    byte = 0x71
	CmdSampleBits  byte = 0x72
	CmdCompareBits byte = 0x73
	CmdSetPin      byte = 0x74
	CmdWaitLevel   byte = 0x75
	CmdSelect      byte = 0x76
)

// Adapter status codes.
const (
	StatusOK          byte = 0x00
	StatusBadCommand  byte = 0x01
	StatusBadParam    byte = 0x02
	StatusOverCurrent byte = 0x03
)

// DefaultBaudRate is the link speed of the adapter's USB serial bridge.
const DefaultBaudRate = 1_000_000

// ErrOverCurrent is returned when the adapter cut target power.
var ErrOverCurrent = errors.New("adapter reported over-current")

// Info describes a connected adapter.
type Info struct {
	Firmware string
	Channels int
}

// Transport talks to a gang adapter over a serial port.
type Transport struct {
	port     serial.Port
	trace    *flashprog.TraceBuffer
	abort    *flashprog.AbortLatch
	portName string
	timeout  time.Duration
	baudRate int
	mu       syncutil.Mutex
	closed   bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithAbortLatch raises latch when the adapter reports over-current, so a
// running session stops after the current sector.
func WithAbortLatch(latch *flashprog.AbortLatch) Option {
	return func(t *Transport) {
		t.abort = latch
	}
}

// WithReplyTimeout bounds how long a single reply may take.
func WithReplyTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.timeout = d
	}
}

// WithBaudRate overrides DefaultBaudRate.
func WithBaudRate(rate int) Option {
	return func(t *Transport) {
		t.baudRate = rate
	}
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// readTimeout returns the per-read poll interval. Windows USB serial drivers
// need a longer one.
func readTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 20 * time.Millisecond
}

// New opens portName and returns a transport for the adapter behind it.
func New(portName string, opts ...Option) (*Transport, error) {
	t := newTransport(nil, portName, opts)
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, flashprog.NewTransportError("open", portName,
			fmt.Errorf("failed to open adapter port: %w", err), flashprog.ErrorTypeTransient)
	}
	if err := port.SetReadTimeout(readTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set adapter read timeout: %w", err)
	}
	t.port = port
	return t, nil
}

// NewWithPort wraps an already open port.
func NewWithPort(port serial.Port, portName string, opts ...Option) *Transport {
	return newTransport(port, portName, opts)
}

func newTransport(port serial.Port, portName string, opts []Option) *Transport {
	t := &Transport{
		port:     port,
		portName: portName,
		timeout:  time.Second,
		baudRate: DefaultBaudRate,
		trace:    flashprog.NewTraceBuffer(string(flashprog.TransportAdapter), portName, 32),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Identify asks the adapter for its channel count and firmware version.
func (t *Transport) Identify() (Info, error) {
	reply, err := t.exchange("identify", CmdIdentify, nil, 3)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Channels: int(reply[0]),
		Firmware: fmt.Sprintf("%d.%d", reply[1], reply[2]),
	}, nil
}

// SendBits implements flashprog.Transport.
func (t *Transport) SendBits(value uint32, n int) error {
	params := make([]byte, 5)
	params[0] = byte(n)
	binary.BigEndian.PutUint32(params[1:], value)
	_, err := t.exchange("send bits", CmdSendBits, params, 0)
	return err
}

// SampleBits implements flashprog.Transport.
func (t *Transport) SampleBits(n int) (uint32, error) {
	reply, err := t.exchange("sample bits", CmdSampleBits, []byte{byte(n)}, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(reply), nil
}

// CompareBits implements flashprog.Transport.
func (t *Transport) CompareBits(expected, ignore uint32, n int) (flashprog.ChannelMask, error) {
	params := make([]byte, 9)
	params[0] = byte(n)
	binary.BigEndian.PutUint32(params[1:5], expected)
	binary.BigEndian.PutUint32(params[5:9], ignore)
	reply, err := t.exchange("compare bits", CmdCompareBits, params, 1)
	if err != nil {
		return 0, err
	}
	return flashprog.ChannelMask(reply[0]), nil
}

// SetPin implements flashprog.Transport.
func (t *Transport) SetPin(level flashprog.Level) error {
	_, err := t.exchange("set pin", CmdSetPin, []byte{levelByte(level)}, 0)
	return err
}

// WaitLevel implements flashprog.Transport. The adapter polls its data-in
// lines itself, so one exchange covers the whole budget.
func (t *Transport) WaitLevel(level flashprog.Level, budget int) (flashprog.ChannelMask, error) {
	params := make([]byte, 5)
	params[0] = levelByte(level)
	binary.BigEndian.PutUint32(params[1:], uint32(max(budget, 0)))
	reply, err := t.exchange("wait level", CmdWaitLevel, params, 1)
	if err != nil {
		return 0, err
	}
	return flashprog.ChannelMask(reply[0]), nil
}

// SelectChannels implements flashprog.Transport.
func (t *Transport) SelectChannels(mask flashprog.ChannelMask) error {
	_, err := t.exchange("select", CmdSelect, []byte{byte(mask)}, 0)
	return err
}

// Close closes the transport connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			return fmt.Errorf("adapter close failed: %w", err)
		}
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() flashprog.TransportType {
	return flashprog.TransportAdapter
}

// Trace returns the wire trace of recent adapter exchanges.
func (t *Transport) Trace() *flashprog.TraceBuffer {
	return t.trace
}

func levelByte(level flashprog.Level) byte {
	if level == flashprog.High {
		return 1
	}
	return 0
}

// exchange sends one command and returns the reply payload after the status
// byte, which must carry at least replyLen bytes.
func (t *Transport) exchange(op string, cmd byte, params []byte, replyLen int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.port == nil {
		return nil, flashprog.NewTransportClosedError(op, t.portName)
	}

	reply, err := t.roundTrip(op, cmd, params, replyLen)
	if err != nil {
		return nil, t.trace.WrapError(err)
	}
	return reply, nil
}

func (t *Transport) roundTrip(op string, cmd byte, params []byte, replyLen int) ([]byte, error) {
	out := frame.Command(cmd, params).Bytes()
	t.trace.RecordTX(out, op)
	n, err := t.port.Write(out)
	if err != nil {
		return nil, flashprog.NewTransportError(op, t.portName,
			fmt.Errorf("%w: %w", flashprog.ErrTransportWrite, err), flashprog.ErrorTypeTransient)
	} else if n != len(out) {
		return nil, flashprog.NewTransportWriteError(op, t.portName)
	}
	if err := t.drainWithRetry(op); err != nil {
		return nil, err
	}

	raw, err := t.readFrame(op)
	if err != nil {
		return nil, err
	}
	t.trace.RecordRX(raw, op)

	f, err := frame.Parse(raw, true)
	if err != nil {
		return nil, flashprog.NewTransportError(op, t.portName,
			fmt.Errorf("%w: %w", flashprog.ErrInvalidResponse, err), flashprog.ErrorTypeTransient)
	}
	if f.Ack != cmd || len(f.Payload) < 1+replyLen {
		return nil, flashprog.NewInvalidResponseError(op, t.portName)
	}

	switch status := f.Payload[0]; status {
	case StatusOK:
		return f.Payload[1:], nil
	case StatusOverCurrent:
		if t.abort != nil {
			t.abort.Raise(fmt.Sprintf("over-current on %s", t.portName))
		}
		return nil, flashprog.NewTransportError(op, t.portName, ErrOverCurrent, flashprog.ErrorTypePermanent)
	default:
		return nil, flashprog.NewTransportError(op, t.portName,
			fmt.Errorf("%w: adapter status 0x%02X", flashprog.ErrInvalidResponse, status),
			flashprog.ErrorTypePermanent)
	}
}

// readFrame reads one complete frame: the header first, then the rest as
// announced by its length field.
func (t *Transport) readFrame(op string) ([]byte, error) {
	deadline := time.Now().Add(t.timeout)
	header := make([]byte, frame.HeaderLength)
	if err := t.readFull(op, header, deadline); err != nil {
		return nil, err
	}
	length := int(header[1])<<8 | int(header[2])

	buf := frame.GetBuffer(frame.HeaderLength + length + frame.TrailerLength)
	defer frame.PutBuffer(buf)
	copy(buf, header)
	if err := t.readFull(op, buf[frame.HeaderLength:], deadline); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf...), nil
}

func (t *Transport) readFull(op string, buf []byte, deadline time.Time) error {
	got := 0
	for got < len(buf) {
		n, err := t.port.Read(buf[got:])
		if err != nil {
			return flashprog.NewTransportError(op, t.portName,
				fmt.Errorf("%w: %w", flashprog.ErrTransportRead, err), flashprog.ErrorTypeTransient)
		}
		got += n
		if n == 0 && time.Now().After(deadline) {
			t.trace.RecordTimeout(op)
			return flashprog.NewTransportTimeoutError(op, t.portName)
		}
	}
	return nil
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (t *Transport) drainWithRetry(op string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}
		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt))
			continue
		}
		return flashprog.NewTransportError(op, t.portName,
			fmt.Errorf("adapter drain failed: %w", err), flashprog.ErrorTypeTransient)
	}
	return flashprog.NewTransportError(op, t.portName,
		fmt.Errorf("adapter drain failed after %d retries", maxRetries), flashprog.ErrorTypeTransient)
}

var _ flashprog.Transport = (*Transport)(nil)
