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

	"github.com/ZaparooProject/go-flashprog/internal/frame"
)

// Frame is one unit of the wire protocol.
type Frame = frame.Frame

// Frame markers
const (
	StartCommand = frame.StartCommand
	StartData    = frame.StartData
	EndText      = frame.EndText
	EndBlock     = frame.EndBlock
)

// Encode returns the wire bytes for opcode and params, see frame.Encode.
func Encode(opcode byte, params []byte, includeAck bool) []byte {
	return frame.Encode(opcode, params, includeAck)
}

// Codec moves frames over a Transport, either broadcasting and comparing
// across the gang or capturing from a single channel.
type Codec struct {
	transport Transport
	compare   CompareEngine
	trace     *TraceBuffer
}

// NewCodec returns a codec bound to t.
func NewCodec(t Transport) *Codec {
	return &Codec{
		transport: t,
		compare:   NewCompareEngine(t),
		trace:     NewTraceBuffer(string(t.Type()), "", 16),
	}
}

// Trace returns the wire trace of recent exchanges.
func (c *Codec) Trace() *TraceBuffer {
	return c.trace
}

// Send broadcasts one frame to every selected channel.
func (c *Codec) Send(f Frame) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	buf := frame.GetBuffer(f.Size())
	defer frame.PutBuffer(buf)
	wire := f.AppendTo(buf[:0])

	c.trace.RecordTX(wire, "")
	for _, b := range wire {
		if err := c.transport.SendBits(uint32(b), 8); err != nil {
			return c.trace.WrapError(fmt.Errorf("send frame: %w", err))
		}
	}
	return nil
}

// CompareFrame clocks in a response on every selected channel and returns the
// channels whose bytes differ from f.
func (c *Codec) CompareFrame(f Frame) (ChannelMask, error) {
	return c.compareTemplate(frame.NewTemplate(f))
}

// CompareSparse compares a data frame whose payload is only meaningful where
// used is true.
func (c *Codec) CompareSparse(f Frame, used []bool) (ChannelMask, error) {
	return c.compareTemplate(frame.NewSparseTemplate(f, used))
}

// compareTemplate compares every byte of t, accumulating one fault mask for
// the frame. All bytes are clocked even after every channel has faulted so
// the targets stay in step.
func (c *Codec) compareTemplate(t frame.Template) (ChannelMask, error) {
	var mask ChannelMask
	for i := range t.Len() {
		m, err := c.compare.Compare(t.Expected[i], t.Ignore[i], 8)
		if err != nil {
			return mask, c.trace.WrapError(fmt.Errorf("compare byte %d: %w", i, err))
		}
		mask |= m
	}
	note := "match"
	if !mask.Empty() {
		note = "mismatch " + mask.String()
	}
	c.trace.RecordRX(t.Expected, note)
	return mask, nil
}

// Decode captures one data frame from the lowest selected channel. The
// length field must equal expectedLen (plus one with includeAck); a negative
// expectedLen accepts any length. Structural mismatches return a
// *FrameDecodeError and a bad sum a *ChecksumError.
func (c *Codec) Decode(expectedLen int, includeAck bool) (Frame, error) {
	var header [frame.HeaderLength]byte
	for i := range header {
		b, err := c.sample()
		if err != nil {
			return Frame{}, err
		}
		header[i] = b
	}
	if header[0] != frame.StartData {
		return Frame{}, c.decodeFailed(header[:], &FrameDecodeError{
			Op: "decode", Offset: 0, Expected: frame.StartData, Got: header[0],
		})
	}

	length := int(header[1])<<8 | int(header[2])
	want := expectedLen
	if includeAck && want >= 0 {
		want++
	}
	if length < frame.MinLength || (want >= 0 && length != want) {
		return Frame{}, c.decodeFailed(header[:], &FrameDecodeError{
			Op:  "decode",
			Err: fmt.Errorf("length field %d, expected %d", length, want),
		})
	}

	total := length + frame.Overhead
	buf := frame.GetBuffer(total)
	defer frame.PutBuffer(buf)
	copy(buf, header[:])
	for i := frame.HeaderLength; i < total; i++ {
		b, err := c.sample()
		if err != nil {
			return Frame{}, err
		}
		buf[i] = b
	}

	f, err := frame.Parse(buf, includeAck)
	switch {
	case err == nil:
		c.trace.RecordRX(buf, "captured")
		return f, nil
	case errors.Is(err, frame.ErrChecksum):
		return Frame{}, c.decodeFailed(buf, &ChecksumError{Op: "decode", Sum: frame.Sum(buf[1 : total-1])})
	default:
		var me *frame.MarkerError
		if errors.As(err, &me) {
			return Frame{}, c.decodeFailed(buf, &FrameDecodeError{
				Op: "decode", Offset: me.Offset, Expected: me.Expected, Got: me.Got,
			})
		}
		return Frame{}, c.decodeFailed(buf, &FrameDecodeError{Op: "decode", Err: err})
	}
}

func (c *Codec) sample() (byte, error) {
	v, err := c.transport.SampleBits(8)
	if err != nil {
		return 0, c.trace.WrapError(fmt.Errorf("sample byte: %w", err))
	}
	return byte(v), nil
}

func (c *Codec) decodeFailed(captured []byte, err error) error {
	c.trace.RecordRX(captured, "decode failed")
	Debugf("%v", err)
	return c.trace.WrapError(err)
}

// DecodeStatus captures the status frame answering opcode and checks it
// against ok. A wrong echo is a decode failure, a wrong status a
// *DeviceStatusError.
func (c *Codec) DecodeStatus(opcode, ok byte) error {
	f, err := c.Decode(1, true)
	if err != nil {
		return err
	}
	if f.Ack != opcode {
		return &FrameDecodeError{Op: "status", Offset: frame.HeaderLength, Expected: opcode, Got: f.Ack}
	}
	if f.Payload[0] != ok {
		return &DeviceStatusError{Op: "status", Opcode: opcode, Status: f.Payload[0]}
	}
	return nil
}

// ReadChunks captures a multi-chunk transfer of total payload bytes, calling
// request before each chunk when it is not nil.
func (c *Codec) ReadChunks(opcode byte, total, pageSize int, request func() error) ([]byte, error) {
	asm := frame.NewAssembler(total)
	for !asm.Done() {
		if request != nil {
			if err := request(); err != nil {
				return nil, err
			}
		}
		want := min(pageSize, total-asm.Position())
		f, err := c.Decode(want, true)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", asm.Chunks(), err)
		}
		if f.Ack != opcode {
			return nil, &FrameDecodeError{Op: "read", Offset: frame.HeaderLength, Expected: opcode, Got: f.Ack}
		}
		if err := asm.Add(f); err != nil {
			return nil, &FrameDecodeError{Op: "read", Err: err}
		}
	}
	return asm.Data(), nil
}
