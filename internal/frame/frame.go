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

package frame

import (
	"errors"
	"fmt"
)

// Parse errors. Callers in the root package translate these into their
// decode and checksum error types.
var (
	ErrShortFrame    = errors.New("frame truncated")
	ErrStartMarker   = errors.New("unexpected start marker")
	ErrEndMarker     = errors.New("unexpected end marker")
	ErrLength        = errors.New("length field out of range")
	ErrChecksum      = errors.New("frame checksum mismatch")
	ErrFrameTooLarge = errors.New("frame payload exceeds length field")
)

// MarkerError describes a structural byte that did not match.
type MarkerError struct {
	Err      error
	Offset   int
	Expected byte
	Got      byte
}

func (e *MarkerError) Error() string {
	return fmt.Sprintf("%v at offset %d: expected 0x%02X, got 0x%02X", e.Err, e.Offset, e.Expected, e.Got)
}

func (e *MarkerError) Unwrap() error {
	return e.Err
}

// Frame is one unit of the wire protocol:
//
//	[Start][LenHi][LenLo][Ack?][Payload...][Checksum][End]
//
// When HasAck is set the Ack byte is counted by the length field and covered
// by the checksum like any payload byte.
type Frame struct {
	Payload []byte
	Start   byte
	End     byte
	Ack     byte
	HasAck  bool
}

// Command returns a command frame carrying opcode followed by params.
func Command(opcode byte, params []byte) Frame {
	payload := make([]byte, 0, len(params)+1)
	payload = append(payload, opcode)
	payload = append(payload, params...)
	return Frame{Start: StartCommand, End: EndText, Payload: payload}
}

// Data returns a data frame. The ack byte echoes the opcode the data belongs to.
func Data(ack byte, payload []byte, end byte) Frame {
	return Frame{Start: StartData, End: end, Ack: ack, HasAck: true, Payload: payload}
}

// Encode builds the wire bytes for opcode and params. With includeAck the
// opcode travels as the ack byte of a data frame, otherwise as the first
// payload byte of a command frame. The length field is identical either way.
func Encode(opcode byte, params []byte, includeAck bool) []byte {
	if includeAck {
		return Data(opcode, params, EndText).Bytes()
	}
	return Command(opcode, params).Bytes()
}

// Len returns the value of the length field.
func (f Frame) Len() int {
	n := len(f.Payload)
	if f.HasAck {
		n++
	}
	return n
}

// Size returns the number of wire bytes of the encoded frame.
func (f Frame) Size() int {
	return f.Len() + Overhead
}

// lengthBytes returns the two length field bytes, high byte first.
func (f Frame) lengthBytes() []byte {
	n := f.Len()
	return []byte{byte(n >> 8), byte(n)}
}

// Checksum computes the checksum byte the frame carries on the wire.
func (f Frame) Checksum() byte {
	var ack []byte
	if f.HasAck {
		ack = []byte{f.Ack}
	}
	return CalculateChecksum(f.lengthBytes(), ack, f.Payload)
}

// AppendTo appends the encoded frame to dst.
func (f Frame) AppendTo(dst []byte) []byte {
	dst = append(dst, f.Start)
	dst = append(dst, f.lengthBytes()...)
	if f.HasAck {
		dst = append(dst, f.Ack)
	}
	dst = append(dst, f.Payload...)
	dst = append(dst, f.Checksum(), f.End)
	return dst
}

// Bytes returns the encoded frame.
func (f Frame) Bytes() []byte {
	return f.AppendTo(make([]byte, 0, f.Size()))
}

// Validate checks that the frame fits the length field.
func (f Frame) Validate() error {
	if f.Len() < MinLength || f.Len() > MaxLength {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, f.Len())
	}
	return nil
}

// Parse decodes one complete frame from buf. With hasAck the first byte after
// the length field is split off as the ack byte. Structural mismatches return
// a *MarkerError; a nonzero checksum sum returns ErrChecksum with the decoded
// frame so callers can still log it.
func Parse(buf []byte, hasAck bool) (Frame, error) {
	if len(buf) < HeaderLength {
		return Frame{}, ErrShortFrame
	}

	start := buf[0]
	if start != StartCommand && start != StartData {
		return Frame{}, &MarkerError{Err: ErrStartMarker, Offset: 0, Expected: StartData, Got: start}
	}

	length := int(buf[1])<<8 | int(buf[2])
	if length < MinLength {
		return Frame{}, fmt.Errorf("%w: %d", ErrLength, length)
	}
	total := length + Overhead
	if len(buf) < total {
		return Frame{}, ErrShortFrame
	}

	end := buf[total-1]
	if end != EndText && end != EndBlock {
		return Frame{}, &MarkerError{Err: ErrEndMarker, Offset: total - 1, Expected: EndText, Got: end}
	}

	body := buf[HeaderLength : HeaderLength+length]
	f := Frame{Start: start, End: end}
	if hasAck {
		f.HasAck = true
		f.Ack = body[0]
		body = body[1:]
	}
	f.Payload = append([]byte(nil), body...)

	if !ValidChecksum(buf[1 : total-1]) {
		return f, ErrChecksum
	}
	return f, nil
}
