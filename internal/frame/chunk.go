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

// ErrSequence reports a chunk that arrived out of order or after the final one.
var ErrSequence = errors.New("chunk out of sequence")

// Chunk splits data into data frames of at most pageSize payload bytes. Every
// frame but the last ends with EndBlock. Each frame carries ack as its ack byte.
func Chunk(ack byte, data []byte, pageSize int) []Frame {
	if pageSize <= 0 {
		pageSize = len(data)
	}
	if len(data) == 0 {
		return []Frame{Data(ack, nil, EndText)}
	}

	frames := make([]Frame, 0, (len(data)+pageSize-1)/pageSize)
	for off := 0; off < len(data); off += pageSize {
		end := min(off+pageSize, len(data))
		marker := EndBlock
		if end == len(data) {
			marker = EndText
		}
		frames = append(frames, Data(ack, data[off:end], marker))
	}
	return frames
}

// Assembler collects the payloads of a multi-chunk capture and tracks the
// position across chunks.
type Assembler struct {
	data     []byte
	expected int
	chunks   int
	done     bool
}

// NewAssembler returns an assembler expecting total payload bytes. A total of
// zero accepts any amount until the EndText chunk.
func NewAssembler(total int) *Assembler {
	return &Assembler{expected: total, data: make([]byte, 0, total)}
}

// Add appends one captured frame. It fails on chunks arriving after the final
// one or on a payload that overruns the expected total.
func (a *Assembler) Add(f Frame) error {
	if a.done {
		return fmt.Errorf("%w: chunk %d after end of transfer", ErrSequence, a.chunks)
	}
	if a.expected > 0 && len(a.data)+len(f.Payload) > a.expected {
		return fmt.Errorf("%w: chunk %d overruns %d bytes", ErrSequence, a.chunks, a.expected)
	}
	a.data = append(a.data, f.Payload...)
	a.chunks++
	if f.End == EndText {
		a.done = true
		if a.expected > 0 && len(a.data) != a.expected {
			return fmt.Errorf("%w: transfer ended at %d of %d bytes", ErrSequence, len(a.data), a.expected)
		}
	}
	return nil
}

// Position returns the number of payload bytes collected so far.
func (a *Assembler) Position() int {
	return len(a.data)
}

// Done reports whether the final chunk has been added.
func (a *Assembler) Done() bool {
	return a.done
}

// Chunks returns how many frames were added.
func (a *Assembler) Chunks() int {
	return a.chunks
}

// Data returns the assembled payload.
func (a *Assembler) Data() []byte {
	return a.data
}
