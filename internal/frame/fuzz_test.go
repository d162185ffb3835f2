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
	"testing"
)

// =============================================================================
// Fuzz Tests for Frame Parsing
// =============================================================================
// Captured bytes come straight from target devices, and a damaged or
// half-powered device can send anything. Parse must never panic.
//
// Run with: go test -fuzz=FuzzParse -fuzztime=30s ./internal/frame/
// Run all: go test -fuzz=Fuzz -fuzztime=10s ./internal/frame/

// FuzzParse feeds arbitrary buffers to the capture-mode parser.
func FuzzParse(f *testing.F) {
	f.Add(Command(0xAA, []byte{0x00, 0x00, 0x10, 0x00}).Bytes(), false)
	f.Add(Data(0x13, []byte{0x13}, EndText).Bytes(), true)
	f.Add(Data(0x15, make([]byte, 64), EndBlock).Bytes(), true)

	f.Add([]byte{}, false)
	f.Add([]byte{0x01}, false)
	f.Add([]byte{0x81, 0xFF, 0xFF}, true)
	f.Add([]byte{0x81, 0x00, 0x00, 0x00, 0x03}, true)
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, false)

	f.Fuzz(func(t *testing.T, buf []byte, hasAck bool) {
		got, err := Parse(buf, hasAck)
		if err != nil {
			return
		}
		// A frame that parses cleanly must encode back to the bytes it came from.
		enc := got.Bytes()
		if len(enc) > len(buf) {
			t.Fatalf("re-encoded frame longer than input: %d > %d", len(enc), len(buf))
		}
		for i := range enc {
			if enc[i] != buf[i] {
				t.Fatalf("re-encoded byte %d = 0x%02X, input 0x%02X", i, enc[i], buf[i])
			}
		}
	})
}

// FuzzChunk checks that chunking never loses bytes and always terminates.
func FuzzChunk(f *testing.F) {
	f.Add([]byte{0x01, 0x02, 0x03}, 1)
	f.Add(make([]byte, 300), 128)
	f.Add([]byte{}, 16)

	f.Fuzz(func(t *testing.T, data []byte, pageSize int) {
		if pageSize > 4096 || pageSize < -1 {
			return
		}
		frames := Chunk(0x13, data, pageSize)
		if len(frames) == 0 {
			t.Fatal("no frames")
		}
		asm := NewAssembler(len(data))
		for _, fr := range frames {
			if err := asm.Add(fr); err != nil {
				t.Fatalf("assemble: %v", err)
			}
		}
		if !asm.Done() || asm.Position() != len(data) {
			t.Fatalf("assembled %d of %d bytes", asm.Position(), len(data))
		}
	})
}

// FuzzBufferPool tests the buffer pool with arbitrary sizes.
func FuzzBufferPool(f *testing.F) {
	f.Add(0)
	f.Add(1)
	f.Add(SmallBufferSize)
	f.Add(SmallBufferSize + 1)
	f.Add(PageBufferSize)
	f.Add(PageBufferSize + 1)
	f.Add(65536)

	f.Fuzz(func(t *testing.T, size int) {
		if size < 0 || size > 1<<20 {
			return
		}
		buf := GetBuffer(size)
		if len(buf) != size {
			t.Fatalf("GetBuffer(%d) returned %d bytes", size, len(buf))
		}
		for i := range buf {
			buf[i] = 0xAA
		}
		PutBuffer(buf)
	})
}
