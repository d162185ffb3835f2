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

// IgnoreAll masks every bit of a byte.
const IgnoreAll byte = 0xFF

// Template is the expected wire image of a response frame for compare mode.
// Ignore holds one mask per byte; set bits are not fault-flagged.
type Template struct {
	Expected []byte
	Ignore   []byte
}

// NewTemplate returns a template expecting f exactly.
func NewTemplate(f Frame) Template {
	b := f.Bytes()
	return Template{Expected: b, Ignore: make([]byte, len(b))}
}

// NewSparseTemplate returns a template for a data frame whose payload bytes
// are only meaningful where used reports true. Ignored payload bytes make the
// device checksum unpredictable, so the checksum byte is ignored as well when
// any payload byte is masked.
func NewSparseTemplate(f Frame, used []bool) Template {
	t := NewTemplate(f)
	off := HeaderLength
	if f.HasAck {
		off++
	}
	masked := false
	for i := range f.Payload {
		if i < len(used) && used[i] {
			continue
		}
		t.Ignore[off+i] = IgnoreAll
		masked = true
	}
	if masked {
		t.Ignore[len(t.Ignore)-2] = IgnoreAll
	}
	return t
}

// Len returns the number of wire bytes the template covers.
func (t Template) Len() int {
	return len(t.Expected)
}
