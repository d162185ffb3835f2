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

import "fmt"

// Image is the memory content a job programs and verifies, with a marker map
// recording which bytes hold meaningful data.
type Image struct {
	Data []byte
	Used []bool
	Base uint32
}

// NewImage returns an image of size bytes at base filled with fill and
// nothing marked used.
func NewImage(base uint32, size int, fill byte) *Image {
	im := &Image{Base: base, Data: make([]byte, size), Used: make([]bool, size)}
	for i := range im.Data {
		im.Data[i] = fill
	}
	return im
}

// Write copies data to addr and marks it used.
func (im *Image) Write(addr uint32, data []byte) error {
	if addr < im.Base || uint64(addr-im.Base)+uint64(len(data)) > uint64(len(im.Data)) {
		return fmt.Errorf("%w: write of %d bytes at 0x%08X outside image", ErrInvalidParameter, len(data), addr)
	}
	off := int(addr - im.Base)
	copy(im.Data[off:], data)
	for i := range data {
		im.Used[off+i] = true
	}
	return nil
}

// Slice returns the bytes and markers for the inclusive range begin..end.
// Addresses outside the image read as fill and unused.
func (im *Image) Slice(begin, end uint32, fill byte) ([]byte, []bool) {
	if end < begin {
		return nil, nil
	}
	n := int(end - begin + 1)
	data := make([]byte, n)
	used := make([]bool, n)
	for i := range n {
		addr := begin + uint32(i)
		if addr < im.Base || int(addr-im.Base) >= len(im.Data) {
			data[i] = fill
			continue
		}
		data[i] = im.Data[addr-im.Base]
		used[i] = im.Used[addr-im.Base]
	}
	return data, used
}

// Run is a contiguous range of used bytes.
type Run struct {
	Begin uint32
	End   uint32 // inclusive
}

// SparseRuns returns the contiguous used ranges of begin..end, split so that
// no run exceeds pageSize bytes or crosses a page boundary.
func (im *Image) SparseRuns(begin, end uint32, pageSize int) []Run {
	_, used := im.Slice(begin, end, 0)
	var runs []Run
	page := uint32(max(pageSize, 1))
	for i := 0; i < len(used); {
		if !used[i] {
			i++
			continue
		}
		start := begin + uint32(i)
		limit := (start/page+1)*page - 1
		j := i
		for j+1 < len(used) && used[j+1] && begin+uint32(j+1) <= limit {
			j++
		}
		runs = append(runs, Run{Begin: start, End: begin + uint32(j)})
		i = j + 1
	}
	return runs
}
