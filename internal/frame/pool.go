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

import "sync"

// BufferPool hands out reusable capture buffers. Status frames fit the small
// class, page-sized read chunks the page class.
type BufferPool struct {
	smallPool sync.Pool
	pagePool  sync.Pool
}

// Size classes
const (
	SmallBufferSize = 16        // status and info responses
	PageBufferSize  = 1024 + 16 // one read page plus frame overhead
)

var defaultPool = NewBufferPool()

// NewBufferPool creates a pool with both size classes.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		smallPool: sync.Pool{
			New: func() any {
				buf := make([]byte, SmallBufferSize)
				return &buf
			},
		},
		pagePool: sync.Pool{
			New: func() any {
				buf := make([]byte, PageBufferSize)
				return &buf
			},
		},
	}
}

// GetBuffer returns a buffer of exactly size bytes. Oversized requests are
// allocated directly and never enter the pool.
func (p *BufferPool) GetBuffer(size int) []byte {
	switch {
	case size <= SmallBufferSize:
		if bufPtr, ok := p.smallPool.Get().(*[]byte); ok {
			return (*bufPtr)[:size]
		}
	case size <= PageBufferSize:
		if bufPtr, ok := p.pagePool.Get().(*[]byte); ok {
			return (*bufPtr)[:size]
		}
	}
	return make([]byte, size)
}

// PutBuffer clears buf and returns it to its size class.
func (p *BufferPool) PutBuffer(buf []byte) {
	if buf == nil {
		return
	}
	clear(buf)

	switch cap(buf) {
	case SmallBufferSize:
		full := buf[:SmallBufferSize]
		p.smallPool.Put(&full)
	case PageBufferSize:
		full := buf[:PageBufferSize]
		p.pagePool.Put(&full)
	}
}

// GetBuffer acquires a buffer from the default pool.
func GetBuffer(size int) []byte {
	return defaultPool.GetBuffer(size)
}

// PutBuffer returns a buffer to the default pool.
func PutBuffer(buf []byte) {
	defaultPool.PutBuffer(buf)
}
