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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		dataLen    int
		pageSize   int
		wantFrames int
		wantLast   int
	}{
		{name: "exact pages", dataLen: 2048, pageSize: 1024, wantFrames: 2, wantLast: 1024},
		{name: "remainder", dataLen: 2500, pageSize: 1024, wantFrames: 3, wantLast: 452},
		{name: "smaller than page", dataLen: 10, pageSize: 1024, wantFrames: 1, wantLast: 10},
		{name: "zero page size sends one frame", dataLen: 3000, pageSize: 0, wantFrames: 1, wantLast: 3000},
		{name: "empty data", dataLen: 0, pageSize: 256, wantFrames: 1, wantLast: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := make([]byte, tt.dataLen)
			for i := range data {
				data[i] = byte(i)
			}

			frames := Chunk(0x13, data, tt.pageSize)
			require.Len(t, frames, tt.wantFrames)

			var joined []byte
			for i, f := range frames {
				assert.Equal(t, StartData, f.Start)
				assert.True(t, f.HasAck)
				assert.Equal(t, byte(0x13), f.Ack)
				if i == len(frames)-1 {
					assert.Equal(t, EndText, f.End)
					assert.Len(t, f.Payload, tt.wantLast)
				} else {
					assert.Equal(t, EndBlock, f.End)
				}
				b := f.Bytes()
				assert.True(t, ValidChecksum(b[1:len(b)-1]), "chunk %d checksum", i)
				joined = append(joined, f.Payload...)
			}
			assert.Equal(t, len(data), len(joined))
			if len(data) > 0 {
				assert.Equal(t, data, joined)
			}
		})
	}
}

func TestAssembler(t *testing.T) {
	t.Parallel()

	data := make([]byte, 2500)
	for i := range data {
		data[i] = byte(i * 7)
	}

	asm := NewAssembler(len(data))
	for _, f := range Chunk(0x15, data, 1024) {
		require.NoError(t, asm.Add(f))
	}
	assert.True(t, asm.Done())
	assert.Equal(t, 3, asm.Chunks())
	assert.Equal(t, len(data), asm.Position())
	assert.Equal(t, data, asm.Data())
}

func TestAssembler_Errors(t *testing.T) {
	t.Parallel()

	t.Run("chunk after end", func(t *testing.T) {
		t.Parallel()
		asm := NewAssembler(0)
		require.NoError(t, asm.Add(Data(0x15, []byte{1}, EndText)))
		require.ErrorIs(t, asm.Add(Data(0x15, []byte{2}, EndText)), ErrSequence)
	})

	t.Run("overrun", func(t *testing.T) {
		t.Parallel()
		asm := NewAssembler(2)
		require.ErrorIs(t, asm.Add(Data(0x15, []byte{1, 2, 3}, EndBlock)), ErrSequence)
	})

	t.Run("short transfer", func(t *testing.T) {
		t.Parallel()
		asm := NewAssembler(4)
		require.ErrorIs(t, asm.Add(Data(0x15, []byte{1, 2}, EndText)), ErrSequence)
	})
}
