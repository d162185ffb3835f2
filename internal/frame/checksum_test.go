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

import "testing"

func TestSum(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		parts [][]byte
		want  byte
	}{
		{
			name:  "no parts",
			parts: nil,
			want:  0,
		},
		{
			name:  "empty part",
			parts: [][]byte{{}},
			want:  0,
		},
		{
			name:  "single byte",
			parts: [][]byte{{0x42}},
			want:  0x42,
		},
		{
			name:  "overflow wraps",
			parts: [][]byte{{0xFF, 0x01}},
			want:  0x00,
		},
		{
			name:  "spans parts",
			parts: [][]byte{{0x00, 0x05}, {0xAA}, {0x00, 0x00, 0x10, 0x00}},
			want:  0xBF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Sum(tt.parts...); got != tt.want {
				t.Errorf("Sum() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestCalculateChecksum(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{
			name: "empty data",
			data: []byte{},
			want: 0x00,
		},
		{
			name: "command frame body",
			data: []byte{0x00, 0x05, 0xAA, 0x00, 0x00, 0x10, 0x00},
			want: 0x41,
		},
		{
			name: "single 0x01",
			data: []byte{0x01},
			want: 0xFF,
		},
		{
			name: "sum already zero",
			data: []byte{0x80, 0x80},
			want: 0x00,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CalculateChecksum(tt.data)
			if got != tt.want {
				t.Errorf("CalculateChecksum() = 0x%02X, want 0x%02X", got, tt.want)
			}
			if !ValidChecksum(append(append([]byte(nil), tt.data...), got)) {
				t.Errorf("body plus checksum does not sum to zero")
			}
		})
	}
}
