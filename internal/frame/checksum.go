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

// Sum adds every byte of every part, modulo 256.
func Sum(parts ...[]byte) byte {
	var sum byte
	for _, part := range parts {
		for _, b := range part {
			sum += b
		}
	}
	return sum
}

// CalculateChecksum returns the two's complement of the sum of parts, so that
// the parts plus the checksum add up to zero.
func CalculateChecksum(parts ...[]byte) byte {
	return 0 - Sum(parts...)
}

// ValidChecksum reports whether body (length bytes through checksum) sums to zero.
func ValidChecksum(body []byte) bool {
	return Sum(body) == 0
}
