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

// Start markers
const (
	StartCommand byte = 0x01 // SOH, host command frame
	StartData    byte = 0x81 // SOD, data or status frame
)

// End markers
const (
	EndText  byte = 0x03 // ETX, final frame of a transfer
	EndBlock byte = 0x17 // ETB, more chunks follow
)

// Frame size limits
const (
	HeaderLength  = 3 // start marker + length hi + length lo
	TrailerLength = 2 // checksum + end marker
	Overhead      = HeaderLength + TrailerLength
	MaxLength     = 0xFFFF // largest value of the 16-bit length field
	MinLength     = 1      // a frame carries at least one byte after the length field
)
