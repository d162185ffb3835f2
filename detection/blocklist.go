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


package detection

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultBlocklist returns USB devices that must never be probed. Probing
// sends an identify frame, which some bridges forward to whatever is wired
// behind them.
func DefaultBlocklist() []string {
	return []string{
		"2341:0043", // Arduino Uno: resets the sketch on open
		"2341:0001", // Arduino Uno (early)
		"1366:0105", // SEGGER J-Link CDC: shares the debug probe
	}
}

// IsBlocked reports whether vidpid appears in blocklist. Comparison ignores
// case and surrounding space.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	if vidpid == "" {
		return false
	}
	for _, blocked := range blocklist {
		if strings.ToUpper(strings.TrimSpace(blocked)) == vidpid {
			return true
		}
	}
	return false
}

// FormatVIDPID renders a numeric vendor and product ID the way blocklists
// spell them.
func FormatVIDPID(vid, pid uint16) string {
	return fmt.Sprintf("%04X:%04X", vid, pid)
}

// ParseVIDPID normalizes a VID:PID from descriptor text. It accepts
// "1234:5678", "VID:1234 PID:5678", "VID_1234&PID_5678" and
// "vendor=1234 product=5678", returning "" if none match.
func ParseVIDPID(descriptor string) string {
	d := strings.ToUpper(descriptor)

	vid := hexAfter(d, "VID:", "VID_", "VID=", "VENDOR=")
	pid := hexAfter(d, "PID:", "PID_", "PID=", "PRODUCT=")
	if vid != "" && pid != "" {
		return vid + ":" + pid
	}

	if parts := strings.Split(strings.TrimSpace(d), ":"); len(parts) == 2 &&
		isHex(parts[0]) && isHex(parts[1]) {
		return parts[0] + ":" + parts[1]
	}
	return ""
}

// hexAfter returns the hex run following the first marker found in s.
func hexAfter(s string, markers ...string) string {
	for _, m := range markers {
		if idx := strings.Index(s, m); idx >= 0 {
			rest := s[idx+len(m):]
			end := 0
			for end < len(rest) && isHexDigit(rune(rest[end])) {
				end++
			}
			if end > 0 {
				return rest[:end]
			}
		}
	}
	return ""
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isHexDigit(r) {
			return false
		}
	}
	return true
}

// IsPathIgnored reports whether devicePath matches an entry in ignorePaths.
// Paths are cleaned and compared case-insensitively so "COM3" matches "com3".
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	device := normalizedPath(devicePath)
	for _, p := range ignorePaths {
		if p != "" && normalizedPath(p) == device {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
