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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct {
	err       error
	transport string
	devices   []DeviceInfo
	calls     int
}

func (s *stubDetector) Detect(_ context.Context, _ *Options) ([]DeviceInfo, error) {
	s.calls++
	return s.devices, s.err
}

func (s *stubDetector) Transport() string { return s.transport }

type blockingDetector struct{}

func (blockingDetector) Detect(ctx context.Context, _ *Options) ([]DeviceInfo, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingDetector) Transport() string { return "blocking" }

// withRegistry swaps the global registry and cache for the duration of a
// test. Tests using it must not run in parallel.
func withRegistry(t *testing.T, detectors ...Detector) {
	t.Helper()
	saved := registry
	registry = detectors
	clearCache()
	t.Cleanup(func() {
		registry = saved
		clearCache()
	})
}

func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	assert.Equal(t, Safe, opts.Mode)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.True(t, opts.EnableCache)
	assert.Equal(t, 30*time.Second, opts.CacheTTL)
	assert.NotEmpty(t, opts.Blocklist)
	assert.Nil(t, opts.IgnorePaths)
}

func TestDeviceInfoString(t *testing.T) {
	t.Parallel()

	probed := DeviceInfo{Transport: "adapter", Path: "/dev/ttyUSB0", Channels: 4, Confidence: High}
	assert.Equal(t, "adapter at /dev/ttyUSB0 (4 channels, confidence: high)", probed.String())

	passive := DeviceInfo{Transport: "adapter", Path: "COM3", Confidence: Medium}
	assert.Equal(t, "adapter at COM3 (confidence: medium)", passive.String())

	assert.Equal(t, "unknown", Confidence(9).String())
}

func TestDetectorsFor(t *testing.T) {
	withRegistry(t,
		&stubDetector{transport: "adapter"},
		&stubDetector{transport: "gpio"},
	)

	tests := []struct {
		name       string
		transports []string
		expected   int
	}{
		{name: "all", transports: nil, expected: 2},
		{name: "single", transports: []string{"gpio"}, expected: 1},
		{name: "both", transports: []string{"adapter", "gpio"}, expected: 2},
		{name: "unknown", transports: []string{"usb"}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, detectorsFor(tt.transports), tt.expected)
		})
	}
}

func TestDetectAll_RanksByConfidence(t *testing.T) {
	withRegistry(t,
		&stubDetector{transport: "adapter", devices: []DeviceInfo{
			{Transport: "adapter", Path: "/dev/ttyUSB1", Confidence: Medium},
			{Transport: "adapter", Path: "/dev/ttyUSB0", Channels: 4, Confidence: High},
		}},
		&stubDetector{transport: "gpio", devices: []DeviceInfo{
			{Transport: "gpio", Path: "gpiochip0", Channels: 8, Confidence: High},
		}},
	)

	opts := DefaultOptions()
	opts.EnableCache = false
	devices, err := DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "gpiochip0", devices[0].Path)
	assert.Equal(t, "/dev/ttyUSB0", devices[1].Path)
	assert.Equal(t, "/dev/ttyUSB1", devices[2].Path)
}

func TestDetectAll_Errors(t *testing.T) {
	probeErr := errors.New("permission denied")

	t.Run("no detectors", func(t *testing.T) {
		withRegistry(t)
		opts := DefaultOptions()
		_, err := DetectAll(context.Background(), &opts)
		require.ErrorIs(t, err, ErrNoDetectors)
	})

	t.Run("nothing found", func(t *testing.T) {
		withRegistry(t, &stubDetector{transport: "adapter", err: ErrNoDevicesFound})
		opts := DefaultOptions()
		_, err := DetectAll(context.Background(), &opts)
		require.ErrorIs(t, err, ErrNoDevicesFound)
	})

	t.Run("detector error surfaces when nothing found", func(t *testing.T) {
		withRegistry(t, &stubDetector{transport: "adapter", err: probeErr})
		opts := DefaultOptions()
		_, err := DetectAll(context.Background(), &opts)
		require.ErrorIs(t, err, probeErr)
	})

	t.Run("detector error hidden by other results", func(t *testing.T) {
		withRegistry(t,
			&stubDetector{transport: "adapter", err: probeErr},
			&stubDetector{transport: "gpio", devices: []DeviceInfo{{Transport: "gpio", Path: "gpiochip0"}}},
		)
		opts := DefaultOptions()
		devices, err := DetectAll(context.Background(), &opts)
		require.NoError(t, err)
		assert.Len(t, devices, 1)
	})

	t.Run("timeout", func(t *testing.T) {
		withRegistry(t, blockingDetector{})
		opts := DefaultOptions()
		opts.Timeout = 10 * time.Millisecond
		opts.EnableCache = false
		_, err := DetectAll(context.Background(), &opts)
		require.ErrorIs(t, err, ErrDetectionTimeout)
	})
}

func TestDetectAll_Cache(t *testing.T) {
	stub := &stubDetector{transport: "adapter", devices: []DeviceInfo{
		{Transport: "adapter", Path: "/dev/ttyUSB0", Metadata: map[string]string{"vidpid": "0403:6010"}},
	}}
	withRegistry(t, stub)

	opts := DefaultOptions()
	_, err := DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	_, err = DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls, "second pass should be served from cache")

	// Cached results still honour the caller's filters.
	opts.IgnorePaths = []string{"/dev/ttyUSB0"}
	_, err = DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)

	opts.IgnorePaths = nil
	opts.Blocklist = []string{"0403:6010"}
	_, err = DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)
	assert.Equal(t, 1, stub.calls)

	// An empty pass clears the entry so an unplugged adapter is forgotten.
	ClearDetectionCache()
	stub.devices = nil
	opts.Blocklist = nil
	_, err = DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)
	_, found := getCached("adapter", time.Minute)
	assert.False(t, found)
}

func TestCache(t *testing.T) {
	withRegistry(t)

	devices := []DeviceInfo{{Transport: "adapter", Path: "/dev/ttyUSB0", Confidence: High}}
	setCached("adapter", devices)
	setCached("gpio", []DeviceInfo{{Transport: "gpio"}})

	got, ok := getCached("adapter", time.Minute)
	require.True(t, ok)
	assert.Equal(t, devices, got)

	got[0].Path = "modified"
	again, _ := getCached("adapter", time.Minute)
	assert.Equal(t, "/dev/ttyUSB0", again[0].Path, "callers get a copy")

	_, ok = getCached("adapter", 0)
	assert.False(t, ok, "expired entries are not returned")

	ClearDetectionCacheForTransport("adapter")
	_, ok = getCached("adapter", time.Minute)
	assert.False(t, ok)
	_, ok = getCached("gpio", time.Minute)
	assert.True(t, ok)
}

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	blocklist := []string{"0403:6010", " abcd:ef01 "}
	tests := []struct {
		vidpid   string
		expected bool
	}{
		{vidpid: "0403:6010", expected: true},
		{vidpid: "ABCD:EF01", expected: true},
		{vidpid: "abcd:ef01", expected: true},
		{vidpid: "0403:6014", expected: false},
		{vidpid: "", expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.vidpid, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsBlocked(tt.vidpid, blocklist))
		})
	}
}

func TestParseVIDPID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		descriptor string
		expected   string
	}{
		{name: "plain", descriptor: "0403:6010", expected: "0403:6010"},
		{name: "lowercase", descriptor: "abcd:ef01", expected: "ABCD:EF01"},
		{name: "labelled", descriptor: "VID:0403 PID:6014", expected: "0403:6014"},
		{name: "windows", descriptor: `USB\VID_1A86&PID_7523\5&2A`, expected: "1A86:7523"},
		{name: "key value", descriptor: "vendor=10c4 product=ea60", expected: "10C4:EA60"},
		{name: "missing pid", descriptor: "VID:0403", expected: ""},
		{name: "not hex", descriptor: "hello:world", expected: ""},
		{name: "empty", descriptor: "", expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ParseVIDPID(tt.descriptor))
		})
	}
}

func TestFormatVIDPID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0403:6010", FormatVIDPID(0x0403, 0x6010))
	assert.True(t, IsBlocked(FormatVIDPID(0x2341, 0x0043), DefaultBlocklist()))
}

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		devicePath  string
		ignorePaths []string
		expected    bool
	}{
		{name: "empty list", devicePath: "/dev/ttyUSB0", ignorePaths: nil, expected: false},
		{name: "empty path", devicePath: "", ignorePaths: []string{"/dev/ttyUSB0"}, expected: false},
		{name: "exact", devicePath: "/dev/ttyUSB0", ignorePaths: []string{"/dev/ttyUSB0"}, expected: true},
		{name: "other", devicePath: "/dev/ttyUSB1", ignorePaths: []string{"/dev/ttyUSB0"}, expected: false},
		{name: "case", devicePath: "com3", ignorePaths: []string{"COM3"}, expected: true},
		{name: "unclean", devicePath: "/dev/../dev/ttyACM0", ignorePaths: []string{"/dev/ttyACM0"}, expected: true},
		{name: "skips blanks", devicePath: "/dev/ttyUSB0", ignorePaths: []string{"", "/dev/ttyUSB0"}, expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsPathIgnored(tt.devicePath, tt.ignorePaths))
		})
	}
}
