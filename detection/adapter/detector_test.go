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


package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-flashprog/detection"
	"github.com/ZaparooProject/go-flashprog/transport/adapter"
)

var testPorts = []serialPort{
	{Path: "/dev/ttyUSB0", VIDPID: "0403:6010", Product: "Dual RS232-HS", Serial: "FT01", USB: true},
	{Path: "/dev/ttyUSB1", VIDPID: "1234:5678", Product: "Mystery", USB: true},
	{Path: "/dev/ttyACM0", VIDPID: "2341:0043", Product: "Arduino Uno", USB: true},
	{Path: "/dev/ttyS0"},
}

// stubHooks replaces port enumeration and probing. Tests using it must not
// run in parallel.
func stubHooks(t *testing.T, ports []serialPort, answers map[string]adapter.Info) *[]string {
	t.Helper()
	savedList, savedProbe := listPorts, probe
	t.Cleanup(func() {
		listPorts, probe = savedList, savedProbe
	})

	var probed []string
	listPorts = func() ([]serialPort, error) { return ports, nil }
	probe = func(path string) (adapter.Info, error) {
		probed = append(probed, path)
		if info, ok := answers[path]; ok {
			return info, nil
		}
		return adapter.Info{}, errors.New("no reply")
	}
	return &probed
}

func paths(devices []detection.DeviceInfo) []string {
	out := make([]string, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Path)
	}
	return out
}

func TestDetect_Passive(t *testing.T) {
	probed := stubHooks(t, testPorts, nil)

	opts := detection.DefaultOptions()
	opts.Mode = detection.Passive
	devices, err := New().Detect(context.Background(), &opts)
	require.NoError(t, err)

	assert.Empty(t, *probed, "passive mode never opens ports")
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/ttyUSB0", devices[0].Path)
	assert.Equal(t, "FT2232 gang adapter", devices[0].Name)
	assert.Equal(t, detection.Medium, devices[0].Confidence)
	assert.Equal(t, "0403:6010", devices[0].Metadata["vidpid"])
	assert.Equal(t, "FT01", devices[0].Metadata["serial"])
}

func TestDetect_Safe(t *testing.T) {
	probed := stubHooks(t, testPorts, map[string]adapter.Info{
		"/dev/ttyUSB1": {Channels: 4, Firmware: "1.2"},
	})

	opts := detection.DefaultOptions()
	devices, err := New().Detect(context.Background(), &opts)
	require.NoError(t, err)

	// The blocklisted board and the non-USB port are never probed.
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, *probed)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, paths(devices))

	assert.Equal(t, detection.Medium, devices[0].Confidence, "silent known bridge is kept")
	assert.Equal(t, detection.High, devices[1].Confidence)
	assert.Equal(t, 4, devices[1].Channels)
	assert.Equal(t, "1.2", devices[1].Firmware)
	assert.Equal(t, "Mystery", devices[1].Name)
}

func TestDetect_Full(t *testing.T) {
	probed := stubHooks(t, testPorts, map[string]adapter.Info{
		"/dev/ttyUSB0": {Channels: 0, Firmware: "0.9"},
		"/dev/ttyS0":   {Channels: 8, Firmware: "2.0"},
	})

	opts := detection.DefaultOptions()
	opts.Mode = detection.Full
	opts.IgnorePaths = []string{"/dev/ttyUSB1"}
	devices, err := New().Detect(context.Background(), &opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyS0"}, *probed)
	require.Len(t, devices, 1, "an adapter without channels is rejected")
	assert.Equal(t, "/dev/ttyS0", devices[0].Path)
	assert.Equal(t, 8, devices[0].Channels)
	assert.Equal(t, detection.High, devices[0].Confidence)
}

func TestDetect_NothingFound(t *testing.T) {
	stubHooks(t, []serialPort{{Path: "/dev/ttyS0"}}, nil)

	opts := detection.DefaultOptions()
	_, err := New().Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestDetect_EnumerationError(t *testing.T) {
	stubHooks(t, nil, nil)
	listPorts = func() ([]serialPort, error) { return nil, errors.New("sysfs unavailable") }

	opts := detection.DefaultOptions()
	_, err := New().Detect(context.Background(), &opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to enumerate serial ports")
}

func TestProbeWithTimeout_Cancelled(t *testing.T) {
	stubHooks(t, nil, nil)
	release := make(chan struct{})
	defer close(release)
	probe = func(string) (adapter.Info, error) {
		<-release
		return adapter.Info{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := probeWithTimeout(ctx, "/dev/ttyUSB0")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegistered(t *testing.T) {
	t.Parallel()
	assert.Equal(t, TransportName, New().Transport())
}
