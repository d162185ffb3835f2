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


// Package adapter detects USB-serial gang adapters. Importing it registers
// the detector with the detection package.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/ZaparooProject/go-flashprog/detection"
	"github.com/ZaparooProject/go-flashprog/transport/adapter"
)

// TransportName is the DeviceInfo.Transport value this detector reports.
const TransportName = "adapter"

// probeTimeout bounds one identify exchange during detection.
const probeTimeout = 300 * time.Millisecond

// KnownBridges maps USB VID:PID pairs of bridges shipped on gang adapters
// to a product name. Ports on these bridges start at Medium confidence.
var KnownBridges = map[string]string{
	"0403:6010": "FT2232 gang adapter",
	"0403:6011": "FT4232 gang adapter",
	"0403:6014": "FT232H gang adapter",
	"10C4:EA60": "CP210x gang adapter",
	"1A86:55D3": "CH343 gang adapter",
}

// serialPort is one enumerated port with the descriptor fields detection uses.
type serialPort struct {
	Path    string
	Product string
	Serial  string
	VIDPID  string
	USB     bool
}

// Probe and enumeration hooks, replaced in tests.
var (
	listPorts = enumeratePorts
	probe     = identify
)

type detector struct{}

// New returns the adapter detector.
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

func (*detector) Transport() string {
	return TransportName
}

// Detect lists serial ports and classifies each according to opts.Mode.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for i := range ports {
		if ctx.Err() != nil {
			break
		}
		port := &ports[i]
		if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}
		if dev, ok := classify(ctx, port, opts.Mode); ok {
			devices = append(devices, dev)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// classify decides whether port is reported and with what confidence.
//
// Passive reports only known bridges. Safe probes every USB port but keeps
// a silent one only if it is a known bridge. Full probes every port and
// keeps only adapters that answered with a non-zero channel count.
func classify(ctx context.Context, port *serialPort, mode detection.Mode) (detection.DeviceInfo, bool) {
	name, known := KnownBridges[strings.ToUpper(port.VIDPID)]
	dev := detection.DeviceInfo{
		Transport:  TransportName,
		Path:       port.Path,
		Name:       name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	if dev.Name == "" {
		dev.Name = port.Product
	}
	if known {
		dev.Confidence = detection.Medium
	}
	if port.VIDPID != "" {
		dev.Metadata["vidpid"] = port.VIDPID
	}
	if port.Serial != "" {
		dev.Metadata["serial"] = port.Serial
	}
	if port.Product != "" {
		dev.Metadata["product"] = port.Product
	}

	switch mode {
	case detection.Passive:
		return dev, known
	case detection.Safe:
		if !port.USB {
			return dev, false
		}
	case detection.Full:
	default:
		return dev, false
	}

	info, err := probeWithTimeout(ctx, port.Path)
	switch {
	case err == nil && (mode != detection.Full || info.Channels > 0):
		dev.Confidence = detection.High
		dev.Channels = info.Channels
		dev.Firmware = info.Firmware
		return dev, true
	case mode == detection.Safe:
		return dev, known
	default:
		return dev, false
	}
}

func probeWithTimeout(ctx context.Context, path string) (adapter.Info, error) {
	type result struct {
		err  error
		info adapter.Info
	}
	fn := probe
	done := make(chan result, 1)
	go func() {
		info, err := fn(path)
		done <- result{info: info, err: err}
	}()

	select {
	case res := <-done:
		return res.info, res.err
	case <-ctx.Done():
		return adapter.Info{}, ctx.Err()
	}
}

// identify opens path, asks the adapter to identify itself and closes it.
func identify(path string) (info adapter.Info, err error) {
	t, err := adapter.New(path, adapter.WithReplyTimeout(probeTimeout))
	if err != nil {
		return adapter.Info{}, err
	}
	defer func() {
		err = errors.Join(err, t.Close())
	}()
	return t.Identify()
}

// enumeratePorts lists serial ports with their USB descriptors.
func enumeratePorts() ([]serialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]serialPort, 0, len(details))
	for _, d := range details {
		port := serialPort{Path: d.Name, USB: d.IsUSB}
		if d.IsUSB {
			port.VIDPID = detection.ParseVIDPID(d.VID + ":" + d.PID)
			port.Serial = d.SerialNumber
			port.Product = d.Product
		}
		ports = append(ports, port)
	}
	return ports, nil
}
