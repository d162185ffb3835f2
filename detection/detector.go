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


// Package detection locates gang-programming adapters attached to the host.
//
// Detectors register themselves per transport and run in parallel under a
// shared deadline. Results are cached briefly so repeated lookups from a
// command-line tool do not reopen every serial port.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Mode controls how much a detector may talk to a candidate port.
type Mode int

const (
	// Passive only reads USB descriptors and never opens the port.
	Passive Mode = iota
	// Safe opens the port and sends one identify command.
	Safe
	// Full identifies the adapter and requires it to report at least one channel.
	Full
)

// Confidence is how sure a detector is that a port carries an adapter.
type Confidence int

const (
	// Low means the port matched nothing specific.
	Low Confidence = iota
	// Medium means the USB descriptor matches a known adapter bridge.
	Medium
	// High means the adapter answered the identify command.
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo describes one detected adapter.
type DeviceInfo struct {
	// Metadata holds descriptor details such as "vidpid" and "serial".
	Metadata map[string]string
	// Transport names the detector that found the device, e.g. "adapter".
	Transport string
	// Path is what the transport opens, e.g. "/dev/ttyUSB0" or "COM3".
	Path string
	// Name is a human-readable product name.
	Name string
	// Firmware is the adapter firmware string when it was probed.
	Firmware string
	// Channels is the channel count the adapter reported, zero if unprobed.
	Channels   int
	Confidence Confidence
}

func (d DeviceInfo) String() string {
	if d.Channels > 0 {
		return fmt.Sprintf("%s at %s (%d channels, confidence: %s)",
			d.Transport, d.Path, d.Channels, d.Confidence)
	}
	return fmt.Sprintf("%s at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
}

// Options configures a detection pass.
type Options struct {
	// Blocklist holds USB VID:PID pairs never to probe.
	Blocklist []string
	// IgnorePaths holds device paths to skip, e.g. a console port.
	IgnorePaths []string
	// Transports restricts which detectors run; empty means all.
	Transports []string
	CacheTTL   time.Duration
	// Timeout bounds the whole pass, including every probe.
	Timeout     time.Duration
	Mode        Mode
	EnableCache bool
}

// DefaultOptions returns the options used by the command-line tool.
func DefaultOptions() Options {
	return Options{
		Mode:        Safe,
		Timeout:     5 * time.Second,
		Blocklist:   DefaultBlocklist(),
		EnableCache: true,
		CacheTTL:    30 * time.Second,
	}
}

// Detector finds adapters reachable over one transport.
type Detector interface {
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	Transport() string
}

var (
	// ErrNoDevicesFound is returned when no detector found an adapter.
	ErrNoDevicesFound = errors.New("no gang adapters found")
	// ErrDetectionTimeout is returned when the pass outlives its deadline.
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrUnsupportedPlatform is returned by detectors that cannot run here.
	ErrUnsupportedPlatform = errors.New("platform not supported")
	// ErrNoDetectors is returned when no registered detector matches Options.Transports.
	ErrNoDetectors = errors.New("no detectors available for specified transports")
)

var registry []Detector

// RegisterDetector adds d to the set consulted by DetectAll. Transport
// packages call it from init.
func RegisterDetector(d Detector) {
	registry = append(registry, d)
}

func detectorsFor(transports []string) []Detector {
	if len(transports) == 0 {
		return registry
	}
	var out []Detector
	for _, d := range registry {
		for _, name := range transports {
			if d.Transport() == name {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

type outcome struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs every matching detector in parallel and returns what they
// found, best candidates first. A detector error is reported only when no
// other detector found anything.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := detectorsFor(opts.Transports)
	if len(detectors) == 0 {
		return nil, ErrNoDetectors
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan outcome, len(detectors))
	for _, d := range detectors {
		go func(d Detector) {
			results <- detectOne(ctx, d, opts)
		}(d)
	}

	var found []DeviceInfo
	var errs []error
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
				continue
			}
			found = append(found, res.devices...)
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	switch {
	case len(found) > 0:
		rank(found)
		return found, nil
	case len(errs) > 0:
		return nil, errs[0]
	default:
		return nil, ErrNoDevicesFound
	}
}

func detectOne(ctx context.Context, d Detector, opts *Options) outcome {
	if opts.EnableCache {
		if cached, ok := getCached(d.Transport(), opts.CacheTTL); ok {
			return outcome{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := d.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return outcome{err: err}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			setCached(d.Transport(), devices)
		} else {
			// A stale entry would point the next run at an unplugged adapter.
			clearCacheForTransport(d.Transport())
		}
	}
	return outcome{devices: devices}
}

// rank orders devices by confidence, then channel count, then path.
func rank(devices []DeviceInfo) {
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i], devices[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Channels != b.Channels {
			return a.Channels > b.Channels
		}
		return a.Path < b.Path
	})
}

// filterDevices reapplies IgnorePaths and Blocklist, which cached results
// would otherwise bypass.
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}
	var out []DeviceInfo
	for _, dev := range devices {
		if IsPathIgnored(dev.Path, opts.IgnorePaths) {
			continue
		}
		if vidpid, ok := dev.Metadata["vidpid"]; ok && IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		out = append(out, dev)
	}
	return out
}

// ClearDetectionCache drops every cached result.
func ClearDetectionCache() {
	clearCache()
}

// ClearDetectionCacheForTransport drops cached results for one transport.
func ClearDetectionCacheForTransport(transport string) {
	clearCacheForTransport(transport)
}
