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


package flashprog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-flashprog/detection"
)

// TransportFactory opens the transport at path.
type TransportFactory func(path string) (Transport, error)

// DetectedTransportFactory opens the transport for a detected adapter.
type DetectedTransportFactory func(device detection.DeviceInfo) (Transport, error)

// DeviceDetector lists candidate adapters. detection.DetectAll satisfies it.
type DeviceDetector func(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error)

// ConnectOption configures Connect.
type ConnectOption func(*connectConfig) error

type connectConfig struct {
	factory         TransportFactory
	detectedFactory DetectedTransportFactory
	detector        DeviceDetector
	detectOpts      detection.Options
	retry           RetryConfig
	autoDetect      bool
}

// WithAutoDetection picks the best detected adapter instead of a fixed path.
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithTransportFactory sets how a transport is opened from a path.
func WithTransportFactory(factory TransportFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.factory = factory
		return nil
	}
}

// WithDetectedTransportFactory sets how a transport is opened from a
// detection result. Without it the detected path is handed to the
// TransportFactory.
func WithDetectedTransportFactory(factory DetectedTransportFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.detectedFactory = factory
		return nil
	}
}

// WithDeviceDetector replaces detection.DetectAll.
func WithDeviceDetector(detector DeviceDetector) ConnectOption {
	return func(c *connectConfig) error {
		c.detector = detector
		return nil
	}
}

// WithDetectionOptions replaces the detection options used by auto-detection.
func WithDetectionOptions(opts detection.Options) ConnectOption {
	return func(c *connectConfig) error {
		c.detectOpts = opts
		return nil
	}
}

// WithConnectionRetries sets how many times opening is attempted.
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("%w: connection retries must be at least 1, got %d", ErrInvalidParameter, maxAttempts)
		}
		c.retry.MaxAttempts = maxAttempts
		return nil
	}
}

// WithConnectTimeout bounds all open attempts together.
func WithConnectTimeout(timeout time.Duration) ConnectOption {
	return func(c *connectConfig) error {
		c.retry.RetryTimeout = timeout
		return nil
	}
}

// Connect opens a transport to a gang adapter, either at path or, with
// WithAutoDetection or an empty path, at the best adapter detection finds.
// Retryable open failures are retried with exponential backoff.
//
//	tr, err := flashprog.Connect(ctx, "/dev/ttyUSB0",
//		flashprog.WithTransportFactory(func(p string) (flashprog.Transport, error) {
//			return adapter.New(p)
//		}))
func Connect(ctx context.Context, path string, opts ...ConnectOption) (Transport, error) {
	config := &connectConfig{
		retry:      *DefaultRetryConfig(),
		detectOpts: detection.DefaultOptions(),
		detector:   detection.DetectAll,
	}
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}

	if config.autoDetect || path == "" {
		return connectDetected(ctx, config)
	}
	if config.factory == nil {
		return nil, errors.New("transport factory not provided")
	}
	return OpenWithRetry(ctx, &config.retry, func(context.Context) (Transport, error) {
		return config.factory(path)
	}, path)
}

func connectDetected(ctx context.Context, config *connectConfig) (Transport, error) {
	devices, err := config.detector(ctx, &config.detectOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to detect adapters: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrDeviceNotFound, detection.ErrNoDevicesFound)
	}

	device := devices[0]
	Debugf("connecting to detected %s", device)

	open := config.detectedFactory
	if open == nil {
		if config.factory == nil {
			return nil, errors.New("transport factory not provided")
		}
		open = func(d detection.DeviceInfo) (Transport, error) {
			return config.factory(d.Path)
		}
	}
	return OpenWithRetry(ctx, &config.retry, func(context.Context) (Transport, error) {
		return open(device)
	}, device.Path)
}
