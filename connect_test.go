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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-flashprog/detection"
)

func fastConnectRetries(n int) ConnectOption {
	return func(c *connectConfig) error {
		c.retry = RetryConfig{
			MaxAttempts:       n,
			InitialBackoff:    time.Microsecond,
			MaxBackoff:        5 * time.Microsecond,
			BackoffMultiplier: 2.0,
			RetryTimeout:      time.Second,
		}
		return nil
	}
}

func TestConnectPath(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	var opened []string
	calls := 0
	tr, err := Connect(context.Background(), "/dev/ttyUSB0",
		fastConnectRetries(3),
		WithTransportFactory(func(path string) (Transport, error) {
			calls++
			opened = append(opened, path)
			if calls == 1 {
				return nil, NewTransportError("open", path, ErrTransportNotReady, ErrorTypeTransient)
			}
			return mock, nil
		}),
	)
	require.NoError(t, err)
	assert.Same(t, mock, tr)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB0"}, opened)
}

func TestConnectAutoDetect(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	detector := func(context.Context, *detection.Options) ([]detection.DeviceInfo, error) {
		return []detection.DeviceInfo{
			{Transport: "adapter", Path: "/dev/ttyUSB3", Channels: 4, Confidence: detection.High},
			{Transport: "adapter", Path: "/dev/ttyUSB1", Confidence: detection.Medium},
		}, nil
	}

	t.Run("path factory", func(t *testing.T) {
		t.Parallel()
		var opened string
		tr, err := Connect(context.Background(), "",
			WithDeviceDetector(detector),
			WithTransportFactory(func(path string) (Transport, error) {
				opened = path
				return mock, nil
			}),
		)
		require.NoError(t, err)
		assert.Same(t, mock, tr)
		assert.Equal(t, "/dev/ttyUSB3", opened, "best ranked device is used")
	})

	t.Run("device factory", func(t *testing.T) {
		t.Parallel()
		opts := detection.DefaultOptions()
		opts.Mode = detection.Full
		var got detection.DeviceInfo
		_, err := Connect(context.Background(), "/dev/ignored",
			WithAutoDetection(),
			WithDetectionOptions(opts),
			WithDeviceDetector(detector),
			WithDetectedTransportFactory(func(d detection.DeviceInfo) (Transport, error) {
				got = d
				return mock, nil
			}),
		)
		require.NoError(t, err)
		assert.Equal(t, 4, got.Channels)
	})
}

func TestConnectErrors(t *testing.T) {
	t.Parallel()

	detectErr := errors.New("enumeration failed")

	tests := []struct {
		want    error
		name    string
		path    string
		opts    []ConnectOption
		message string
	}{
		{
			name:    "no factory",
			path:    "/dev/ttyUSB0",
			message: "transport factory not provided",
		},
		{
			name: "bad retries",
			path: "/dev/ttyUSB0",
			opts: []ConnectOption{WithConnectionRetries(0)},
			want: ErrInvalidParameter,
		},
		{
			name: "detection failed",
			opts: []ConnectOption{WithDeviceDetector(func(context.Context, *detection.Options) ([]detection.DeviceInfo, error) {
				return nil, detectErr
			})},
			want: detectErr,
		},
		{
			name: "nothing detected",
			opts: []ConnectOption{WithDeviceDetector(func(context.Context, *detection.Options) ([]detection.DeviceInfo, error) {
				return nil, nil
			})},
			want: ErrDeviceNotFound,
		},
		{
			name: "permanent open failure",
			path: "/dev/ttyUSB0",
			opts: []ConnectOption{
				fastConnectRetries(3),
				WithTransportFactory(func(path string) (Transport, error) {
					return nil, NewTransportError("open", path, ErrDeviceNotFound, ErrorTypePermanent)
				}),
			},
			want:    ErrDeviceNotFound,
			message: "after 1 attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Connect(context.Background(), tt.path, tt.opts...)
			require.Error(t, err)
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
			}
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}
}
