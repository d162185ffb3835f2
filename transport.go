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
	"fmt"
	"sync"
)

// Level is the logic level of a single line.
type Level bool

const (
	// Low is logic zero.
	Low Level = false
	// High is logic one.
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// ReadyLevel is the level a target drives on its data-in line when it is
// idle or has a response waiting.
const ReadyLevel = Low

// Transport is the bit-level capability of a gang adapter. Every operation
// is broadcast to the selected channels at once; per-channel results come
// back as a ChannelMask.
//
// Bits are shifted most significant first from the low n bits of value.
type Transport interface {
	// SendBits drives the low n bits of value to every selected channel.
	SendBits(value uint32, n int) error

	// SampleBits reads n bits from the lowest selected channel.
	SampleBits(n int) (uint32, error)

	// CompareBits clocks in n bits on every selected channel and returns the
	// channels whose bits differ from expected outside ignore.
	CompareBits(expected, ignore uint32, n int) (ChannelMask, error)

	// SetPin drives the shared control line.
	SetPin(level Level) error

	// WaitLevel polls the data-in lines up to budget times and returns the
	// selected channels that never reached level.
	WaitLevel(level Level, budget int) (ChannelMask, error)

	// SelectChannels restricts later operations to mask.
	SelectChannels(mask ChannelMask) error

	// Close releases the adapter.
	Close() error

	// Type returns the transport type
	Type() TransportType
}

// Resetter is implemented by transports or hosts that can put the targets
// back into a known protocol state. Without one the session pulses the
// control line.
type Resetter interface {
	Resync() error
}

// ChannelReporter is implemented by transports that know which channels are
// wired. Sessions on such a transport default to those channels and reject
// jobs that name any other.
type ChannelReporter interface {
	Present() ChannelMask
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportAdapter is a USB gang adapter on a serial port.
	TransportAdapter TransportType = "adapter"
	// TransportGPIO is a bit-banged GPIO pin set.
	TransportGPIO TransportType = "gpio"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// MockTransport is a scripted Transport for unit tests. Sampled bytes come
// from a queue, compare results from per-call scripts.
type MockTransport struct {
	errorMap   map[string]error
	callCount  map[string]int
	sent       []byte
	samples    []byte
	compares   []ChannelMask
	waits      []ChannelMask
	selections []ChannelMask
	pins       []Level
	mu         sync.Mutex
	closed     bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		errorMap:  make(map[string]error),
		callCount: make(map[string]int),
	}
}

func (m *MockTransport) enter(op string) error {
	m.callCount[op]++
	if m.closed {
		return NewTransportClosedError(op, "mock")
	}
	if err, ok := m.errorMap[op]; ok {
		return err
	}
	return nil
}

// SendBits implements Transport
func (m *MockTransport) SendBits(value uint32, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SendBits"); err != nil {
		return err
	}
	if n != 8 {
		return fmt.Errorf("%w: mock transport sends bytes only, got %d bits", ErrInvalidParameter, n)
	}
	m.sent = append(m.sent, byte(value))
	return nil
}

// SampleBits implements Transport. An empty queue reads as an idle line.
func (m *MockTransport) SampleBits(n int) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SampleBits"); err != nil {
		return 0, err
	}
	if len(m.samples) == 0 {
		return 1<<uint(n) - 1, nil
	}
	b := m.samples[0]
	m.samples = m.samples[1:]
	return uint32(b), nil
}

// CompareBits implements Transport. Scripted masks are consumed in order;
// once exhausted every compare matches.
func (m *MockTransport) CompareBits(_, _ uint32, _ int) (ChannelMask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CompareBits"); err != nil {
		return 0, err
	}
	if len(m.compares) == 0 {
		return 0, nil
	}
	mask := m.compares[0]
	m.compares = m.compares[1:]
	return mask, nil
}

// SetPin implements Transport
func (m *MockTransport) SetPin(level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetPin"); err != nil {
		return err
	}
	m.pins = append(m.pins, level)
	return nil
}

// WaitLevel implements Transport. Each call consumes one scripted mask.
func (m *MockTransport) WaitLevel(_ Level, _ int) (ChannelMask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("WaitLevel"); err != nil {
		return 0, err
	}
	if len(m.waits) == 0 {
		return 0, nil
	}
	mask := m.waits[0]
	m.waits = m.waits[1:]
	return mask, nil
}

// SelectChannels implements Transport
func (m *MockTransport) SelectChannels(mask ChannelMask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SelectChannels"); err != nil {
		return err
	}
	m.selections = append(m.selections, mask)
	return nil
}

// Close implements Transport
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Type implements Transport
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// QueueSamples appends bytes returned by later SampleBits calls.
func (m *MockTransport) QueueSamples(data ...byte) {
	m.mu.Lock()
	m.samples = append(m.samples, data...)
	m.mu.Unlock()
}

// QueueCompares appends masks returned by later CompareBits calls.
func (m *MockTransport) QueueCompares(masks ...ChannelMask) {
	m.mu.Lock()
	m.compares = append(m.compares, masks...)
	m.mu.Unlock()
}

// QueueWaits appends masks returned by later WaitLevel calls.
func (m *MockTransport) QueueWaits(masks ...ChannelMask) {
	m.mu.Lock()
	m.waits = append(m.waits, masks...)
	m.mu.Unlock()
}

// SetError configures an error to be returned for an operation name such as "SendBits".
func (m *MockTransport) SetError(op string, err error) {
	m.mu.Lock()
	m.errorMap[op] = err
	m.mu.Unlock()
}

// ClearError removes error injection for an operation
func (m *MockTransport) ClearError(op string) {
	m.mu.Lock()
	delete(m.errorMap, op)
	m.mu.Unlock()
}

// Sent returns a copy of every byte sent so far.
func (m *MockTransport) Sent() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.sent...)
}

// Selections returns every mask passed to SelectChannels.
func (m *MockTransport) Selections() []ChannelMask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChannelMask(nil), m.selections...)
}

// Pins returns every level passed to SetPin.
func (m *MockTransport) Pins() []Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Level(nil), m.pins...)
}

// GetCallCount returns how many times an operation was called
func (m *MockTransport) GetCallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[op]
}

// Reset clears recorded traffic, scripts and call counts.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.callCount = make(map[string]int)
	m.sent = nil
	m.samples = nil
	m.compares = nil
	m.waits = nil
	m.selections = nil
	m.pins = nil
	m.closed = false
	m.mu.Unlock()
}
