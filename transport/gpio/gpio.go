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


// Package gpio implements flashprog.Transport by bit-banging host GPIO lines
// through periph.io. One clock line, one data-out line and the control line
// are shared by the gang; every channel has its own data-in line and an
// optional enable line that gates the shared outputs.
//
// Bits are shifted most significant first. Data is set up while the clock is
// low and latched by the targets on the rising edge.
package gpio

import (
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-flashprog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Pins is the pin set of a gang. DataIn entries and Enable entries may be nil
// for unused channels; a channel with a data-in pin but no enable pin is
// always connected.
type Pins struct {
	Clock   gpio.PinOut
	DataOut gpio.PinOut
	Control gpio.PinOut
	DataIn  [flashprog.MaxChannels]gpio.PinIn
	Enable  [flashprog.MaxChannels]gpio.PinOut
}

// Config names the pins in the periph.io registry, for example "GPIO17".
type Config struct {
	Clock   string
	DataOut string
	Control string
	DataIn  []string
	Enable  []string
	// HalfPeriod is held after every clock edge. Zero toggles as fast as
	// the host allows.
	HalfPeriod time.Duration
}

// Transport drives a gang over GPIO lines.
type Transport struct {
	pins     Pins
	half     time.Duration
	present  flashprog.ChannelMask
	selected flashprog.ChannelMask
	closed   bool
}

var errNoPin = errors.New("pin not found")

// Open initializes the host drivers and opens the pins named by cfg.
func Open(cfg Config) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, flashprog.NewTransportError("open", "gpio",
			fmt.Errorf("failed to initialize host drivers: %w", err), flashprog.ErrorTypePermanent)
	}
	return FromRegistry(cfg)
}

// FromRegistry opens the pins named by cfg from an already initialized
// registry.
func FromRegistry(cfg Config) (*Transport, error) {
	if len(cfg.DataIn) > flashprog.MaxChannels || len(cfg.Enable) > flashprog.MaxChannels {
		return nil, fmt.Errorf("%w: at most %d channels", flashprog.ErrInvalidParameter, flashprog.MaxChannels)
	}

	var pins Pins
	var err error
	if pins.Clock, err = lookup("clock", cfg.Clock); err != nil {
		return nil, err
	}
	if pins.DataOut, err = lookup("data out", cfg.DataOut); err != nil {
		return nil, err
	}
	if pins.Control, err = lookup("control", cfg.Control); err != nil {
		return nil, err
	}
	for i, name := range cfg.DataIn {
		if name == "" {
			continue
		}
		if pins.DataIn[i], err = lookup(fmt.Sprintf("data in %d", i), name); err != nil {
			return nil, err
		}
	}
	for i, name := range cfg.Enable {
		if name == "" {
			continue
		}
		if pins.Enable[i], err = lookup(fmt.Sprintf("enable %d", i), name); err != nil {
			return nil, err
		}
	}
	return New(pins, cfg.HalfPeriod)
}

func lookup(role, name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, flashprog.NewTransportError("open", name,
			fmt.Errorf("%w: %s pin %q", errNoPin, role, name), flashprog.ErrorTypePermanent)
	}
	return p, nil
}

// New configures pins and returns a transport with every populated channel
// selected and the control line high.
func New(pins Pins, halfPeriod time.Duration) (*Transport, error) {
	if pins.Clock == nil || pins.DataOut == nil || pins.Control == nil {
		return nil, fmt.Errorf("%w: clock, data out and control pins are required", flashprog.ErrInvalidParameter)
	}
	t := &Transport{pins: pins, half: halfPeriod}
	for i, in := range pins.DataIn {
		if in == nil {
			continue
		}
		if err := in.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, pinError("configure", in, err)
		}
		t.present |= flashprog.ChannelBit(i)
	}
	if t.present.Empty() {
		return nil, fmt.Errorf("%w: no data-in pins", flashprog.ErrInvalidParameter)
	}
	for _, step := range []struct {
		pin   gpio.PinOut
		level gpio.Level
	}{
		{pins.Clock, gpio.High},
		{pins.DataOut, gpio.High},
		{pins.Control, gpio.High},
	} {
		if err := step.pin.Out(step.level); err != nil {
			return nil, pinError("configure", step.pin, err)
		}
	}
	if err := t.SelectChannels(t.present); err != nil {
		return nil, err
	}
	return t, nil
}

func pinError(op string, p fmt.Stringer, err error) error {
	return flashprog.NewTransportError(op, p.String(), err, flashprog.ErrorTypeTransient)
}

func (t *Transport) check(op string, n int) error {
	if t.closed {
		return flashprog.NewTransportClosedError(op, "gpio")
	}
	if n < 1 || n > 32 {
		return fmt.Errorf("%w: %d bits", flashprog.ErrInvalidParameter, n)
	}
	return nil
}

func (t *Transport) hold() {
	if t.half > 0 {
		time.Sleep(t.half)
	}
}

// clock drives one bit period, optionally putting out on the data line, and
// returns the data-in levels sampled after the rising edge.
func (t *Transport) clock(out *gpio.Level) ([flashprog.MaxChannels]gpio.Level, error) {
	var in [flashprog.MaxChannels]gpio.Level
	if err := t.pins.Clock.Out(gpio.Low); err != nil {
		return in, pinError("clock", t.pins.Clock, err)
	}
	if out != nil {
		if err := t.pins.DataOut.Out(*out); err != nil {
			return in, pinError("data out", t.pins.DataOut, err)
		}
	}
	t.hold()
	if err := t.pins.Clock.Out(gpio.High); err != nil {
		return in, pinError("clock", t.pins.Clock, err)
	}
	for _, ch := range t.selected.Channels() {
		in[ch] = t.pins.DataIn[ch].Read()
	}
	t.hold()
	return in, nil
}

// SendBits implements flashprog.Transport.
func (t *Transport) SendBits(value uint32, n int) error {
	if err := t.check("send bits", n); err != nil {
		return err
	}
	for i := n - 1; i >= 0; i-- {
		bit := gpio.Level(value>>uint(i)&1 == 1)
		if _, err := t.clock(&bit); err != nil {
			return err
		}
	}
	// Idle high between bytes.
	if err := t.pins.DataOut.Out(gpio.High); err != nil {
		return pinError("data out", t.pins.DataOut, err)
	}
	return nil
}

// SampleBits implements flashprog.Transport.
func (t *Transport) SampleBits(n int) (uint32, error) {
	if err := t.check("sample bits", n); err != nil {
		return 0, err
	}
	low := t.selected.Lowest()
	if low < 0 {
		return 0, flashprog.ErrNoActiveChannels
	}
	var v uint32
	for range n {
		in, err := t.clock(nil)
		if err != nil {
			return 0, err
		}
		v <<= 1
		if in[low] == gpio.High {
			v |= 1
		}
	}
	return v, nil
}

// CompareBits implements flashprog.Transport.
func (t *Transport) CompareBits(expected, ignore uint32, n int) (flashprog.ChannelMask, error) {
	if err := t.check("compare bits", n); err != nil {
		return 0, err
	}
	var mismatch flashprog.ChannelMask
	for i := n - 1; i >= 0; i-- {
		in, err := t.clock(nil)
		if err != nil {
			return 0, err
		}
		if ignore>>uint(i)&1 == 1 {
			continue
		}
		want := gpio.Level(expected>>uint(i)&1 == 1)
		for _, ch := range t.selected.Channels() {
			if in[ch] != want {
				mismatch |= flashprog.ChannelBit(ch)
			}
		}
	}
	return mismatch, nil
}

// SetPin implements flashprog.Transport.
func (t *Transport) SetPin(level flashprog.Level) error {
	if t.closed {
		return flashprog.NewTransportClosedError("set pin", "gpio")
	}
	if err := t.pins.Control.Out(gpio.Level(level)); err != nil {
		return pinError("set pin", t.pins.Control, err)
	}
	t.hold()
	return nil
}

// WaitLevel implements flashprog.Transport.
func (t *Transport) WaitLevel(level flashprog.Level, budget int) (flashprog.ChannelMask, error) {
	if t.closed {
		return 0, flashprog.NewTransportClosedError("wait level", "gpio")
	}
	want := gpio.Level(level)
	var pending flashprog.ChannelMask
	for range max(budget, 1) {
		pending = 0
		for _, ch := range t.selected.Channels() {
			if t.pins.DataIn[ch].Read() != want {
				pending |= flashprog.ChannelBit(ch)
			}
		}
		if pending.Empty() {
			return 0, nil
		}
		t.hold()
	}
	return pending, nil
}

// SelectChannels implements flashprog.Transport. Selecting a channel without
// a data-in pin is an error.
func (t *Transport) SelectChannels(mask flashprog.ChannelMask) error {
	if t.closed {
		return flashprog.NewTransportClosedError("select", "gpio")
	}
	if missing := mask &^ t.present; missing != 0 {
		return fmt.Errorf("%w: channels %s have no data-in pin", flashprog.ErrInvalidParameter, missing)
	}
	for i, en := range t.pins.Enable {
		if en == nil {
			continue
		}
		if err := en.Out(gpio.Level(mask.Has(i))); err != nil {
			return pinError("select", en, err)
		}
	}
	t.selected = mask
	return nil
}

// Present implements flashprog.ChannelReporter.
func (t *Transport) Present() flashprog.ChannelMask {
	return t.present
}

// Selected returns the channels currently selected.
func (t *Transport) Selected() flashprog.ChannelMask {
	return t.selected
}

// Close disconnects every channel and leaves the control line high.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	var errs []error
	for _, en := range t.pins.Enable {
		if en != nil {
			errs = append(errs, en.Out(gpio.Low))
		}
	}
	errs = append(errs, t.pins.Control.Out(gpio.High))
	t.closed = true
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("gpio close failed: %w", err)
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() flashprog.TransportType {
	return flashprog.TransportGPIO
}

var _ flashprog.Transport = (*Transport)(nil)
