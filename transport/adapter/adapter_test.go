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
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/go-flashprog"
	"github.com/ZaparooProject/go-flashprog/internal/frame"
	testutil "github.com/ZaparooProject/go-flashprog/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

var errPortClosed = errors.New("port is closed")

// fakeAdapterPort is a serial.Port that runs the adapter command set against
// a GangSimulator.
type fakeAdapterPort struct {
	gang        *testutil.GangSimulator
	forced      map[byte]byte
	rx          []byte
	tx          []byte
	readTimeout time.Duration
	silent      bool
	badEcho     bool
	closed      bool
}

func newFakeAdapterPort(gang *testutil.GangSimulator) *fakeAdapterPort {
	return &fakeAdapterPort{gang: gang, forced: make(map[byte]byte)}
}

func (*fakeAdapterPort) SetMode(_ *serial.Mode) error {
	return nil
}

func (p *fakeAdapterPort) Read(b []byte) (int, error) {
	if p.closed {
		return 0, errPortClosed
	}
	n := copy(b, p.tx)
	p.tx = p.tx[n:]
	return n, nil
}

func (p *fakeAdapterPort) Write(b []byte) (int, error) {
	if p.closed {
		return 0, errPortClosed
	}
	p.rx = append(p.rx, b...)
	for len(p.rx) >= frame.HeaderLength {
		total := (int(p.rx[1])<<8 | int(p.rx[2])) + frame.Overhead
		if len(p.rx) < total {
			break
		}
		f, err := frame.Parse(p.rx[:total], false)
		p.rx = p.rx[total:]
		if err != nil {
			continue
		}
		p.handle(f.Payload[0], f.Payload[1:])
	}
	return len(b), nil
}

func (p *fakeAdapterPort) handle(cmd byte, params []byte) {
	if p.silent {
		return
	}
	echo := cmd
	if p.badEcho {
		echo = cmd + 1
	}
	if status, ok := p.forced[cmd]; ok {
		p.tx = append(p.tx, frame.Data(echo, []byte{status}, frame.EndText).Bytes()...)
		return
	}

	reply := []byte{StatusOK}
	var err error
	switch cmd {
	case CmdIdentify:
		reply = append(reply, 4, 1, 2)
	case CmdSendBits:
		err = p.gang.SendBits(binary.BigEndian.Uint32(params[1:5]), int(params[0]))
	case CmdSampleBits:
		var v uint32
		v, err = p.gang.SampleBits(int(params[0]))
		reply = binary.BigEndian.AppendUint32(reply, v)
	case CmdCompareBits:
		var mask flashprog.ChannelMask
		mask, err = p.gang.CompareBits(
			binary.BigEndian.Uint32(params[1:5]), binary.BigEndian.Uint32(params[5:9]), int(params[0]))
		reply = append(reply, byte(mask))
	case CmdSetPin:
		err = p.gang.SetPin(params[0] == 1)
	case CmdWaitLevel:
		var mask flashprog.ChannelMask
		mask, err = p.gang.WaitLevel(params[0] == 1, int(binary.BigEndian.Uint32(params[1:5])))
		reply = append(reply, byte(mask))
	case CmdSelect:
		err = p.gang.SelectChannels(flashprog.ChannelMask(params[0]))
	default:
		reply = []byte{StatusBadCommand}
	}
	if err != nil {
		reply = []byte{StatusBadParam}
	}
	p.tx = append(p.tx, frame.Data(echo, reply, frame.EndText).Bytes()...)
}

func (*fakeAdapterPort) Drain() error {
	return nil
}

func (*fakeAdapterPort) ResetInputBuffer() error {
	return nil
}

func (*fakeAdapterPort) ResetOutputBuffer() error {
	return nil
}

func (*fakeAdapterPort) SetDTR(_ bool) error {
	return nil
}

func (*fakeAdapterPort) SetRTS(_ bool) error {
	return nil
}

func (*fakeAdapterPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (p *fakeAdapterPort) SetReadTimeout(t time.Duration) error {
	p.readTimeout = t
	return nil
}

func (p *fakeAdapterPort) Close() error {
	p.closed = true
	return nil
}

func (*fakeAdapterPort) Break(_ time.Duration) error {
	return nil
}

var _ serial.Port = (*fakeAdapterPort)(nil)

func newTestTransport(t *testing.T, gang *testutil.GangSimulator, opts ...Option) (*Transport, *fakeAdapterPort) {
	t.Helper()
	port := newFakeAdapterPort(gang)
	opts = append([]Option{WithReplyTimeout(20 * time.Millisecond)}, opts...)
	return NewWithPort(port, "mock://adapter", opts...), port
}

func TestTransport_Identify(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTransport(t, testutil.NewGang(testutil.PacketProfile(), 2))
	info, err := tr.Identify()
	require.NoError(t, err)
	assert.Equal(t, Info{Channels: 4, Firmware: "1.2"}, info)
	assert.Equal(t, flashprog.TransportAdapter, tr.Type())
	assert.Equal(t, 2, tr.Trace().Len())
}

func TestTransport_SessionOverAdapter(t *testing.T) {
	t.Parallel()

	for name, profile := range map[string]func() *flashprog.Profile{
		"Packet":    testutil.PacketProfile,
		"ThreeWire": testutil.ThreeWireProfile,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p := profile()
			gang := testutil.NewGang(p, 2)
			tr, _ := newTestTransport(t, gang)

			im := flashprog.NewImage(0, 0x1040, p.Erased)
			require.NoError(t, im.Write(0x0000, []byte{0x12, 0x34, 0x56, 0x78}))
			s, err := flashprog.NewSession(tr, p,
				flashprog.WithJob(flashprog.Job{AllSectors: flashprog.FlagsAll, Channels: flashprog.MaskOf(0, 1)}),
				flashprog.WithImage(im),
			)
			require.NoError(t, err)

			ctx := context.Background()
			for _, mode := range []flashprog.OperationMode{
				flashprog.ModeErase, flashprog.ModeProgram, flashprog.ModeVerify,
			} {
				require.NoError(t, s.Run(ctx, mode), mode.String())
			}
			for i := range 2 {
				assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, gang.Target(i).Peek(0x0000, 4))
			}
			assert.Equal(t, flashprog.MaskOf(0, 1), gang.Selected())
		})
	}
}

func TestTransport_CompareReportsChannelMask(t *testing.T) {
	t.Parallel()

	gang := testutil.NewGang(testutil.PacketProfile(), 3)
	tr, _ := newTestTransport(t, gang)
	gang.Target(1).SetSignature([]byte{0x00, 0x00, 0x00, 0x00})

	sig := testutil.PacketProfile().Opcodes.Signature
	for _, b := range frame.Command(sig, nil).Bytes() {
		require.NoError(t, tr.SendBits(uint32(b), 8))
	}
	mask, err := tr.WaitLevel(flashprog.ReadyLevel, 4)
	require.NoError(t, err)
	assert.Zero(t, mask)

	var mismatch flashprog.ChannelMask
	for _, b := range frame.Data(sig, testutil.TestSignature, frame.EndText).Bytes() {
		m, err := tr.CompareBits(uint32(b), 0, 8)
		require.NoError(t, err)
		mismatch |= m
	}
	assert.Equal(t, flashprog.MaskOf(1), mismatch)
}

func TestTransport_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		setup   func(p *fakeAdapterPort)
		wantErr error
		name    string
	}{
		{
			name:    "Silent adapter times out",
			setup:   func(p *fakeAdapterPort) { p.silent = true },
			wantErr: flashprog.ErrTransportTimeout,
		},
		{
			name:    "Wrong echo",
			setup:   func(p *fakeAdapterPort) { p.badEcho = true },
			wantErr: flashprog.ErrInvalidResponse,
		},
		{
			name:    "Rejected parameter",
			setup:   func(p *fakeAdapterPort) { p.forced[CmdSelect] = StatusBadParam },
			wantErr: flashprog.ErrInvalidResponse,
		},
		{
			name: "Closed port",
			setup: func(p *fakeAdapterPort) {
				p.closed = true
			},
			wantErr: flashprog.ErrTransportWrite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr, port := newTestTransport(t, testutil.NewGang(testutil.PacketProfile(), 1))
			tt.setup(port)

			err := tr.SelectChannels(flashprog.MaskOf(0))
			require.ErrorIs(t, err, tt.wantErr)
			trace := flashprog.GetTrace(err)
			require.NotNil(t, trace)
			assert.NotEmpty(t, trace.Trace)
		})
	}
}

func TestTransport_OverCurrentRaisesLatch(t *testing.T) {
	t.Parallel()

	latch := &flashprog.AbortLatch{}
	tr, port := newTestTransport(t, testutil.NewGang(testutil.PacketProfile(), 1), WithAbortLatch(latch))
	port.forced[CmdSetPin] = StatusOverCurrent

	err := tr.SetPin(flashprog.High)
	require.ErrorIs(t, err, ErrOverCurrent)
	assert.True(t, flashprog.IsFatal(err))
	assert.True(t, latch.CheckAbort())
	assert.Contains(t, latch.Reason(), "over-current")
}

func TestTransport_Close(t *testing.T) {
	t.Parallel()

	tr, port := newTestTransport(t, testutil.NewGang(testutil.PacketProfile(), 1))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, port.closed)

	err := tr.SendBits(0x01, 8)
	require.ErrorIs(t, err, flashprog.ErrTransportClosed)
}
