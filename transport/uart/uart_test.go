// Copyright 2026 The TapCard Project Contributors.
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

package uart

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	t4t "github.com/TapCardProject/go-t4t"
	"github.com/TapCardProject/go-t4t/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

var errPortClosed = errors.New("port closed")

// fakePort implements serial.Port over queued read segments. Each Read
// serves bytes from one segment at most, which lets tests control how the
// wire delivers frames.
type fakePort struct {
	mu       sync.Mutex
	segments [][]byte
	written  []byte
	closed   bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	if len(p.segments) == 0 {
		return 0, nil // read timeout: no data available
	}
	seg := p.segments[0]
	n := copy(b, seg)
	if n == len(seg) {
		p.segments = p.segments[1:]
	} else {
		p.segments[0] = seg[n:]
	}
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) queue(segments ...[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segments = append(p.segments, segments...)
}

func (p *fakePort) writtenBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

func (*fakePort) SetMode(_ *serial.Mode) error          { return nil }
func (*fakePort) Drain() error                          { return nil }
func (*fakePort) ResetInputBuffer() error               { return nil }
func (*fakePort) ResetOutputBuffer() error              { return nil }
func (*fakePort) SetDTR(_ bool) error                   { return nil }
func (*fakePort) SetRTS(_ bool) error                   { return nil }
func (*fakePort) SetReadTimeout(_ time.Duration) error  { return nil }
func (*fakePort) Break(_ time.Duration) error           { return nil }
func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}
func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ serial.Port = (*fakePort)(nil)

func newTestTransport(port *fakePort) *Transport {
	return &Transport{
		port:     port,
		portName: "mock",
		timeout:  250 * time.Millisecond,
	}
}

// deviceFrame builds a device-to-host frame around the given payload.
func deviceFrame(payload []byte) []byte {
	data := append([]byte{frame.TFIDeviceToHost}, payload...)
	buf := []byte{0x00, 0x00, 0xFF, byte(len(data)), ^byte(len(data)) + 1}
	buf = append(buf, data...)
	buf = append(buf, ^frame.Checksum(data)+1, 0x00)
	return buf
}

func TestSendCommandRoundTrip(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	// TgGetData response carrying a SELECT application APDU.
	apdu := []byte{0x00, 0xA4, 0x04, 0x00}
	port.queue(frame.ACKFrame, deviceFrame(append([]byte{0x87, 0x00}, apdu...)))

	tr := newTestTransport(port)
	res, err := tr.SendCommand(0x86, nil)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0x87, 0x00}, apdu...), res)

	written := port.writtenBytes()
	cmdFrame, err := frame.Build(0x86, nil)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(written, cmdFrame), "command frame must be written after the wake-up")
	assert.True(t, bytes.HasSuffix(written, frame.ACKFrame), "response must be acknowledged")
}

func TestSendCommandNoACK(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	port.queue(bytes.Repeat([]byte{0xAA}, 40))

	tr := newTestTransport(port)
	_, err := tr.SendCommand(0x86, nil)
	assert.ErrorIs(t, err, t4t.ErrNoACK)
}

func TestSendCommandResponseTimeout(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	port.queue(frame.ACKFrame)

	tr := newTestTransport(port)
	tr.timeout = 30 * time.Millisecond
	_, err := tr.SendCommand(0x86, nil)
	assert.ErrorIs(t, err, t4t.ErrTransportTimeout)
}

func TestCorruptedFrameTriggersResend(t *testing.T) {
	t.Parallel()

	good := deviceFrame([]byte{0x8F, 0x00})
	corrupted := append([]byte(nil), good...)
	corrupted[len(corrupted)-2] ^= 0xFF // break the data checksum

	port := &fakePort{}
	port.queue(frame.ACKFrame, corrupted, good)

	tr := newTestTransport(port)
	res, err := tr.SendCommand(0x8E, []byte{0x90, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x8F, 0x00}, res)
	assert.True(t, bytes.Contains(port.writtenBytes(), frame.NACKFrame),
		"a corrupted frame must be answered with a NACK")
}

func TestSendCommandAfterClose(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(&fakePort{})
	require.NoError(t, tr.Close())
	assert.False(t, tr.IsConnected())

	_, err := tr.SendCommand(0x86, nil)
	assert.ErrorIs(t, err, t4t.ErrTransportClosed)
}

func TestTransportType(t *testing.T) {
	t.Parallel()
	tr := newTestTransport(&fakePort{})
	assert.Equal(t, t4t.TransportUART, tr.Type())
}
