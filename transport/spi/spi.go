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

// Package spi provides the SPI transport for the PN532 controller.
package spi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	t4t "github.com/TapCardProject/go-t4t"
	"github.com/TapCardProject/go-t4t/internal/frame"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// SPI operation prefixes (PN532 datasheet section 6.1.1).
	opStatusRead = 0x02
	opDataWrite  = 0x01
	opDataRead   = 0x03

	statusReady = 0x01

	defaultFreq = 1 * physic.MegaHertz
	// CPOL=0, CPHA=0. The PN532 clocks bits LSB first, which is handled by
	// bit reversal rather than an SPI mode flag.
	busMode = spi.Mode0

	// Largest frame the controller can emit plus framing overhead.
	maxFrameSize = 255 + 8
)

// Transport implements the t4t.Transport interface over an SPI port.
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	portName string
	mu       sync.Mutex
	timeout  time.Duration
}

// New opens the given SPI port and returns a transport bound to the PN532.
func New(portName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	conn, err := port.Connect(defaultFreq, busMode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	t := &Transport{
		port:     port,
		conn:     conn,
		portName: portName,
		timeout:  time.Second,
	}
	t.wakeUp()
	return t, nil
}

// wakeUp clocks a dummy byte so the controller leaves power-down mode.
func (t *Transport) wakeUp() {
	time.Sleep(time.Millisecond)
	_ = t.conn.Tx([]byte{0x00}, nil)
	time.Sleep(time.Millisecond)
}

// reverseBit mirrors the bits in a byte. The PN532 shifts LSB first while
// periph.io transfers MSB first.
func reverseBit(b byte) byte {
	var out byte
	for range 8 {
		out <<= 1
		out |= b & 1
		b >>= 1
	}
	return out
}

func reverseBytes(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = reverseBit(b)
	}
	return out
}

// SendCommand sends a command to the controller and waits for its response.
func (t *Transport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	return t.SendCommandWithContext(context.Background(), cmd, args)
}

// SendCommandWithContext sends a command and waits for the response frame,
// honoring context cancellation between bus transactions.
func (t *Transport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, t4t.NewTransportError("SendCommand", t.portName, t4t.ErrTransportClosed, t4t.ErrorTypePermanent)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := t.sendFrame(cmd, args); err != nil {
		return nil, err
	}
	if err := t.waitAck(ctx); err != nil {
		return nil, err
	}

	res, err := t.receiveFrame(ctx)
	if err != nil {
		return nil, err
	}

	if err := t.writeRaw(frame.ACKFrame, "ack response"); err != nil {
		return nil, err
	}
	return res, nil
}

// SetTimeout sets how long to wait for the controller's response frame.
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Close closes the transport connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	port := t.port
	t.port = nil
	t.conn = nil
	if err := port.Close(); err != nil {
		return fmt.Errorf("SPI close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Type returns the transport type.
func (*Transport) Type() t4t.TransportType {
	return t4t.TransportSPI
}

// writeRaw transmits raw frame bytes behind a data-write prefix, reversed
// for the controller's LSB-first shifting.
func (t *Transport) writeRaw(data []byte, op string) error {
	buf := make([]byte, 0, 1+len(data))
	buf = append(buf, reverseBit(opDataWrite))
	buf = append(buf, reverseBytes(data)...)
	if err := t.conn.Tx(buf, nil); err != nil {
		return t4t.NewTransportWriteError(op, t.portName)
	}
	return nil
}

func (t *Transport) sendFrame(cmd byte, args []byte) error {
	frm, err := frame.Build(cmd, args)
	if err != nil {
		return t4t.NewDataTooLargeError("sendFrame", t.portName)
	}
	time.Sleep(2 * time.Millisecond)
	return t.writeRaw(frm, "send frame")
}

// waitReady polls the controller's status register until its ready bit is
// set or the timeout passes.
func (t *Transport) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(t.timeout)
	statusCmd := []byte{reverseBit(opStatusRead), 0x00}
	statusRes := make([]byte, 2)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.conn.Tx(statusCmd, statusRes); err != nil {
			return t4t.NewTransportReadError("waitReady", t.portName)
		}
		if reverseBit(statusRes[1]) == statusReady {
			return nil
		}
		if err := sleepCtx(ctx, 5*time.Millisecond); err != nil {
			return err
		}
	}
	return t4t.NewTransportNotReadyError("waitReady", t.portName)
}

// readRaw clocks n frame bytes out of the controller behind a data-read
// prefix and reverses them back to MSB-first order.
func (t *Transport) readRaw(n int, op string) ([]byte, error) {
	buf := make([]byte, 1+n)
	if err := t.conn.Tx([]byte{reverseBit(opDataRead)}, buf); err != nil {
		return nil, t4t.NewTransportReadError(op, t.portName)
	}
	// The first byte is clocked while the prefix is still shifting out.
	return reverseBytes(buf[1:]), nil
}

func (t *Transport) waitAck(ctx context.Context) error {
	if err := t.waitReady(ctx); err != nil {
		return err
	}

	ack, err := t.readRaw(len(frame.ACKFrame), "waitAck")
	if err != nil {
		return err
	}
	if bytes.Equal(ack, frame.ACKFrame) {
		return nil
	}
	if bytes.Equal(ack, frame.NACKFrame) {
		return t4t.NewTransportError("waitAck", t.portName, t4t.ErrNACKReceived, t4t.ErrorTypeTransient)
	}
	return t4t.NewNoACKError("waitAck", t.portName)
}

// receiveFrame waits for the controller's ready bit and reads the response
// frame. Corrupted frames are answered with a NACK so the controller resends.
func (t *Transport) receiveFrame(ctx context.Context) ([]byte, error) {
	const maxResends = 3

	for range maxResends {
		data, err := t.receiveFrameAttempt(ctx)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, t4t.ErrFrameCorrupted) {
			return nil, err
		}
		if err := t.writeRaw(frame.NACKFrame, "nack"); err != nil {
			return nil, err
		}
	}
	return nil, t4t.NewFrameCorruptedError("receiveFrame", t.portName)
}

func (t *Transport) receiveFrameAttempt(ctx context.Context) ([]byte, error) {
	if err := t.waitReady(ctx); err != nil {
		return nil, err
	}

	buf, err := t.readRaw(maxFrameSize, "receiveFrame")
	if err != nil {
		return nil, err
	}

	start, _, err := frame.Locate(buf)
	if err != nil {
		return nil, t4t.NewFrameCorruptedError("receiveFrame", t.portName)
	}
	data, err := frame.Parse(buf, start)
	if err != nil {
		return nil, t4t.NewFrameCorruptedError("receiveFrame", t.portName)
	}
	return data, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ensure Transport implements t4t.Transport.
var _ t4t.Transport = (*Transport)(nil)
