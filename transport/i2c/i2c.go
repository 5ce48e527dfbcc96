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

// Package i2c provides the I2C transport for the PN532 controller.
package i2c

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	t4t "github.com/TapCardProject/go-t4t"
	"github.com/TapCardProject/go-t4t/internal/frame"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// PN532 7-bit I2C address. The datasheet lists 0x48, which is the 8-bit
	// write address including the R/W bit; periph.io and the Linux kernel
	// expect the 7-bit form: 0x48 >> 1 = 0x24.
	deviceAddr = 0x24

	// First byte of every I2C read transaction: 0x01 when the controller
	// has a frame ready, 0x00 otherwise.
	statusReady = 0x01

	maxClockFreq = 400 * physic.KiloHertz

	// Largest frame the controller can emit plus framing overhead
	// (preamble, start code, LEN, LCS, DCS, postamble).
	maxFrameSize = 255 + 8

	readyRetries = 5
)

// Transport implements the t4t.Transport interface over an I2C bus.
type Transport struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser // held so Close releases the OS file descriptor
	busName string
	mu      sync.Mutex
	timeout time.Duration
}

// parseBusPath strips an address suffix from a composite device path,
// accepting "/dev/i2c-1:0x24" as well as a bare "/dev/i2c-1".
func parseBusPath(path string) string {
	bus, _, _ := strings.Cut(path, ":")
	return bus
}

// New opens the given I2C bus and returns a transport bound to the PN532.
func New(busName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(parseBusPath(busName))
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}

	// Best effort; the bus default applies when the driver rejects it.
	_ = bus.SetSpeed(maxClockFreq)

	return &Transport{
		dev:     &i2c.Dev{Addr: deviceAddr, Bus: bus},
		bus:     bus,
		busName: busName,
		timeout: time.Second,
	}, nil
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

	if t.dev == nil {
		return nil, t4t.NewTransportError("SendCommand", t.busName, t4t.ErrTransportClosed, t4t.ErrorTypePermanent)
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

// Close releases the I2C bus file descriptor. Skipping this on rapid
// destroy/recreate cycles can corrupt the bus.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bus == nil {
		return nil
	}
	bus := t.bus
	t.bus = nil
	t.dev = nil
	if err := bus.Close(); err != nil {
		return fmt.Errorf("failed to close I2C bus: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dev != nil
}

// Type returns the transport type.
func (*Transport) Type() t4t.TransportType {
	return t4t.TransportI2C
}

func (t *Transport) writeRaw(data []byte, op string) error {
	if err := t.dev.Tx(data, nil); err != nil {
		return t4t.NewTransportWriteError(op, t.busName)
	}
	return nil
}

func (t *Transport) sendFrame(cmd byte, args []byte) error {
	frm, err := frame.Build(cmd, args)
	if err != nil {
		return t4t.NewDataTooLargeError("sendFrame", t.busName)
	}
	return t.writeRaw(frm, "send frame")
}

// checkReady polls the controller's ready bit with exponential backoff.
func (t *Transport) checkReady(ctx context.Context) error {
	ready := make([]byte, 1)
	for attempt := range readyRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.dev.Tx(nil, ready); err == nil && ready[0] == statusReady {
			return nil
		}
		if attempt < readyRetries-1 {
			if err := sleepCtx(ctx, time.Millisecond<<attempt); err != nil {
				return err
			}
		}
	}
	return t4t.NewTransportNotReadyError("checkReady", t.busName)
}

// readFrame performs one I2C read transaction, stripping the status byte the
// hardware prepends. Every transaction restarts from byte 0 of the
// controller's output buffer, so the whole frame must be read in one go.
func (t *Transport) readFrame(buf []byte) error {
	tmp := make([]byte, 1+len(buf))
	if err := t.dev.Tx(nil, tmp); err != nil {
		return t4t.NewTransportReadError("readFrame", t.busName)
	}
	if tmp[0] != statusReady {
		return t4t.NewTransportNotReadyError("readFrame", t.busName)
	}
	copy(buf, tmp[1:])
	return nil
}

func (t *Transport) waitAck(ctx context.Context) error {
	deadline := time.Now().Add(t.timeout)
	buf := make([]byte, len(frame.ACKFrame))

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.checkReady(ctx); err != nil {
			if err := sleepCtx(ctx, time.Millisecond); err != nil {
				return err
			}
			continue
		}
		if err := t.readFrame(buf); err != nil {
			return err
		}
		if bytes.Equal(buf, frame.ACKFrame) {
			return nil
		}
		if err := sleepCtx(ctx, time.Millisecond); err != nil {
			return err
		}
	}
	return t4t.NewNoACKError("waitAck", t.busName)
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
	return nil, t4t.NewFrameCorruptedError("receiveFrame", t.busName)
}

func (t *Transport) receiveFrameAttempt(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(t.timeout)
	buf := make([]byte, maxFrameSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, t4t.NewTimeoutError("receiveFrame", t.busName)
		}

		if err := t.checkReady(ctx); err != nil {
			if err := sleepCtx(ctx, time.Millisecond); err != nil {
				return nil, err
			}
			continue
		}

		if err := t.readFrame(buf); err != nil {
			return nil, err
		}

		start, _, err := frame.Locate(buf)
		if err != nil {
			return nil, t4t.NewFrameCorruptedError("receiveFrame", t.busName)
		}
		data, err := frame.Parse(buf, start)
		if err != nil {
			return nil, t4t.NewFrameCorruptedError("receiveFrame", t.busName)
		}
		return data, nil
	}
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
