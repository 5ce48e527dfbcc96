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

// Package uart provides the UART/serial transport for the PN532
// controller driven in target mode.
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	t4t "github.com/TapCardProject/go-t4t"
	"github.com/TapCardProject/go-t4t/internal/frame"
	"go.bug.st/serial"
)

// readPollTimeout is how long a single port read blocks before giving the
// loop a chance to check deadlines. Windows drivers need a larger value
// for stable delivery.
func readPollTimeout() time.Duration {
	if runtime.GOOS == "windows" {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// Transport implements the t4t.Transport interface for UART communication.
type Transport struct {
	port     serial.Port
	portName string
	mu       sync.Mutex
	timeout  time.Duration
}

// New creates a new UART transport.
func New(portName string) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readPollTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}

	return &Transport{
		port:     port,
		portName: portName,
		timeout:  time.Second,
	}, nil
}

// SendCommand sends a command to the controller and waits for its response.
func (t *Transport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	return t.SendCommandWithContext(context.Background(), cmd, args)
}

// SendCommandWithContext sends a command with context support. Target-mode
// commands can block for the whole configured timeout while waiting for a
// reader, so the receive loop checks the context between port reads.
func (t *Transport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, t4t.NewTransportError("SendCommand", t.portName, t4t.ErrTransportClosed, t4t.ErrorTypePermanent)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := t.sendFrame(cmd, args); err != nil {
		return nil, err
	}
	if err := t.waitAck(); err != nil {
		return nil, err
	}

	res, err := t.receiveFrame(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.writeAll(frame.ACKFrame, "response ACK"); err != nil {
		return nil, err
	}
	return res, nil
}

// SetTimeout sets the overall response wait for subsequent commands.
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Close closes the transport connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	port := t.port
	t.port = nil
	if err := port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Type returns the transport type
func (*Transport) Type() t4t.TransportType {
	return t4t.TransportUART
}

// wakeUp sends the HSU wake-up preamble: a 0x55 marker followed by enough
// padding for the controller to leave low-power mode before the frame
// arrives.
func (t *Transport) wakeUp() error {
	wake := make([]byte, 16)
	wake[0] = 0x55
	return t.writeAll(wake, "wake up")
}

// writeAll writes buf fully and drains the port.
func (t *Transport) writeAll(buf []byte, op string) error {
	n, err := t.port.Write(buf)
	if err != nil {
		return fmt.Errorf("UART %s write failed: %w", op, err)
	}
	if n != len(buf) {
		return t4t.NewTransportWriteError(op, t.portName)
	}
	if err := t.port.Drain(); err != nil {
		return fmt.Errorf("UART %s drain failed: %w", op, err)
	}
	return nil
}

// sendFrame builds and writes a command frame, preceded by a wake-up.
func (t *Transport) sendFrame(cmd byte, args []byte) error {
	frm, err := frame.Build(cmd, args)
	if err != nil {
		return t4t.NewDataTooLargeError("sendFrame", t.portName)
	}
	if err := t.wakeUp(); err != nil {
		return err
	}
	return t.writeAll(frm, "send frame")
}

// waitAck scans the inbound byte stream for the 6-byte ACK frame. Some
// adapters deliver stray bytes before it; those are skipped.
func (t *Transport) waitAck() error {
	const maxScan = 32

	window := make([]byte, 0, len(frame.ACKFrame))
	buf := make([]byte, 1)
	for scanned := 0; scanned < maxScan; {
		n, err := t.port.Read(buf)
		if err != nil {
			return fmt.Errorf("UART ACK read failed: %w", err)
		}
		if n == 0 {
			scanned++
			continue
		}

		window = append(window, buf[0])
		if len(window) < len(frame.ACKFrame) {
			continue
		}
		if frame.IsACK(window) {
			return nil
		}
		window = window[1:]
		scanned++
	}
	return t4t.NewNoACKError("waitAck", t.portName)
}

// receiveFrame accumulates port reads until a complete response frame
// arrives or the configured timeout passes. Corrupted frames are answered
// with a NACK so the controller resends.
func (t *Transport) receiveFrame(ctx context.Context) ([]byte, error) {
	const maxResend = 3

	for attempt := 0; attempt < maxResend; attempt++ {
		data, err := t.receiveFrameAttempt(ctx)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, t4t.ErrFrameCorrupted) {
			return nil, err
		}
		if nackErr := t.writeAll(frame.NACKFrame, "NACK"); nackErr != nil {
			return nil, nackErr
		}
	}
	return nil, t4t.NewFrameCorruptedError("receiveFrame", t.portName)
}

func (t *Transport) receiveFrameAttempt(ctx context.Context) ([]byte, error) {
	buf := make([]byte, 0, 512)
	chunk := make([]byte, 256)
	deadline := time.Now().Add(t.timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, t4t.NewTimeoutError("receiveFrame", t.portName)
		}

		n, err := t.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("UART response read failed: %w", err)
		}
		if n == 0 {
			continue
		}
		buf = append(buf, chunk[:n]...)

		start, _, err := frame.Locate(buf)
		switch err {
		case nil:
		case frame.ErrIncomplete, frame.ErrStartNotFound:
			continue
		default:
			return nil, t4t.NewFrameCorruptedError("receiveFrame", t.portName)
		}

		data, err := frame.Parse(buf, start)
		if err != nil {
			return nil, t4t.NewFrameCorruptedError("receiveFrame", t.portName)
		}
		return data, nil
	}
}

// Ensure Transport implements t4t.Transport
var _ t4t.Transport = (*Transport)(nil)
