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

// Package t4t emulates an NFC Forum Type 4 Tag: a deterministic APDU state
// machine that serves a fixed Capability Container and a caller-supplied
// NDEF message to any compliant reader, read-only.
package t4t

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/TapCardProject/go-t4t/internal/syncutil"
)

// SelectionState tracks which file the reader selected last. READ BINARY
// carries no file identifier, so the emulator must remember the outcome of
// the most recent SELECT to know which file a read addresses.
type SelectionState int

const (
	// SelectionNone means no file is selected; binary reads are invalid.
	SelectionNone SelectionState = iota
	// SelectionCapabilityContainer means reads serve the CC file.
	SelectionCapabilityContainer
	// SelectionNDEFFile means reads serve the NLEN prefix and NDEF bytes.
	SelectionNDEFFile
)

// String returns a human-readable state name.
func (s SelectionState) String() string {
	switch s {
	case SelectionCapabilityContainer:
		return "capability container"
	case SelectionNDEFFile:
		return "ndef file"
	case SelectionNone:
		return "none"
	default:
		return "none"
	}
}

// DeactivationReason tells the emulator why a session ended.
type DeactivationReason int

const (
	// DeactivationLinkLoss means the reader's RF field went away.
	DeactivationLinkLoss DeactivationReason = iota
	// DeactivationDeselected means the reader explicitly deselected the tag.
	DeactivationDeselected
)

// nlenBytes is the size of the big-endian length prefix at offset 0 of the
// NDEF file.
const nlenBytes = 2

// TagEmulator is one emulation session of a Type 4 Tag. The transport feeds
// it command APDUs one at a time via Handle and signals field loss via
// OnDeactivated; the host application configures the served payload via
// SetMessage before presenting the device to a reader.
//
// Handle runs synchronously and never blocks on I/O. The message reference
// is swapped atomically so a SetMessage racing an in-flight Handle can never
// expose a half-written payload.
type TagEmulator struct {
	message atomic.Pointer[[]byte]

	mu    syncutil.Mutex
	state SelectionState
}

// NewTagEmulator returns an emulator with no file selected and no message
// configured. Until SetMessage is called every command fails with 6A82.
func NewTagEmulator() *TagEmulator {
	return &TagEmulator{}
}

// SetMessage stores msg as the NDEF payload served to readers. The bytes
// are copied, so the caller may reuse its buffer. Calling it again replaces
// the payload atomically; an empty message is valid and serves NLEN 0000.
func (e *TagEmulator) SetMessage(msg []byte) {
	stored := make([]byte, len(msg))
	copy(stored, msg)
	e.message.Store(&stored)
	Debugf("emulator: message set (%d bytes)", len(stored))
}

// ClearMessage removes the configured payload. Subsequent commands fail
// with 6A82 until SetMessage is called again.
func (e *TagEmulator) ClearMessage() {
	e.message.Store(nil)
	Debugln("emulator: message cleared")
}

// Message returns a copy of the currently configured payload, or nil when
// none is set.
func (e *TagEmulator) Message() []byte {
	msg := e.message.Load()
	if msg == nil {
		return nil
	}
	out := make([]byte, len(*msg))
	copy(out, *msg)
	return out
}

// OnDeactivated resets the selection state. The transport must call it
// whenever the reader drops the field or deselects the tag; it is
// idempotent and safe to call at any time.
func (e *TagEmulator) OnDeactivated(reason DeactivationReason) {
	e.mu.Lock()
	e.state = SelectionNone
	e.mu.Unlock()
	Debugf("emulator: deactivated (reason=%d)", reason)
}

// SelectionState returns the current file selection. Exposed for tests and
// diagnostics; protocol decisions should go through Handle.
func (e *TagEmulator) SelectionState() SelectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Handle processes one command APDU and returns the response APDU. It is
// total: any byte sequence, including an empty one, produces a well-formed
// response ending in a two-byte status word. Errors are always status
// words, never Go errors.
func (e *TagEmulator) Handle(raw []byte) []byte {
	msg := e.message.Load()
	if msg == nil {
		// Nothing to serve yet. Every command fails until the host
		// configures a payload.
		return appendStatus(nil, StatusFileNotFound)
	}

	cmd := ParseCommand(raw)
	Debugf("emulator: %s (%d bytes in)", cmd.Type, len(raw))

	e.mu.Lock()
	defer e.mu.Unlock()

	switch cmd.Type {
	case CommandSelectApplication:
		// Selecting the NDEF application does not touch file selection.
		return appendStatus(nil, StatusSuccess)
	case CommandSelectFile:
		return e.selectFile(cmd.FileID)
	case CommandReadBinary:
		return e.readBinary(*msg, int(cmd.Offset), cmd.Length)
	case CommandUnrecognized:
		return appendStatus(nil, StatusInstructionNotSupported)
	default:
		return appendStatus(nil, StatusInstructionNotSupported)
	}
}

func (e *TagEmulator) selectFile(fileID uint16) []byte {
	switch fileID {
	case FileIDCapabilityContainer:
		e.state = SelectionCapabilityContainer
	case FileIDNDEF:
		e.state = SelectionNDEFFile
	default:
		return appendStatus(nil, StatusFileNotFound)
	}
	return appendStatus(nil, StatusSuccess)
}

func (e *TagEmulator) readBinary(msg []byte, offset, length int) []byte {
	switch e.state {
	case SelectionCapabilityContainer:
		return readCapabilityContainer(offset, length)
	case SelectionNDEFFile:
		return readNDEFFile(msg, offset, length)
	case SelectionNone:
		return appendStatus(nil, StatusFileNotFound)
	default:
		return appendStatus(nil, StatusFileNotFound)
	}
}

// readCapabilityContainer serves bytes of the fixed CC file. Reads are
// truncated to the file end; an offset at or past the end is an error.
func readCapabilityContainer(offset, length int) []byte {
	if offset >= len(capabilityContainer) {
		return appendStatus(nil, StatusFileNotFound)
	}
	end := offset + length
	if end > len(capabilityContainer) {
		end = len(capabilityContainer)
	}
	return appendStatus(capabilityContainer[offset:end], StatusSuccess)
}

// readNDEFFile serves the logical NDEF file: a two-byte big-endian length
// prefix (NLEN) at offset 0, then the message bytes from offset 2 on.
// Readers first fetch NLEN, then stream the payload in chunks sized to the
// limits advertised in the CC; chunks may repeat or arrive out of order.
func readNDEFFile(msg []byte, offset, length int) []byte {
	if offset == 0 && length == nlenBytes {
		nlen := make([]byte, nlenBytes)
		binary.BigEndian.PutUint16(nlen, uint16(len(msg)))
		return appendStatus(nlen, StatusSuccess)
	}
	if offset >= nlenBytes {
		dataOffset := offset - nlenBytes
		if dataOffset >= len(msg) {
			return appendStatus(nil, StatusFileNotFound)
		}
		end := dataOffset + length
		if end > len(msg) {
			end = len(msg)
		}
		return appendStatus(msg[dataOffset:end], StatusSuccess)
	}
	// offset 1, or offset 0 with a length other than the NLEN prefix:
	// nothing a conforming reader ever asks for.
	return appendStatus(nil, StatusFileNotFound)
}
