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

// Package hcetest provides test doubles for exercising tag emulation
// without NFC hardware: a simulated Type 4 Tag reader and a scripted
// transport for driving the target session loop.
package hcetest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	t4t "github.com/TapCardProject/go-t4t"
)

// Transceive sends one command APDU and returns the response APDU. It
// abstracts where the emulator sits: in-process, behind a WebSocket
// bridge, or on real hardware.
type Transceive func(command []byte) ([]byte, error)

// EmulatorTransceive returns a Transceive that talks to an in-process
// emulator directly.
func EmulatorTransceive(emulator *t4t.TagEmulator) Transceive {
	return func(command []byte) ([]byte, error) {
		return emulator.Handle(command), nil
	}
}

// Reader simulates a compliant Type 4 Tag reader: it performs the
// application/file selection dance and streams the NDEF payload in chunks
// bounded by the maximum response size the tag's CC advertises.
type Reader struct {
	tx Transceive
}

// NewReader creates a reader over the given transceive function.
func NewReader(tx Transceive) *Reader {
	return &Reader{tx: tx}
}

var (
	readerSelectApp  = []byte{0x00, 0xA4, 0x04, 0x00, 0x07, 0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01, 0x00}
	readerSelectCC   = []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x03}
	readerSelectNDEF = []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x04}
)

// ErrStatusWord reports a non-success status word from the tag.
var ErrStatusWord = errors.New("unexpected status word")

// transceiveOK sends a command and strips a 9000 trailer from the response.
func (r *Reader) transceiveOK(command []byte) ([]byte, error) {
	resp, err := r.tx(command)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: response too short (% X)", ErrStatusWord, resp)
	}
	sw := resp[len(resp)-2:]
	if !bytes.Equal(sw, []byte{0x90, 0x00}) {
		return nil, fmt.Errorf("%w: % X", ErrStatusWord, sw)
	}
	return resp[:len(resp)-2], nil
}

func (r *Reader) readBinary(offset uint16, length byte) ([]byte, error) {
	return r.transceiveOK([]byte{0x00, 0xB0, byte(offset >> 8), byte(offset), length})
}

// ReadCapabilityContainer selects the application and CC file and returns
// the CC bytes.
func (r *Reader) ReadCapabilityContainer() ([]byte, error) {
	if _, err := r.transceiveOK(readerSelectApp); err != nil {
		return nil, fmt.Errorf("select application: %w", err)
	}
	if _, err := r.transceiveOK(readerSelectCC); err != nil {
		return nil, fmt.Errorf("select CC: %w", err)
	}
	cc, err := r.readBinary(0, 15)
	if err != nil {
		return nil, fmt.Errorf("read CC: %w", err)
	}
	return cc, nil
}

// ReadNDEF performs the full Type 4 Tag read sequence and returns the NDEF
// payload: select application, select and read the CC, select the NDEF
// file, read NLEN, then stream the payload in CC-bounded chunks.
func (r *Reader) ReadNDEF() ([]byte, error) {
	cc, err := r.ReadCapabilityContainer()
	if err != nil {
		return nil, err
	}
	if len(cc) < 15 {
		return nil, fmt.Errorf("short capability container: %d bytes", len(cc))
	}

	// MLe bounds how many bytes one READ BINARY may return; leave room for
	// the status word.
	maxChunk := binary.BigEndian.Uint16(cc[3:5]) - 2

	if _, err := r.transceiveOK(readerSelectNDEF); err != nil {
		return nil, fmt.Errorf("select NDEF file: %w", err)
	}

	nlen, err := r.readBinary(0, 2)
	if err != nil {
		return nil, fmt.Errorf("read NLEN: %w", err)
	}
	if len(nlen) != 2 {
		return nil, fmt.Errorf("NLEN read returned %d bytes", len(nlen))
	}
	remaining := int(binary.BigEndian.Uint16(nlen))

	payload := make([]byte, 0, remaining)
	offset := uint16(2)
	for remaining > 0 {
		chunkLen := remaining
		if chunkLen > int(maxChunk) {
			chunkLen = int(maxChunk)
		}
		chunk, err := r.readBinary(offset, byte(chunkLen))
		if err != nil {
			return nil, fmt.Errorf("read payload at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			return nil, fmt.Errorf("empty chunk at offset %d", offset)
		}
		payload = append(payload, chunk...)
		offset += uint16(len(chunk))
		remaining -= len(chunk)
	}
	return payload, nil
}
