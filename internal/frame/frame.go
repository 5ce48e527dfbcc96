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

// Package frame implements the PN532 host link framing shared by the UART,
// I2C and SPI transports: preamble, start code, length + length checksum,
// TFI-prefixed payload, data checksum and postamble.
package frame

import "errors"

// Frame direction identifiers (TFI).
const (
	// TFIHostToDevice marks frames sent from the host to the controller.
	TFIHostToDevice = 0xD4
	// TFIDeviceToHost marks frames sent from the controller to the host.
	TFIDeviceToHost = 0xD5
)

// maxDataLen is the payload limit of a normal (non-extended) frame: the
// LEN byte counts TFI + command + args and caps at 255.
const maxDataLen = 255

var (
	// ACKFrame is sent by either side to acknowledge a frame.
	ACKFrame = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}
	// NACKFrame asks the controller to resend its last response.
	NACKFrame = []byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}
)

// Framing errors.
var (
	ErrDataTooLarge     = errors.New("frame: data exceeds normal frame size")
	ErrIncomplete       = errors.New("frame: incomplete")
	ErrStartNotFound    = errors.New("frame: start code not found")
	ErrLengthChecksum   = errors.New("frame: length checksum mismatch")
	ErrDataChecksum     = errors.New("frame: data checksum mismatch")
	ErrUnexpectedTFI    = errors.New("frame: unexpected TFI")
	ErrErrorFrame       = errors.New("frame: controller error frame")
	ErrTruncatedPayload = errors.New("frame: truncated payload")
)

// Checksum returns the 8-bit sum of data, the building block of both the
// length and data checksums (stored as two's complement on the wire).
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Build assembles a host-to-device command frame.
func Build(cmd byte, args []byte) ([]byte, error) {
	dataLen := 2 + len(args) // TFI + cmd + args
	if dataLen > maxDataLen {
		return nil, ErrDataTooLarge
	}

	buf := make([]byte, 0, 7+dataLen)
	buf = append(buf,
		0x00, 0x00, 0xFF, // preamble + start code
		byte(dataLen),
		^byte(dataLen)+1, // LCS: LEN + LCS == 0 mod 256
		TFIHostToDevice,
		cmd,
	)
	buf = append(buf, args...)

	dcs := ^(TFIHostToDevice + cmd + Checksum(args)) + 1
	buf = append(buf, dcs, 0x00) // DCS + postamble
	return buf, nil
}

// Locate finds a frame in buf, tolerating leading noise bytes. It returns
// the offset of the start code and the total byte count of the frame
// (through the postamble). ErrIncomplete means more bytes are needed;
// ErrStartNotFound means buf holds no start code at all.
func Locate(buf []byte) (start, total int, err error) {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == 0x00 && buf[i+1] == 0xFF {
			start = i
			if len(buf) < start+4 {
				return start, 0, ErrIncomplete
			}
			dataLen := int(buf[start+2])
			if (buf[start+2]+buf[start+3])&0xFF != 0 {
				return start, 0, ErrLengthChecksum
			}
			total = start + 4 + dataLen + 2 // start code + LEN/LCS + data + DCS + postamble
			if len(buf) < total {
				return start, total, ErrIncomplete
			}
			return start, total, nil
		}
	}
	return 0, 0, ErrStartNotFound
}

// Parse validates a complete device-to-host frame located at buf[start:]
// and returns its payload: the response code followed by response data
// (the TFI is checked and stripped). A controller error frame (TFI 0x7F)
// yields ErrErrorFrame with the error code as the single payload byte.
func Parse(buf []byte, start int) ([]byte, error) {
	if len(buf) < start+4 {
		return nil, ErrIncomplete
	}
	dataLen := int(buf[start+2])
	dataStart := start + 4
	dataEnd := dataStart + dataLen
	if dataEnd+1 > len(buf) {
		return nil, ErrTruncatedPayload
	}
	if dataLen < 1 {
		return nil, ErrTruncatedPayload
	}

	data := buf[dataStart:dataEnd]
	dcs := buf[dataEnd]
	if Checksum(data)+dcs != 0 {
		return nil, ErrDataChecksum
	}

	switch data[0] {
	case TFIDeviceToHost:
		return data[1:], nil
	case 0x7F:
		// Syntax error frame: no payload beyond the TFI.
		return []byte{0x7F}, ErrErrorFrame
	default:
		return nil, ErrUnexpectedTFI
	}
}

// IsACK reports whether buf begins with an ACK frame.
func IsACK(buf []byte) bool {
	if len(buf) < len(ACKFrame) {
		return false
	}
	for i, b := range ACKFrame {
		if buf[i] != b {
			return false
		}
	}
	return true
}
