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

package t4t

// Status words (ISO/IEC 7816-4). Every response APDU ends in one of these.
var (
	// StatusSuccess indicates normal processing (SW 9000).
	StatusSuccess = []byte{0x90, 0x00}
	// StatusFileNotFound indicates file/data not found or an invalid
	// offset (SW 6A82).
	StatusFileNotFound = []byte{0x6A, 0x82}
	// StatusInstructionNotSupported indicates an unrecognized
	// instruction (SW 6D00).
	StatusInstructionNotSupported = []byte{0x6D, 0x00}
)

// Elementary file identifiers from the NFC Forum Type 4 Tag specification.
const (
	// FileIDCapabilityContainer is the CC file identifier (E103).
	FileIDCapabilityContainer uint16 = 0xE103
	// FileIDNDEF is the NDEF file identifier (E104).
	FileIDNDEF uint16 = 0xE104
)

// NDEFTagApplicationID is the NDEF Tag Application AID (D2760000850101)
// selected by readers before any file access.
var NDEFTagApplicationID = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}

// Command APDU templates. Readers may append a trailing Le byte to any of
// these; matching tolerates that (see matchesTemplate).
var (
	selectApplicationAPDU = []byte{
		0x00, 0xA4, 0x04, 0x00, 0x07,
		0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01,
	}
	selectCapabilityContainerAPDU = []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x03}
	selectNDEFFileAPDU            = []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x04}
)

// READ BINARY framing: CLA 00, INS B0, P1/P2 big-endian offset, Le length.
const (
	claStandard        = 0x00
	insReadBinary      = 0xB0
	readBinaryMinBytes = 5
)

// capabilityContainer is the fixed CC file served at E103. It advertises a
// Type 4 Tag with a 2048-byte NDEF file at E104, read access granted and
// write access denied (the emulated tag is read-only).
//
//	00 0F        CCLEN (15 bytes)
//	20           mapping version 2.0
//	00 3B        MLe (max response size)
//	00 34        MLc (max command size)
//	04 06        NDEF File Control TLV (T, L)
//	E1 04        NDEF file identifier
//	08 00        maximum NDEF file size (2048)
//	00           read access: allowed
//	FF           write access: denied
var capabilityContainer = []byte{
	0x00, 0x0F, 0x20, 0x00, 0x3B, 0x00, 0x34,
	0x04, 0x06, 0xE1, 0x04, 0x08, 0x00, 0x00, 0xFF,
}

// CapabilityContainer returns a copy of the 15-byte CC file the emulator
// serves. Callers may inspect or log it but cannot alter what is served.
func CapabilityContainer() []byte {
	cc := make([]byte, len(capabilityContainer))
	copy(cc, capabilityContainer)
	return cc
}

// appendStatus returns data followed by the given status word as a fresh
// slice, leaving both inputs untouched.
func appendStatus(data, status []byte) []byte {
	out := make([]byte, 0, len(data)+len(status))
	out = append(out, data...)
	out = append(out, status...)
	return out
}
