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

import "encoding/binary"

// CommandType identifies which of the Type 4 Tag read-protocol commands a
// raw APDU decodes to.
type CommandType int

const (
	// CommandUnrecognized is any APDU that matches no known template,
	// including commands too short to parse.
	CommandUnrecognized CommandType = iota
	// CommandSelectApplication is SELECT by AID of the NDEF Tag Application.
	CommandSelectApplication
	// CommandSelectFile is SELECT by file identifier (CC or NDEF file).
	CommandSelectFile
	// CommandReadBinary is an offset-addressed binary read of the
	// currently selected file.
	CommandReadBinary
)

// String returns a human-readable command type name.
func (c CommandType) String() string {
	switch c {
	case CommandSelectApplication:
		return "SELECT application"
	case CommandSelectFile:
		return "SELECT file"
	case CommandReadBinary:
		return "READ BINARY"
	case CommandUnrecognized:
		return "unrecognized"
	default:
		return "unrecognized"
	}
}

// Command is the typed form of an inbound command APDU. FileID is set only
// for CommandSelectFile; Offset and Length only for CommandReadBinary.
type Command struct {
	Type   CommandType
	FileID uint16
	Offset uint16
	Length int
}

// ParseCommand decodes a raw command APDU into a Command. It never fails:
// anything that matches no template comes back as CommandUnrecognized, and
// the caller answers it with the "instruction not supported" status word.
func ParseCommand(raw []byte) Command {
	switch {
	case matchesTemplate(raw, selectApplicationAPDU):
		return Command{Type: CommandSelectApplication}
	case matchesTemplate(raw, selectCapabilityContainerAPDU):
		return Command{Type: CommandSelectFile, FileID: FileIDCapabilityContainer}
	case matchesTemplate(raw, selectNDEFFileAPDU):
		return Command{Type: CommandSelectFile, FileID: FileIDNDEF}
	case isReadBinary(raw):
		return Command{
			Type:   CommandReadBinary,
			Offset: binary.BigEndian.Uint16(raw[2:4]),
			Length: int(raw[4]),
		}
	default:
		return Command{Type: CommandUnrecognized}
	}
}

// matchesTemplate reports whether raw equals the template exactly, or the
// template followed by a single trailing byte. Readers differ on whether
// they append an Le byte to SELECT commands; the trailing byte's value is
// deliberately not validated.
func matchesTemplate(raw, template []byte) bool {
	if len(raw) != len(template) && len(raw) != len(template)+1 {
		return false
	}
	for i := range template {
		if raw[i] != template[i] {
			return false
		}
	}
	return true
}

// isReadBinary reports whether raw is a READ BINARY command:
// CLA 00, INS B0, two offset bytes and a length byte.
func isReadBinary(raw []byte) bool {
	return len(raw) >= readBinaryMinBytes &&
		raw[0] == claStandard &&
		raw[1] == insReadBinary
}
