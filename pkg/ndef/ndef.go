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

// Package ndef builds and parses NDEF messages, the payload format a Type 4
// tag serves from its NDEF file. Only whole (non-chunked) records are
// supported.
package ndef

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TNF (Type Name Format) values as defined by NFC Forum.
const (
	TNFEmpty       byte = 0x00
	TNFWellKnown   byte = 0x01
	TNFMedia       byte = 0x02
	TNFAbsoluteURI byte = 0x03
	TNFExternal    byte = 0x04
	TNFUnknown     byte = 0x05
	TNFUnchanged   byte = 0x06

	tnfMask byte = 0x07
	flagMB  byte = 0x80
	flagME  byte = 0x40
	flagCF  byte = 0x20
	flagSR  byte = 0x10
	flagIL  byte = 0x08

	shortRecordMax = 255
)

var (
	ErrEmptyMessage    = errors.New("ndef: empty message")
	ErrTruncatedRecord = errors.New("ndef: truncated record")
	ErrInvalidTNF      = errors.New("ndef: invalid TNF value")
	ErrChunkedRecord   = errors.New("ndef: chunked records not supported")
)

// Record is one NDEF record. The MB/ME framing flags are derived from the
// record's position in its Message, not stored here.
type Record struct {
	Type    string
	ID      string
	Payload []byte
	TNF     byte
}

// Message is an ordered list of records serialized as one NDEF message.
type Message []Record

// Marshal serializes the message, setting MB on the first record and ME on
// the last.
func (m Message) Marshal() ([]byte, error) {
	if len(m) == 0 {
		return nil, ErrEmptyMessage
	}

	var out []byte
	for i, rec := range m {
		encoded, err := encodeRecord(rec, i == 0, i == len(m)-1)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, encoded...)
	}
	return out, nil
}

// Parse reads records from data until the record carrying the ME flag.
// Trailing bytes after the message end are ignored.
func Parse(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}

	var msg Message
	offset := 0
	for offset < len(data) {
		rec, consumed, last, err := parseRecord(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", offset, err)
		}
		msg = append(msg, rec)
		offset += consumed
		if last {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("%w: message end flag never seen", ErrTruncatedRecord)
}

func encodeRecord(r Record, first, last bool) ([]byte, error) {
	if r.TNF > TNFUnchanged {
		return nil, ErrInvalidTNF
	}

	flags := r.TNF & tnfMask
	if first {
		flags |= flagMB
	}
	if last {
		flags |= flagME
	}
	short := len(r.Payload) <= shortRecordMax
	if short {
		flags |= flagSR
	}
	if r.ID != "" {
		flags |= flagIL
	}

	out := make([]byte, 0, 8+len(r.Type)+len(r.ID)+len(r.Payload))
	out = append(out, flags, byte(len(r.Type)))
	if short {
		out = append(out, byte(len(r.Payload)))
	} else {
		out = binary.BigEndian.AppendUint32(out, uint32(len(r.Payload)))
	}
	if r.ID != "" {
		out = append(out, byte(len(r.ID)))
	}
	out = append(out, r.Type...)
	out = append(out, r.ID...)
	out = append(out, r.Payload...)
	return out, nil
}

func parseRecord(data []byte) (rec Record, consumed int, last bool, err error) {
	if len(data) < 3 {
		return Record{}, 0, false, ErrTruncatedRecord
	}

	flags := data[0]
	if flags&flagCF != 0 {
		return Record{}, 0, false, ErrChunkedRecord
	}
	rec.TNF = flags & tnfMask
	last = flags&flagME != 0

	typeLen := int(data[1])
	offset := 2

	var payloadLen int
	if flags&flagSR != 0 {
		payloadLen = int(data[offset])
		offset++
	} else {
		if offset+4 > len(data) {
			return Record{}, 0, false, ErrTruncatedRecord
		}
		payloadLen = int(binary.BigEndian.Uint32(data[offset : offset+4]))
		offset += 4
	}

	idLen := 0
	if flags&flagIL != 0 {
		if offset >= len(data) {
			return Record{}, 0, false, ErrTruncatedRecord
		}
		idLen = int(data[offset])
		offset++
	}

	if offset+typeLen+idLen+payloadLen > len(data) {
		return Record{}, 0, false, ErrTruncatedRecord
	}

	rec.Type = string(data[offset : offset+typeLen])
	offset += typeLen
	rec.ID = string(data[offset : offset+idLen])
	offset += idLen
	rec.Payload = append([]byte(nil), data[offset:offset+payloadLen]...)
	offset += payloadLen

	return rec, offset, last, nil
}
