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

// Command probe reads an emulated (or real) Type 4 tag through a PC/SC
// reader and prints what it finds: capability container fields, the NDEF
// file control TLV and the NDEF message payload. Useful for verifying the
// emulator against an off-the-shelf contactless reader.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"

	t4t "github.com/TapCardProject/go-t4t"
	"github.com/TapCardProject/go-t4t/pkg/ndef"
	"github.com/ebfe/scard"
	"github.com/moov-io/bertlv"
)

const ndefFileControlTag = "04"

var flagReaderIndex int

func init() {
	flag.IntVar(&flagReaderIndex, "reader", 0, "Index of the PC/SC reader to use")
}

// transmit sends one APDU and splits the reply into data and status word.
func transmit(card *scard.Card, apdu []byte) ([]byte, error) {
	res, err := card.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("transmit failed: %w", err)
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("response too short: % X", res)
	}
	sw1, sw2 := res[len(res)-2], res[len(res)-1]
	if sw1 != 0x90 || sw2 != 0x00 {
		return nil, fmt.Errorf("status word %02X%02X", sw1, sw2)
	}
	return res[:len(res)-2], nil
}

func selectApplication(card *scard.Card) error {
	apdu := []byte{0x00, 0xA4, 0x04, 0x00, byte(len(t4t.NDEFTagApplicationID))}
	apdu = append(apdu, t4t.NDEFTagApplicationID...)
	apdu = append(apdu, 0x00)
	if _, err := transmit(card, apdu); err != nil {
		return fmt.Errorf("SELECT application: %w", err)
	}
	return nil
}

func selectFile(card *scard.Card, fileID uint16) error {
	apdu := []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, byte(fileID >> 8), byte(fileID)}
	if _, err := transmit(card, apdu); err != nil {
		return fmt.Errorf("SELECT file %04X: %w", fileID, err)
	}
	return nil
}

func readBinary(card *scard.Card, offset uint16, length byte) ([]byte, error) {
	apdu := []byte{0x00, 0xB0, byte(offset >> 8), byte(offset), length}
	data, err := transmit(card, apdu)
	if err != nil {
		return nil, fmt.Errorf("READ BINARY at %d: %w", offset, err)
	}
	return data, nil
}

// describeCC prints the capability container fields and returns the MLe so
// the NDEF read can size its chunks.
func describeCC(cc []byte) (int, error) {
	if len(cc) < 15 {
		return 0, fmt.Errorf("capability container too short: %d bytes", len(cc))
	}

	cclen := binary.BigEndian.Uint16(cc[0:2])
	mle := binary.BigEndian.Uint16(cc[3:5])
	mlc := binary.BigEndian.Uint16(cc[5:7])

	fmt.Printf("Capability container (% X)\n", cc)
	fmt.Printf("  CCLEN:           %d\n", cclen)
	fmt.Printf("  Mapping version: %d.%d\n", cc[2]>>4, cc[2]&0x0F)
	fmt.Printf("  MLe / MLc:       %d / %d\n", mle, mlc)

	tlvs, err := bertlv.Decode(cc[7:])
	if err != nil {
		return 0, fmt.Errorf("failed to decode CC TLV area: %w", err)
	}
	for _, tlv := range tlvs {
		if tlv.Tag != ndefFileControlTag || len(tlv.Value) != 6 {
			fmt.Printf("  TLV %s: % X\n", tlv.Tag, tlv.Value)
			continue
		}
		fmt.Printf("  NDEF file control TLV\n")
		fmt.Printf("    File ID:      %04X\n", binary.BigEndian.Uint16(tlv.Value[0:2]))
		fmt.Printf("    Max size:     %d\n", binary.BigEndian.Uint16(tlv.Value[2:4]))
		fmt.Printf("    Read access:  %02X\n", tlv.Value[4])
		fmt.Printf("    Write access: %02X\n", tlv.Value[5])
	}

	if mle < 3 {
		return 0, fmt.Errorf("implausible MLe %d", mle)
	}
	return int(mle), nil
}

// readNDEF reads the NLEN prefix and then the message in MLe-sized chunks.
func readNDEF(card *scard.Card, mle int) ([]byte, error) {
	if err := selectFile(card, t4t.FileIDNDEF); err != nil {
		return nil, err
	}

	nlenRaw, err := readBinary(card, 0, 2)
	if err != nil {
		return nil, err
	}
	if len(nlenRaw) != 2 {
		return nil, fmt.Errorf("NLEN read returned %d bytes", len(nlenRaw))
	}
	nlen := int(binary.BigEndian.Uint16(nlenRaw))
	fmt.Printf("NLEN: %d\n", nlen)

	// MLe counts the status word too, so data chunks are two bytes smaller.
	chunkSize := mle - 2
	if chunkSize > 255 {
		chunkSize = 255
	}

	payload := make([]byte, 0, nlen)
	for offset := 2; len(payload) < nlen; {
		remaining := nlen - len(payload)
		if remaining > chunkSize {
			remaining = chunkSize
		}
		chunk, err := readBinary(card, uint16(offset), byte(remaining))
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, errors.New("NDEF read stalled: empty chunk")
		}
		payload = append(payload, chunk...)
		offset += len(chunk)
	}
	return payload, nil
}

func run() error {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("failed to establish PC/SC context: %w", err)
	}
	defer func() {
		if err := ctx.Release(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to release context: %v\n", err)
		}
	}()

	readers, err := ctx.ListReaders()
	if err != nil {
		return fmt.Errorf("failed to list readers: %w", err)
	}
	if len(readers) == 0 {
		return errors.New("no PC/SC reader found")
	}
	if flagReaderIndex < 0 || flagReaderIndex >= len(readers) {
		return fmt.Errorf("reader index %d out of range (%d readers)", flagReaderIndex, len(readers))
	}
	readerName := readers[flagReaderIndex]
	fmt.Printf("Using reader: %s\n", readerName)

	card, err := ctx.Connect(readerName, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		return fmt.Errorf("failed to connect to card: %w", err)
	}
	defer func() {
		if err := card.Disconnect(scard.LeaveCard); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to disconnect card: %v\n", err)
		}
	}()

	if err := selectApplication(card); err != nil {
		return err
	}
	if err := selectFile(card, t4t.FileIDCapabilityContainer); err != nil {
		return err
	}
	cc, err := readBinary(card, 0, 15)
	if err != nil {
		return err
	}
	mle, err := describeCC(cc)
	if err != nil {
		return err
	}

	payload, err := readNDEF(card, mle)
	if err != nil {
		return err
	}
	fmt.Printf("NDEF message (%d bytes):\n%s", len(payload), hex.Dump(payload))
	describeRecords(payload)
	return nil
}

// describeRecords prints a human-readable view of the recovered records.
// Parse failures are reported but not fatal: the raw dump already happened.
func describeRecords(payload []byte) {
	msg, err := ndef.Parse(payload)
	if err != nil {
		fmt.Printf("Could not parse NDEF records: %v\n", err)
		return
	}

	for i, rec := range msg {
		fmt.Printf("Record %d: TNF %d, type %q\n", i, rec.TNF, rec.Type)
		if rec.TNF != ndef.TNFWellKnown {
			continue
		}
		switch rec.Type {
		case ndef.TextRecordType:
			if text, lang, err := ndef.DecodeText(rec.Payload); err == nil {
				fmt.Printf("  Text (%s): %s\n", lang, text)
			}
		case ndef.URIRecordType:
			if uri, err := ndef.DecodeURI(rec.Payload); err == nil {
				fmt.Printf("  URI: %s\n", uri)
			}
		}
	}
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
