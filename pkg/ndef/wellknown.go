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

package ndef

import (
	"errors"
	"strings"
)

// Well-known record types.
const (
	TextRecordType = "T"
	URIRecordType  = "U"
)

const (
	textUTF16Flag    = 0x80
	textLangCodeMask = 0x3F
	maxLanguageLen   = 63
)

var (
	ErrTextPayloadTooShort = errors.New("ndef: text payload too short")
	ErrTextTruncated       = errors.New("ndef: text payload truncated")
	ErrURIPayloadTooShort  = errors.New("ndef: URI payload too short")
	ErrURIUnknownPrefix    = errors.New("ndef: unknown URI prefix code")
)

// uriPrefixes is the NFC Forum URI RTD abbreviation table. Code 0x00 means
// the payload carries the full URI.
var uriPrefixes = []string{
	"",
	"http://www.",
	"https://www.",
	"http://",
	"https://",
	"tel:",
	"mailto:",
	"ftp://anonymous:anonymous@",
	"ftp://ftp.",
	"ftps://",
	"sftp://",
	"smb://",
	"nfs://",
	"ftp://",
	"dav://",
	"news:",
	"telnet://",
	"imap:",
	"rtsp://",
	"urn:",
	"pop:",
	"sip:",
	"sips:",
	"tftp:",
	"btspp://",
	"btl2cap://",
	"btgoep://",
	"tcpobex://",
	"irdaobex://",
	"file://",
	"urn:epc:id:",
	"urn:epc:tag:",
	"urn:epc:pat:",
	"urn:epc:raw:",
	"urn:epc:",
	"urn:nfc:",
}

// NewTextRecord builds a Text record. language is an IANA language code
// such as "en" or "en-US"; it defaults to "en" and is truncated to the
// 6-bit length the status byte can carry.
func NewTextRecord(text, language string) Record {
	if language == "" {
		language = "en"
	}
	if len(language) > maxLanguageLen {
		language = language[:maxLanguageLen]
	}

	payload := make([]byte, 0, 1+len(language)+len(text))
	payload = append(payload, byte(len(language))) // UTF-8
	payload = append(payload, language...)
	payload = append(payload, text...)

	return Record{TNF: TNFWellKnown, Type: TextRecordType, Payload: payload}
}

// DecodeText extracts the text and language code from a Text record payload.
func DecodeText(payload []byte) (text, language string, err error) {
	if len(payload) < 1 {
		return "", "", ErrTextPayloadTooShort
	}
	langLen := int(payload[0] & textLangCodeMask)
	if len(payload) < 1+langLen {
		return "", "", ErrTextTruncated
	}
	return string(payload[1+langLen:]), string(payload[1 : 1+langLen]), nil
}

// NewURIRecord builds a URI record, compressing the URI with the longest
// matching NFC Forum prefix.
func NewURIRecord(uri string) Record {
	best := 0
	for i := 1; i < len(uriPrefixes); i++ {
		if strings.HasPrefix(uri, uriPrefixes[i]) && len(uriPrefixes[i]) > len(uriPrefixes[best]) {
			best = i
		}
	}

	suffix := uri[len(uriPrefixes[best]):]
	payload := make([]byte, 0, 1+len(suffix))
	payload = append(payload, byte(best))
	payload = append(payload, suffix...)

	return Record{TNF: TNFWellKnown, Type: URIRecordType, Payload: payload}
}

// DecodeURI expands a URI record payload to the full URI.
func DecodeURI(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", ErrURIPayloadTooShort
	}
	code := int(payload[0])
	if code >= len(uriPrefixes) {
		return "", ErrURIUnknownPrefix
	}
	return uriPrefixes[code] + string(payload[1:]), nil
}
