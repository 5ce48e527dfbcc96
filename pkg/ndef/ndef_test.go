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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRecordWireFormat(t *testing.T) {
	t.Parallel()

	msg := Message{NewTextRecord("hello", "en")}
	data, err := msg.Marshal()
	require.NoError(t, err)

	// MB|ME|SR well-known, type "T", payload = status + "en" + "hello".
	expected := []byte{
		0xD1, 0x01, 0x08, 0x54,
		0x02, 0x65, 0x6E,
		0x68, 0x65, 0x6C, 0x6C, 0x6F,
	}
	assert.Equal(t, expected, data)
}

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	original := Message{
		NewTextRecord("Ada Lovelace", "en"),
		NewURIRecord("https://cards.example.com/ada"),
		{TNF: TNFMedia, Type: "text/vcard", Payload: []byte("BEGIN:VCARD\nEND:VCARD")},
	}
	data, err := original.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, parsed, 3)

	text, lang, err := DecodeText(parsed[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", text)
	assert.Equal(t, "en", lang)

	uri, err := DecodeURI(parsed[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, "https://cards.example.com/ada", uri)

	assert.Equal(t, "text/vcard", parsed[2].Type)
	assert.Equal(t, []byte("BEGIN:VCARD\nEND:VCARD"), parsed[2].Payload)
}

func TestLongRecordUsesFourBytePayloadLength(t *testing.T) {
	t.Parallel()

	msg := Message{NewTextRecord(strings.Repeat("x", 400), "en")}
	data, err := msg.Marshal()
	require.NoError(t, err)
	assert.Zero(t, data[0]&0x10, "SR flag must be clear for long records")

	parsed, err := Parse(data)
	require.NoError(t, err)
	text, _, err := DecodeText(parsed[0].Payload)
	require.NoError(t, err)
	assert.Len(t, text, 400)
}

func TestURIPrefixCompression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		uri        string
		prefixCode byte
	}{
		{"https www prefers longest match", "https://www.example.com", 0x02},
		{"https", "https://example.com", 0x04},
		{"tel", "tel:+15551234567", 0x05},
		{"mailto", "mailto:ada@example.com", 0x06},
		{"no known prefix", "spotify:track:abc", 0x00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := NewURIRecord(tt.uri)
			assert.Equal(t, tt.prefixCode, rec.Payload[0])

			uri, err := DecodeURI(rec.Payload)
			require.NoError(t, err)
			assert.Equal(t, tt.uri, uri)
		})
	}
}

func TestRecordWithID(t *testing.T) {
	t.Parallel()

	msg := Message{{TNF: TNFExternal, Type: "example.com:card", ID: "card1", Payload: []byte{0x01}}}
	data, err := msg.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "card1", parsed[0].ID)
	assert.Equal(t, "example.com:card", parsed[0].Type)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		data    []byte
	}{
		{ErrEmptyMessage, "empty input", nil},
		{ErrTruncatedRecord, "header only", []byte{0xD1, 0x01}},
		{ErrTruncatedRecord, "payload cut short", []byte{0xD1, 0x01, 0x08, 0x54, 0x02}},
		{ErrChunkedRecord, "chunked record", []byte{0xB1, 0x01, 0x01, 0x54, 0x00}},
		{ErrTruncatedRecord, "no message end", []byte{0x91, 0x01, 0x01, 0x54, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.data)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMarshalErrors(t *testing.T) {
	t.Parallel()

	_, err := Message{}.Marshal()
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = Message{{TNF: 0x07}}.Marshal()
	assert.ErrorIs(t, err, ErrInvalidTNF)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	_, _, err := DecodeText(nil)
	assert.ErrorIs(t, err, ErrTextPayloadTooShort)

	_, _, err = DecodeText([]byte{0x05, 0x65})
	assert.ErrorIs(t, err, ErrTextTruncated)

	_, err = DecodeURI(nil)
	assert.ErrorIs(t, err, ErrURIPayloadTooShort)

	_, err = DecodeURI([]byte{0xF0, 0x61})
	assert.ErrorIs(t, err, ErrURIUnknownPrefix)
}
