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

package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestChecksum(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{
			name: "empty data",
			data: []byte{},
			want: 0,
		},
		{
			name: "single byte",
			data: []byte{0x42},
			want: 0x42,
		},
		{
			name: "overflow wraps",
			data: []byte{0xFF, 0x01},
			want: 0x00,
		},
		{
			name: "target frame data",
			data: []byte{0xD4, 0x86},
			want: 0x5A,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Checksum(tt.data); got != tt.want {
				t.Errorf("Checksum() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	// TgGetData carries no arguments: LEN=2 (TFI+cmd), DCS over D4 86.
	got, err := Build(0x86, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x86, 0xA6, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("Build() = % X, want % X", got, want)
	}
}

func TestBuildTooLarge(t *testing.T) {
	t.Parallel()
	if _, err := Build(0x8E, make([]byte, 254)); !errors.Is(err, ErrDataTooLarge) {
		t.Errorf("Build() error = %v, want ErrDataTooLarge", err)
	}
}

func TestLocateWithLeadingNoise(t *testing.T) {
	t.Parallel()

	// A TgSetData status response (D5 8F 00) preceded by ready-bit noise.
	buf := []byte{0x01, 0x00, 0x00, 0xFF, 0x03, 0xFD, 0xD5, 0x8F, 0x00, 0x9C, 0x00}
	start, total, err := Locate(buf)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if start != 2 {
		t.Errorf("Locate() start = %d, want 2", start)
	}
	if total != len(buf) {
		t.Errorf("Locate() total = %d, want %d", total, len(buf))
	}

	payload, err := Parse(buf, start)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !bytes.Equal(payload, []byte{0x8F, 0x00}) {
		t.Errorf("Parse() = % X, want 8F 00", payload)
	}
}

func TestLocateIncomplete(t *testing.T) {
	t.Parallel()
	buf := []byte{0x00, 0xFF, 0x05, 0xFB, 0xD5}
	if _, _, err := Locate(buf); !errors.Is(err, ErrIncomplete) {
		t.Errorf("Locate() error = %v, want ErrIncomplete", err)
	}
}

func TestLocateLengthChecksumMismatch(t *testing.T) {
	t.Parallel()
	buf := []byte{0x00, 0xFF, 0x02, 0x00, 0xD5, 0x87, 0x00, 0x00}
	if _, _, err := Locate(buf); !errors.Is(err, ErrLengthChecksum) {
		t.Errorf("Locate() error = %v, want ErrLengthChecksum", err)
	}
}

func TestParseDataChecksumMismatch(t *testing.T) {
	t.Parallel()
	buf := []byte{0x00, 0xFF, 0x03, 0xFD, 0xD5, 0x8F, 0x00, 0xFF, 0x00}
	if _, err := Parse(buf, 0); !errors.Is(err, ErrDataChecksum) {
		t.Errorf("Parse() error = %v, want ErrDataChecksum", err)
	}
}

func TestParseErrorFrame(t *testing.T) {
	t.Parallel()
	buf := []byte{0x00, 0xFF, 0x01, 0xFF, 0x7F, 0x81, 0x00}
	_, err := Parse(buf, 0)
	if !errors.Is(err, ErrErrorFrame) {
		t.Errorf("Parse() error = %v, want ErrErrorFrame", err)
	}
}

func TestIsACK(t *testing.T) {
	t.Parallel()
	if !IsACK([]byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xD5}) {
		t.Error("IsACK() = false for valid ACK with trailing data")
	}
	if IsACK(NACKFrame) {
		t.Error("IsACK() = true for NACK frame")
	}
}
