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

package hcetest

import (
	"bytes"
	"errors"
	"testing"

	t4t "github.com/TapCardProject/go-t4t"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderReadNDEF(t *testing.T) {
	t.Parallel()

	// Larger than one CC-bounded chunk to force chunked reads.
	payload := bytes.Repeat([]byte{0xA5, 0x5A, 0x01}, 60)
	emulator := t4t.NewTagEmulator()
	emulator.SetMessage(payload)

	reader := NewReader(EmulatorTransceive(emulator))
	got, err := reader.ReadNDEF()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReaderReadCapabilityContainer(t *testing.T) {
	t.Parallel()

	emulator := t4t.NewTagEmulator()
	emulator.SetMessage([]byte{0x01})

	reader := NewReader(EmulatorTransceive(emulator))
	cc, err := reader.ReadCapabilityContainer()
	require.NoError(t, err)
	assert.Equal(t, t4t.CapabilityContainer(), cc)
}

func TestReaderUnconfiguredTag(t *testing.T) {
	t.Parallel()

	emulator := t4t.NewTagEmulator()
	reader := NewReader(EmulatorTransceive(emulator))
	_, err := reader.ReadNDEF()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatusWord)
}

func TestReaderEmptyMessage(t *testing.T) {
	t.Parallel()

	emulator := t4t.NewTagEmulator()
	emulator.SetMessage([]byte{})

	reader := NewReader(EmulatorTransceive(emulator))
	got, err := reader.ReadNDEF()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScriptTransportMismatch(t *testing.T) {
	t.Parallel()

	tr := NewScriptTransport([]Exchange{{Cmd: 0x14, Response: []byte{0x15}}})
	_, err := tr.SendCommand(0x86, nil)
	require.Error(t, err)
}

func TestScriptTransportExhausted(t *testing.T) {
	t.Parallel()

	tr := NewScriptTransport(nil)
	_, err := tr.SendCommand(0x14, []byte{0x01})
	require.Error(t, err)
	assert.True(t, t4t.IsFatal(err), "an exhausted script must look like a dead device")
	assert.True(t, errors.Is(err, t4t.ErrTransportClosed))
}
