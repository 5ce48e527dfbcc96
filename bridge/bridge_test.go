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

package bridge

import (
	"context"
	"net/http"
	"testing"
	"time"

	t4t "github.com/TapCardProject/go-t4t"
	"github.com/TapCardProject/go-t4t/internal/hcetest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startBridge runs a bridge on a random port and returns its ws:// URL.
func startBridge(t *testing.T, emulator *t4t.TagEmulator) string {
	t.Helper()

	server, err := New(Config{Emulator: emulator, Addr: "127.0.0.1:0", DisableMDNS: true})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, server.Stop(ctx))
		require.NoError(t, <-errCh)
	})

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() == "" {
		require.True(t, time.Now().Before(deadline), "bridge did not start listening")
		time.Sleep(5 * time.Millisecond)
	}
	return "ws://" + server.Addr() + websocketPath
}

// dialTransceive opens a reader session and returns a transceive over it.
func dialTransceive(t *testing.T, url string) (hcetest.Transceive, *websocket.Conn) {
	t.Helper()

	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}

	tx := func(command []byte) ([]byte, error) {
		if err := conn.WriteMessage(websocket.BinaryMessage, command); err != nil {
			return nil, err
		}
		_, response, err := conn.ReadMessage()
		return response, err
	}
	return tx, conn
}

func TestBridgeServesNDEFReadSession(t *testing.T) {
	emulator := t4t.NewTagEmulator()
	message := []byte{0xD1, 0x01, 0x08, 0x54, 0x02, 0x65, 0x6E, 0x68, 0x65, 0x6C, 0x6C, 0x6F}
	emulator.SetMessage(message)

	url := startBridge(t, emulator)
	tx, conn := dialTransceive(t, url)
	defer conn.Close()

	reader := hcetest.NewReader(tx)
	payload, err := reader.ReadNDEF()
	require.NoError(t, err)
	assert.Equal(t, message, payload)
}

func TestBridgeRejectsSecondSession(t *testing.T) {
	emulator := t4t.NewTagEmulator()
	emulator.SetMessage([]byte{0x01})

	url := startBridge(t, emulator)
	_, first := dialTransceive(t, url)
	defer first.Close()

	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, res)
	defer res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestBridgeDisconnectDeactivatesEmulator(t *testing.T) {
	emulator := t4t.NewTagEmulator()
	emulator.SetMessage([]byte{0x01})

	url := startBridge(t, emulator)
	tx, conn := dialTransceive(t, url)

	reader := hcetest.NewReader(tx)
	_, err := reader.ReadCapabilityContainer()
	require.NoError(t, err)
	require.NotEqual(t, t4t.SelectionNone, emulator.SelectionState())

	require.NoError(t, conn.Close())

	deadline := time.Now().Add(2 * time.Second)
	for emulator.SelectionState() != t4t.SelectionNone {
		require.True(t, time.Now().Before(deadline), "emulator was not deactivated on disconnect")
		time.Sleep(5 * time.Millisecond)
	}

	// The session slot frees up for the next reader.
	tx2, conn2 := dialTransceive(t, url)
	defer conn2.Close()
	_, err = hcetest.NewReader(tx2).ReadCapabilityContainer()
	assert.NoError(t, err)
}

func TestBridgeIgnoresTextMessages(t *testing.T) {
	emulator := t4t.NewTagEmulator()
	emulator.SetMessage([]byte{0x01})

	url := startBridge(t, emulator)
	tx, conn := dialTransceive(t, url)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	// Binary traffic still works after the stray text message.
	_, err := hcetest.NewReader(tx).ReadCapabilityContainer()
	assert.NoError(t, err)
}

func TestNewRequiresEmulator(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Addr: ":0"})
	assert.ErrorIs(t, err, t4t.ErrInvalidParameter)
}
