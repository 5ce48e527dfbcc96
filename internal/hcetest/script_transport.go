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
	"context"
	"fmt"
	"sync"
	"time"

	t4t "github.com/TapCardProject/go-t4t"
)

// Exchange is one scripted command/response pair. Response carries the
// payload a transport would deliver (response code byte followed by data);
// Err, when set, is returned instead.
type Exchange struct {
	Err      error
	Response []byte
	Cmd      byte
}

// CommandLogEntry records a command sent through the transport.
type CommandLogEntry struct {
	Args []byte
	Cmd  byte
}

// ScriptTransport implements t4t.Transport against a fixed script of
// exchanges. When the script runs out it fails permanently, which makes a
// Target run loop terminate - convenient for tests.
type ScriptTransport struct {
	mu         sync.Mutex
	script     []Exchange
	pos        int
	CommandLog []CommandLogEntry
	timeout    time.Duration
	closed     bool
}

// NewScriptTransport creates a transport that replays the given exchanges
// in order.
func NewScriptTransport(script []Exchange) *ScriptTransport {
	return &ScriptTransport{
		script:  script,
		timeout: time.Second,
	}
}

// SendCommand replays the next scripted exchange.
func (s *ScriptTransport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	return s.SendCommandWithContext(context.Background(), cmd, args)
}

// SendCommandWithContext replays the next scripted exchange.
func (s *ScriptTransport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, t4t.NewTransportError("script", "", t4t.ErrTransportClosed, t4t.ErrorTypePermanent)
	}

	s.CommandLog = append(s.CommandLog, CommandLogEntry{
		Cmd:  cmd,
		Args: append([]byte(nil), args...),
	})

	if s.pos >= len(s.script) {
		// Script exhausted: behave like a device that went away.
		return nil, t4t.NewTransportError("script", "", t4t.ErrTransportClosed, t4t.ErrorTypePermanent)
	}

	exchange := s.script[s.pos]
	s.pos++

	if exchange.Cmd != cmd {
		return nil, fmt.Errorf("script expected command 0x%02X, got 0x%02X at step %d", exchange.Cmd, cmd, s.pos-1)
	}
	if exchange.Err != nil {
		return nil, exchange.Err
	}
	return exchange.Response, nil
}

// Close marks the transport closed; further commands fail permanently.
func (s *ScriptTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetTimeout records the requested timeout.
func (s *ScriptTransport) SetTimeout(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
	return nil
}

// Timeout returns the last timeout set, for test assertions.
func (s *ScriptTransport) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// IsConnected reports whether Close has been called.
func (s *ScriptTransport) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Type returns the mock transport type.
func (*ScriptTransport) Type() t4t.TransportType {
	return t4t.TransportMock
}

// Exhausted reports whether every scripted exchange has been consumed.
func (s *ScriptTransport) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos >= len(s.script)
}

// CommandCount returns how many times cmd was sent.
func (s *ScriptTransport) CommandCount(cmd byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.CommandLog {
		if entry.Cmd == cmd {
			count++
		}
	}
	return count
}

var _ t4t.Transport = (*ScriptTransport)(nil)
