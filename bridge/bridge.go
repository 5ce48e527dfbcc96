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

// Package bridge exposes a tag emulator to software readers over WebSocket.
//
// Each WebSocket connection is one reader session: binary messages carry
// command APDUs and every message is answered with the response APDU. Only
// one session may be active at a time, matching a tag that can face at most
// one reader field. Connection close deactivates the emulator the same way
// a reader deselect would.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	t4t "github.com/TapCardProject/go-t4t"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
)

const (
	// mDNS service identity, discoverable by reader apps on the local network.
	mdnsServiceName = "t4t-bridge"
	mdnsServiceType = "_t4t-bridge._tcp"
	mdnsDomain      = "local."

	websocketPath = "/ws"
	healthPath    = "/health"

	writeTimeout = 10 * time.Second
)

// Config holds the bridge configuration.
type Config struct {
	// Emulator answers the APDUs received over the wire. Required.
	Emulator *t4t.TagEmulator
	// Addr is the TCP listen address, e.g. ":7420".
	Addr string
	// DisableMDNS skips the zeroconf service registration.
	DisableMDNS bool
}

// Server accepts WebSocket reader sessions and relays APDUs to the emulator.
type Server struct {
	config     Config
	httpServer *http.Server
	listener   net.Listener
	mdnsServer *zeroconf.Server
	upgrader   websocket.Upgrader

	mu            sync.Mutex
	sessionActive bool
}

// New creates a bridge server for the given emulator.
func New(config Config) (*Server, error) {
	if config.Emulator == nil {
		return nil, fmt.Errorf("bridge: %w: emulator is required", t4t.ErrInvalidParameter)
	}
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}, nil
}

// Addr returns the address the bridge is listening on, or empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listen address and serves until Stop is called. mDNS
// registration failures are logged and skipped so the bridge still works
// with an explicit address.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(websocketPath, s.handleWebSocket)
	mux.HandleFunc(healthPath, s.handleHealth)

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("bridge listen on %s failed: %w", s.config.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	server := s.httpServer
	s.mu.Unlock()

	if !s.config.DisableMDNS {
		if err := s.registerMDNS(ln); err != nil {
			t4t.Debugf("bridge: mDNS registration failed: %v", err)
		}
	}

	t4t.Debugf("bridge: listening on %s", ln.Addr())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge serve failed: %w", err)
	}
	return nil
}

// Stop shuts the bridge down and releases the mDNS registration.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	mdns := s.mdnsServer
	server := s.httpServer
	s.mdnsServer = nil
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if mdns != nil {
		mdns.Shutdown()
	}
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("bridge shutdown failed: %w", err)
		}
	}
	return nil
}

func (s *Server) registerMDNS(ln net.Listener) error {
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("bridge: cannot advertise non-TCP listener %s", ln.Addr())
	}

	txtRecords := []string{
		"version=1.0",
		"protocol=websocket",
		"path=" + websocketPath,
	}
	mdns, err := zeroconf.Register(mdnsServiceName, mdnsServiceType, mdnsDomain, addr.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = mdns
	s.mu.Unlock()
	t4t.Debugf("bridge: mDNS service %s registered on port %d", mdnsServiceType, addr.Port)
	return nil
}

// claimSession marks the session slot as taken. Returns false when a reader
// session is already active.
func (s *Server) claimSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionActive {
		return false
	}
	s.sessionActive = true
	return true
}

func (s *Server) releaseSession() {
	s.mu.Lock()
	s.sessionActive = false
	s.mu.Unlock()
}

// handleWebSocket runs one reader session over an upgraded connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.claimSession() {
		http.Error(w, "session already claimed by another reader", http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.releaseSession()
		t4t.Debugf("bridge: WebSocket upgrade failed: %v", err)
		return
	}

	sessionID := uuid.NewString()
	t4t.Debugf("bridge: session %s opened from %s", sessionID, r.RemoteAddr)

	defer func() {
		_ = conn.Close()
		s.releaseSession()
		// A dropped connection is the reader leaving the field.
		s.config.Emulator.OnDeactivated(t4t.DeactivationDeselected)
		t4t.Debugf("bridge: session %s closed", sessionID)
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			t4t.Debugf("bridge: session %s ignoring non-binary message", sessionID)
			continue
		}

		response := s.config.Emulator.Handle(message)
		t4t.Debugf("bridge: session %s exchanged % X -> % X", sessionID, message, response)

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, response); err != nil {
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"selection": s.config.Emulator.SelectionState().String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
