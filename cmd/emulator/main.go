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

// Command emulator presents an NDEF message as a Type 4 tag, either through
// a PN532 controller in target mode or through the WebSocket bridge.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	t4t "github.com/TapCardProject/go-t4t"
	"github.com/TapCardProject/go-t4t/bridge"
	"github.com/TapCardProject/go-t4t/pkg/ndef"
	"github.com/TapCardProject/go-t4t/transport/i2c"
	"github.com/TapCardProject/go-t4t/transport/spi"
	"github.com/TapCardProject/go-t4t/transport/uart"
)

type config struct {
	devicePath  string
	listenAddr  string
	messagePath string
	messageHex  string
	text        string
	url         string
	disableMDNS bool
	debug       bool
}

var (
	flagDevicePath  string
	flagListenAddr  string
	flagMessagePath string
	flagMessageHex  string
	flagText        string
	flagURL         string
	flagDisableMDNS bool
	flagDebug       bool
)

func init() {
	flag.StringVar(&flagDevicePath, "device", "", "PN532 device path (no hardware if empty)")
	flag.StringVar(&flagListenAddr, "listen", "", "WebSocket bridge listen address, e.g. :7420 (disabled if empty)")
	flag.StringVar(&flagMessagePath, "message", "", "File containing the raw NDEF message to present")
	flag.StringVar(&flagMessageHex, "hex", "", "NDEF message as a hex string")
	flag.StringVar(&flagText, "text", "", "Present an NDEF text record with this content")
	flag.StringVar(&flagURL, "url", "", "Present an NDEF URI record with this URL")
	flag.BoolVar(&flagDisableMDNS, "no-mdns", false, "Disable mDNS advertisement of the bridge")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
}

func parseConfig() *config {
	cfg := &config{
		devicePath:  flagDevicePath,
		listenAddr:  flagListenAddr,
		messagePath: flagMessagePath,
		messageHex:  flagMessageHex,
		text:        flagText,
		url:         flagURL,
		disableMDNS: flagDisableMDNS,
		debug:       flagDebug,
	}

	if cfg.debug {
		t4t.SetDebugEnabled(true)
	}

	return cfg
}

// loadMessage builds the NDEF message from whichever source flag was given.
func loadMessage(cfg *config) ([]byte, error) {
	sources := 0
	for _, set := range []bool{cfg.messageHex != "", cfg.messagePath != "", cfg.text != "", cfg.url != ""} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return nil, errors.New("-message, -hex, -text and -url are mutually exclusive")
	}

	switch {
	case cfg.messageHex != "":
		message, err := hex.DecodeString(strings.ReplaceAll(cfg.messageHex, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid -hex value: %w", err)
		}
		return message, nil
	case cfg.messagePath != "":
		message, err := os.ReadFile(cfg.messagePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read message file: %w", err)
		}
		return message, nil
	case cfg.text != "":
		return ndef.Message{ndef.NewTextRecord(cfg.text, "en")}.Marshal()
	case cfg.url != "":
		return ndef.Message{ndef.NewURIRecord(cfg.url)}.Marshal()
	default:
		return nil, errors.New("an NDEF message is required: pass -message, -hex, -text or -url")
	}
}

// newTransport creates a transport from the device path, picking the bus by
// path pattern: i2c and spi paths are named after their bus, everything
// else is treated as a serial port.
func newTransport(path string) (t4t.Transport, error) {
	pathLower := strings.ToLower(path)

	if strings.Contains(pathLower, "i2c") {
		transport, err := i2c.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create I2C transport for %s: %w", path, err)
		}
		return transport, nil
	}

	if strings.Contains(pathLower, "spi") {
		transport, err := spi.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport for %s: %w", path, err)
		}
		return transport, nil
	}

	transport, err := uart.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create UART transport for %s: %w", path, err)
	}
	return transport, nil
}

// runTarget presents the emulator through a PN532 in target mode.
func runTarget(ctx context.Context, emulator *t4t.TagEmulator, cfg *config) error {
	transport, err := newTransport(cfg.devicePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := transport.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close transport: %v\n", err)
		}
	}()

	target, err := t4t.NewTarget(transport, emulator)
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}

	_, _ = fmt.Printf("Emulating tag on %s. Press Ctrl+C to stop...\n", cfg.devicePath)
	if err := target.Run(ctx); err != nil {
		return fmt.Errorf("target session failed: %w", err)
	}
	return nil
}

// runBridge presents the emulator to software readers over WebSocket.
func runBridge(ctx context.Context, emulator *t4t.TagEmulator, cfg *config) error {
	server, err := bridge.New(bridge.Config{
		Emulator:    emulator,
		Addr:        cfg.listenAddr,
		DisableMDNS: cfg.disableMDNS,
	})
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- server.Start() }()

	_, _ = fmt.Printf("Bridge listening on %s. Press Ctrl+C to stop...\n", cfg.listenAddr)

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("bridge failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		if err := server.Stop(context.Background()); err != nil {
			return err
		}
		<-done
		return ctx.Err()
	}
}

func run(ctx context.Context, cfg *config) error {
	if cfg.devicePath == "" && cfg.listenAddr == "" {
		return errors.New("nothing to do: pass -device for hardware or -listen for the bridge")
	}

	message, err := loadMessage(cfg)
	if err != nil {
		return err
	}

	emulator := t4t.NewTagEmulator()
	emulator.SetMessage(message)
	_, _ = fmt.Printf("Presenting %d-byte NDEF message\n", len(message))

	// Hardware and bridge can run side by side; the first failure wins.
	done := make(chan error, 2)
	running := 0

	if cfg.devicePath != "" {
		running++
		go func() { done <- runTarget(ctx, emulator, cfg) }()
	}
	if cfg.listenAddr != "" {
		running++
		go func() { done <- runBridge(ctx, emulator, cfg) }()
	}

	for range running {
		if err := <-done; err != nil {
			return err
		}
	}
	return nil
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg := parseConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
