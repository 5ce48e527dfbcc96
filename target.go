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

package t4t

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PN532 command codes used in target (card emulation) mode.
const (
	cmdSAMConfiguration  = 0x14
	cmdTgInitAsTarget    = 0x8C
	cmdTgGetData         = 0x86
	cmdTgSetData         = 0x8E
	cmdTgGetTargetStatus = 0x8A
)

// TgInitAsTarget mode byte: passive-only (no active communication mode)
// and PICC-only (ISO 14443-4 card emulation, firmware handles RATS/PPS).
const targetModePassivePICC = 0x05

// TargetConfig controls how the controller presents itself to readers
// during anticollision. The defaults emulate a generic ISO 14443-4A tag;
// anticollision itself happens in controller firmware, below this layer.
type TargetConfig struct {
	// SENSRes is the ATQA sent during anticollision (LSB first).
	SENSRes [2]byte
	// NFCID1 is the tag's UID tail; the controller prepends 0x08 to mark
	// a dynamically generated UID.
	NFCID1 [3]byte
	// SELRes is the SAK byte; 0x20 announces ISO-DEP compliance.
	SELRes byte
	// HistoricalBytes are appended to the ATS (may be empty).
	HistoricalBytes []byte
	// ArmTimeout bounds one TgInitAsTarget attempt. Arming blocks until a
	// reader selects the emulated tag, so the run loop re-arms on timeout.
	ArmTimeout time.Duration
	// ExchangeTimeout bounds one TgGetData/TgSetData round trip within an
	// active session.
	ExchangeTimeout time.Duration
}

// DefaultTargetConfig returns the configuration used when none is given.
func DefaultTargetConfig() *TargetConfig {
	return &TargetConfig{
		SENSRes:         [2]byte{0x04, 0x00},
		NFCID1:          [3]byte{0x12, 0x34, 0x56},
		SELRes:          0x20,
		ArmTimeout:      2 * time.Second,
		ExchangeTimeout: 2 * time.Second,
	}
}

// Target binds a TagEmulator to a controller transport and runs emulation
// sessions: it arms the controller as a passive ISO-DEP target, then relays
// command APDUs from the reader into the emulator and responses back, one
// at a time with no overlap.
type Target struct {
	transport Transport
	emulator  *TagEmulator
	config    *TargetConfig
	retry     *RetryConfig
}

// TargetOption configures a Target.
type TargetOption func(*Target)

// WithTargetConfig overrides the anticollision and timing configuration.
func WithTargetConfig(config *TargetConfig) TargetOption {
	return func(t *Target) {
		t.config = config
	}
}

// WithRetryConfig overrides the retry policy used for transient transport
// failures while arming.
func WithRetryConfig(config *RetryConfig) TargetOption {
	return func(t *Target) {
		t.retry = config
	}
}

// NewTarget creates a target bound to the given transport and emulator.
func NewTarget(transport Transport, emulator *TagEmulator, opts ...TargetOption) (*Target, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is nil", ErrInvalidParameter)
	}
	if emulator == nil {
		return nil, fmt.Errorf("%w: emulator is nil", ErrInvalidParameter)
	}

	target := &Target{
		transport: transport,
		emulator:  emulator,
		config:    DefaultTargetConfig(),
		retry:     DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(target)
	}
	return target, nil
}

// Run emulates the tag until ctx is cancelled or the transport fails
// permanently. Each pass arms the controller, serves one reader session to
// completion, signals deactivation to the emulator and re-arms for the
// next reader.
func (t *Target) Run(ctx context.Context) error {
	if err := t.configureSAM(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		first, err := t.arm(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if IsFatal(err) {
				return err
			}
			// No reader appeared within the arm window, or a transient
			// glitch. Keep waiting.
			Debugf("target: arm attempt failed: %v", err)
			continue
		}

		if err := t.serve(ctx, first); err != nil {
			if IsFatal(err) {
				return err
			}
			Debugf("target: session ended with error: %v", err)
		}
	}
}

// configureSAM puts the controller's security access module in normal mode
// so the RF interface is driven directly by host commands.
func (t *Target) configureSAM(ctx context.Context) error {
	return RetryWithConfig(ctx, t.retry, func() error {
		res, err := t.transport.SendCommandWithContext(ctx, cmdSAMConfiguration, []byte{0x01})
		if err != nil {
			return fmt.Errorf("SAMConfiguration failed: %w", err)
		}
		if len(res) < 1 || res[0] != cmdSAMConfiguration+1 {
			return NewInvalidResponseError("configureSAM", "")
		}
		return nil
	})
}

// arm configures the controller as a passive target and blocks until a
// reader selects it. It returns the first command APDU the reader sent.
func (t *Target) arm(ctx context.Context) ([]byte, error) {
	if err := t.transport.SetTimeout(t.config.ArmTimeout); err != nil {
		return nil, fmt.Errorf("failed to set arm timeout: %w", err)
	}

	res, err := t.transport.SendCommandWithContext(ctx, cmdTgInitAsTarget, t.buildInitArgs())
	if err != nil {
		return nil, err
	}
	if len(res) < 2 || res[0] != cmdTgInitAsTarget+1 {
		return nil, NewInvalidResponseError("arm", "")
	}

	// res[1] is the activation mode byte, the rest is the initiator's
	// first frame: the opening command APDU.
	Debugf("target: activated (mode=0x%02X, %d bytes initial command)", res[1], len(res)-2)
	return res[2:], nil
}

// buildInitArgs assembles the TgInitAsTarget parameter block: mode,
// MifareParams (SENS_RES + NFCID1t + SEL_RES), FeliCaParams, NFCID3t,
// general bytes length and historical bytes.
func (t *Target) buildInitArgs() []byte {
	args := make([]byte, 0, 37+len(t.config.HistoricalBytes))
	args = append(args, targetModePassivePICC)
	args = append(args, t.config.SENSRes[0], t.config.SENSRes[1])
	args = append(args, t.config.NFCID1[0], t.config.NFCID1[1], t.config.NFCID1[2])
	args = append(args, t.config.SELRes)
	args = append(args, make([]byte, 18)...) // FeliCaParams: unused in PICC mode
	args = append(args, make([]byte, 10)...) // NFCID3t: unused in PICC mode
	args = append(args, 0x00)                // LEN Gt: no general bytes
	args = append(args, byte(len(t.config.HistoricalBytes)))
	args = append(args, t.config.HistoricalBytes...)
	return args
}

// serve relays APDUs for one reader session. The first command arrives
// with target activation; afterwards TgGetData blocks until the reader's
// next command. The session ends when the reader releases the target,
// deselects it, or the field drops.
func (t *Target) serve(ctx context.Context, first []byte) error {
	if err := t.transport.SetTimeout(t.config.ExchangeTimeout); err != nil {
		return fmt.Errorf("failed to set exchange timeout: %w", err)
	}

	command := first
	for {
		if err := ctx.Err(); err != nil {
			t.emulator.OnDeactivated(DeactivationLinkLoss)
			return err
		}

		response := t.emulator.Handle(command)
		if err := t.tgSetData(ctx, response); err != nil {
			return t.endSession(err)
		}

		next, err := t.tgGetData(ctx)
		if err != nil {
			return t.endSession(err)
		}
		command = next
	}
}

// endSession translates controller deactivation codes into OnDeactivated
// and swallows them; anything else propagates to the run loop.
func (t *Target) endSession(err error) error {
	var de *DeviceError
	if errors.As(err, &de) && de.IsDeactivation() {
		reason := DeactivationLinkLoss
		if de.ErrorCode == 0x29 {
			reason = DeactivationDeselected
		}
		t.emulator.OnDeactivated(reason)
		Debugf("target: session over: %v", de)
		return nil
	}
	t.emulator.OnDeactivated(DeactivationLinkLoss)
	return err
}

// tgGetData waits for the next command APDU from the reader.
func (t *Target) tgGetData(ctx context.Context) ([]byte, error) {
	res, err := t.transport.SendCommandWithContext(ctx, cmdTgGetData, nil)
	if err != nil {
		return nil, err
	}
	if len(res) < 2 || res[0] != cmdTgGetData+1 {
		return nil, NewInvalidResponseError("tgGetData", "")
	}
	if res[1] != 0x00 {
		return nil, NewDeviceError(res[1], "TgGetData", "")
	}
	return res[2:], nil
}

// tgSetData hands the response APDU to the controller for transmission.
func (t *Target) tgSetData(ctx context.Context, data []byte) error {
	res, err := t.transport.SendCommandWithContext(ctx, cmdTgSetData, data)
	if err != nil {
		return err
	}
	if len(res) < 2 || res[0] != cmdTgSetData+1 {
		return NewInvalidResponseError("tgSetData", "")
	}
	if res[1] != 0x00 {
		return NewDeviceError(res[1], "TgSetData", "")
	}
	return nil
}

// Status returns the controller's current target state and bit rates, for
// diagnostics.
func (t *Target) Status(ctx context.Context) (state, bitrate byte, err error) {
	res, err := t.transport.SendCommandWithContext(ctx, cmdTgGetTargetStatus, nil)
	if err != nil {
		return 0, 0, err
	}
	if len(res) < 3 || res[0] != cmdTgGetTargetStatus+1 {
		return 0, 0, NewInvalidResponseError("Status", "")
	}
	return res[1], res[2], nil
}
