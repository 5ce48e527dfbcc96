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
	"testing"
	"time"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		RetryTimeout:      time.Second,
	}
}

func TestRetrySucceedsAfterTransientError(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := RetryWithConfig(context.Background(), fastRetryConfig(), func() error {
		attempts++
		if attempts < 3 {
			return NewTimeoutError("op", "mock")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryWithConfig() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	permanent := NewInvalidResponseError("op", "mock")
	attempts := 0
	err := RetryWithConfig(context.Background(), fastRetryConfig(), func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("RetryWithConfig() error = %v, want ErrInvalidResponse", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on permanent errors)", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := RetryWithConfig(context.Background(), fastRetryConfig(), func() error {
		attempts++
		return NewNoACKError("op", "mock")
	})
	if err == nil {
		t.Fatal("RetryWithConfig() expected error after exhausting attempts")
	}
	if !errors.Is(err, ErrNoACK) {
		t.Errorf("RetryWithConfig() error = %v, want wrapped ErrNoACK", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithConfig(ctx, fastRetryConfig(), func() error {
		t.Error("function must not run with a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RetryWithConfig() error = %v, want context.Canceled", err)
	}
}

func TestRetryNilConfigUsesDefaults(t *testing.T) {
	t.Parallel()

	called := false
	err := RetryWithConfig(context.Background(), nil, func() error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("RetryWithConfig(nil config) err=%v called=%v", err, called)
	}
}

func TestJitteredSleepBounds(t *testing.T) {
	t.Parallel()

	backoff := 100 * time.Millisecond
	for range 50 {
		d := jitteredSleep(backoff, 0.1)
		if d < 90*time.Millisecond || d > 110*time.Millisecond {
			t.Fatalf("jitteredSleep() = %v, want within 10%% of %v", d, backoff)
		}
	}
	if d := jitteredSleep(backoff, 0); d != backoff {
		t.Errorf("jitteredSleep(jitter=0) = %v, want %v", d, backoff)
	}
}
