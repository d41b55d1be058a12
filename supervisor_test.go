// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import (
	"testing"
	"time"
)

func TestSupervisorBackoffBounds(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	cfg.InitialReconnectDelay = 100 * time.Millisecond
	cfg.MaxReconnectDelay = time.Second
	s := NewSupervisor("opc.tcp://localhost:4840", cfg)

	for attempt := 1; attempt <= 10; attempt++ {
		d := s.backoff(attempt)
		if d < cfg.InitialReconnectDelay/2 {
			t.Fatalf("attempt %d: delay %v below jitter floor", attempt, d)
		}
		if d > cfg.MaxReconnectDelay {
			t.Fatalf("attempt %d: delay %v above cap", attempt, d)
		}
	}
	// Later attempts saturate at the cap (modulo jitter halving).
	if d := s.backoff(10); d < cfg.MaxReconnectDelay/2 {
		t.Fatalf("attempt 10: delay %v did not approach cap", d)
	}
}

func TestSupervisorPublishTarget(t *testing.T) {
	cfg := DefaultSupervisorConfig()
	cfg.MinPublishInterval = 100 * time.Millisecond
	s := NewSupervisor("opc.tcp://localhost:4840", cfg)

	if got := s.publishTarget(); got != 0 {
		t.Fatalf("no subscriptions: target %d, want 0", got)
	}

	s.mu.Lock()
	s.cache = append(s.cache, &cachedSubscription{}, &cachedSubscription{})
	s.mu.Unlock()

	// Without a measured round-trip the pool floor is 2 per subscription.
	if got := s.publishTarget(); got != 4 {
		t.Fatalf("no rtt: target %d, want 4", got)
	}

	// A round-trip of 3.5 publish intervals scales the pool by ceil(3.5).
	s.mu.Lock()
	s.lastRTT = 350 * time.Millisecond
	s.mu.Unlock()
	if got := s.publishTarget(); got != 16 {
		t.Fatalf("rtt 350ms: target %d, want 16", got)
	}
}

func TestSupervisorStateInitial(t *testing.T) {
	s := NewSupervisor("opc.tcp://localhost:4840", DefaultSupervisorConfig())
	if s.State() != StateDisconnected {
		t.Fatalf("initial state %v", s.State())
	}
	if s.Client() != nil {
		t.Fatal("client set before connect")
	}
}
