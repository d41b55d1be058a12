// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package session

import (
	"context"
	"testing"
	"time"

	"github.com/opcua-core/opcua/ua"
)

type okVerifier struct{}

func (okVerifier) VerifySessionSignature(serverCertificate, clientNonce, signature []byte) error {
	return nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	t.Cleanup(m.Close)
	return m
}

func activateReq(tok ua.Encodable) *ua.ActivateSessionRequest {
	return &ua.ActivateSessionRequest{UserIdentityToken: ua.NewExtensionObject(tok)}
}

func TestCreateActivateClose(t *testing.T) {
	m := newTestManager(t)
	nonce := []byte{1, 2, 3}
	s, resp := m.CreateSession(&ua.CreateSessionRequest{
		SessionName:             "test",
		RequestedSessionTimeout: 30000,
	}, 7, nonce)
	if s.State() != StateCreated {
		t.Fatalf("state = %v, want Created", s.State())
	}
	if resp.SessionID == nil || resp.AuthenticationToken == nil {
		t.Fatal("missing session/auth ids")
	}
	if resp.RevisedSessionTimeout != 30000 {
		t.Fatalf("revised timeout %v", resp.RevisedSessionTimeout)
	}

	_, aresp, err := m.ActivateSession(context.Background(), resp.AuthenticationToken,
		activateReq(&ua.AnonymousIdentityToken{PolicyID: "Anonymous"}), 7, okVerifier{}, nil)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(aresp.ServerNonce) != 32 {
		t.Fatalf("server nonce length %d", len(aresp.ServerNonce))
	}
	if s.State() != StateActivated {
		t.Fatalf("state = %v, want Activated", s.State())
	}

	if _, err := m.Authenticate(resp.AuthenticationToken, 7); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	// A request on a different channel than the bound one is rejected.
	if _, err := m.Authenticate(resp.AuthenticationToken, 8); err != ua.StatusBadSecureChannelClosed {
		t.Fatalf("wrong channel: %v", err)
	}

	var deleted []uint32
	s.AddSubscription(11)
	if _, err := m.CloseSession(resp.AuthenticationToken, &ua.CloseSessionRequest{DeleteSubscriptions: true},
		func(ids []uint32) { deleted = ids }); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != 11 {
		t.Fatalf("deleted subscriptions %v", deleted)
	}
	if _, ok := m.Lookup(resp.AuthenticationToken); ok {
		t.Fatal("session still registered after close")
	}
}

func TestActivateRebindsChannel(t *testing.T) {
	m := newTestManager(t)
	_, resp := m.CreateSession(&ua.CreateSessionRequest{}, 1, []byte{9})
	if _, _, err := m.ActivateSession(context.Background(), resp.AuthenticationToken,
		activateReq(&ua.AnonymousIdentityToken{}), 1, okVerifier{}, nil); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// ActivateSession on a different channel rebinds, invalidating the
	// prior binding while keeping the session id.
	s2, _, err := m.ActivateSession(context.Background(), resp.AuthenticationToken,
		activateReq(&ua.AnonymousIdentityToken{}), 2, okVerifier{}, nil)
	if err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if !s2.ID.Equal(resp.SessionID) {
		t.Fatal("session id changed on rebind")
	}
	if _, err := m.Authenticate(resp.AuthenticationToken, 1); err != ua.StatusBadSecureChannelClosed {
		t.Fatalf("old channel still accepted: %v", err)
	}
	if _, err := m.Authenticate(resp.AuthenticationToken, 2); err != nil {
		t.Fatalf("new channel rejected: %v", err)
	}
}

func TestActivateRejectsBadIdentity(t *testing.T) {
	m := newTestManager(t)
	_, resp := m.CreateSession(&ua.CreateSessionRequest{}, 1, nil)
	_, _, err := m.ActivateSession(context.Background(), resp.AuthenticationToken,
		activateReq(&ua.UserNameIdentityToken{UserName: ""}), 1, okVerifier{}, nil)
	if err != ua.StatusBadIdentityTokenRejected {
		t.Fatalf("empty username: %v", err)
	}
}

func TestIdleSweepClosesSessions(t *testing.T) {
	m := newTestManager(t)
	_, resp := m.CreateSession(&ua.CreateSessionRequest{RequestedSessionTimeout: 1}, 1, nil)
	s, _, err := m.ActivateSession(context.Background(), resp.AuthenticationToken,
		activateReq(&ua.AnonymousIdentityToken{}), 1, okVerifier{}, nil)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	m.sweepIdle()
	if s.State() != StateClosed {
		t.Fatalf("state = %v, want Closed after idle sweep", s.State())
	}
	if _, err := m.Authenticate(resp.AuthenticationToken, 1); err != ua.StatusBadSessionIDInvalid {
		t.Fatalf("expired session authenticate: %v", err)
	}
}

func TestIdentityKey(t *testing.T) {
	m := newTestManager(t)
	_, resp := m.CreateSession(&ua.CreateSessionRequest{}, 1, nil)
	s, _, err := m.ActivateSession(context.Background(), resp.AuthenticationToken,
		activateReq(&ua.UserNameIdentityToken{UserName: "alice", Password: []byte("pw")}), 1, okVerifier{}, nil)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if s.IdentityKey() != "username:alice" {
		t.Fatalf("identity key %q", s.IdentityKey())
	}
}
