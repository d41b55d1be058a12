// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package session implements the server-side session state machine:
// Created -> Activated -> Closed, identity validation, idle-timeout sweep
// and channel rebinding on ActivateSession.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/opcua-core/opcua/internal/telemetry"
	"github.com/opcua-core/opcua/ua"
)

// State is a Session's lifecycle stage.
type State int

const (
	StateCreated State = iota
	StateActivated
	StateClosed
)

// SignatureVerifier is the subset of uasc.SecureChannel's crypto surface
// ActivateSession needs; a *uasc.SecureChannel satisfies it directly.
type SignatureVerifier interface {
	VerifySessionSignature(serverCertificate, clientNonce, signature []byte) error
}

// Session is one authenticated user context, bound to at most one secure
// channel at any instant.
type Session struct {
	mu sync.Mutex

	ID                  *ua.NodeID
	AuthToken           *ua.NodeID
	Name                string
	UserIdentity        ua.Encodable
	LocaleIDs           []string
	Timeout             time.Duration
	ClientCertificate   []byte
	ServerNonce         []byte
	subscriptions       map[uint32]struct{}

	state        State
	channelID    uint32
	lastActivity time.Time
}

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChannelID returns the secure channel id this session is currently bound
// to: the creating channel until ActivateSession rebinds it.
func (s *Session) ChannelID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// Touch records activity on this session, resetting the idle-timeout
// clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// AddSubscription/RemoveSubscription/Subscriptions track the set of
// SubscriptionIds owned by this session, consulted by the dispatcher and
// the subscription engine on CloseSession/TransferSubscriptions.
func (s *Session) AddSubscription(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[id] = struct{}{}
}

func (s *Session) RemoveSubscription(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, id)
}

func (s *Session) Subscriptions() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		out = append(out, id)
	}
	return out
}

// IdentityKey reduces the session's validated identity token to a
// comparable string, the value TransferSubscriptions matches between the
// old and new session ("the caller authenticated with the same user
// identity").
func (s *Session) IdentityKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t := s.UserIdentity.(type) {
	case *ua.UserNameIdentityToken:
		return "username:" + t.UserName
	case *ua.X509IdentityToken:
		sum := sha256.Sum256(t.CertificateData)
		return "x509:" + hex.EncodeToString(sum[:])
	case *ua.IssuedIdentityToken:
		sum := sha256.Sum256(t.TokenData)
		return "issued:" + hex.EncodeToString(sum[:])
	default:
		return "anonymous"
	}
}

// Manager owns every Session for one server process exclusively;
// callers reach them only by AuthToken lookup.
type Manager struct {
	mu       sync.Mutex
	byToken  map[string]*Session
	sweepStop chan struct{}

	// DefaultTimeout is used when a CreateSessionRequest asks for zero or a
	// negative timeout.
	DefaultTimeout time.Duration
	// SweepInterval controls how often idle sessions are checked.
	SweepInterval time.Duration
}

// NewManager constructs a Manager and starts its idle-sweep goroutine.
func NewManager() *Manager {
	m := &Manager{
		byToken:        make(map[string]*Session),
		sweepStop:      make(chan struct{}),
		DefaultTimeout: 60 * time.Second,
		SweepInterval:  5 * time.Second,
	}
	go m.sweepLoop()
	return m
}

// Close stops the idle-sweep goroutine.
func (m *Manager) Close() { close(m.sweepStop) }

func (m *Manager) sweepLoop() {
	t := time.NewTicker(m.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.sweepIdle()
		case <-m.sweepStop:
			return
		}
	}
}

func (m *Manager) sweepIdle() {
	now := time.Now()
	m.mu.Lock()
	var expired []*Session
	for _, s := range m.byToken {
		s.mu.Lock()
		idle := s.state == StateActivated && now.Sub(s.lastActivity) > s.Timeout
		s.mu.Unlock()
		if idle {
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()
	for _, s := range expired {
		log.Info().Str("session", s.ID.String()).Msg("server/session: idle timeout, closing")
		m.closeSession(s, true)
	}
}

// CreateSession allocates a new Created-state session bound to channelID,
// returning the response fields the dispatcher copies onto the wire
// (Part 4, 5.6.2). The session starts in Created state, holding the
// server's nonce and the client certificate.
func (m *Manager) CreateSession(req *ua.CreateSessionRequest, channelID uint32, serverNonce []byte) (*Session, *ua.CreateSessionResponse) {
	timeout := time.Duration(req.RequestedSessionTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = m.DefaultTimeout
	}

	s := &Session{
		ID:                ua.NewStringNodeID(1, uuid.NewString()),
		AuthToken:         ua.NewStringNodeID(1, uuid.NewString()),
		Name:              req.SessionName,
		LocaleIDs:         nil,
		Timeout:           timeout,
		ClientCertificate: req.ClientCertificate,
		ServerNonce:       serverNonce,
		subscriptions:     make(map[uint32]struct{}),
		state:             StateCreated,
		channelID:         channelID,
		lastActivity:      time.Now(),
	}

	m.mu.Lock()
	m.byToken[s.AuthToken.String()] = s
	m.mu.Unlock()

	resp := &ua.CreateSessionResponse{
		SessionID:             s.ID,
		AuthenticationToken:   s.AuthToken,
		RevisedSessionTimeout: float64(timeout / time.Millisecond),
		ServerNonce:           serverNonce,
	}
	return s, resp
}

// ActivateSession verifies the client's signature over server_cert ||
// server_nonce, validates the identity token, and transitions the session
// to Activated, rebinding it to channelID if it was previously bound to a
// different channel (Part 4, 5.6.3). The new channel must pass the same
// identity checks and inherits the existing session id.
func (m *Manager) ActivateSession(ctx context.Context, authToken *ua.NodeID, req *ua.ActivateSessionRequest, channelID uint32, verifier SignatureVerifier, serverCertificate []byte) (*Session, *ua.ActivateSessionResponse, error) {
	s, ok := m.Lookup(authToken)
	if !ok {
		return nil, nil, ua.StatusBadSessionIDInvalid
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, nil, ua.StatusBadSessionClosed
	}
	nonce := s.ServerNonce
	s.mu.Unlock()

	if err := verifier.VerifySessionSignature(serverCertificate, nonce, req.ClientSignature.Signature); err != nil {
		return nil, nil, ua.StatusBadSecurityChecksFailed
	}

	identity, err := validateIdentityToken(req.UserIdentityToken)
	if err != nil {
		return nil, nil, err
	}

	newNonce := make([]byte, 32)
	_, _ = rand.Read(newNonce)

	s.mu.Lock()
	if s.state != StateActivated {
		telemetry.ActiveSessions.Inc()
	}
	s.state = StateActivated
	s.channelID = channelID
	s.UserIdentity = identity
	s.LocaleIDs = req.LocaleIDs
	s.ServerNonce = newNonce
	s.lastActivity = time.Now()
	s.mu.Unlock()

	resp := &ua.ActivateSessionResponse{ServerNonce: newNonce}
	return s, resp, nil
}

// validateIdentityToken unwraps the ExtensionObject carrying the identity
// token and accepts any of the four core token kinds, matching the
// Anonymous/UserName/X509/Issued set client.go's options.go can produce.
func validateIdentityToken(tok *ua.ExtensionObject) (ua.Encodable, error) {
	if tok == nil || tok.Body == nil {
		return &ua.AnonymousIdentityToken{}, nil
	}
	switch t := tok.Body.(type) {
	case *ua.AnonymousIdentityToken:
		return t, nil
	case *ua.UserNameIdentityToken:
		if t.UserName == "" {
			return nil, ua.StatusBadIdentityTokenRejected
		}
		return t, nil
	case *ua.X509IdentityToken:
		if len(t.CertificateData) == 0 {
			return nil, ua.StatusBadIdentityTokenRejected
		}
		return t, nil
	case *ua.IssuedIdentityToken:
		return t, nil
	default:
		return nil, ua.StatusBadIdentityTokenRejected
	}
}

// CloseSession transitions the session to Closed. onDeleteSubscriptions is
// invoked with the subscription ids to delete unless the client requested
// they be preserved via deleteSubscriptions=false (Part 4, 5.6.4).
func (m *Manager) CloseSession(authToken *ua.NodeID, req *ua.CloseSessionRequest, onDeleteSubscriptions func([]uint32)) (*ua.CloseSessionResponse, error) {
	s, ok := m.Lookup(authToken)
	if !ok {
		return nil, ua.StatusBadSessionIDInvalid
	}
	if req.DeleteSubscriptions && onDeleteSubscriptions != nil {
		onDeleteSubscriptions(s.Subscriptions())
	}
	m.closeSession(s, false)
	return &ua.CloseSessionResponse{}, nil
}

func (m *Manager) closeSession(s *Session, deleteSubscriptions bool) {
	s.mu.Lock()
	if s.state == StateActivated {
		telemetry.ActiveSessions.Dec()
	}
	s.state = StateClosed
	s.mu.Unlock()
	m.mu.Lock()
	delete(m.byToken, s.AuthToken.String())
	m.mu.Unlock()
}

// Lookup finds a session by its AuthenticationToken, the value every
// request's RequestHeader carries. The token is only ever compared,
// never echoed back in a response payload.
func (m *Manager) Lookup(authToken *ua.NodeID) (*Session, bool) {
	if authToken == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byToken[authToken.String()]
	return s, ok
}

// Authenticate validates that a request on channelID carries a known,
// Activated session's auth token. It does not
// check the whitelist of session-exempt services; the dispatcher does.
func (m *Manager) Authenticate(authToken *ua.NodeID, channelID uint32) (*Session, error) {
	s, ok := m.Lookup(authToken)
	if !ok {
		return nil, ua.StatusBadSessionIDInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActivated {
		return nil, ua.StatusBadSessionNotActivated
	}
	if s.channelID != channelID {
		return nil, ua.StatusBadSecureChannelClosed
	}
	s.lastActivity = time.Now()
	return s, nil
}
