// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package opcua provides the client surface of the stack: connection and
// session establishment over a secure channel, the synchronous service
// calls, and the client side of subscriptions (subscription.go). The
// Supervisor in supervisor.go wraps a Client with reconnect, keep-alive
// and publish pacing for long-running use.
package opcua

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/opcua-core/opcua/internal/telemetry"
	"github.com/opcua-core/opcua/ua"
	"github.com/opcua-core/opcua/uacp"
	"github.com/opcua-core/opcua/uasc"
)

// Client drives one server connection: a secure channel plus at most one
// session layered on top of it.
type Client struct {
	endpointURL string

	cfg        *uasc.Config
	sessionCfg *uasc.SessionConfig

	sechan *uasc.SecureChannel
	log    zerolog.Logger

	// session holds the active *Session; nil while no session is
	// activated.
	session atomic.Value

	subMu sync.Mutex
	subs  map[uint32]*Subscription
}

// NewClient builds a Client for endpoint. Without options the client is
// configured for an unsecured channel and an anonymous session; see
// Option for the available overrides.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpointURL: endpoint,
		cfg:         uasc.DefaultClientConfig(),
		sessionCfg:  uasc.DefaultSessionConfig(),
		log:         telemetry.Logger("client"),
		subs:        make(map[uint32]*Subscription),
	}
	c.session.Store((*Session)(nil))
	for _, opt := range opts {
		opt(c.cfg, c.sessionCfg)
	}
	return c
}

// Connect dials the endpoint, opens a secure channel and creates and
// activates a session in one step.
func (c *Client) Connect() error {
	if err := c.Dial(); err != nil {
		return err
	}
	s, err := c.CreateSession(c.sessionCfg)
	if err != nil {
		_ = c.Close()
		return err
	}
	if err := c.ActivateSession(s); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// Dial opens the secure channel without creating a session, enough for
// the sessionless services (GetEndpoints, FindServers).
func (c *Client) Dial() error {
	if c.sechan != nil {
		return fmt.Errorf("opcua: secure channel already open")
	}
	conn, err := uacp.Dial(context.Background(), c.endpointURL)
	if err != nil {
		return err
	}
	sechan := uasc.NewSecureChannel(c.endpointURL, conn, c.cfg, nil)
	if err := sechan.Open(context.Background()); err != nil {
		_ = conn.Close()
		return err
	}
	c.sechan = sechan
	return nil
}

// Close closes the session, if any, and tears down the secure channel.
func (c *Client) Close() error {
	_ = c.CloseSession()
	if c.sechan == nil {
		return nil
	}
	return c.sechan.Close(context.Background())
}

// Session returns the active session, nil when none is activated.
func (c *Client) Session() *Session {
	s, _ := c.session.Load().(*Session)
	return s
}

// Session is one authenticated user context on the server (Part 4, 5.6).
// It is created by CreateSession and bound to the client by
// ActivateSession.
type Session struct {
	cfg  *uasc.SessionConfig
	resp *ua.CreateSessionResponse

	// serverCertificate and serverNonce feed the signatures the server
	// requires over server_cert || server_nonce during activation.
	serverCertificate []byte
	serverNonce       []byte
}

// CreateSession asks the server for a new session. The session is not
// yet usable: ActivateSession must follow to bind an identity and attach
// it to this client.
func (c *Client) CreateSession(cfg *uasc.SessionConfig) (*Session, error) {
	if c.sechan == nil {
		return nil, ua.StatusBadSecureChannelClosed
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	name := cfg.SessionName
	if name == "" {
		name = fmt.Sprintf("opcua-%d", time.Now().UnixNano())
	}

	req := &ua.CreateSessionRequest{
		ClientDescription:       cfg.ClientDescription,
		EndpointURL:             c.endpointURL,
		SessionName:             name,
		ClientNonce:             nonce,
		ClientCertificate:       c.cfg.Certificate,
		RequestedSessionTimeout: float64(cfg.SessionTimeout / time.Millisecond),
	}

	var res *ua.CreateSessionResponse
	// The authentication token is always nil for CreateSession itself.
	err := c.sechan.Send(req, nil, func(v interface{}) error {
		return assign(v, &res)
	})
	if err != nil {
		return nil, err
	}
	if err := c.sechan.VerifySessionSignature(res.ServerCertificate, nonce, res.ServerSignature.Signature); err != nil {
		c.log.Error().Err(err).Msg("server session signature rejected")
		return nil, ua.StatusBadSecurityChecksFailed
	}

	// Fall back to an anonymous identity with the policy id the server
	// advertises when the caller configured nothing else.
	if cfg.UserIdentityToken == nil {
		cfg.UserIdentityToken = &ua.AnonymousIdentityToken{
			PolicyID: anonymousPolicyID(res.ServerEndpoints),
		}
	}

	return &Session{
		cfg:               cfg,
		resp:              res,
		serverCertificate: res.ServerCertificate,
		serverNonce:       res.ServerNonce,
	}, nil
}

const defaultAnonymousPolicyID = "Anonymous"

// anonymousPolicyID picks the anonymous UserTokenPolicy id from the
// server's unsecured endpoint, falling back to the conventional default.
func anonymousPolicyID(endpoints []*ua.EndpointDescription) string {
	for _, e := range endpoints {
		if e.SecurityMode != ua.MessageSecurityModeNone || e.SecurityPolicyURI != ua.SecurityPolicyURINone {
			continue
		}
		for _, t := range e.UserIdentityTokens {
			if t.TokenType == ua.UserTokenTypeAnonymous {
				return t.PolicyID
			}
		}
	}
	return defaultAnonymousPolicyID
}

// ActivateSession binds the session's identity token and attaches the
// session to this client, replacing and closing any previous one
// (Part 4, 5.6.3).
func (c *Client) ActivateSession(s *Session) error {
	sig, err := c.sechan.NewSessionSignature(s.serverCertificate, s.serverNonce)
	if err != nil {
		return err
	}

	switch tok := s.cfg.UserIdentityToken.(type) {
	case *ua.AnonymousIdentityToken:
		// nothing to prepare

	case *ua.UserNameIdentityToken:
		pass, err := c.sechan.EncryptUserPassword(s.cfg.AuthPolicyURI, s.cfg.AuthPassword, s.serverCertificate, s.serverNonce)
		if err != nil {
			return err
		}
		tok.Password = pass

	case *ua.X509IdentityToken:
		tokSig, err := c.sechan.NewUserTokenSignature(s.serverCertificate, s.serverNonce)
		if err != nil {
			return err
		}
		s.cfg.UserTokenSignature = tokSig

	case *ua.IssuedIdentityToken:
		tok.EncryptionAlgorithm = ""
	}

	req := &ua.ActivateSessionRequest{
		ClientSignature:    *sig,
		LocaleIDs:          s.cfg.LocaleIDs,
		UserIdentityToken:  ua.NewExtensionObject(s.cfg.UserIdentityToken),
		UserTokenSignature: s.cfg.UserTokenSignature,
	}
	return c.sechan.Send(req, s.resp.AuthenticationToken, func(v interface{}) error {
		var res *ua.ActivateSessionResponse
		if err := assign(v, &res); err != nil {
			return err
		}
		s.serverNonce = res.ServerNonce

		if err := c.CloseSession(); err != nil {
			// Close the session we just activated instead and surface
			// the original failure.
			_ = c.closeSession(s)
			return err
		}
		c.session.Store(s)
		return nil
	})
}

// CloseSession closes the client's active session on the server.
func (c *Client) CloseSession() error {
	if err := c.closeSession(c.Session()); err != nil {
		return err
	}
	c.session.Store((*Session)(nil))
	return nil
}

func (c *Client) closeSession(s *Session) error {
	if s == nil {
		return nil
	}
	req := &ua.CloseSessionRequest{DeleteSubscriptions: true}
	var res *ua.CloseSessionResponse
	return c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
}

// Send issues req on the secure channel, stamping in the active
// session's authentication token, and hands the decoded response to h.
func (c *Client) Send(req interface{}, h func(interface{}) error) error {
	var authToken *ua.NodeID
	if s := c.Session(); s != nil {
		authToken = s.resp.AuthenticationToken
	}
	return c.sechan.Send(req, authToken, h)
}

// Node returns a Node bound to this client for attribute access.
func (c *Client) Node(id *ua.NodeID) *Node {
	return &Node{ID: id, c: c}
}

// GetEndpoints returns the endpoint descriptions the server advertises.
func (c *Client) GetEndpoints() (*ua.GetEndpointsResponse, error) {
	req := &ua.GetEndpointsRequest{EndpointURL: c.endpointURL}
	var res *ua.GetEndpointsResponse
	err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
	return res, err
}

// FindServers returns the application descriptions known to the server.
func (c *Client) FindServers() (*ua.FindServersResponse, error) {
	req := &ua.FindServersRequest{EndpointURL: c.endpointURL}
	var res *ua.FindServersResponse
	err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
	return res, err
}

// Read executes a synchronous read. Missing attribute ids default to
// Value and missing data encodings to the server default, without
// mutating the caller's request.
func (c *Client) Read(req *ua.ReadRequest) (*ua.ReadResponse, error) {
	nodes := make([]*ua.ReadValueID, len(req.NodesToRead))
	for i, rv := range req.NodesToRead {
		n := *rv
		if n.AttributeID == 0 {
			n.AttributeID = ua.AttributeIDValue
		}
		if n.DataEncoding == nil {
			n.DataEncoding = &ua.QualifiedName{}
		}
		nodes[i] = &n
	}
	req = &ua.ReadRequest{
		MaxAge:             req.MaxAge,
		TimestampsToReturn: req.TimestampsToReturn,
		NodesToRead:        nodes,
	}

	var res *ua.ReadResponse
	err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
	return res, err
}

// Write executes a synchronous write.
func (c *Client) Write(req *ua.WriteRequest) (*ua.WriteResponse, error) {
	var res *ua.WriteResponse
	err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
	return res, err
}

// Browse executes a synchronous browse.
func (c *Client) Browse(req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	var res *ua.BrowseResponse
	err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
	return res, err
}

// BrowseNext resumes or releases continuation points returned by Browse.
func (c *Client) BrowseNext(req *ua.BrowseNextRequest) (*ua.BrowseNextResponse, error) {
	var res *ua.BrowseNextResponse
	err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
	return res, err
}

// HistoryReadRawModified reads raw value history for the given nodes
// (Part 11, 6.4).
func (c *Client) HistoryReadRawModified(nodes []*ua.HistoryReadValueID, details *ua.ReadRawModifiedDetails) (*ua.HistoryReadResponse, error) {
	req := &ua.HistoryReadRequest{
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead:        nodes,
		HistoryReadDetails: ua.NewExtensionObject(details),
	}
	var res *ua.HistoryReadResponse
	err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
	return res, err
}

// Republish requests a retransmitted NotificationMessage for the given
// subscription and sequence number.
func (c *Client) Republish(subID, seq uint32) (*ua.RepublishResponse, error) {
	req := &ua.RepublishRequest{
		SubscriptionID:           subID,
		RetransmitSequenceNumber: seq,
	}
	var res *ua.RepublishResponse
	err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
	return res, err
}

// assign stores v into *dst when the dynamic type matches, the common
// decode step of every synchronous service call.
func assign[T any](v interface{}, dst *T) error {
	t, ok := v.(T)
	if !ok {
		var want T
		return fmt.Errorf("opcua: unexpected response type %T, want %T", v, want)
	}
	*dst = t
	return nil
}
