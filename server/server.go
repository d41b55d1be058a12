// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package server ties the transport, channel, session, dispatch, node
// manager and subscription layers into one accepting endpoint: the
// inbound dataflow from bytes to executed request and back.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opcua-core/opcua/internal/config"
	"github.com/opcua-core/opcua/internal/telemetry"
	"github.com/opcua-core/opcua/server/dispatch"
	"github.com/opcua-core/opcua/server/nodemgr"
	"github.com/opcua-core/opcua/server/session"
	"github.com/opcua-core/opcua/server/subscription"
	"github.com/opcua-core/opcua/ua"
	"github.com/opcua-core/opcua/uacp"
	"github.com/opcua-core/opcua/uasc"
)

// Server is one OPC UA server process: a listener, a session manager, a
// subscription engine and a set of node managers behind one dispatcher.
type Server struct {
	cfg        *config.Config
	log        zerolog.Logger
	sessions   *session.Manager
	nodes      *nodemgr.Memory
	subs       *subscription.Engine
	dispatcher *dispatch.Dispatcher
	reg        *ua.TypeRegistry

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// New assembles a Server from cfg (nil means environment defaults). The
// returned server owns an empty in-memory address space reachable via
// Nodes until the caller populates it.
func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, err
		}
	}

	sessions := session.NewManager()
	sessions.DefaultTimeout = cfg.SessionTimeout
	sessions.SweepInterval = cfg.SessionSweepInterval

	nodes := nodemgr.NewMemory()

	opts := subscription.DefaultOptions()
	opts.MinPublishingInterval = cfg.MinPublishingInterval
	opts.MaxSubscriptions = cfg.MaxSubscriptions
	opts.RetransmissionQueueLen = cfg.RetransmissionQueueLen
	subs := subscription.NewEngine(nodes, opts)

	d := dispatch.New(sessions, nodes, subs)
	d.Limits = dispatch.Limits{
		MaxNodesPerRead:      cfg.MaxNodesPerRead,
		MaxNodesPerWrite:     cfg.MaxNodesPerWrite,
		MaxNodesPerBrowse:    cfg.MaxNodesPerBrowse,
		MaxNodesPerRegister:  cfg.MaxNodesPerRegister,
		MaxNodesPerTranslate: cfg.MaxNodesPerTranslate,
	}

	reg := ua.NewTypeRegistry()
	ua.RegisterCoreMessages(reg)

	return &Server{
		cfg:        cfg,
		log:        telemetry.Logger("server"),
		sessions:   sessions,
		nodes:      nodes,
		subs:       subs,
		dispatcher: d,
		reg:        reg,
	}, nil
}

// Addr returns the bound listen address once ListenAndServe has started,
// or the empty string before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Nodes exposes the in-memory address space so callers can populate it
// before (or while) serving.
func (s *Server) Nodes() *nodemgr.Memory { return s.nodes }

// Registry exposes the type registry so dynamic type loaders can add
// decoders before serving starts; it must not be mutated afterwards.
func (s *Server) Registry() *ua.TypeRegistry { return s.reg }

// ListenAndServe accepts connections on addr ("host:port") until Close.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return ua.StatusBadDisconnect
	}
	s.listener = l
	s.mu.Unlock()

	endpointURL := "opc.tcp://" + l.Addr().String()
	s.dispatcher.ServerDescription = ua.ApplicationDescription{
		ApplicationURI:  "urn:opcua-core:server",
		ApplicationName: ua.LocalizedText{Text: "opcua-core server"},
		ApplicationType: ua.ApplicationTypeServer,
		DiscoveryURIs:   []string{endpointURL},
	}
	s.dispatcher.EndpointDescriptions = []*ua.EndpointDescription{
		{
			EndpointURL:       endpointURL,
			SecurityMode:      ua.MessageSecurityModeNone,
			SecurityPolicyURI: ua.SecurityPolicyURINone,
			UserIdentityTokens: []*ua.UserTokenPolicy{
				{PolicyID: "Anonymous", TokenType: ua.UserTokenTypeAnonymous},
				{PolicyID: "UserName", TokenType: ua.UserTokenTypeUserName},
			},
		},
	}

	s.log.Info().Str("addr", endpointURL).Msg("listening")
	for {
		raw, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		go s.handle(ctx, raw)
	}
}

func (s *Server) handle(ctx context.Context, raw net.Conn) {
	conn, err := uacp.Accept(ctx, raw, s.cfg.MaxMessageSize, s.cfg.MaxChunkCount, s.cfg.MaxPendingOutgoing)
	if err != nil {
		s.log.Debug().Err(err).Msg("handshake failed")
		raw.Close()
		return
	}

	chCfg := &uasc.Config{
		SecurityPolicyURI: ua.SecurityPolicyURINone,
		SecurityMode:      ua.MessageSecurityModeNone,
		Lifetime:          s.cfg.ChannelLifetime,
		RequestTimeout:    s.cfg.RequestTimeout,
	}
	ch, err := uasc.AcceptSecureChannel(ctx, conn, chCfg, s.reg)
	if err != nil {
		s.log.Debug().Err(err).Msg("secure channel open failed")
		conn.Close()
		return
	}
	ch.SetRequestHandler(s.dispatcher.Bind(ch))
	s.log.Debug().Uint32("channel", ch.ChannelID()).Msg("channel accepted")
}

// Close stops accepting, tears down the subscription engine and the
// session sweeper. Open channels drain on their own when peers disconnect.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	l := s.listener
	s.mu.Unlock()

	if l != nil {
		l.Close()
	}
	s.subs.Close()
	s.sessions.Close()
	// Give queued publish failures a moment to flush before callers tear
	// down the process.
	time.Sleep(10 * time.Millisecond)
	return nil
}
