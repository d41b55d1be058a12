// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opcua-core/opcua/ua"
	"github.com/opcua-core/opcua/uacp"
)

// nextServerChannelID hands out process-unique channel ids for server-
// accepted channels; real servers would persist a counter or derive ids
// from the listener, but uniqueness within a process run is all the
// channel invariants require.
var nextServerChannelID uint32

// AcceptSecureChannel performs the server side of the OpenSecureChannel
// handshake on conn (already past the UACP Hello/Acknowledge) and
// returns an Open channel ready for SetRequestHandler + readLoop-driven
// dispatch. It blocks until the client's first OPN Issue request
// arrives or ctx is cancelled.
func AcceptSecureChannel(ctx context.Context, conn *uacp.Conn, cfg *Config, reg *ua.TypeRegistry) (*SecureChannel, error) {
	if reg == nil {
		reg = ua.NewTypeRegistry()
		ua.RegisterCoreMessages(reg)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	msgType, chunkType, raw, err := conn.ReadFrame()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if msgType != uacp.MessageTypeOpen {
		return nil, fmt.Errorf("uasc: expected OPN, got %q", msgType)
	}
	if chunkType != uacp.ChunkTypeFinal {
		return nil, fmt.Errorf("uasc: %w: multi-chunk OpenSecureChannelRequest unsupported", ua.StatusBadDecodingError)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("uasc: %w: short OPN frame", ua.StatusBadDecodingError)
	}

	br := bytes.NewReader(raw[4:])
	d := ua.NewDecoder(br, conn.EncodingContext())
	if _, err := decodeAsymmetricSecurityHeader(d); err != nil {
		return nil, err
	}
	seqHdr, err := decodeSequenceHeader(d)
	if err != nil {
		return nil, err
	}
	nid, err := ua.DecodeNodeID(d)
	if err != nil {
		return nil, err
	}
	dec, ok := reg.LookupBinary(nid)
	if !ok {
		return nil, fmt.Errorf("uasc: %w: unregistered OPN body %s", ua.StatusBadDecodingError, nid)
	}
	body, err := dec(d, reg)
	if err != nil {
		return nil, err
	}
	openReq, ok := body.(*ua.OpenSecureChannelRequest)
	if !ok || openReq.RequestType != ua.SecurityTokenRequestTypeIssue {
		return nil, fmt.Errorf("uasc: expected OpenSecureChannelRequest{Issue}, got %T", body)
	}

	lifetime := cfg.Lifetime
	if openReq.RequestedLifetime > 0 {
		lifetime = time.Duration(openReq.RequestedLifetime) * time.Millisecond
	}

	s := &SecureChannel{
		endpointURL: "",
		conn:        conn,
		cfg:         cfg,
		crypto:      newCryptoProvider(cfg.SecurityPolicyURI),
		reg:         reg,
		chunker:     NewChunker(conn.EncodingContext()),
		pending:     make(map[uint32]chan *inboundMessage),
		closed:      make(chan struct{}),
		state:       ChannelOpening,
		channelID:   atomic.AddUint32(&nextServerChannelID, 1),
		clientNonce: openReq.ClientNonce,
	}
	s.serverNonce = s.newNonce()

	tok := ua.ChannelSecurityToken{
		ChannelID:       s.channelID,
		TokenID:         1,
		CreatedAt:       time.Now(),
		RevisedLifetime: uint32(lifetime / time.Millisecond),
	}
	s.token = &tok

	resp := &ua.OpenSecureChannelResponse{
		ResponseHeader: ua.ResponseHeader{
			Timestamp:     time.Now(),
			RequestHandle: openReq.RequestHeader.RequestHandle,
			ServiceResult: ua.StatusOK,
		},
		ServerProtocolVersion: 0,
		SecurityToken:         tok,
		ServerNonce:           s.serverNonce,
	}
	respBody := s.encodeEnvelope(resp)
	hdr := &AsymmetricSecurityHeader{SecurityPolicyURI: cfg.SecurityPolicyURI}
	chunks, nextSeq, err := s.chunker.SplitAsymmetric(s.channelID, hdr, seqHdr.SequenceNumber+1, seqHdr.RequestID, respBody)
	if err != nil {
		return nil, err
	}
	s.seqTx = nextSeq
	for _, c := range chunks {
		if err := conn.WriteChunk(ctx, c.bytes); err != nil {
			return nil, err
		}
	}

	s.state = ChannelOpen
	go s.readLoop()
	return s, nil
}
