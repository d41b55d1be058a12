// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"fmt"
	"io"

	"github.com/opcua-core/opcua/ua"
)

// AsymmetricSecurityHeader precedes the body of every OPN message
//. SenderCertificate and
// ReceiverCertificateThumbprint stay empty under SecurityModeNone since
// certificate handling belongs to the CryptoProvider, not the chunker.
type AsymmetricSecurityHeader struct {
	SecurityPolicyURI            string
	SenderCertificate             []byte
	ReceiverCertificateThumbprint []byte
}

func (h *AsymmetricSecurityHeader) encode(e *ua.Encoder) {
	e.String(h.SecurityPolicyURI)
	e.ByteString(h.SenderCertificate)
	e.ByteString(h.ReceiverCertificateThumbprint)
}

func decodeAsymmetricSecurityHeader(d *ua.Decoder) (*AsymmetricSecurityHeader, error) {
	h := &AsymmetricSecurityHeader{}
	var err error
	if h.SecurityPolicyURI, err = d.String(); err != nil {
		return nil, err
	}
	if h.SenderCertificate, err = d.ByteString(); err != nil {
		return nil, err
	}
	if h.ReceiverCertificateThumbprint, err = d.ByteString(); err != nil {
		return nil, err
	}
	return h, nil
}

// SymmetricSecurityHeader precedes the body of every MSG/CLO message
//; it identifies the token used to
// sign/encrypt the chunk.
type SymmetricSecurityHeader struct {
	TokenID uint32
}

func (h *SymmetricSecurityHeader) encode(e *ua.Encoder) { e.Uint32(h.TokenID) }

func decodeSymmetricSecurityHeader(d *ua.Decoder) (*SymmetricSecurityHeader, error) {
	t, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	return &SymmetricSecurityHeader{TokenID: t}, nil
}

// SequenceHeader carries the per-chunk sequence number and request id.
type SequenceHeader struct {
	SequenceNumber uint32
	RequestID      uint32
}

func (h *SequenceHeader) encode(e *ua.Encoder) {
	e.Uint32(h.SequenceNumber)
	e.Uint32(h.RequestID)
}

func decodeSequenceHeader(d *ua.Decoder) (*SequenceHeader, error) {
	sn, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	rid, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	return &SequenceHeader{SequenceNumber: sn, RequestID: rid}, nil
}

// Chunker splits an outbound message into size-bounded chunks and
// reassembles inbound chunks into a single logical message.
type Chunker struct {
	maxChunkSize   int
	maxMessageSize int
	maxChunkCount  int
}

func NewChunker(ctx *ua.EncodingContext) *Chunker {
	if ctx == nil {
		ctx = ua.DefaultEncodingContext()
	}
	return &Chunker{
		maxChunkSize:   8192,
		maxMessageSize: ctx.MaxMessageSize,
		maxChunkCount:  ctx.MaxChunkCount,
	}
}

// outboundChunk is the fully-framed byte slice ready to hand to
// uacp.Conn.WriteChunk, paired with the chunk type byte for bookkeeping.
type outboundChunk struct {
	bytes     []byte
	chunkType byte
}

// SplitSymmetric frames body as one or more MSG/CLO chunks. isClient
// selects which oversize status code applies: BadRequestTooLarge on
// the client, BadResponseTooLarge on the server.
func (c *Chunker) SplitSymmetric(msgType string, channelID uint32, sec *SymmetricSecurityHeader, startSeq, requestID uint32, body []byte, isClient bool) ([]outboundChunk, uint32, error) {
	if len(body) > c.maxMessageSize {
		if isClient {
			return nil, startSeq, ua.StatusBadRequestTooLarge
		}
		return nil, startSeq, ua.StatusBadResponseTooLarge
	}

	e := ua.NewEncoder(nil)
	e.Uint32(channelID)
	sec.encode(e)
	secBytes := e.Bytes()

	return c.split(msgType, secBytes, startSeq, requestID, body)
}

// SplitAsymmetric frames body as an OPN chunk (always exactly one chunk:
// OpenSecureChannel bodies are small and never span multiple chunks in
// this implementation).
func (c *Chunker) SplitAsymmetric(channelID uint32, hdr *AsymmetricSecurityHeader, startSeq, requestID uint32, body []byte) ([]outboundChunk, uint32, error) {
	e := ua.NewEncoder(nil)
	e.Uint32(channelID)
	hdr.encode(e)
	secBytes := e.Bytes()
	return c.split("OPN", secBytes, startSeq, requestID, body)
}

func (c *Chunker) split(msgType string, secBytes []byte, startSeq, requestID uint32, body []byte) ([]outboundChunk, uint32, error) {
	overhead := headerLen + len(secBytes) + seqHeaderWireLen
	budget := c.maxChunkSize - overhead
	if budget <= 0 {
		return nil, startSeq, fmt.Errorf("uasc: chunk size %d too small for headers", c.maxChunkSize)
	}

	var chunks []outboundChunk
	seq := startSeq
	remaining := body
	if len(remaining) == 0 {
		remaining = []byte{}
	}
	for {
		n := len(remaining)
		final := true
		if n > budget {
			n = budget
			final = false
		}
		chunkType := byte('F')
		if !final {
			chunkType = 'C'
		}

		se := ua.NewEncoder(nil)
		seqHdr := &SequenceHeader{SequenceNumber: seq, RequestID: requestID}
		seqHdr.encode(se)

		full := make([]byte, 0, overhead+n)
		full = append(full, []byte(msgType)...)
		full = append(full, chunkType)
		full = append(full, placeholder4...)
		full = append(full, secBytes...)
		full = append(full, se.Bytes()...)
		full = append(full, remaining[:n]...)
		putUint32LE(full[4:8], uint32(len(full)))

		chunks = append(chunks, outboundChunk{bytes: full, chunkType: chunkType})
		seq++
		remaining = remaining[n:]
		if final {
			break
		}
		if len(chunks) > c.maxChunkCount {
			return nil, startSeq, ua.StatusBadEncodingLimitsExceeded
		}
	}
	return chunks, seq, nil
}

const headerLen = 8
const seqHeaderWireLen = 8

var placeholder4 = []byte{0, 0, 0, 0}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// reassembler accumulates chunks for one in-flight inbound message,
// exposing the concatenated body as a streaming io.Reader once Final
// arrives.
//
// This implementation buffers chunk bodies rather than truly streaming
// them to the decoder as they arrive, a pragmatic simplification: the
// decoder still sees a single io.Reader and never learns the message
// was chunked, satisfying the contract without a second allocation of
// the *encoded* wire bytes.
type reassembler struct {
	channelID  uint32
	requestID  uint32
	lastSeq    uint32
	haveFirst  bool
	buf        []byte
}

func (r *reassembler) addChunk(channelID, requestID, seq uint32, chunkType byte, payload []byte) (done bool, err error) {
	if r.haveFirst {
		if channelID != r.channelID {
			return false, fmt.Errorf("uasc: %w: channel id mismatch mid-message", ua.StatusBadDecodingError)
		}
		if requestID != r.requestID {
			return false, fmt.Errorf("uasc: %w: request id mismatch mid-message", ua.StatusBadDecodingError)
		}
		if seq != r.lastSeq+1 {
			return false, fmt.Errorf("uasc: %w: sequence number gap", ua.StatusBadDecodingError)
		}
	} else {
		r.channelID = channelID
		r.requestID = requestID
		r.haveFirst = true
	}
	r.lastSeq = seq
	r.buf = append(r.buf, payload...)

	switch chunkType {
	case 'F':
		return true, nil
	case 'C':
		return false, nil
	case 'A':
		return true, ua.StatusBadCommunicationError
	default:
		return false, fmt.Errorf("uasc: %w: unknown chunk type %q", ua.StatusBadDecodingError, string(chunkType))
	}
}

func (r *reassembler) reader() io.Reader { return &byteSliceReader{b: r.buf} }

type byteSliceReader struct {
	b []byte
	i int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
