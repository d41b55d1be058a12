// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package uacp implements the UACP transport loop: the Hello/Acknowledge
// handshake and frame-level I/O that carries OPC UA chunks over a TCP
// connection.
package uacp

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/opcua-core/opcua/ua"
)

// Message type and chunk type markers.
const (
	MessageTypeHello       = "HEL"
	MessageTypeAcknowledge = "ACK"
	MessageTypeError       = "ERR"
	MessageTypeOpen        = "OPN"
	MessageTypeMessage     = "MSG"
	MessageTypeClose       = "CLO"

	ChunkTypeIntermediate byte = 'C'
	ChunkTypeFinal        byte = 'F'
	ChunkTypeAbort        byte = 'A'
)

const headerLen = 8 // 3 (msg_type) + 1 (chunk_type) + 4 (message_size)

const protocolVersion uint32 = 0

// DefaultMaxMessageSize is offered during Hello when the caller doesn't
// override it via options.
const DefaultMaxMessageSize = 1 << 22 // 4 MiB, matches ua.DefaultEncodingContext

// Header is the 8-byte frame header every UACP message starts with.
type Header struct {
	MessageType string // 3 bytes, one of the MessageType* constants
	ChunkType   byte
	MessageSize uint32 // includes the header itself
}

func readHeader(r io.Reader) (*Header, error) {
	var buf [headerLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("uacp: read header: %w", err)
	}
	h := &Header{
		MessageType: string(buf[0:3]),
		ChunkType:   buf[3],
		MessageSize: binary.LittleEndian.Uint32(buf[4:8]),
	}
	return h, nil
}

func writeHeader(w io.Writer, h *Header) error {
	var buf [headerLen]byte
	copy(buf[0:3], h.MessageType)
	buf[3] = h.ChunkType
	binary.LittleEndian.PutUint32(buf[4:8], h.MessageSize)
	_, err := w.Write(buf[:])
	return err
}

// HelloMessage is the client's opening frame.
type HelloMessage struct {
	Version                uint32
	ReceiveBufferSize      uint32
	SendBufferSize         uint32
	MaxMessageSize         uint32
	MaxChunkCount          uint32
	EndpointURL            string
}

// AcknowledgeMessage is the server's response to Hello. The
// negotiated values are the smaller of the two sides' offers and are
// installed in the connection's EncodingContext for the rest of its life.
type AcknowledgeMessage struct {
	Version           uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

// ErrorMessage is sent by either side to report a fatal transport-level
// failure before closing the connection.
type ErrorMessage struct {
	Error  uint32
	Reason string
}

func encodeHello(h *HelloMessage) []byte {
	e := ua.NewEncoder(nil)
	e.Uint32(h.Version)
	e.Uint32(h.ReceiveBufferSize)
	e.Uint32(h.SendBufferSize)
	e.Uint32(h.MaxMessageSize)
	e.Uint32(h.MaxChunkCount)
	e.String(h.EndpointURL)
	return e.Bytes()
}

func decodeHello(d *ua.Decoder) (*HelloMessage, error) {
	h := &HelloMessage{}
	var err error
	if h.Version, err = d.Uint32(); err != nil {
		return nil, err
	}
	if h.ReceiveBufferSize, err = d.Uint32(); err != nil {
		return nil, err
	}
	if h.SendBufferSize, err = d.Uint32(); err != nil {
		return nil, err
	}
	if h.MaxMessageSize, err = d.Uint32(); err != nil {
		return nil, err
	}
	if h.MaxChunkCount, err = d.Uint32(); err != nil {
		return nil, err
	}
	if h.EndpointURL, err = d.String(); err != nil {
		return nil, err
	}
	return h, nil
}

func encodeAcknowledge(a *AcknowledgeMessage) []byte {
	e := ua.NewEncoder(nil)
	e.Uint32(a.Version)
	e.Uint32(a.ReceiveBufferSize)
	e.Uint32(a.SendBufferSize)
	e.Uint32(a.MaxMessageSize)
	e.Uint32(a.MaxChunkCount)
	return e.Bytes()
}

func decodeAcknowledge(d *ua.Decoder) (*AcknowledgeMessage, error) {
	a := &AcknowledgeMessage{}
	var err error
	if a.Version, err = d.Uint32(); err != nil {
		return nil, err
	}
	if a.ReceiveBufferSize, err = d.Uint32(); err != nil {
		return nil, err
	}
	if a.SendBufferSize, err = d.Uint32(); err != nil {
		return nil, err
	}
	if a.MaxMessageSize, err = d.Uint32(); err != nil {
		return nil, err
	}
	if a.MaxChunkCount, err = d.Uint32(); err != nil {
		return nil, err
	}
	return a, nil
}

func decodeErrorMessage(d *ua.Decoder) (*ErrorMessage, error) {
	em := &ErrorMessage{}
	var err error
	if em.Error, err = d.Uint32(); err != nil {
		return nil, err
	}
	if em.Reason, err = d.String(); err != nil {
		return nil, err
	}
	return em, nil
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// Conn is a UACP connection: a TCP socket plus the negotiated frame limits
// and a bounded outbound queue.
type Conn struct {
	net.Conn

	ctx *ua.EncodingContext

	maxPendingOutgoing int
	outbound           chan outboundFrame
	closed             chan struct{}
	writeErr           error
}

type outboundFrame struct {
	data []byte
	done chan error
}

// EncodingContext returns the context negotiated during Hello/Acknowledge.
func (c *Conn) EncodingContext() *ua.EncodingContext { return c.ctx }

// Dial performs the TCP connect and Hello/Acknowledge handshake against
// endpoint (an "opc.tcp://host:port/path" URI).
func Dial(ctx context.Context, endpoint string) (*Conn, error) {
	return DialWithOptions(ctx, endpoint, DefaultMaxMessageSize, 512, 64)
}

// DialWithOptions dials with explicit buffer/message/chunk offers.
func DialWithOptions(ctx context.Context, endpoint string, maxMessageSize uint32, maxChunkCount uint32, pendingOutgoing int) (*Conn, error) {
	host, err := dialTarget(endpoint)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("uacp: dial %s: %w", host, err)
	}

	c := &Conn{
		Conn:               raw,
		maxPendingOutgoing: pendingOutgoing,
		outbound:           make(chan outboundFrame, pendingOutgoing),
		closed:             make(chan struct{}),
	}

	hello := &HelloMessage{
		Version:           protocolVersion,
		ReceiveBufferSize: maxMessageSize,
		SendBufferSize:    maxMessageSize,
		MaxMessageSize:    maxMessageSize,
		MaxChunkCount:     maxChunkCount,
		EndpointURL:       endpoint,
	}
	if err := c.writeFrame(MessageTypeHello, ChunkTypeFinal, encodeHello(hello)); err != nil {
		raw.Close()
		return nil, err
	}

	hdr, body, err := c.readFrame()
	if err != nil {
		raw.Close()
		return nil, err
	}
	switch hdr.MessageType {
	case MessageTypeAcknowledge:
		ack, err := decodeAcknowledge(ua.NewDecoder(newByteReader(body), nil))
		if err != nil {
			raw.Close()
			return nil, err
		}
		c.ctx = &ua.EncodingContext{
			MaxStringLength:     int(min32(ack.SendBufferSize, maxMessageSize)),
			MaxByteStringLength: int(min32(ack.SendBufferSize, maxMessageSize)),
			MaxArrayLength:      1 << 16,
			MaxMessageSize:      int(min32(ack.MaxMessageSize, maxMessageSize)),
			MaxChunkCount:       int(min32(ack.MaxChunkCount, maxChunkCount)),
			MaxDepth:            100,
		}
	case MessageTypeError:
		em, err := decodeErrorMessage(ua.NewDecoder(newByteReader(body), nil))
		if err != nil {
			raw.Close()
			return nil, err
		}
		raw.Close()
		return nil, fmt.Errorf("uacp: server rejected hello: %s (%s)", ua.StatusCode(em.Error), em.Reason)
	default:
		raw.Close()
		return nil, fmt.Errorf("uacp: unexpected message type %q during handshake", hdr.MessageType)
	}

	go c.writeLoop()
	return c, nil
}

// Accept performs the server side of the Hello/Acknowledge handshake on
// an already-accepted net.Conn. maxMessageSize/maxChunkCount/
// pendingOutgoing are the server's own offered limits; the negotiated
// context takes the smaller of the two sides' values, same as Dial.
func Accept(ctx context.Context, raw net.Conn, maxMessageSize uint32, maxChunkCount uint32, pendingOutgoing int) (*Conn, error) {
	c := &Conn{
		Conn:               raw,
		maxPendingOutgoing: pendingOutgoing,
		outbound:           make(chan outboundFrame, pendingOutgoing),
		closed:             make(chan struct{}),
	}

	hdr, body, err := c.readFrame()
	if err != nil {
		raw.Close()
		return nil, err
	}
	if hdr.MessageType != MessageTypeHello {
		raw.Close()
		return nil, fmt.Errorf("uacp: expected HEL, got %q", hdr.MessageType)
	}
	hello, err := decodeHello(ua.NewDecoder(newByteReader(body), nil))
	if err != nil {
		raw.Close()
		return nil, err
	}

	ack := &AcknowledgeMessage{
		Version:           protocolVersion,
		ReceiveBufferSize: min32(hello.SendBufferSize, maxMessageSize),
		SendBufferSize:    min32(hello.ReceiveBufferSize, maxMessageSize),
		MaxMessageSize:    min32(hello.MaxMessageSize, maxMessageSize),
		MaxChunkCount:     min32(hello.MaxChunkCount, maxChunkCount),
	}
	if err := c.writeFrame(MessageTypeAcknowledge, ChunkTypeFinal, encodeAcknowledge(ack)); err != nil {
		raw.Close()
		return nil, err
	}

	c.ctx = &ua.EncodingContext{
		MaxStringLength:     int(ack.SendBufferSize),
		MaxByteStringLength: int(ack.SendBufferSize),
		MaxArrayLength:      1 << 16,
		MaxMessageSize:      int(ack.MaxMessageSize),
		MaxChunkCount:       int(ack.MaxChunkCount),
		MaxDepth:            100,
	}

	go c.writeLoop()
	return c, nil
}

// dialTarget extracts host:port from an opc.tcp://host:port/path URI.
func dialTarget(endpoint string) (string, error) {
	const scheme = "opc.tcp://"
	if !strings.HasPrefix(endpoint, scheme) {
		return "", fmt.Errorf("uacp: endpoint %q missing opc.tcp:// scheme", endpoint)
	}
	rest := endpoint[len(scheme):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "", fmt.Errorf("uacp: endpoint %q has no host", endpoint)
	}
	return rest, nil
}

// writeFrame writes one UACP message as a single chunk.
func (c *Conn) writeFrame(msgType string, chunkType byte, body []byte) error {
	hdr := &Header{MessageType: msgType, ChunkType: chunkType, MessageSize: uint32(headerLen + len(body))}
	if err := writeHeader(c.Conn, hdr); err != nil {
		return err
	}
	_, err := c.Conn.Write(body)
	return err
}

// WriteChunk enqueues a pre-chunked frame for the write loop. The queue is
// bounded at maxPendingOutgoing: a caller that would
// overflow it gets BadTcpServerTooBusy immediately and the connection is
// closed, rather than buffering without limit.
func (c *Conn) WriteChunk(ctx context.Context, frame []byte) error {
	done := make(chan error, 1)
	select {
	case c.outbound <- outboundFrame{data: frame, done: done}:
	case <-c.closed:
		return ua.StatusBadDisconnect
	case <-ctx.Done():
		return ctx.Err()
	default:
		c.Close()
		return ua.StatusBadTCPServerTooBusy
	}
	select {
	case err := <-done:
		return err
	case <-c.closed:
		return ua.StatusBadDisconnect
	}
}

// writeLoop is the single writer goroutine serialising frames onto the
// socket; it is the only concurrent activity besides the caller's reads,
// a loose take on a cooperative-per-connection model (Go
// lacks single-threaded cooperative tasks, so a dedicated writer plus a
// bounded channel is the idiomatic substitute).
func (c *Conn) writeLoop() {
	for {
		select {
		case f := <-c.outbound:
			_, err := c.Conn.Write(f.data)
			f.done <- err
			if err != nil {
				c.writeErr = err
				log.Debug().Err(err).Msg("uacp: write loop error")
			}
		case <-c.closed:
			return
		}
	}
}

// readFrame reads one complete UACP frame (header + body) from the
// connection.
func (c *Conn) readFrame() (*Header, []byte, error) {
	hdr, err := readHeader(c.Conn)
	if err != nil {
		return nil, nil, err
	}
	if hdr.MessageSize < headerLen {
		return nil, nil, fmt.Errorf("uacp: %w", ua.StatusBadTCPMessageTypeInvalid)
	}
	body := make([]byte, hdr.MessageSize-headerLen)
	if _, err := io.ReadFull(c.Conn, body); err != nil {
		return nil, nil, fmt.Errorf("uacp: read body: %w", err)
	}
	return hdr, body, nil
}

// ReadFrame exposes readFrame to uasc's chunk reassembly loop.
func (c *Conn) ReadFrame() (msgType string, chunkType byte, body []byte, err error) {
	hdr, body, err := c.readFrame()
	if err != nil {
		return "", 0, nil, err
	}
	return hdr.MessageType, hdr.ChunkType, body, nil
}

// WriteRawFrame writes a complete frame synchronously, bypassing the
// queued write loop. The secure channel layer sends its OPN and CLO
// chunks through WriteChunk, not through this method.
func (c *Conn) WriteRawFrame(msgType string, chunkType byte, body []byte) error {
	return c.writeFrame(msgType, chunkType, body)
}

// Close stops the write loop and closes the underlying socket.
func (c *Conn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return c.Conn.Close()
}

type byteReader struct {
	b []byte
	i int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
