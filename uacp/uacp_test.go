// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uacp

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestHelloAcknowledgeNegotiation(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	type acceptResult struct {
		conn *Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		raw, err := l.Accept()
		if err != nil {
			accepted <- acceptResult{nil, err}
			return
		}
		// Server offers a smaller message size than the client: the
		// negotiated value must be the minimum of the two.
		conn, err := Accept(context.Background(), raw, 1<<20, 64, 16)
		accepted <- acceptResult{conn, err}
	}()

	endpoint := fmt.Sprintf("opc.tcp://%s/test", l.Addr().String())
	client, err := DialWithOptions(context.Background(), endpoint, 1<<22, 512, 16)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	res := <-accepted
	if res.err != nil {
		t.Fatalf("accept: %v", res.err)
	}
	defer res.conn.Close()

	if got := client.EncodingContext().MaxMessageSize; got != 1<<20 {
		t.Fatalf("client negotiated MaxMessageSize %d, want %d", got, 1<<20)
	}
	if got := client.EncodingContext().MaxChunkCount; got != 64 {
		t.Fatalf("client negotiated MaxChunkCount %d, want 64", got)
	}
	if got := res.conn.EncodingContext().MaxMessageSize; got != 1<<20 {
		t.Fatalf("server negotiated MaxMessageSize %d, want %d", got, 1<<20)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		raw, err := l.Accept()
		if err != nil {
			return
		}
		conn, err := Accept(context.Background(), raw, 1<<20, 64, 16)
		if err != nil {
			return
		}
		accepted <- conn
	}()

	endpoint := fmt.Sprintf("opc.tcp://%s", l.Addr().String())
	client, err := Dial(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	server := <-accepted
	defer server.Close()

	// A hand-framed MSG chunk written through the queued writer must come
	// out the other side intact.
	frame := []byte{'M', 'S', 'G', 'F', 16, 0, 0, 0, 0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.WriteChunk(ctx, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	msgType, chunkType, body, err := server.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != MessageTypeMessage || chunkType != ChunkTypeFinal {
		t.Fatalf("frame header: %q %q", msgType, chunkType)
	}
	if len(body) != 8 || body[0] != 0xde || body[7] != 0x04 {
		t.Fatalf("body: % x", body)
	}
}

func TestDialTarget(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"opc.tcp://host:4840/UA/Server", "host:4840", true},
		{"opc.tcp://host:4840", "host:4840", true},
		{"http://host:4840", "", false},
		{"opc.tcp://", "", false},
	}
	for _, tc := range cases {
		got, err := dialTarget(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("dialTarget(%q) = %q, %v", tc.in, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("dialTarget(%q) accepted", tc.in)
		}
	}
}
