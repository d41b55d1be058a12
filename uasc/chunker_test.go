// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/opcua-core/opcua/ua"
)

// parseChunk splits a framed chunk back into its header parts and body.
func parseChunk(t *testing.T, raw []byte) (msgType string, chunkType byte, channelID uint32, seq *SequenceHeader, payload []byte) {
	t.Helper()
	if len(raw) < 8 {
		t.Fatalf("short chunk: %d bytes", len(raw))
	}
	msgType = string(raw[0:3])
	chunkType = raw[3]
	size := binary.LittleEndian.Uint32(raw[4:8])
	if int(size) != len(raw) {
		t.Fatalf("message size field %d != frame length %d", size, len(raw))
	}
	channelID = binary.LittleEndian.Uint32(raw[8:12])
	d := ua.NewDecoder(bytes.NewReader(raw[12:]), nil)
	if _, err := decodeSymmetricSecurityHeader(d); err != nil {
		t.Fatalf("security header: %v", err)
	}
	var err error
	seq, err = decodeSequenceHeader(d)
	if err != nil {
		t.Fatalf("sequence header: %v", err)
	}
	// 12 bytes consumed before decoder + 4 security + 8 sequence.
	payload = raw[24:]
	return
}

func TestChunkerSplitMerge(t *testing.T) {
	c := NewChunker(nil)
	c.maxChunkSize = 64

	body := make([]byte, 300)
	for i := range body {
		body[i] = byte(i)
	}

	chunks, nextSeq, err := c.SplitSymmetric("MSG", 7, &SymmetricSecurityHeader{TokenID: 3}, 1, 42, body, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if nextSeq != uint32(1+len(chunks)) {
		t.Fatalf("nextSeq = %d, want %d", nextSeq, 1+len(chunks))
	}

	r := &reassembler{}
	var done bool
	for i, ch := range chunks {
		msgType, chunkType, channelID, seq, payload := parseChunk(t, ch.bytes)
		if msgType != "MSG" {
			t.Fatalf("chunk %d: msgType %q", i, msgType)
		}
		if channelID != 7 || seq.RequestID != 42 {
			t.Fatalf("chunk %d: channel %d request %d", i, channelID, seq.RequestID)
		}
		if seq.SequenceNumber != uint32(1+i) {
			t.Fatalf("chunk %d: seq %d, want %d", i, seq.SequenceNumber, 1+i)
		}
		wantType := byte('C')
		if i == len(chunks)-1 {
			wantType = 'F'
		}
		if chunkType != wantType {
			t.Fatalf("chunk %d: type %q, want %q", i, chunkType, wantType)
		}
		done, err = r.addChunk(channelID, seq.RequestID, seq.SequenceNumber, chunkType, payload)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}
	if !done {
		t.Fatal("reassembler never saw Final")
	}
	merged, err := io.ReadAll(r.reader())
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	if !bytes.Equal(merged, body) {
		t.Fatalf("merged payload differs: %d bytes vs %d", len(merged), len(body))
	}
}

func TestChunkerOversizeMessage(t *testing.T) {
	c := NewChunker(nil)
	c.maxMessageSize = 100

	body := make([]byte, 101)
	if _, _, err := c.SplitSymmetric("MSG", 1, &SymmetricSecurityHeader{TokenID: 1}, 1, 1, body, true); err != ua.StatusBadRequestTooLarge {
		t.Fatalf("client side: got %v, want BadRequestTooLarge", err)
	}
	if _, _, err := c.SplitSymmetric("MSG", 1, &SymmetricSecurityHeader{TokenID: 1}, 1, 1, body, false); err != ua.StatusBadResponseTooLarge {
		t.Fatalf("server side: got %v, want BadResponseTooLarge", err)
	}
}

func TestReassemblerValidation(t *testing.T) {
	t.Run("sequence gap", func(t *testing.T) {
		r := &reassembler{}
		if _, err := r.addChunk(1, 1, 1, 'C', []byte{1}); err != nil {
			t.Fatalf("first chunk: %v", err)
		}
		if _, err := r.addChunk(1, 1, 3, 'F', []byte{2}); err == nil {
			t.Fatal("accepted sequence gap")
		}
	})
	t.Run("request id mismatch", func(t *testing.T) {
		r := &reassembler{}
		if _, err := r.addChunk(1, 1, 1, 'C', []byte{1}); err != nil {
			t.Fatalf("first chunk: %v", err)
		}
		if _, err := r.addChunk(1, 2, 2, 'F', []byte{2}); err == nil {
			t.Fatal("accepted request id change mid-message")
		}
	})
	t.Run("channel id mismatch", func(t *testing.T) {
		r := &reassembler{}
		if _, err := r.addChunk(1, 1, 1, 'C', []byte{1}); err != nil {
			t.Fatalf("first chunk: %v", err)
		}
		if _, err := r.addChunk(2, 1, 2, 'F', []byte{2}); err == nil {
			t.Fatal("accepted channel id change mid-message")
		}
	})
	t.Run("abort chunk", func(t *testing.T) {
		r := &reassembler{}
		done, err := r.addChunk(1, 1, 1, 'A', nil)
		if !done || err != ua.StatusBadCommunicationError {
			t.Fatalf("abort: done=%v err=%v", done, err)
		}
	})
	t.Run("unknown chunk type", func(t *testing.T) {
		r := &reassembler{}
		if _, err := r.addChunk(1, 1, 1, 'X', nil); err == nil {
			t.Fatal("accepted unknown chunk type")
		}
	})
}

func TestChunkerSingleChunkRoundTrip(t *testing.T) {
	c := NewChunker(nil)
	body := []byte("small message body")
	chunks, nextSeq, err := c.SplitSymmetric("MSG", 9, &SymmetricSecurityHeader{TokenID: 5}, 10, 99, body, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 1 || nextSeq != 11 {
		t.Fatalf("chunks=%d nextSeq=%d", len(chunks), nextSeq)
	}
	_, chunkType, _, seq, payload := parseChunk(t, chunks[0].bytes)
	if chunkType != 'F' || seq.SequenceNumber != 10 {
		t.Fatalf("type %q seq %d", chunkType, seq.SequenceNumber)
	}
	if !bytes.Equal(payload, body) {
		t.Fatalf("payload % x", payload)
	}
}
