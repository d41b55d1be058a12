// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"bytes"
	"testing"
)

func TestNodeIDCompactEncoding(t *testing.T) {
	cases := []struct {
		name string
		id   *NodeID
		want []byte
	}{
		{
			name: "two-byte numeric",
			id:   NewNumericNodeID(0, 85),
			want: []byte{0x00, 0x55},
		},
		{
			name: "four-byte numeric",
			id:   NewNumericNodeID(1, 2045),
			want: []byte{0x01, 0x01, 0xfd, 0x07},
		},
		{
			name: "full numeric",
			id:   NewNumericNodeID(256, 0x12345678),
			want: []byte{0x02, 0x00, 0x01, 0x78, 0x56, 0x34, 0x12},
		},
		{
			name: "string",
			id:   NewStringNodeID(2, "foo"),
			want: []byte{0x03, 0x02, 0x00, 0x03, 0x00, 0x00, 0x00, 0x66, 0x6f, 0x6f},
		},
		{
			name: "byte string",
			id:   NewByteStringNodeID(3, []byte{0xde, 0xad}),
			want: []byte{0x05, 0x03, 0x00, 0x02, 0x00, 0x00, 0x00, 0xde, 0xad},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEncoder(nil)
			tc.id.Encode(e)
			if !bytes.Equal(e.Bytes(), tc.want) {
				t.Fatalf("encode: got % x, want % x", e.Bytes(), tc.want)
			}
			got, err := DecodeNodeID(NewDecoder(bytes.NewReader(e.Bytes()), nil))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !got.Equal(tc.id) {
				t.Fatalf("round trip: got %s, want %s", got, tc.id)
			}
		})
	}
}

func TestNodeIDNull(t *testing.T) {
	if !NullNodeID.IsNull() {
		t.Fatal("NullNodeID must report IsNull")
	}
	if NewNumericNodeID(0, 1).IsNull() {
		t.Fatal("i=1 must not report IsNull")
	}
	e := NewEncoder(nil)
	NullNodeID.Encode(e)
	if !bytes.Equal(e.Bytes(), []byte{0x00, 0x00}) {
		t.Fatalf("null encodes as % x", e.Bytes())
	}
}

func TestExpandedNodeIDRoundTrip(t *testing.T) {
	in := &ExpandedNodeID{
		NodeID:       NewNumericNodeID(2, 1234),
		NamespaceURI: "urn:example:ns",
		ServerIndex:  7,
	}
	e := NewEncoder(nil)
	in.Encode(e)
	out, err := DecodeExpandedNodeID(NewDecoder(bytes.NewReader(e.Bytes()), nil))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.NodeID.Equal(in.NodeID) || out.NamespaceURI != in.NamespaceURI || out.ServerIndex != in.ServerIndex {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestExpandedNodeIDResolvePrefersURI(t *testing.T) {
	en := &ExpandedNodeID{NodeID: NewNumericNodeID(3, 1), NamespaceURI: "urn:a"}
	nsMap := map[string]uint16{"urn:a": 9}
	if got := en.Resolve(nsMap); got != 9 {
		t.Fatalf("Resolve = %d, want 9 (uri takes precedence)", got)
	}
	if got := en.Resolve(map[string]uint16{}); got != 3 {
		t.Fatalf("Resolve = %d, want 3 (fallback to index)", got)
	}
}
