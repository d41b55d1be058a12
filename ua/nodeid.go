// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"fmt"
)

// NodeIDType is the wire discriminant for the four NodeId encodings.
type NodeIDType byte

const (
	NodeIDTypeTwoByte   NodeIDType = 0x00
	NodeIDTypeFourByte  NodeIDType = 0x01
	NodeIDTypeNumeric   NodeIDType = 0x02
	NodeIDTypeString    NodeIDType = 0x03
	NodeIDTypeGUID      NodeIDType = 0x04
	NodeIDTypeByteString NodeIDType = 0x05
)

// NodeID is the tagged node identifier of Part 3, 8.2: a namespace index
// plus one of Numeric/String/GUID/ByteString. Equality is structural.
type NodeID struct {
	Namespace  uint16
	NumericID  uint32
	StringID   string
	GUID       [16]byte
	ByteString []byte
	kind       NodeIDType
}

// NewNumericNodeID builds a numeric NodeId, choosing the compact 2-byte or
// 4-byte wire form automatically at encode time.
func NewNumericNodeID(ns uint16, id uint32) *NodeID {
	return &NodeID{Namespace: ns, NumericID: id, kind: NodeIDTypeNumeric}
}

func NewStringNodeID(ns uint16, id string) *NodeID {
	return &NodeID{Namespace: ns, StringID: id, kind: NodeIDTypeString}
}

func NewGUIDNodeID(ns uint16, guid [16]byte) *NodeID {
	return &NodeID{Namespace: ns, GUID: guid, kind: NodeIDTypeGUID}
}

func NewByteStringNodeID(ns uint16, id []byte) *NodeID {
	return &NodeID{Namespace: ns, ByteString: id, kind: NodeIDTypeByteString}
}

// NullNodeID is namespace 0, numeric id 0.
var NullNodeID = NewNumericNodeID(0, 0)

// IsNull reports whether this is the Null NodeId.
func (n *NodeID) IsNull() bool {
	return n == nil || (n.kind == NodeIDTypeNumeric && n.Namespace == 0 && n.NumericID == 0)
}

// Equal is structural equality.
func (n *NodeID) Equal(o *NodeID) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Namespace != o.Namespace || n.kind != o.kind {
		return false
	}
	switch n.kind {
	case NodeIDTypeNumeric:
		return n.NumericID == o.NumericID
	case NodeIDTypeString:
		return n.StringID == o.StringID
	case NodeIDTypeGUID:
		return n.GUID == o.GUID
	case NodeIDTypeByteString:
		return string(n.ByteString) == string(o.ByteString)
	}
	return false
}

func (n *NodeID) String() string {
	switch n.kind {
	case NodeIDTypeNumeric:
		if n.Namespace == 0 {
			return fmt.Sprintf("i=%d", n.NumericID)
		}
		return fmt.Sprintf("ns=%d;i=%d", n.Namespace, n.NumericID)
	case NodeIDTypeString:
		if n.Namespace == 0 {
			return fmt.Sprintf("s=%s", n.StringID)
		}
		return fmt.Sprintf("ns=%d;s=%s", n.Namespace, n.StringID)
	case NodeIDTypeGUID:
		return fmt.Sprintf("ns=%d;g=%x", n.Namespace, n.GUID)
	case NodeIDTypeByteString:
		return fmt.Sprintf("ns=%d;b=%x", n.Namespace, n.ByteString)
	}
	return "<invalid NodeId>"
}

// Encode writes the NodeId in the smallest wire form that fits: the
// compact 2-byte and 4-byte encodings are emitted whenever they fit.
func (n *NodeID) Encode(e *Encoder) {
	switch n.kind {
	case NodeIDTypeNumeric:
		switch {
		case n.Namespace == 0 && n.NumericID <= 0xFF:
			e.Byte(byte(NodeIDTypeTwoByte))
			e.Byte(byte(n.NumericID))
		case n.Namespace <= 0xFF && n.NumericID <= 0xFFFF:
			e.Byte(byte(NodeIDTypeFourByte))
			e.Byte(byte(n.Namespace))
			e.Uint16(uint16(n.NumericID))
		default:
			e.Byte(byte(NodeIDTypeNumeric))
			e.Uint16(n.Namespace)
			e.Uint32(n.NumericID)
		}
	case NodeIDTypeString:
		e.Byte(byte(NodeIDTypeString))
		e.Uint16(n.Namespace)
		e.String(n.StringID)
	case NodeIDTypeGUID:
		e.Byte(byte(NodeIDTypeGUID))
		e.Uint16(n.Namespace)
		// GUID wire layout: Data1 LE u32, Data2 LE u16, Data3 LE u16, Data4 8 bytes as-is.
		e.Uint32(uint32(n.GUID[0]) | uint32(n.GUID[1])<<8 | uint32(n.GUID[2])<<16 | uint32(n.GUID[3])<<24)
		e.Uint16(uint16(n.GUID[4]) | uint16(n.GUID[5])<<8)
		e.Uint16(uint16(n.GUID[6]) | uint16(n.GUID[7])<<8)
		e.buf.Write(n.GUID[8:16])
	case NodeIDTypeByteString:
		e.Byte(byte(NodeIDTypeByteString))
		e.Uint16(n.Namespace)
		e.ByteString(n.ByteString)
	}
}

// DecodeNodeID decodes a NodeId using the discriminant-byte wire form.
func DecodeNodeID(d *Decoder) (*NodeID, error) {
	b, err := d.Byte()
	if err != nil {
		return nil, err
	}
	kind := NodeIDType(b)
	n := &NodeID{kind: kind}
	switch kind {
	case NodeIDTypeTwoByte:
		v, err := d.Byte()
		if err != nil {
			return nil, err
		}
		n.NumericID = uint32(v)
		n.kind = NodeIDTypeNumeric
	case NodeIDTypeFourByte:
		ns, err := d.Byte()
		if err != nil {
			return nil, err
		}
		v, err := d.Uint16()
		if err != nil {
			return nil, err
		}
		n.Namespace = uint16(ns)
		n.NumericID = uint32(v)
		n.kind = NodeIDTypeNumeric
	case NodeIDTypeNumeric:
		ns, err := d.Uint16()
		if err != nil {
			return nil, err
		}
		v, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		n.Namespace = ns
		n.NumericID = v
	case NodeIDTypeString:
		ns, err := d.Uint16()
		if err != nil {
			return nil, err
		}
		s, err := d.String()
		if err != nil {
			return nil, err
		}
		n.Namespace = ns
		n.StringID = s
	case NodeIDTypeGUID:
		ns, err := d.Uint16()
		if err != nil {
			return nil, err
		}
		d1, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		d2, err := d.Uint16()
		if err != nil {
			return nil, err
		}
		d3, err := d.Uint16()
		if err != nil {
			return nil, err
		}
		var tail [8]byte
		if err := d.readFull(tail[:]); err != nil {
			return nil, err
		}
		var g [16]byte
		g[0], g[1], g[2], g[3] = byte(d1), byte(d1>>8), byte(d1>>16), byte(d1>>24)
		g[4], g[5] = byte(d2), byte(d2>>8)
		g[6], g[7] = byte(d3), byte(d3>>8)
		copy(g[8:], tail[:])
		n.Namespace = ns
		n.GUID = g
	case NodeIDTypeByteString:
		ns, err := d.Uint16()
		if err != nil {
			return nil, err
		}
		bs, err := d.ByteString()
		if err != nil {
			return nil, err
		}
		n.Namespace = ns
		n.ByteString = bs
	default:
		return nil, d.err(StatusBadDecodingError, fmt.Errorf("unknown NodeId encoding 0x%02x", b))
	}
	return n, nil
}

// ExpandedNodeID extends NodeId with an optional namespace URI and server
// index. When both NamespaceURI and a resolvable namespace map exist,
// the URI takes precedence over the namespace index.
type ExpandedNodeID struct {
	NodeID       *NodeID
	NamespaceURI string
	ServerIndex  uint32
}

const expandedFlagNamespaceURI = 0x80
const expandedFlagServerIndex = 0x40

// Resolve picks the effective namespace index for this ExpandedNodeId,
// preferring a namespace URI lookup over the embedded namespace index when
// both are available.
func (e *ExpandedNodeID) Resolve(nsMap map[string]uint16) uint16 {
	if e.NamespaceURI != "" {
		if idx, ok := nsMap[e.NamespaceURI]; ok {
			return idx
		}
	}
	return e.NodeID.Namespace
}

func (e *ExpandedNodeID) Encode(enc *Encoder) {
	// Encode the inner NodeId's discriminant byte with the expanded flags
	// OR'd in, per Part 6 6.2.3, then the rest of the NodeId body, then the
	// optional trailing fields.
	var inner Encoder
	inner.ctx = enc.ctx
	e.NodeID.Encode(&inner)
	body := inner.Bytes()

	flags := body[0]
	if e.NamespaceURI != "" {
		flags |= expandedFlagNamespaceURI
	}
	if e.ServerIndex != 0 {
		flags |= expandedFlagServerIndex
	}
	enc.Byte(flags)
	enc.buf.Write(body[1:])
	if e.NamespaceURI != "" {
		enc.String(e.NamespaceURI)
	}
	if e.ServerIndex != 0 {
		enc.Uint32(e.ServerIndex)
	}
}

func DecodeExpandedNodeID(d *Decoder) (*ExpandedNodeID, error) {
	b, err := d.Byte()
	if err != nil {
		return nil, err
	}
	hasURI := b&expandedFlagNamespaceURI != 0
	hasIdx := b&expandedFlagServerIndex != 0
	kind := NodeIDType(b &^ (expandedFlagNamespaceURI | expandedFlagServerIndex))

	// Re-synthesize a plain NodeId decode by pushing the discriminant byte
	// back through a tiny in-memory prefix reader.
	pr := &prefixDecoder{first: byte(kind), d: d}
	nid, err := DecodeNodeID(NewDecoder(pr, d.ctx))
	if err != nil {
		return nil, err
	}
	out := &ExpandedNodeID{NodeID: nid}
	if hasURI {
		if out.NamespaceURI, err = d.String(); err != nil {
			return nil, err
		}
	}
	if hasIdx {
		if out.ServerIndex, err = d.Uint32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// prefixDecoder replays a single already-read byte before continuing to
// read from the underlying decoder's stream.
type prefixDecoder struct {
	first byte
	used  bool
	d     *Decoder
}

func (p *prefixDecoder) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if !p.used {
		p.used = true
		buf[0] = p.first
		n, err := p.d.r.Read(buf[1:])
		return n + 1, err
	}
	return p.d.r.Read(buf)
}

// NewFourByteExpandedNodeID builds an ExtensionObject type id from a
// numeric encoding constant (ua.NewFourByteExpandedNodeID(0, id.X)).
func NewFourByteExpandedNodeID(ns uint16, id uint32) *ExpandedNodeID {
	return &ExpandedNodeID{NodeID: NewNumericNodeID(ns, id)}
}
