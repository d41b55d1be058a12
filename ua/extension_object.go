// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"bytes"
	"fmt"
)

// ExtensionObjectEncoding is the third wire field of an ExtensionObject:
// 0=absent, 1=binary body, 2=XML body.
type ExtensionObjectEncoding byte

const (
	ExtensionObjectNone   ExtensionObjectEncoding = 0
	ExtensionObjectBinary ExtensionObjectEncoding = 1
	ExtensionObjectXML    ExtensionObjectEncoding = 2
)

// Encodable is the method set any ExtensionObject body must satisfy: the
// binary encoder, the type id it decodes from and a type name. XML
// encoding is the separate, optional XMLEncodable interface; there is no
// JSON codec and no clone or equality method.
type Encodable interface {
	EncodeBinary(e *Encoder) error
	TypeID() *ExpandedNodeID
	TypeName() string
}

// XMLEncodable is implemented by bodies that also support the XML wire
// encoding; not every body needs to.
type XMLEncodable interface {
	EncodeXML() ([]byte, error)
}

// ExtensionObject carries any generated or dynamically-loaded structure.
// It has no equality method of its own and none is delegated to the body;
// the registry is the only legitimate producer of boxed bodies via
// DecodeExtensionObject.
type ExtensionObject struct {
	TypeID   *ExpandedNodeID
	Encoding ExtensionObjectEncoding
	Body     Encodable
	XMLBody  []byte // raw XML bytes when Encoding == XML and no Go type claimed it
}

// NewExtensionObject boxes a body for transport inside a service
// message, e.g. ua.NewExtensionObject(cfg.UserIdentityToken).
func NewExtensionObject(body Encodable) *ExtensionObject {
	if body == nil {
		return &ExtensionObject{Encoding: ExtensionObjectNone}
	}
	return &ExtensionObject{
		TypeID:   body.TypeID(),
		Encoding: ExtensionObjectBinary,
		Body:     body,
	}
}

func (o *ExtensionObject) Encode(e *Encoder, reg *TypeRegistry) error {
	if o == nil || o.Encoding == ExtensionObjectNone || o.Body == nil {
		NullNodeID.Encode(e)
		e.Byte(byte(ExtensionObjectNone))
		return nil
	}
	o.TypeID.NodeID.Encode(e)
	e.Byte(byte(o.Encoding))

	switch o.Encoding {
	case ExtensionObjectBinary:
		var body Encoder
		body.ctx = e.ctx
		if err := o.Body.EncodeBinary(&body); err != nil {
			return err
		}
		e.ByteString(body.Bytes())
	case ExtensionObjectXML:
		e.ByteString(o.XMLBody)
	}
	return nil
}

// DecodeExtensionObject decodes the polymorphic body by looking up
// TypeId in reg. Unknown type ids decode to an opaque body that
// still round-trips its raw bytes, so unimplemented structure kinds are
// skipped without corrupting the stream.
func DecodeExtensionObject(d *Decoder, reg *TypeRegistry) (*ExtensionObject, error) {
	release, err := d.ctx.EnterDepth()
	if err != nil {
		return nil, err
	}
	defer release()

	nid, err := DecodeNodeID(d)
	if err != nil {
		return nil, err
	}
	encByte, err := d.Byte()
	if err != nil {
		return nil, err
	}
	enc := ExtensionObjectEncoding(encByte)
	o := &ExtensionObject{TypeID: &ExpandedNodeID{NodeID: nid}, Encoding: enc}

	switch enc {
	case ExtensionObjectNone:
		return o, nil
	case ExtensionObjectBinary:
		raw, err := d.ByteString()
		if err != nil {
			return nil, err
		}
		if reg != nil {
			if entry, ok := reg.LookupBinary(nid); ok {
				body, err := entry(NewDecoder(bytes.NewReader(raw), d.ctx), reg)
				if err != nil {
					return nil, err
				}
				o.Body = body
				return o, nil
			}
		}
		// Unknown type: keep the raw bytes so the stream stays valid and
		// the object can still be re-encoded unchanged.
		o.Body = &opaqueBody{typeID: o.TypeID, raw: raw}
		return o, nil
	case ExtensionObjectXML:
		raw, err := d.ByteString()
		if err != nil {
			return nil, err
		}
		o.XMLBody = raw
		return o, nil
	default:
		return nil, d.err(StatusBadDecodingError, fmt.Errorf("unknown ExtensionObject encoding %d", encByte))
	}
}

// opaqueBody preserves the raw bytes of an ExtensionObject body whose type
// id isn't registered, so the stream isn't corrupted and the object can
// be re-encoded unchanged.
type opaqueBody struct {
	typeID *ExpandedNodeID
	raw    []byte
}

func (o *opaqueBody) EncodeBinary(e *Encoder) error { e.buf.Write(o.raw); return nil }
func (o *opaqueBody) TypeID() *ExpandedNodeID        { return o.typeID }
func (o *opaqueBody) TypeName() string               { return "Opaque" }
