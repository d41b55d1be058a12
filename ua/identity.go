// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "github.com/opcua-core/opcua/id"

// AnonymousIdentityToken is the no-auth identity token.
type AnonymousIdentityToken struct {
	PolicyID string
}

func (t *AnonymousIdentityToken) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, t) }
func (t *AnonymousIdentityToken) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.AnonymousIdentityToken_Encoding_DefaultBinary)
}
func (t *AnonymousIdentityToken) TypeName() string { return "AnonymousIdentityToken" }

// UserNameIdentityToken carries a username and an optionally-encrypted
// password (Part 4, 7.43.3).
type UserNameIdentityToken struct {
	PolicyID            string
	UserName             string
	Password            []byte
	EncryptionAlgorithm string
}

func (t *UserNameIdentityToken) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, t) }
func (t *UserNameIdentityToken) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.UserNameIdentityToken_Encoding_DefaultBinary)
}
func (t *UserNameIdentityToken) TypeName() string { return "UserNameIdentityToken" }

// X509IdentityToken authenticates via a certificate plus a signature over
// server_cert||server_nonce.
type X509IdentityToken struct {
	PolicyID        string
	CertificateData []byte
}

func (t *X509IdentityToken) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, t) }
func (t *X509IdentityToken) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.X509IdentityToken_Encoding_DefaultBinary)
}
func (t *X509IdentityToken) TypeName() string { return "X509IdentityToken" }

// IssuedIdentityToken carries an opaque token (e.g. a SAML assertion).
type IssuedIdentityToken struct {
	PolicyID            string
	TokenData           []byte
	EncryptionAlgorithm string
}

func (t *IssuedIdentityToken) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, t) }
func (t *IssuedIdentityToken) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.IssuedIdentityToken_Encoding_DefaultBinary)
}
func (t *IssuedIdentityToken) TypeName() string { return "IssuedIdentityToken" }

// RegisterIdentityTokens installs the core identity token decoders at
// PriorityCore.
func RegisterIdentityTokens(reg *TypeRegistry) {
	reg.Register(id.AnonymousIdentityToken_Encoding_DefaultBinary, PriorityCore, func(d *Decoder, r *TypeRegistry) (Encodable, error) {
		t := &AnonymousIdentityToken{}
		return t, ReflectDecode(d, r, t)
	})
	reg.Register(id.UserNameIdentityToken_Encoding_DefaultBinary, PriorityCore, func(d *Decoder, r *TypeRegistry) (Encodable, error) {
		t := &UserNameIdentityToken{}
		return t, ReflectDecode(d, r, t)
	})
	reg.Register(id.X509IdentityToken_Encoding_DefaultBinary, PriorityCore, func(d *Decoder, r *TypeRegistry) (Encodable, error) {
		t := &X509IdentityToken{}
		return t, ReflectDecode(d, r, t)
	})
	reg.Register(id.IssuedIdentityToken_Encoding_DefaultBinary, PriorityCore, func(d *Decoder, r *TypeRegistry) (Encodable, error) {
		t := &IssuedIdentityToken{}
		return t, ReflectDecode(d, r, t)
	})
}
