// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/opcua-core/opcua/ua"
)

// CryptoProvider is the capability set a SecureChannel needs from a
// security policy: session signature verification/creation, user
// password encryption and user token signing. X.509/RSA/AES message
// signing and encryption are out of scope; this interface is
// the seam a real policy would plug into without touching SecureChannel
// itself.
type CryptoProvider interface {
	VerifySessionSignature(serverCertificate, clientNonce, signature []byte) error
	NewSessionSignature(serverCertificate, serverNonce []byte) (*ua.SignatureData, error)
	EncryptUserPassword(policyURI string, password []byte, serverCertificate, serverNonce []byte) ([]byte, error)
	NewUserTokenSignature(serverCertificate, serverNonce []byte) (*ua.SignatureData, error)
}

// noneCryptoProvider backs SecurityPolicyURINone/SecurityModeNone
// channels, the only mode this core's DefaultClientConfig negotiates. It
// performs no cryptographic operation but still returns well-formed,
// empty SignatureData so call sites in client.go don't need a type
// switch on the active policy.
type noneCryptoProvider struct{}

func newCryptoProvider(policyURI string) CryptoProvider {
	// Every named policy other than None would resolve to a distinct
	// CryptoProvider implementation here; only None is implemented.
	return &noneCryptoProvider{}
}

func (noneCryptoProvider) VerifySessionSignature(serverCertificate, clientNonce, signature []byte) error {
	return nil
}

func (noneCryptoProvider) NewSessionSignature(serverCertificate, serverNonce []byte) (*ua.SignatureData, error) {
	return &ua.SignatureData{}, nil
}

func (noneCryptoProvider) EncryptUserPassword(policyURI string, password []byte, serverCertificate, serverNonce []byte) ([]byte, error) {
	return password, nil
}

func (noneCryptoProvider) NewUserTokenSignature(serverCertificate, serverNonce []byte) (*ua.SignatureData, error) {
	return &ua.SignatureData{}, nil
}

// pSHA256 implements OPC UA's P_SHA256 keyed PRF (Part 6, 6.7.5), used by
// real security policies to derive symmetric signing/encryption keys from
// the client/server nonce pair. It stays in this file on the standard
// library's crypto/hmac and crypto/sha256: P_SHA256 is a fixed protocol
// construction, not a swappable primitive, so there is nothing for a
// third-party crypto package to abstract over.
func pSHA256(secret, seed []byte, length int) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(seed)
	a := mac.Sum(nil)

	out := make([]byte, 0, length)
	for len(out) < length {
		mac.Reset()
		mac.Write(a)
		mac.Write(seed)
		out = append(out, mac.Sum(nil)...)

		mac.Reset()
		mac.Write(a)
		a = mac.Sum(nil)
	}
	return out[:length]
}
