// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import (
	"time"

	"github.com/opcua-core/opcua/ua"
	"github.com/opcua-core/opcua/uasc"
)

// Option configures a Client's channel and session configuration.
// NewClient applies every Option to the pair of configs returned by
// DefaultClientConfig and DefaultSessionConfig before dialing.
type Option func(*uasc.Config, *uasc.SessionConfig)

// SecurityModeNone disables signing and encryption.
func SecurityModeNone() Option {
	return func(c *uasc.Config, _ *uasc.SessionConfig) {
		c.SecurityMode = ua.MessageSecurityModeNone
		c.SecurityPolicyURI = ua.SecurityPolicyURINone
	}
}

// SecurityMode sets the channel's security mode and policy URI.
func SecurityMode(mode ua.MessageSecurityMode, policyURI string) Option {
	return func(c *uasc.Config, _ *uasc.SessionConfig) {
		c.SecurityMode = mode
		c.SecurityPolicyURI = policyURI
	}
}

// Certificate sets the client certificate and private key used for
// asymmetric signing during OpenSecureChannel.
func Certificate(cert, key []byte) Option {
	return func(c *uasc.Config, _ *uasc.SessionConfig) {
		c.Certificate = cert
		c.PrivateKey = key
	}
}

// Lifetime overrides the requested secure channel lifetime; renewal is
// triggered at roughly 75% of it.
func Lifetime(d time.Duration) Option {
	return func(c *uasc.Config, _ *uasc.SessionConfig) { c.Lifetime = d }
}

// RequestTimeout overrides the default per-request timeout applied when a
// request's TimeoutHint is zero.
func RequestTimeout(d time.Duration) Option {
	return func(c *uasc.Config, _ *uasc.SessionConfig) { c.RequestTimeout = d }
}

// SessionTimeout overrides the requested session idle timeout.
func SessionTimeout(d time.Duration) Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) { s.SessionTimeout = d }
}

// SessionName overrides the session name sent in CreateSessionRequest.
func SessionName(name string) Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) { s.SessionName = name }
}

// ApplicationName overrides the ApplicationDescription advertised to the
// server on both the channel and the session.
func ApplicationName(name string) Option {
	return func(c *uasc.Config, s *uasc.SessionConfig) {
		c.ClientDescription.ApplicationName = ua.LocalizedText{Text: name}
		s.ClientDescription.ApplicationName = ua.LocalizedText{Text: name}
	}
}

// AuthAnonymous configures an anonymous identity token. This is the
// default CreateSession falls back to when no other Auth* option has been
// applied by the time the server's endpoints are known.
func AuthAnonymous() Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) {
		s.UserIdentityToken = &ua.AnonymousIdentityToken{PolicyID: s.AuthPolicyID}
	}
}

// AuthPolicyID overrides the UserTokenPolicy id sent with the identity
// token. CreateSession takes a policy id from the server's endpoint list
// only for the anonymous token it creates when no identity token is
// configured; a configured token without one is sent with an empty id.
func AuthPolicyID(policyID string) Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) {
		s.AuthPolicyID = policyID
		switch tok := s.UserIdentityToken.(type) {
		case *ua.AnonymousIdentityToken:
			tok.PolicyID = policyID
		case *ua.UserNameIdentityToken:
			tok.PolicyID = policyID
		case *ua.X509IdentityToken:
			tok.PolicyID = policyID
		case *ua.IssuedIdentityToken:
			tok.PolicyID = policyID
		}
	}
}

// AuthUsername configures username/password authentication. During
// ActivateSession the password is passed through the channel's
// CryptoProvider EncryptUserPassword; the only provider in this module is
// the None provider, which returns the password unchanged for every policy
// URI, so the password is sent as given.
func AuthUsername(user, password string) Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) {
		s.AuthUsername = user
		s.AuthPassword = []byte(password)
		s.UserIdentityToken = &ua.UserNameIdentityToken{
			PolicyID: s.AuthPolicyID,
			UserName: user,
			Password: []byte(password),
		}
	}
}

// AuthCertificate configures X.509 identity token authentication. This
// option sets no private key; during ActivateSession the user token
// signature comes from the channel's CryptoProvider, and the None provider
// returns an empty SignatureData.
func AuthCertificate(certData []byte) Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) {
		s.UserIdentityToken = &ua.X509IdentityToken{
			PolicyID:        s.AuthPolicyID,
			CertificateData: certData,
		}
	}
}

// AuthIssuedToken configures an opaque issued-token identity (e.g. a SAML
// assertion) for ActivateSession.
func AuthIssuedToken(token []byte) Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) {
		s.UserIdentityToken = &ua.IssuedIdentityToken{
			PolicyID:  s.AuthPolicyID,
			TokenData: token,
		}
	}
}
