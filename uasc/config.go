// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"time"

	"github.com/opcua-core/opcua/ua"
)

// Config holds the parameters used to open and maintain a secure channel.
type Config struct {
	SecurityPolicyURI string
	SecurityMode      ua.MessageSecurityMode

	Certificate       []byte
	PrivateKey        []byte
	ServerCertificate []byte

	// Lifetime is the requested channel lifetime; Renew is triggered at
	// roughly 75% of it.
	Lifetime time.Duration

	RequestTimeout time.Duration

	ClientDescription ua.ApplicationDescription
}

// DefaultClientConfig returns an unsecured (SecurityModeNone) channel
// configuration, the zero-config NewClient default.
func DefaultClientConfig() *Config {
	return &Config{
		SecurityPolicyURI: ua.SecurityPolicyURINone,
		SecurityMode:      ua.MessageSecurityModeNone,
		Lifetime:          60 * time.Minute,
		RequestTimeout:    5 * time.Second,
		ClientDescription: ua.ApplicationDescription{
			ApplicationURI:  "urn:opcua-core:client",
			ApplicationName: ua.LocalizedText{Text: "opcua-core client"},
			ApplicationType: ua.ApplicationTypeClient,
		},
	}
}

// SessionConfig holds the parameters used for CreateSession and
// ActivateSession.
type SessionConfig struct {
	SessionName       string
	SessionTimeout    time.Duration
	ClientDescription ua.ApplicationDescription
	LocaleIDs         []string

	UserIdentityToken  ua.Encodable
	UserTokenSignature *ua.SignatureData

	AuthPolicyID  string
	AuthUsername  string
	AuthPassword  []byte
	AuthPolicyURI string
}

// DefaultSessionConfig returns a 20-minute session timeout with no
// identity token configured; NewClient/CreateSession fills in an
// anonymous token if one is still unset by the time the server's
// endpoints are known.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		SessionTimeout: 20 * time.Minute,
		ClientDescription: ua.ApplicationDescription{
			ApplicationURI:  "urn:opcua-core:client",
			ApplicationName: ua.LocalizedText{Text: "opcua-core client"},
			ApplicationType: ua.ApplicationTypeClient,
		},
	}
}
