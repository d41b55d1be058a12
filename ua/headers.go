// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "time"

// RequestHeader precedes every service request body (Part 4, 7.33).
type RequestHeader struct {
	AuthenticationToken *NodeID
	Timestamp           time.Time
	RequestHandle       uint32
	ReturnDiagnostics   uint32
	AuditEntryID        string
	TimeoutHint         uint32
	AdditionalHeader    ExtensionObject
}

// ResponseHeader precedes every service response body (Part 4, 7.34).
// ServiceDiagnostics is carried as a DiagnosticInfoPlaceholder: the core
// does not populate per-response DiagnosticInfo (ReturnDiagnostics == 0 is
// the default the client sends, see NewClient/DefaultSessionConfig), so it
// is always encoded/decoded as the single empty-mask byte. Per-operation
// DiagnosticInfo, where a service carries it, uses DecodeDiagnosticInfo
// directly instead of this type.
type ResponseHeader struct {
	Timestamp          time.Time
	RequestHandle      uint32
	ServiceResult      StatusCode
	ServiceDiagnostics DiagnosticInfoPlaceholder
	StringTable        []string
	AdditionalHeader   ExtensionObject
}

type DiagnosticInfoPlaceholder struct{}
