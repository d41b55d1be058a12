// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package nodemgr implements the node manager façade: the
// address-space contract Read/Write/Browse/BrowseNext are served against,
// plus an in-memory reference implementation suitable for embedding a
// small, self-contained address space directly in a server process.
package nodemgr

import (
	"sync"

	"github.com/opcua-core/opcua/ua"
)

// Well-known namespace-0 reference type ids (Part 3, Annex A) used to
// express the Organizes/HasComponent/HasTypeDefinition/HasSubtype default
// topology most small address spaces need without pulling in the full
// generated NodeSet2 catalog.
var (
	ReferenceTypeOrganizes        = ua.NewNumericNodeID(0, 35)
	ReferenceTypeHasSubtype       = ua.NewNumericNodeID(0, 45)
	ReferenceTypeHasProperty      = ua.NewNumericNodeID(0, 46)
	ReferenceTypeHasComponent     = ua.NewNumericNodeID(0, 47)
	ReferenceTypeHasTypeDefinition = ua.NewNumericNodeID(0, 40)
)

// NodeClass bits (Part 3, 5.2.2); ResultMask/NodeClassMask filtering in
// Browse operates on this bitmask, not a sequential enum.
type NodeClass uint32

const (
	NodeClassObject NodeClass = 1 << iota
	NodeClassVariable
	NodeClassMethod
	NodeClassObjectType
	NodeClassVariableType
	NodeClassReferenceType
	NodeClassDataType
	NodeClassView
)

// Reference is one outgoing or incoming link in the address space graph.
type Reference struct {
	ReferenceTypeID *ua.NodeID
	IsForward       bool
	TargetID        ua.ExpandedNodeID
}

// Node is one in-memory address-space entry. Attribute reads/writes other
// than Value are served directly from these fields; Value carries the
// current DataValue for variables.
type Node struct {
	NodeID      *ua.NodeID
	NodeClass   NodeClass
	BrowseName  ua.QualifiedName
	DisplayName ua.LocalizedText
	Description ua.LocalizedText

	mu    sync.RWMutex
	Value *ua.DataValue

	// history is a bounded in-memory ring of past values, appended on
	// every SetValue and served by HistoryRead.
	history []*ua.DataValue

	References []Reference
}

// historyRingSize bounds the per-node value history.
const historyRingSize = 1000

// GetValue returns a copy of the node's current value.
func (n *Node) GetValue() *ua.DataValue {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.Value == nil {
		return nil
	}
	v := *n.Value
	return &v
}

// SetValue replaces the node's current value, as Write and the
// subscription engine's sample source both require, and appends it to
// the node's history ring.
func (n *Node) SetValue(v *ua.DataValue) {
	n.mu.Lock()
	n.Value = v
	if v != nil {
		if len(n.history) >= historyRingSize {
			n.history = n.history[1:]
		}
		n.history = append(n.history, v)
	}
	n.mu.Unlock()
}

// History returns a copy of the node's retained value history.
func (n *Node) History() []*ua.DataValue {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*ua.DataValue(nil), n.history...)
}
