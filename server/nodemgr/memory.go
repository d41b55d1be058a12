// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package nodemgr

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"

	"github.com/opcua-core/opcua/ua"
)

// Memory is a node manager backed by a plain map, the one concrete
// implementation of the node manager façade this module ships. It is
// sufficient for
// a self-contained address space; a production deployment would replace
// it with a manager backed by a real information model store while
// keeping the same Read/Write/Browse/BrowseNext surface.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]*Node

	cpMu          sync.Mutex
	continuations map[string]*pendingBrowse

	// MaxReferencesPerResponse bounds how many references a single Browse
	// or BrowseNext reply carries before it hands back a continuation
	// point for the remainder.
	MaxReferencesPerResponse int
}

type pendingBrowse struct {
	refs []*ua.ReferenceDescription
}

// NewMemory constructs an empty address space.
func NewMemory() *Memory {
	return &Memory{
		nodes:                    make(map[string]*Node),
		continuations:            make(map[string]*pendingBrowse),
		MaxReferencesPerResponse: 256,
	}
}

// AddNode inserts or replaces a node.
func (m *Memory) AddNode(n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.NodeID.String()] = n
}

// AddReference records a forward reference from -> to, and its inverse on
// to -> from, matching how every real address space keeps both
// directions walkable.
func (m *Memory) AddReference(from *ua.NodeID, refType *ua.NodeID, to *ua.NodeID, toNamespaceURI string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn, ok := m.nodes[from.String()]
	if !ok {
		return
	}
	tn, tok := m.nodes[to.String()]
	fn.References = append(fn.References, Reference{
		ReferenceTypeID: refType,
		IsForward:       true,
		TargetID:        ua.ExpandedNodeID{NodeID: to, NamespaceURI: toNamespaceURI},
	})
	if tok {
		tn.References = append(tn.References, Reference{
			ReferenceTypeID: refType,
			IsForward:       false,
			TargetID:        ua.ExpandedNodeID{NodeID: from},
		})
	}
}

func (m *Memory) lookup(id *ua.NodeID) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id.String()]
	return n, ok
}

// Read serves one attribute per ReadValueID. Unknown nodes yield
// BadNodeIdUnknown; attributes other than Value are read directly off the
// node's static fields.
func (m *Memory) Read(ctx context.Context, nodes []*ua.ReadValueID, ts ua.TimestampsToReturn) []*ua.DataValue {
	out := make([]*ua.DataValue, len(nodes))
	for i, rv := range nodes {
		if ctx.Err() != nil {
			out[i] = &ua.DataValue{Status: ua.StatusBadRequestCancelledByClient, HasStatus: true}
			continue
		}
		n, ok := m.lookup(rv.NodeID)
		if !ok {
			out[i] = &ua.DataValue{Status: ua.StatusBadNodeIDUnknown, HasStatus: true}
			continue
		}
		out[i] = m.readAttribute(n, rv.AttributeID)
	}
	return out
}

func (m *Memory) readAttribute(n *Node, attr ua.AttributeID) *ua.DataValue {
	switch attr {
	case ua.AttributeIDValue:
		if dv := n.GetValue(); dv != nil {
			return dv
		}
		return &ua.DataValue{Status: ua.StatusUncertainInitialValue, HasStatus: true}
	case ua.AttributeIDNodeID:
		return scalarValue(n.NodeID)
	case ua.AttributeIDNodeClass:
		return scalarValue(uint32(n.NodeClass))
	case ua.AttributeIDBrowseName:
		return scalarValue(&n.BrowseName)
	case ua.AttributeIDDisplayName:
		return scalarValue(&n.DisplayName)
	case ua.AttributeIDDescription:
		return scalarValue(&n.Description)
	default:
		return &ua.DataValue{Status: ua.StatusBadNodeIDUnknown, HasStatus: true}
	}
}

func scalarValue(v interface{}) *ua.DataValue {
	variant, err := ua.NewVariant(v)
	if err != nil {
		return &ua.DataValue{Status: ua.StatusBadEncodingError, HasStatus: true}
	}
	return &ua.DataValue{Value: variant, Status: ua.StatusOK, HasValue: true, HasStatus: true}
}

// Write applies WriteValues targeting the Value attribute; every other
// attribute is read-only in this implementation.
func (m *Memory) Write(ctx context.Context, values []*ua.WriteValue) []ua.StatusCode {
	out := make([]ua.StatusCode, len(values))
	for i, wv := range values {
		n, ok := m.lookup(wv.NodeID)
		if !ok {
			out[i] = ua.StatusBadNodeIDUnknown
			continue
		}
		if wv.AttributeID != ua.AttributeIDValue {
			out[i] = ua.StatusBadNodeIDUnknown
			continue
		}
		n.SetValue(&wv.Value)
		out[i] = ua.StatusOK
	}
	return out
}

// HistoryRead serves raw history for each node from its in-memory ring,
// filtered to the requested time window and bounded by NumValuesPerNode.
func (m *Memory) HistoryRead(ctx context.Context, details *ua.ReadRawModifiedDetails, nodes []*ua.HistoryReadValueID) []*ua.HistoryReadResult {
	out := make([]*ua.HistoryReadResult, len(nodes))
	for i, hrv := range nodes {
		if ctx.Err() != nil {
			out[i] = &ua.HistoryReadResult{StatusCode: ua.StatusBadRequestCancelledByClient}
			continue
		}
		n, ok := m.lookup(hrv.NodeID)
		if !ok {
			out[i] = &ua.HistoryReadResult{StatusCode: ua.StatusBadNodeIDUnknown}
			continue
		}
		var values []*ua.DataValue
		for _, dv := range n.History() {
			if details != nil {
				if !details.StartTime.IsZero() && dv.SourceTimestamp.Before(details.StartTime) {
					continue
				}
				if !details.EndTime.IsZero() && dv.SourceTimestamp.After(details.EndTime) {
					continue
				}
				if details.NumValuesPerNode > 0 && uint32(len(values)) >= details.NumValuesPerNode {
					break
				}
			}
			values = append(values, dv)
		}
		out[i] = &ua.HistoryReadResult{
			StatusCode:  ua.StatusOK,
			HistoryData: ua.NewExtensionObject(&ua.HistoryData{DataValues: values}),
		}
	}
	return out
}

// Browse walks one hop of outgoing/incoming references per description,
// honoring Direction, ReferenceTypeID/IncludeSubtypes and NodeClassMask,
// and hands back a continuation point when the match set exceeds
// MaxReferencesPerResponse.
func (m *Memory) Browse(ctx context.Context, descs []*ua.BrowseDescription, maxPerNode uint32) []*ua.BrowseResult {
	out := make([]*ua.BrowseResult, len(descs))
	limit := m.MaxReferencesPerResponse
	if maxPerNode > 0 && int(maxPerNode) < limit {
		limit = int(maxPerNode)
	}
	for i, d := range descs {
		if ctx.Err() != nil {
			out[i] = &ua.BrowseResult{StatusCode: ua.StatusBadRequestCancelledByClient}
			continue
		}
		n, ok := m.lookup(d.NodeID)
		if !ok {
			out[i] = &ua.BrowseResult{StatusCode: ua.StatusBadNodeIDUnknown}
			continue
		}
		matches := m.matchReferences(n, d)
		out[i] = m.page(matches, limit)
	}
	return out
}

func (m *Memory) matchReferences(n *Node, d *ua.BrowseDescription) []*ua.ReferenceDescription {
	var refs []*ua.ReferenceDescription
	for _, ref := range n.References {
		if !directionMatches(d.Direction, ref.IsForward) {
			continue
		}
		if d.ReferenceTypeID != nil && !referenceTypeMatches(d.ReferenceTypeID, d.IncludeSubtypes, ref.ReferenceTypeID) {
			continue
		}
		target, ok := m.lookup(ref.TargetID.NodeID)
		var class NodeClass
		var bn ua.QualifiedName
		var dn ua.LocalizedText
		if ok {
			class = target.NodeClass
			bn = target.BrowseName
			dn = target.DisplayName
		}
		if d.NodeClassMask != 0 && uint32(class)&d.NodeClassMask == 0 {
			continue
		}
		refs = append(refs, &ua.ReferenceDescription{
			ReferenceTypeID: ref.ReferenceTypeID,
			IsForward:       ref.IsForward,
			NodeID:          ref.TargetID,
			BrowseName:      bn,
			DisplayName:     dn,
			NodeClass:       uint32(class),
		})
	}
	return refs
}

func directionMatches(want ua.BrowseDirection, isForward bool) bool {
	switch want {
	case ua.BrowseDirectionForward:
		return isForward
	case ua.BrowseDirectionInverse:
		return !isForward
	case ua.BrowseDirectionBoth:
		return true
	default:
		return false
	}
}

// referenceTypeMatches reports an exact reference type match. The manager
// keeps no reference type hierarchy, so when includeSubtypes is set every
// reference type matches; no subtype relation is checked.
func referenceTypeMatches(want *ua.NodeID, includeSubtypes bool, got *ua.NodeID) bool {
	if want.Equal(got) {
		return true
	}
	return includeSubtypes
}

func (m *Memory) page(refs []*ua.ReferenceDescription, limit int) *ua.BrowseResult {
	if limit <= 0 || len(refs) <= limit {
		return &ua.BrowseResult{StatusCode: ua.StatusOK, References: refs}
	}
	head, rest := refs[:limit], refs[limit:]
	cp := m.newContinuation(rest)
	return &ua.BrowseResult{StatusCode: ua.StatusOK, References: head, ContinuationPoint: cp}
}

func (m *Memory) newContinuation(rest []*ua.ReferenceDescription) []byte {
	id := uuid.New()
	key := hex.EncodeToString(id[:])
	m.cpMu.Lock()
	m.continuations[key] = &pendingBrowse{refs: rest}
	m.cpMu.Unlock()
	return id[:]
}

// BrowseNext resumes or releases a continuation point created by Browse
//. An unknown continuation point yields BadContinuationPointInvalid
// so callers can apply their retry policy.
func (m *Memory) BrowseNext(ctx context.Context, continuationPoints [][]byte, release bool) []*ua.BrowseResult {
	out := make([]*ua.BrowseResult, len(continuationPoints))
	for i, cp := range continuationPoints {
		if ctx.Err() != nil {
			out[i] = &ua.BrowseResult{StatusCode: ua.StatusBadRequestCancelledByClient}
			continue
		}
		key := hex.EncodeToString(cp)
		m.cpMu.Lock()
		pb, ok := m.continuations[key]
		if ok {
			delete(m.continuations, key)
		}
		m.cpMu.Unlock()
		if !ok {
			out[i] = &ua.BrowseResult{StatusCode: ua.StatusBadContinuationPointInvalid}
			continue
		}
		if release {
			out[i] = &ua.BrowseResult{StatusCode: ua.StatusOK}
			continue
		}
		out[i] = m.page(pb.refs, m.MaxReferencesPerResponse)
	}
	return out
}
