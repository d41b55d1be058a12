// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package nodemgr

import (
	"context"
	"sync"

	"github.com/opcua-core/opcua/ua"
)

// Manager is the contract a backing store implements to join a Mux; it is
// the same surface the dispatcher consumes, so a lone Memory can serve
// directly and a Mux only appears once a second store exists.
type Manager interface {
	Read(ctx context.Context, nodes []*ua.ReadValueID, ts ua.TimestampsToReturn) []*ua.DataValue
	Write(ctx context.Context, values []*ua.WriteValue) []ua.StatusCode
	Browse(ctx context.Context, descs []*ua.BrowseDescription, maxPerNode uint32) []*ua.BrowseResult
	BrowseNext(ctx context.Context, continuationPoints [][]byte, release bool) []*ua.BrowseResult
}

// Mux aggregates multiple managers behind the uniform contract. Each
// manager claims namespace indexes; operations route by the target
// node's namespace and merge back in request order. Operations on a
// namespace nobody claims return BadNodeIdUnknown.
type Mux struct {
	mu          sync.RWMutex
	managers    []Manager
	byNamespace map[uint16]Manager
}

func NewMux() *Mux {
	return &Mux{byNamespace: make(map[uint16]Manager)}
}

// Register claims the given namespace indexes for mgr. Later claims on an
// already-claimed namespace win, matching the priority a later-installed
// store should have.
func (m *Mux) Register(mgr Manager, namespaces ...uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.managers = append(m.managers, mgr)
	for _, ns := range namespaces {
		m.byNamespace[ns] = mgr
	}
}

func (m *Mux) owner(id *ua.NodeID) (Manager, bool) {
	if id == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	mgr, ok := m.byNamespace[id.Namespace]
	return mgr, ok
}

func (m *Mux) Read(ctx context.Context, nodes []*ua.ReadValueID, ts ua.TimestampsToReturn) []*ua.DataValue {
	out := make([]*ua.DataValue, len(nodes))
	groups := make(map[Manager][]int)
	for i, rv := range nodes {
		mgr, ok := m.owner(rv.NodeID)
		if !ok {
			out[i] = &ua.DataValue{Status: ua.StatusBadNodeIDUnknown, HasStatus: true}
			continue
		}
		groups[mgr] = append(groups[mgr], i)
	}
	for mgr, idxs := range groups {
		sub := make([]*ua.ReadValueID, len(idxs))
		for j, i := range idxs {
			sub[j] = nodes[i]
		}
		res := mgr.Read(ctx, sub, ts)
		for j, i := range idxs {
			out[i] = res[j]
		}
	}
	return out
}

func (m *Mux) Write(ctx context.Context, values []*ua.WriteValue) []ua.StatusCode {
	out := make([]ua.StatusCode, len(values))
	groups := make(map[Manager][]int)
	for i, wv := range values {
		mgr, ok := m.owner(wv.NodeID)
		if !ok {
			out[i] = ua.StatusBadNodeIDUnknown
			continue
		}
		groups[mgr] = append(groups[mgr], i)
	}
	for mgr, idxs := range groups {
		sub := make([]*ua.WriteValue, len(idxs))
		for j, i := range idxs {
			sub[j] = values[i]
		}
		res := mgr.Write(ctx, sub)
		for j, i := range idxs {
			out[i] = res[j]
		}
	}
	return out
}

func (m *Mux) Browse(ctx context.Context, descs []*ua.BrowseDescription, maxPerNode uint32) []*ua.BrowseResult {
	out := make([]*ua.BrowseResult, len(descs))
	groups := make(map[Manager][]int)
	for i, d := range descs {
		mgr, ok := m.owner(d.NodeID)
		if !ok {
			out[i] = &ua.BrowseResult{StatusCode: ua.StatusBadNodeIDUnknown}
			continue
		}
		groups[mgr] = append(groups[mgr], i)
	}
	for mgr, idxs := range groups {
		sub := make([]*ua.BrowseDescription, len(idxs))
		for j, i := range idxs {
			sub[j] = descs[i]
		}
		res := mgr.Browse(ctx, sub, maxPerNode)
		for j, i := range idxs {
			out[i] = res[j]
		}
	}
	return out
}

// BrowseNext routes each continuation point to the manager that
// recognizes it: continuation points are opaque, so the mux asks every
// manager in registration order and keeps the first answer that isn't
// BadContinuationPointInvalid.
func (m *Mux) BrowseNext(ctx context.Context, continuationPoints [][]byte, release bool) []*ua.BrowseResult {
	m.mu.RLock()
	managers := append([]Manager(nil), m.managers...)
	m.mu.RUnlock()

	out := make([]*ua.BrowseResult, len(continuationPoints))
	for i, cp := range continuationPoints {
		out[i] = &ua.BrowseResult{StatusCode: ua.StatusBadContinuationPointInvalid}
		for _, mgr := range managers {
			res := mgr.BrowseNext(ctx, [][]byte{cp}, release)
			if len(res) == 1 && res[0].StatusCode != ua.StatusBadContinuationPointInvalid {
				out[i] = res[0]
				break
			}
		}
	}
	return out
}
