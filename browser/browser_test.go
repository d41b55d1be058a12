// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package browser

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opcua-core/opcua/ua"
)

// fakeService serves a synthetic tree: node ids are numeric, node n's
// children are n*10+1 .. n*10+branch. Forward references point at
// children, inverse at the parent.
type fakeService struct {
	branch int
	depth  int

	pageSize int

	mu            sync.Mutex
	browseCalls   map[string]int // node;direction -> count
	nextCPID      int
	continuations map[string][]*ua.ReferenceDescription
	released      int
	failNextCP    int // fail this many BrowseNext calls with BadContinuationPointInvalid
}

func newFakeService(branch, depth int) *fakeService {
	return &fakeService{
		branch:        branch,
		depth:         depth,
		browseCalls:   make(map[string]int),
		continuations: make(map[string][]*ua.ReferenceDescription),
	}
}

func nodeDepth(id uint32) int {
	d := 0
	for id >= 10 {
		id /= 10
		d++
	}
	return d
}

func (f *fakeService) refsOf(id uint32, dir ua.BrowseDirection) []*ua.ReferenceDescription {
	var refs []*ua.ReferenceDescription
	if dir == ua.BrowseDirectionForward || dir == ua.BrowseDirectionBoth {
		if nodeDepth(id) < f.depth {
			for i := 1; i <= f.branch; i++ {
				refs = append(refs, &ua.ReferenceDescription{
					IsForward: true,
					NodeID:    ua.ExpandedNodeID{NodeID: ua.NewNumericNodeID(1, id*10+uint32(i))},
				})
			}
		}
	}
	if (dir == ua.BrowseDirectionInverse || dir == ua.BrowseDirectionBoth) && id >= 10 {
		refs = append(refs, &ua.ReferenceDescription{
			IsForward: false,
			NodeID:    ua.ExpandedNodeID{NodeID: ua.NewNumericNodeID(1, id/10)},
		})
	}
	return refs
}

func (f *fakeService) Browse(req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &ua.BrowseResponse{}
	for _, d := range req.NodesToBrowse {
		key := fmt.Sprintf("%s;%d", d.NodeID, d.Direction)
		f.browseCalls[key]++
		refs := f.refsOf(d.NodeID.NumericID, d.Direction)
		res := &ua.BrowseResult{StatusCode: ua.StatusOK}
		if f.pageSize > 0 && len(refs) > f.pageSize {
			res.References = refs[:f.pageSize]
			f.nextCPID++
			cp := []byte(fmt.Sprintf("cp-%d", f.nextCPID))
			f.continuations[string(cp)] = refs[f.pageSize:]
			res.ContinuationPoint = cp
		} else {
			res.References = refs
		}
		resp.Results = append(resp.Results, res)
	}
	return resp, nil
}

func (f *fakeService) BrowseNext(req *ua.BrowseNextRequest) (*ua.BrowseNextResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &ua.BrowseNextResponse{}
	for _, cp := range req.ContinuationPoints {
		rest, ok := f.continuations[string(cp)]
		if ok {
			delete(f.continuations, string(cp))
		}
		if req.ReleaseContinuationPoints {
			f.released++
			resp.Results = append(resp.Results, &ua.BrowseResult{StatusCode: ua.StatusOK})
			continue
		}
		if !ok {
			resp.Results = append(resp.Results, &ua.BrowseResult{StatusCode: ua.StatusBadContinuationPointInvalid})
			continue
		}
		if f.failNextCP > 0 {
			f.failNextCP--
			resp.Results = append(resp.Results, &ua.BrowseResult{StatusCode: ua.StatusBadContinuationPointInvalid})
			continue
		}
		res := &ua.BrowseResult{StatusCode: ua.StatusOK}
		if f.pageSize > 0 && len(rest) > f.pageSize {
			res.References = rest[:f.pageSize]
			f.nextCPID++
			next := []byte(fmt.Sprintf("cp-%d", f.nextCPID))
			f.continuations[string(next)] = rest[f.pageSize:]
			res.ContinuationPoint = next
		} else {
			res.References = rest
		}
		resp.Results = append(resp.Results, res)
	}
	return resp, nil
}

func expandAll(item *ResultItem) (ua.BrowseDirection, bool) {
	return ua.BrowseDirectionBoth, true
}

func collect(t *testing.T, items <-chan *ResultItem, errc <-chan error) ([]*ResultItem, error) {
	t.Helper()
	var out []*ResultItem
	for item := range items {
		out = append(out, item)
	}
	select {
	case err := <-errc:
		return out, err
	case <-time.After(5 * time.Second):
		t.Fatal("error channel never delivered")
		return nil, nil
	}
}

// treeSize is the node count of the synthetic tree: sum of branch^i for
// i in [0, depth].
func treeSize(branch, depth int) int {
	n, p := 0, 1
	for i := 0; i <= depth; i++ {
		n += p
		p *= branch
	}
	return n
}

func TestStreamVisitsEveryNodeOnce(t *testing.T) {
	f := newFakeService(4, 3) // 1 + 4 + 16 + 64 = 85 nodes
	b := New(f, DefaultConfig())

	seeds := []*ua.BrowseDescription{{NodeID: ua.NewNumericNodeID(1, 1), Direction: ua.BrowseDirectionBoth}}
	items, errc := b.Stream(context.Background(), seeds, expandAll)
	got, err := collect(t, items, errc)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	unique := map[string]struct{}{"ns=1;i=1": {}}
	for _, item := range got {
		unique[item.Reference.NodeID.NodeID.String()] = struct{}{}
	}
	if want := treeSize(4, 3); len(unique) != want {
		t.Fatalf("visited %d unique nodes, want %d", len(unique), want)
	}

	// Dedup: no node browsed more than once per direction key; Both
	// absorbs everything, so every node must appear exactly once.
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, count := range f.browseCalls {
		if count > 1 {
			t.Fatalf("node browsed %d times: %s", count, key)
		}
	}
	if len(f.continuations) != 0 {
		t.Fatalf("%d continuation points left unresolved", len(f.continuations))
	}
}

func TestStreamDepthLimit(t *testing.T) {
	f := newFakeService(3, 4)
	cfg := DefaultConfig()
	cfg.MaxDepth = 2
	b := New(f, cfg)

	seeds := []*ua.BrowseDescription{{NodeID: ua.NewNumericNodeID(1, 1), Direction: ua.BrowseDirectionForward}}
	items, errc := b.Stream(context.Background(), seeds, expandAll)
	got, err := collect(t, items, errc)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	for _, item := range got {
		if item.Depth >= cfg.MaxDepth {
			t.Fatalf("item beyond depth limit: depth %d", item.Depth)
		}
	}
}

func TestContinuationPointPagingAndRetry(t *testing.T) {
	f := newFakeService(10, 1) // root with 10 children
	f.pageSize = 3
	f.failNextCP = 1 // first BrowseNext fails, forcing a from-scratch retry
	b := New(f, DefaultConfig())

	seeds := []*ua.BrowseDescription{{NodeID: ua.NewNumericNodeID(1, 1), Direction: ua.BrowseDirectionForward}}
	items, errc := b.Stream(context.Background(), seeds, func(item *ResultItem) (ua.BrowseDirection, bool) {
		return 0, false // no expansion, just page through the root
	})
	got, err := collect(t, items, errc)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	// The failed page forces a retry from the beginning, so children from
	// the first attempt's pages appear twice; all 10 must be present.
	unique := map[string]struct{}{}
	for _, item := range got {
		unique[item.Reference.NodeID.NodeID.String()] = struct{}{}
	}
	if len(unique) != 10 {
		t.Fatalf("saw %d unique children, want 10", len(unique))
	}
}

func TestContinuationPointRetryBudgetExhausted(t *testing.T) {
	f := newFakeService(10, 1)
	f.pageSize = 3
	f.failNextCP = 100 // never recovers
	cfg := DefaultConfig()
	cfg.MaxContinuationPointRetries = 2
	b := New(f, cfg)

	seeds := []*ua.BrowseDescription{{NodeID: ua.NewNumericNodeID(1, 1), Direction: ua.BrowseDirectionForward}}
	items, errc := b.Stream(context.Background(), seeds, func(item *ResultItem) (ua.BrowseDirection, bool) {
		return 0, false
	})
	_, err := collect(t, items, errc)
	if err != ua.StatusBadContinuationPointInvalid {
		t.Fatalf("got %v, want BadContinuationPointInvalid after retry budget", err)
	}
}

func TestInvalidPolicyDirectionAbortsStream(t *testing.T) {
	f := newFakeService(3, 3)
	b := New(f, DefaultConfig())

	seeds := []*ua.BrowseDescription{{NodeID: ua.NewNumericNodeID(1, 1), Direction: ua.BrowseDirectionForward}}
	items, errc := b.Stream(context.Background(), seeds, func(item *ResultItem) (ua.BrowseDirection, bool) {
		return ua.BrowseDirectionInvalid, true
	})
	_, err := collect(t, items, errc)
	if err == nil {
		t.Fatal("invalid direction did not abort the stream")
	}
}

func TestOutstandingContinuationPointsReleasedOnAbort(t *testing.T) {
	f := newFakeService(10, 1)
	f.pageSize = 3
	b := New(f, DefaultConfig())

	// Abort on the first item: the root's continuation point is still
	// outstanding and must be released best-effort.
	seeds := []*ua.BrowseDescription{{NodeID: ua.NewNumericNodeID(1, 1), Direction: ua.BrowseDirectionForward}}
	items, errc := b.Stream(context.Background(), seeds, func(item *ResultItem) (ua.BrowseDirection, bool) {
		return ua.BrowseDirectionInvalid, true
	})
	_, err := collect(t, items, errc)
	if err == nil {
		t.Fatal("expected abort")
	}
	f.mu.Lock()
	released := f.released
	f.mu.Unlock()
	if released == 0 {
		t.Fatal("outstanding continuation point was not released")
	}
}
