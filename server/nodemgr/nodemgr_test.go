// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package nodemgr

import (
	"context"
	"testing"
	"time"

	"github.com/opcua-core/opcua/ua"
)

func variableNode(t *testing.T, id *ua.NodeID, v interface{}) *Node {
	t.Helper()
	variant, err := ua.NewVariant(v)
	if err != nil {
		t.Fatalf("NewVariant: %v", err)
	}
	n := &Node{
		NodeID:     id,
		NodeClass:  NodeClassVariable,
		BrowseName: ua.QualifiedName{NamespaceIndex: id.Namespace, Name: id.String()},
	}
	n.SetValue(&ua.DataValue{
		Value: variant, Status: ua.StatusOK,
		SourceTimestamp: time.Now(),
		HasValue:        true, HasStatus: true, HasSourceTimestamp: true,
	})
	return n
}

func TestMemoryReadWrite(t *testing.T) {
	m := NewMemory()
	id := ua.NewStringNodeID(2, "v")
	m.AddNode(variableNode(t, id, int32(1)))

	res := m.Read(context.Background(), []*ua.ReadValueID{
		{NodeID: id, AttributeID: ua.AttributeIDValue},
		{NodeID: ua.NewStringNodeID(2, "missing"), AttributeID: ua.AttributeIDValue},
	}, ua.TimestampsToReturnBoth)
	if res[0].Value.Value != int32(1) {
		t.Fatalf("read: %+v", res[0])
	}
	if res[1].Status != ua.StatusBadNodeIDUnknown {
		t.Fatalf("missing node status: %v", res[1].Status)
	}

	v, _ := ua.NewVariant(int32(2))
	wres := m.Write(context.Background(), []*ua.WriteValue{
		{NodeID: id, AttributeID: ua.AttributeIDValue, Value: ua.DataValue{Value: v, HasValue: true}},
	})
	if wres[0] != ua.StatusOK {
		t.Fatalf("write: %v", wres[0])
	}
	res = m.Read(context.Background(), []*ua.ReadValueID{{NodeID: id, AttributeID: ua.AttributeIDValue}}, ua.TimestampsToReturnBoth)
	if res[0].Value.Value != int32(2) {
		t.Fatalf("read back: %+v", res[0])
	}
}

func TestMemoryBrowsePaging(t *testing.T) {
	m := NewMemory()
	m.MaxReferencesPerResponse = 3
	root := ua.NewNumericNodeID(2, 1)
	m.AddNode(&Node{NodeID: root, NodeClass: NodeClassObject})
	for i := 0; i < 10; i++ {
		child := ua.NewNumericNodeID(2, uint32(100+i))
		m.AddNode(&Node{NodeID: child, NodeClass: NodeClassObject})
		m.AddReference(root, ReferenceTypeOrganizes, child, "")
	}

	res := m.Browse(context.Background(), []*ua.BrowseDescription{
		{NodeID: root, Direction: ua.BrowseDirectionForward, IncludeSubtypes: true},
	}, 0)
	total := len(res[0].References)
	cp := res[0].ContinuationPoint
	for len(cp) > 0 {
		next := m.BrowseNext(context.Background(), [][]byte{cp}, false)
		if next[0].StatusCode != ua.StatusOK {
			t.Fatalf("browse next: %v", next[0].StatusCode)
		}
		total += len(next[0].References)
		cp = next[0].ContinuationPoint
	}
	if total != 10 {
		t.Fatalf("paged references %d, want 10", total)
	}

	// Releasing an outstanding continuation point succeeds and a second
	// use of it is invalid.
	res = m.Browse(context.Background(), []*ua.BrowseDescription{
		{NodeID: root, Direction: ua.BrowseDirectionForward, IncludeSubtypes: true},
	}, 0)
	cp = res[0].ContinuationPoint
	rel := m.BrowseNext(context.Background(), [][]byte{cp}, true)
	if rel[0].StatusCode != ua.StatusOK {
		t.Fatalf("release: %v", rel[0].StatusCode)
	}
	rel = m.BrowseNext(context.Background(), [][]byte{cp}, false)
	if rel[0].StatusCode != ua.StatusBadContinuationPointInvalid {
		t.Fatalf("reused continuation point: %v", rel[0].StatusCode)
	}
}

func TestMemoryHistoryRead(t *testing.T) {
	m := NewMemory()
	id := ua.NewStringNodeID(2, "h")
	n := &Node{NodeID: id, NodeClass: NodeClassVariable}
	m.AddNode(n)

	base := time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		v, _ := ua.NewVariant(int32(i))
		n.SetValue(&ua.DataValue{
			Value: v, Status: ua.StatusOK,
			SourceTimestamp: base.Add(time.Duration(i) * time.Minute),
			HasValue:        true, HasStatus: true, HasSourceTimestamp: true,
		})
	}

	details := &ua.ReadRawModifiedDetails{
		StartTime: base.Add(time.Minute),
		EndTime:   base.Add(3 * time.Minute),
	}
	res := m.HistoryRead(context.Background(), details, []*ua.HistoryReadValueID{{NodeID: id}})
	if res[0].StatusCode != ua.StatusOK {
		t.Fatalf("history read: %v", res[0].StatusCode)
	}
	hd, ok := res[0].HistoryData.Body.(*ua.HistoryData)
	if !ok {
		t.Fatalf("history data body: %T", res[0].HistoryData.Body)
	}
	if len(hd.DataValues) != 3 {
		t.Fatalf("window returned %d values, want 3", len(hd.DataValues))
	}
	if hd.DataValues[0].Value.Value != int32(1) || hd.DataValues[2].Value.Value != int32(3) {
		t.Fatalf("window values: %+v", hd.DataValues)
	}
}

func TestMuxRoutesByNamespace(t *testing.T) {
	ns2 := NewMemory()
	ns3 := NewMemory()
	id2 := ua.NewStringNodeID(2, "a")
	id3 := ua.NewStringNodeID(3, "b")
	ns2.AddNode(variableNode(t, id2, "two"))
	ns3.AddNode(variableNode(t, id3, "three"))

	mux := NewMux()
	mux.Register(ns2, 2)
	mux.Register(ns3, 3)

	res := mux.Read(context.Background(), []*ua.ReadValueID{
		{NodeID: id3, AttributeID: ua.AttributeIDValue},
		{NodeID: ua.NewStringNodeID(9, "nobody"), AttributeID: ua.AttributeIDValue},
		{NodeID: id2, AttributeID: ua.AttributeIDValue},
	}, ua.TimestampsToReturnBoth)

	if res[0].Value.Value != "three" {
		t.Fatalf("ns3 read: %+v", res[0])
	}
	if res[1].Status != ua.StatusBadNodeIDUnknown {
		t.Fatalf("unclaimed namespace: %v", res[1].Status)
	}
	if res[2].Value.Value != "two" {
		t.Fatalf("ns2 read: %+v", res[2])
	}

	v, _ := ua.NewVariant("updated")
	wres := mux.Write(context.Background(), []*ua.WriteValue{
		{NodeID: id2, AttributeID: ua.AttributeIDValue, Value: ua.DataValue{Value: v, HasValue: true}},
		{NodeID: ua.NewStringNodeID(9, "nobody"), AttributeID: ua.AttributeIDValue},
	})
	if wres[0] != ua.StatusOK || wres[1] != ua.StatusBadNodeIDUnknown {
		t.Fatalf("mux write: %v", wres)
	}
}

func TestMuxBrowseNextRouting(t *testing.T) {
	mgr := NewMemory()
	mgr.MaxReferencesPerResponse = 2
	root := ua.NewNumericNodeID(2, 1)
	mgr.AddNode(&Node{NodeID: root, NodeClass: NodeClassObject})
	for i := 0; i < 5; i++ {
		child := ua.NewNumericNodeID(2, uint32(10+i))
		mgr.AddNode(&Node{NodeID: child, NodeClass: NodeClassObject})
		mgr.AddReference(root, ReferenceTypeOrganizes, child, "")
	}
	other := NewMemory()

	mux := NewMux()
	mux.Register(other, 5)
	mux.Register(mgr, 2)

	res := mux.Browse(context.Background(), []*ua.BrowseDescription{
		{NodeID: root, Direction: ua.BrowseDirectionForward, IncludeSubtypes: true},
	}, 0)
	if res[0].StatusCode != ua.StatusOK || len(res[0].ContinuationPoint) == 0 {
		t.Fatalf("browse: %+v", res[0])
	}
	// The continuation point belongs to mgr, registered second: the mux
	// must still find it.
	next := mux.BrowseNext(context.Background(), [][]byte{res[0].ContinuationPoint}, false)
	if next[0].StatusCode != ua.StatusOK {
		t.Fatalf("mux browse next: %v", next[0].StatusCode)
	}
	if len(next[0].References) == 0 {
		t.Fatal("mux browse next returned no references")
	}
}

func TestCancelledContextAbortsOperations(t *testing.T) {
	m := NewMemory()
	id := ua.NewStringNodeID(2, "c")
	m.AddNode(variableNode(t, id, int32(1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := m.Read(ctx, []*ua.ReadValueID{{NodeID: id, AttributeID: ua.AttributeIDValue}}, ua.TimestampsToReturnBoth)
	if res[0].Status != ua.StatusBadRequestCancelledByClient {
		t.Fatalf("cancelled read status: %v", res[0].Status)
	}

	bres := m.Browse(ctx, []*ua.BrowseDescription{{NodeID: id, Direction: ua.BrowseDirectionForward}}, 0)
	if bres[0].StatusCode != ua.StatusBadRequestCancelledByClient {
		t.Fatalf("cancelled browse status: %v", bres[0].StatusCode)
	}

	hres := m.HistoryRead(ctx, nil, []*ua.HistoryReadValueID{{NodeID: id}})
	if hres[0].StatusCode != ua.StatusBadRequestCancelledByClient {
		t.Fatalf("cancelled history read status: %v", hres[0].StatusCode)
	}
}

func TestHistoryRingBounded(t *testing.T) {
	n := &Node{NodeID: ua.NewStringNodeID(2, "ring"), NodeClass: NodeClassVariable}
	for i := 0; i < historyRingSize+10; i++ {
		v, _ := ua.NewVariant(int32(i))
		n.SetValue(&ua.DataValue{Value: v, HasValue: true})
	}
	h := n.History()
	if len(h) != historyRingSize {
		t.Fatalf("ring length %d, want %d", len(h), historyRingSize)
	}
	if h[0].Value.Value != int32(10) {
		t.Fatalf("oldest retained %v, want 10", h[0].Value.Value)
	}
}
