// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opcua-core/opcua/ua"
)

// stubSampler serves values from a map keyed by node id string.
type stubSampler struct {
	mu     sync.Mutex
	values map[string]*ua.DataValue
	ranges map[string][2]float64
}

func newStubSampler() *stubSampler {
	return &stubSampler{
		values: make(map[string]*ua.DataValue),
		ranges: make(map[string][2]float64),
	}
}

func (s *stubSampler) set(id *ua.NodeID, v interface{}) {
	variant, err := ua.NewVariant(v)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	s.values[id.String()] = &ua.DataValue{Value: variant, Status: ua.StatusOK, HasValue: true, HasStatus: true}
	s.mu.Unlock()
}

func (s *stubSampler) Read(ctx context.Context, nodes []*ua.ReadValueID, ts ua.TimestampsToReturn) []*ua.DataValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ua.DataValue, len(nodes))
	for i, rv := range nodes {
		out[i] = s.values[rv.NodeID.String()]
	}
	return out
}

func (s *stubSampler) EURange(id *ua.NodeID) (float64, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ranges[id.String()]
	return r[0], r[1], ok
}

// idleTestOptions keeps the background ticker from firing so tests can
// drive publish cycles by hand via manualTick.
func idleTestOptions() Options {
	opts := DefaultOptions()
	opts.MinPublishingInterval = time.Hour
	opts.MinSamplingInterval = 0
	return opts
}

func (e *Engine) manualTick(subID uint32, now time.Time) (closed bool) {
	e.mu.Lock()
	sub, ok := e.subs[subID]
	if !ok {
		e.mu.Unlock()
		return true
	}
	fn, done := e.tick(sub, now)
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
	return done
}

func newTestEngine(t *testing.T, sampler Sampler) *Engine {
	t.Helper()
	e := NewEngine(sampler, idleTestOptions())
	t.Cleanup(e.Close)
	return e
}

func createTestSub(t *testing.T, e *Engine, session string, keepAlive, lifetime uint32) uint32 {
	t.Helper()
	resp := e.CreateSubscription(session, "anonymous", ua.MessageSecurityModeNone, &ua.CreateSubscriptionRequest{
		RequestedPublishingInterval: float64(time.Hour / time.Millisecond),
		RequestedLifetimeCount:      lifetime,
		RequestedMaxKeepAliveCount:  keepAlive,
		PublishingEnabled:           true,
	})
	if resp.ResponseHeader.ServiceResult != ua.StatusOK {
		t.Fatalf("CreateSubscription: %v", resp.ResponseHeader.ServiceResult)
	}
	return resp.SubscriptionID
}

func createTestItem(t *testing.T, e *Engine, session string, subID uint32, node *ua.NodeID, mode ua.MonitoringMode, filter *ua.DataChangeFilter) uint32 {
	t.Helper()
	req := &ua.CreateMonitoredItemsRequest{
		SubscriptionID: subID,
		ItemsToCreate: []*ua.MonitoredItemCreateRequest{
			{
				ItemToMonitor:  &ua.ReadValueID{NodeID: node, AttributeID: ua.AttributeIDValue},
				MonitoringMode: mode,
				RequestedParameters: &ua.MonitoringParameters{
					ClientHandle:  node.NumericID,
					QueueSize:     10,
					DiscardOldest: true,
					Filter:        filterExt(filter),
				},
			},
		},
	}
	res := e.CreateMonitoredItems(session, req)
	if len(res) != 1 || res[0].StatusCode != ua.StatusOK {
		t.Fatalf("CreateMonitoredItems: %+v", res)
	}
	return res[0].MonitoredItemID
}

func filterExt(f *ua.DataChangeFilter) *ua.ExtensionObject {
	if f == nil {
		return nil
	}
	return ua.NewExtensionObject(f)
}

func publishAsync(e *Engine, session string) chan *ua.PublishResponse {
	ch := make(chan *ua.PublishResponse, 1)
	e.Publish(session, &ua.PublishRequest{}, func(resp *ua.PublishResponse, err error) {
		if err == nil {
			ch <- resp
		} else {
			close(ch)
		}
	})
	return ch
}

func dataChangeItems(t *testing.T, msg *ua.NotificationMessage) []*ua.MonitoredItemNotification {
	t.Helper()
	if msg == nil || len(msg.NotificationData) == 0 {
		return nil
	}
	dcn, ok := msg.NotificationData[0].Body.(*ua.DataChangeNotification)
	if !ok {
		t.Fatalf("notification body: %T", msg.NotificationData[0].Body)
	}
	return dcn.MonitoredItems
}

func TestKeepAliveAndLateAndLifetime(t *testing.T) {
	sampler := newStubSampler()
	e := newTestEngine(t, sampler)
	subID := createTestSub(t, e, "s1", 3, 10)

	now := time.Now()
	// No data, no publish requests queued: after keep_alive_count ticks a
	// keep-alive message forms with nowhere to go, marking the
	// subscription Late.
	for i := 0; i < 3; i++ {
		if closed := e.manualTick(subID, now); closed {
			t.Fatalf("closed after %d ticks", i+1)
		}
	}
	if st, ok := e.State(subID); !ok || st != StateLate {
		t.Fatalf("state = %v, want Late", st)
	}

	// Continue without any publish: once lifetime_count ticks elapse the
	// subscription closes.
	closed := false
	for i := 3; i < 10 && !closed; i++ {
		closed = e.manualTick(subID, now)
	}
	if !closed {
		t.Fatal("subscription did not close after lifetime_count ticks")
	}
	if _, ok := e.State(subID); ok {
		t.Fatal("closed subscription still registered")
	}
}

func TestKeepAliveDeliveredToPendingPublish(t *testing.T) {
	sampler := newStubSampler()
	e := newTestEngine(t, sampler)
	subID := createTestSub(t, e, "s1", 2, 100)

	ch := publishAsync(e, "s1")
	now := time.Now()
	e.manualTick(subID, now)
	select {
	case <-ch:
		t.Fatal("keep-alive before keep_alive_count ticks")
	default:
	}
	e.manualTick(subID, now)

	select {
	case resp := <-ch:
		if resp.SubscriptionID != subID {
			t.Fatalf("subscription id %d", resp.SubscriptionID)
		}
		if len(resp.NotificationMessage.NotificationData) != 0 {
			t.Fatalf("keep-alive carried %d notifications", len(resp.NotificationMessage.NotificationData))
		}
		if resp.NotificationMessage.SequenceNumber != 1 {
			t.Fatalf("keep-alive sequence %d", resp.NotificationMessage.SequenceNumber)
		}
	case <-time.After(time.Second):
		t.Fatal("keep-alive not delivered")
	}
	if st, _ := e.State(subID); st != StateKeepAlive {
		t.Fatalf("state = %v, want KeepAlive", st)
	}
}

func TestDeadbandFilter(t *testing.T) {
	node := ua.NewNumericNodeID(2, 100)
	sampler := newStubSampler()
	sampler.set(node, float64(0.0))
	e := newTestEngine(t, sampler)
	subID := createTestSub(t, e, "s1", 100, 1000)
	createTestItem(t, e, "s1", subID, node, ua.MonitoringModeReporting, &ua.DataChangeFilter{
		Trigger:       ua.DataChangeTriggerStatusValue,
		DeadbandType:  ua.DeadbandAbsolute,
		DeadbandValue: 2.0,
	})

	now := time.Now()
	// Initial sample reports 0.0 as the baseline.
	ch := publishAsync(e, "s1")
	e.manualTick(subID, now)
	resp := <-ch
	items := dataChangeItems(t, resp.NotificationMessage)
	if len(items) != 1 || items[0].Value.Value.Value != 0.0 {
		t.Fatalf("baseline: %+v", items)
	}

	// 1.0 is within the deadband of the last reported 0.0: no
	// notification. 3.0 exceeds it: exactly one notification.
	sampler.set(node, float64(1.0))
	e.manualTick(subID, now.Add(time.Millisecond))
	sampler.set(node, float64(3.0))
	ch = publishAsync(e, "s1")
	e.manualTick(subID, now.Add(2*time.Millisecond))

	select {
	case resp = <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification for 3.0")
	}
	items = dataChangeItems(t, resp.NotificationMessage)
	if len(items) != 1 {
		t.Fatalf("got %d notifications, want exactly 1", len(items))
	}
	if items[0].Value.Value.Value != 3.0 {
		t.Fatalf("notified value %v, want 3.0", items[0].Value.Value.Value)
	}
}

func TestTriggeringLink(t *testing.T) {
	nodeA := ua.NewNumericNodeID(2, 1)
	nodeB := ua.NewNumericNodeID(2, 2)
	sampler := newStubSampler()
	sampler.set(nodeA, int32(1))
	sampler.set(nodeB, int32(10))
	e := newTestEngine(t, sampler)
	subID := createTestSub(t, e, "s1", 100, 1000)
	itemA := createTestItem(t, e, "s1", subID, nodeA, ua.MonitoringModeReporting, nil)
	itemB := createTestItem(t, e, "s1", subID, nodeB, ua.MonitoringModeSampling, nil)

	added, _ := e.SetTriggering("s1", &ua.SetTriggeringRequest{
		SubscriptionID:   subID,
		TriggeringItemID: itemA,
		LinksToAdd:       []uint32{itemB},
	})
	if len(added) != 1 || added[0] != ua.StatusOK {
		t.Fatalf("SetTriggering: %+v", added)
	}

	// Both A and B sample their initial values; A reports, so B's queued
	// value flushes with it even though B is only Sampling.
	ch := publishAsync(e, "s1")
	e.manualTick(subID, time.Now())
	resp := <-ch
	items := dataChangeItems(t, resp.NotificationMessage)
	if len(items) != 2 {
		t.Fatalf("batch had %d notifications, want A and B", len(items))
	}

	// A write to B alone queues in B but does not notify: A has nothing
	// to report, so the tick emits nothing (B stays queued).
	sampler.set(nodeB, int32(20))
	e.manualTick(subID, time.Now().Add(time.Millisecond))
	ch = publishAsync(e, "s1")
	select {
	case resp := <-ch:
		if items := dataChangeItems(t, resp.NotificationMessage); len(items) > 0 {
			t.Fatalf("B-only change notified: %+v", items)
		}
	case <-time.After(50 * time.Millisecond):
		// No message formed: expected.
	}

	// A reports again: B's queued value rides along.
	sampler.set(nodeA, int32(2))
	e.manualTick(subID, time.Now().Add(2*time.Millisecond))
	var final *ua.PublishResponse
	select {
	case final = <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification after A reported again")
	}
	items = dataChangeItems(t, final.NotificationMessage)
	if len(items) != 2 {
		t.Fatalf("batch had %d notifications, want A and B", len(items))
	}
}

func TestSequenceNumbersAndRepublish(t *testing.T) {
	node := ua.NewNumericNodeID(2, 7)
	sampler := newStubSampler()
	sampler.set(node, int32(1))
	e := newTestEngine(t, sampler)
	subID := createTestSub(t, e, "s1", 100, 1000)
	createTestItem(t, e, "s1", subID, node, ua.MonitoringModeReporting, nil)

	var seqs []uint32
	now := time.Now()
	for i := 0; i < 3; i++ {
		sampler.set(node, int32(i+1))
		ch := publishAsync(e, "s1")
		e.manualTick(subID, now.Add(time.Duration(i)*time.Millisecond))
		select {
		case resp := <-ch:
			seqs = append(seqs, resp.NotificationMessage.SequenceNumber)
		case <-time.After(time.Second):
			t.Fatalf("tick %d produced no message", i)
		}
	}
	for i, s := range seqs {
		if s != uint32(i+1) {
			t.Fatalf("sequence numbers %v, want 1,2,3", seqs)
		}
	}

	// All three are retained until acknowledged.
	msg, err := e.Republish("s1", subID, 2)
	if err != nil {
		t.Fatalf("Republish: %v", err)
	}
	if msg.SequenceNumber != 2 {
		t.Fatalf("republished seq %d", msg.SequenceNumber)
	}

	// Acknowledging removes it.
	e.mu.Lock()
	results := e.processAcks("s1", []*ua.SubscriptionAcknowledgement{{SubscriptionID: subID, SequenceNumber: 2}})
	e.mu.Unlock()
	if results[0] != ua.StatusOK {
		t.Fatalf("ack: %v", results[0])
	}
	if _, err := e.Republish("s1", subID, 2); err != ua.StatusBadMessageNotAvailable {
		t.Fatalf("Republish after ack: %v", err)
	}
	if _, err := e.Republish("s1", 999, 1); err != ua.StatusBadSubscriptionIDInvalid {
		t.Fatalf("Republish unknown sub: %v", err)
	}
}

func TestQueueOverflowSetsOverflowBit(t *testing.T) {
	m := &monitoredItem{
		id: 1, clientHandle: 1, queueSize: 2, discardOldest: true,
		mode:      ua.MonitoringModeReporting,
		triggered: map[uint32]struct{}{},
	}
	for i := 0; i < 3; i++ {
		v, _ := ua.NewVariant(int32(i))
		m.observe(&ua.DataValue{Value: v, Status: ua.StatusOK, HasValue: true, HasStatus: true}, 0)
	}
	if len(m.queue) != 2 {
		t.Fatalf("queue length %d, want 2", len(m.queue))
	}
	// Oldest (0) was dropped; the first retained value (1) carries the
	// overflow info bits.
	if m.queue[0].Value.Value.Value != int32(1) {
		t.Fatalf("first retained %v", m.queue[0].Value.Value.Value)
	}
	if m.queue[0].Value.Status&overflowBits != overflowBits {
		t.Fatalf("overflow bit not set: %08x", uint32(m.queue[0].Value.Status))
	}
	if m.queue[1].Value.Status&overflowBits != 0 {
		t.Fatalf("overflow bit leaked onto newest: %08x", uint32(m.queue[1].Value.Status))
	}
}

func TestTransferSubscriptions(t *testing.T) {
	node := ua.NewNumericNodeID(2, 9)
	sampler := newStubSampler()
	sampler.set(node, int32(5))
	e := newTestEngine(t, sampler)
	subID := createTestSub(t, e, "old-session", 100, 1000)

	// A publish queued on the old session completes with
	// GoodSubscriptionTransferred when the subscription moves.
	ch := publishAsync(e, "old-session")

	results := e.TransferSubscriptions("new-session", "anonymous", ua.MessageSecurityModeNone, []uint32{subID})
	if len(results) != 1 || results[0].StatusCode != ua.StatusOK {
		t.Fatalf("transfer: %+v", results)
	}

	select {
	case resp := <-ch:
		scn, ok := resp.NotificationMessage.NotificationData[0].Body.(*ua.StatusChangeNotification)
		if !ok || scn.Status != ua.StatusGoodSubscriptionTransferred {
			t.Fatalf("old session notification: %+v", resp.NotificationMessage)
		}
	case <-time.After(time.Second):
		t.Fatal("old session publish not completed")
	}

	// The old session no longer owns the subscription.
	if res := e.DeleteSubscriptions("old-session", []uint32{subID}); res[0] != ua.StatusBadSubscriptionIDInvalid {
		t.Fatalf("old session delete: %v", res[0])
	}
	if res := e.DeleteSubscriptions("new-session", []uint32{subID}); res[0] != ua.StatusOK {
		t.Fatalf("new session delete: %v", res[0])
	}
}

func TestTransferRejectsDifferentIdentityOrWeakerChannel(t *testing.T) {
	sampler := newStubSampler()
	e := newTestEngine(t, sampler)
	resp := e.CreateSubscription("s1", "username:alice", ua.MessageSecurityModeSign, &ua.CreateSubscriptionRequest{
		RequestedPublishingInterval: float64(time.Hour / time.Millisecond),
		RequestedLifetimeCount:      100,
		RequestedMaxKeepAliveCount:  10,
		PublishingEnabled:           true,
	})
	subID := resp.SubscriptionID

	res := e.TransferSubscriptions("s2", "username:bob", ua.MessageSecurityModeSign, []uint32{subID})
	if res[0].StatusCode != ua.StatusBadSecurityChecksFailed {
		t.Fatalf("different identity: %v", res[0].StatusCode)
	}
	res = e.TransferSubscriptions("s2", "username:alice", ua.MessageSecurityModeNone, []uint32{subID})
	if res[0].StatusCode != ua.StatusBadSecurityChecksFailed {
		t.Fatalf("weaker channel: %v", res[0].StatusCode)
	}
	res = e.TransferSubscriptions("s2", "username:alice", ua.MessageSecurityModeSignAndEncrypt, []uint32{subID})
	if res[0].StatusCode != ua.StatusOK {
		t.Fatalf("valid transfer: %v", res[0].StatusCode)
	}
}

func TestEventFilterDelivery(t *testing.T) {
	source := ua.NewNumericNodeID(2, 50)
	sampler := newStubSampler()
	e := newTestEngine(t, sampler)
	subID := createTestSub(t, e, "s1", 100, 1000)

	path := func(n string) []*ua.QualifiedName { return []*ua.QualifiedName{{Name: n}} }
	filter := &ua.EventFilter{
		SelectClauses: []*ua.SimpleAttributeOperand{
			{BrowsePath: path("Severity")},
			{BrowsePath: path("Message")},
		},
		WhereClause: []*ua.ContentFilterElement{
			{
				Operator: ua.FilterOperatorEquals,
				Operands: []*ua.SimpleAttributeOperand{{BrowsePath: path("EventType")}},
				Literal:  mustVariant(t, "alarm"),
			},
		},
	}
	req := &ua.CreateMonitoredItemsRequest{
		SubscriptionID: subID,
		ItemsToCreate: []*ua.MonitoredItemCreateRequest{
			{
				ItemToMonitor:  &ua.ReadValueID{NodeID: source, AttributeID: ua.AttributeIDEventNotifier},
				MonitoringMode: ua.MonitoringModeReporting,
				RequestedParameters: &ua.MonitoringParameters{
					ClientHandle: 77, QueueSize: 10, DiscardOldest: true,
					Filter: ua.NewExtensionObject(filter),
				},
			},
		},
	}
	if res := e.CreateMonitoredItems("s1", req); res[0].StatusCode != ua.StatusOK {
		t.Fatalf("create item: %v", res[0].StatusCode)
	}

	// An event whose where clause doesn't match is dropped.
	e.NotifyEvent(source, map[string]*ua.Variant{
		"EventType": mustVariant(t, "info"),
		"Severity":  mustVariant(t, uint16(100)),
	})
	// A matching event queues with the selected fields in clause order.
	e.NotifyEvent(source, map[string]*ua.Variant{
		"EventType": mustVariant(t, "alarm"),
		"Severity":  mustVariant(t, uint16(900)),
		"Message":   mustVariant(t, "overpressure"),
	})

	ch := publishAsync(e, "s1")
	e.manualTick(subID, time.Now())
	var resp *ua.PublishResponse
	select {
	case resp = <-ch:
	case <-time.After(time.Second):
		t.Fatal("no event notification delivered")
	}
	enl, ok := resp.NotificationMessage.NotificationData[0].Body.(*ua.EventNotificationList)
	if !ok {
		t.Fatalf("notification body: %T", resp.NotificationMessage.NotificationData[0].Body)
	}
	if len(enl.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(enl.Events))
	}
	ev := enl.Events[0]
	if ev.ClientHandle != 77 || len(ev.EventFields) != 2 {
		t.Fatalf("event: %+v", ev)
	}
	if ev.EventFields[0].Value != uint16(900) || ev.EventFields[1].Value != "overpressure" {
		t.Fatalf("event fields: %+v", ev.EventFields)
	}
}

func mustVariant(t *testing.T, v interface{}) *ua.Variant {
	t.Helper()
	variant, err := ua.NewVariant(v)
	if err != nil {
		t.Fatalf("NewVariant(%T): %v", v, err)
	}
	return variant
}

func TestPublishWithoutSubscriptions(t *testing.T) {
	e := newTestEngine(t, newStubSampler())
	done := make(chan error, 1)
	e.Publish("nobody", &ua.PublishRequest{}, func(resp *ua.PublishResponse, err error) {
		done <- err
	})
	select {
	case err := <-done:
		if err != ua.StatusBadNoSubscription {
			t.Fatalf("got %v, want BadNoSubscription", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish not completed")
	}
}

func TestMonitoredItemLifecycle(t *testing.T) {
	node := ua.NewNumericNodeID(2, 11)
	sampler := newStubSampler()
	sampler.set(node, int32(1))
	e := newTestEngine(t, sampler)
	subID := createTestSub(t, e, "s1", 100, 1000)
	itemID := createTestItem(t, e, "s1", subID, node, ua.MonitoringModeReporting, nil)

	res := e.DeleteMonitoredItems("s1", subID, []uint32{itemID, 999})
	if res[0] != ua.StatusOK || res[1] != ua.StatusBadMonitoredItemIDInvalid {
		t.Fatalf("delete: %v", res)
	}

	// Deleting the subscription via another session's key fails.
	if res := e.DeleteSubscriptions("other", []uint32{subID}); res[0] != ua.StatusBadSubscriptionIDInvalid {
		t.Fatalf("cross-session delete: %v", res[0])
	}
}
