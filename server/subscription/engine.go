// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package subscription implements the server-side subscription engine:
// the periodic publish cycle, monitored-item sampling and
// filtering, keep-alive and lifetime accounting, the per-session publish
// queue, the bounded retransmission queue and subscription transfer.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opcua-core/opcua/internal/telemetry"
	"github.com/opcua-core/opcua/ua"
)

// Sampler is the value source monitored items poll; a nodemgr
// implementation's Read satisfies it directly.
type Sampler interface {
	Read(ctx context.Context, nodes []*ua.ReadValueID, ts ua.TimestampsToReturn) []*ua.DataValue
}

// RangeSource resolves a variable's EURange property so percent
// deadbands can be evaluated. Optional; without one, percent deadbands
// degrade to reporting every change.
type RangeSource interface {
	EURange(id *ua.NodeID) (low, high float64, ok bool)
}

// Options bounds the engine's revisions of client-requested parameters.
type Options struct {
	MinPublishingInterval  time.Duration
	MinSamplingInterval    time.Duration
	DefaultPublishInterval time.Duration
	MaxSubscriptions       int
	RetransmissionQueueLen int
	// MaxNotificationsLimit caps a message when the client requested 0
	// (meaning unlimited).
	MaxNotificationsLimit int
}

// DefaultOptions matches the conservative revisions most servers apply.
func DefaultOptions() Options {
	return Options{
		MinPublishingInterval:  50 * time.Millisecond,
		MinSamplingInterval:    10 * time.Millisecond,
		DefaultPublishInterval: 500 * time.Millisecond,
		MaxSubscriptions:       100,
		RetransmissionQueueLen: 32,
		MaxNotificationsLimit:  65535,
	}
}

// pendingPublish is one queued Publish request: the completion callback
// plus the acknowledgement results already computed when it arrived.
type pendingPublish struct {
	respond    func(*ua.PublishResponse, error)
	ackResults []ua.StatusCode
}

// Engine owns every Subscription in the process; the dispatcher reaches
// it only through the methods below, never through shared state.
type Engine struct {
	opts    Options
	sampler Sampler
	ranges  RangeSource
	log     zerolog.Logger

	mu           sync.Mutex
	subs         map[uint32]*Subscription
	pending      map[string][]*pendingPublish
	nextSubID    uint32
	readyCounter uint64
	closed       bool
}

// NewEngine builds an Engine sampling values from sampler. If sampler also
// implements RangeSource it is used to resolve EURange for percent
// deadbands.
func NewEngine(sampler Sampler, opts Options) *Engine {
	e := &Engine{
		opts:    opts,
		sampler: sampler,
		log:     telemetry.Logger("server/subscription"),
		subs:    make(map[uint32]*Subscription),
		pending: make(map[string][]*pendingPublish),
	}
	if rs, ok := sampler.(RangeSource); ok {
		e.ranges = rs
	}
	return e
}

// Close stops every subscription goroutine and fails queued publishes.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for _, sub := range e.subs {
		close(sub.stop)
		sub.state = StateClosed
	}
	e.subs = map[uint32]*Subscription{}
	for key, pps := range e.pending {
		for _, pp := range pps {
			go pp.respond(nil, ua.StatusBadNoSubscription)
			telemetry.PublishQueueDepth.Dec()
		}
		delete(e.pending, key)
	}
}

// CreateSubscription revises the requested parameters and starts the
// subscription's tick goroutine.
func (e *Engine) CreateSubscription(sessionKey, identityKey string, mode ua.MessageSecurityMode, req *ua.CreateSubscriptionRequest) *ua.CreateSubscriptionResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.subs) >= e.opts.MaxSubscriptions {
		return &ua.CreateSubscriptionResponse{
			ResponseHeader: ua.ResponseHeader{ServiceResult: ua.StatusBadTooManySubscriptions},
		}
	}

	interval := time.Duration(req.RequestedPublishingInterval * float64(time.Millisecond))
	if interval <= 0 {
		interval = e.opts.DefaultPublishInterval
	}
	if interval < e.opts.MinPublishingInterval {
		interval = e.opts.MinPublishingInterval
	}
	keepAlive := req.RequestedMaxKeepAliveCount
	if keepAlive == 0 {
		keepAlive = 10
	}
	lifetime := req.RequestedLifetimeCount
	if lifetime < 3*keepAlive {
		lifetime = 3 * keepAlive
	}
	maxNotifs := int(req.MaxNotificationsPerPublish)
	if maxNotifs <= 0 || maxNotifs > e.opts.MaxNotificationsLimit {
		maxNotifs = e.opts.MaxNotificationsLimit
	}

	e.nextSubID++
	sub := &Subscription{
		id:                 e.nextSubID,
		sessionKey:         sessionKey,
		identityKey:        identityKey,
		mode:               mode,
		publishingInterval: interval,
		lifetimeCount:      lifetime,
		keepAliveCount:     keepAlive,
		maxNotifications:   maxNotifs,
		priority:           req.Priority,
		publishingEnabled:  req.PublishingEnabled,
		items:              make(map[uint32]*monitoredItem),
		nextSeq:            1,
		state:              StateCreating,
		retransmit:         make(map[uint32]*ua.NotificationMessage),
		stop:               make(chan struct{}),
	}
	e.subs[sub.id] = sub
	telemetry.ActiveSubscriptions.Inc()
	e.log.Debug().Uint32("sub", sub.id).Dur("interval", interval).Msg("subscription created")

	go e.run(sub)

	return &ua.CreateSubscriptionResponse{
		SubscriptionID:            sub.id,
		RevisedPublishingInterval: float64(interval / time.Millisecond),
		RevisedLifetimeCount:      lifetime,
		RevisedMaxKeepAliveCount:  keepAlive,
	}
}

func (e *Engine) run(sub *Subscription) {
	t := time.NewTicker(sub.publishingInterval)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			e.mu.Lock()
			fn, done := e.tick(sub, now)
			e.mu.Unlock()
			if fn != nil {
				fn()
			}
			if done {
				return
			}
		case <-sub.stop:
			return
		}
	}
}

// tick runs one publish cycle for sub with e.mu held. It returns a
// completion closure to invoke outside the lock (responding to a queued
// Publish may write to the network) and whether the subscription closed.
func (e *Engine) tick(sub *Subscription, now time.Time) (func(), bool) {
	if sub.state == StateClosed {
		return nil, true
	}
	if sub.state == StateCreating {
		sub.state = StateNormal
	}
	sub.lifetimeCounter++

	e.sample(sub, now)

	var msg *ua.NotificationMessage
	keepAlive := false
	if sub.publishingEnabled {
		notifs := sub.collect()
		events := sub.collectEvents(sub.maxNotifications - len(notifs))
		if len(notifs) > 0 || len(events) > 0 {
			msg = newNotificationMessage(sub.takeSeq(), now, notifs, events)
			sub.retain(msg, e.opts.RetransmissionQueueLen, func(seq uint32) {
				telemetry.NotificationsDropped.Inc()
				e.log.Warn().Uint32("sub", sub.id).Uint32("seq", seq).Msg("retransmission queue overflow, dropping unacknowledged notification")
			})
			sub.keepAliveCounter = 0
		}
	}
	if msg == nil {
		sub.keepAliveCounter++
		if sub.keepAliveCounter >= sub.keepAliveCount && len(sub.ready) == 0 {
			msg = newKeepAliveMessage(sub.takeSeq(), now)
			sub.keepAliveCounter = 0
			keepAlive = true
		}
	}

	var fn func()
	if msg != nil {
		if fn = e.deliver(sub, msg, keepAlive); fn == nil {
			sub.ready = append(sub.ready, msg)
			if sub.readyStamp == 0 {
				e.readyCounter++
				sub.readyStamp = e.readyCounter
			}
			sub.state = StateLate
		}
	}

	if sub.lifetimeCounter >= sub.lifetimeCount {
		return e.expire(sub, now), true
	}
	return fn, false
}

// sample polls every enabled item whose sampling interval has elapsed.
func (e *Engine) sample(sub *Subscription, now time.Time) {
	for _, m := range sub.items {
		if m.mode == ua.MonitoringModeDisabled || !m.due(now) {
			continue
		}
		m.lastSampled = now
		results := e.sampler.Read(context.Background(), []*ua.ReadValueID{&m.target}, ua.TimestampsToReturnBoth)
		if len(results) != 1 || results[0] == nil {
			continue
		}
		m.observe(results[0], e.rangeWidth(m.target.NodeID))
	}
}

func (e *Engine) rangeWidth(id *ua.NodeID) float64 {
	if e.ranges == nil {
		return 0
	}
	low, high, ok := e.ranges.EURange(id)
	if !ok {
		return 0
	}
	return high - low
}

// deliver pairs msg with the oldest queued Publish request of sub's
// session, returning the completion closure, or nil when none is queued.
func (e *Engine) deliver(sub *Subscription, msg *ua.NotificationMessage, keepAlive bool) func() {
	pps := e.pending[sub.sessionKey]
	if len(pps) == 0 {
		return nil
	}
	pp := pps[0]
	e.pending[sub.sessionKey] = pps[1:]
	telemetry.PublishQueueDepth.Dec()

	sub.lifetimeCounter = 0
	if keepAlive {
		sub.state = StateKeepAlive
	} else {
		sub.state = StateNormal
	}
	resp := e.buildResponse(sub, msg, pp.ackResults)
	return func() {
		telemetry.NotificationsSent.Inc()
		pp.respond(resp, nil)
	}
}

func (e *Engine) buildResponse(sub *Subscription, msg *ua.NotificationMessage, ackResults []ua.StatusCode) *ua.PublishResponse {
	return &ua.PublishResponse{
		SubscriptionID:           sub.id,
		AvailableSequenceNumbers: sub.availableSequenceNumbers(),
		MoreNotifications:        len(sub.ready) > 0,
		NotificationMessage:      msg,
		Results:                  ackResults,
	}
}

// expire closes sub after its lifetime counter ran out without a Publish
//, sending StatusChangeNotification{BadTimeout} through any
// queued Publish request so the session learns of the loss.
func (e *Engine) expire(sub *Subscription, now time.Time) func() {
	e.log.Info().Uint32("sub", sub.id).Msg("subscription lifetime expired")
	msg := newStatusChangeMessage(sub.nextSeq, now, ua.StatusBadTimeout)
	fn := e.deliver(sub, msg, false)
	e.removeLocked(sub)
	return fn
}

func (e *Engine) removeLocked(sub *Subscription) {
	if sub.state != StateClosed {
		sub.state = StateClosed
		telemetry.ActiveSubscriptions.Dec()
		telemetry.MonitoredItems.Sub(float64(len(sub.items)))
	}
	delete(e.subs, sub.id)
}

// NotifyEvent queues an event for every item monitoring source's
// EventNotifier attribute with an EventFilter. fields are keyed by the
// event field name the filter's browse paths end in (e.g. "Severity",
// "Message"); delivery happens on the owning subscription's next cycle.
func (e *Engine) NotifyEvent(source *ua.NodeID, fields map[string]*ua.Variant) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sub := range e.subs {
		for _, m := range sub.items {
			if m.target.AttributeID != ua.AttributeIDEventNotifier || !m.target.NodeID.Equal(source) {
				continue
			}
			m.observeEvent(fields)
		}
	}
}

// DeleteSubscriptions removes the given subscriptions, failing ids that
// don't exist or belong to another session.
func (e *Engine) DeleteSubscriptions(sessionKey string, ids []uint32) []ua.StatusCode {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ua.StatusCode, len(ids))
	for i, id := range ids {
		sub, ok := e.subs[id]
		if !ok || sub.sessionKey != sessionKey {
			out[i] = ua.StatusBadSubscriptionIDInvalid
			continue
		}
		close(sub.stop)
		e.removeLocked(sub)
		out[i] = ua.StatusOK
	}
	return out
}

// TransferSubscriptions moves subscriptions to the calling session iff the
// caller authenticated with the same user identity over a channel of at
// least the original security mode. Queued Publish
// requests of the old session complete with GoodSubscriptionTransferred.
func (e *Engine) TransferSubscriptions(sessionKey string, userIdentityKey string, mode ua.MessageSecurityMode, ids []uint32) []*ua.TransferResult {
	e.mu.Lock()
	var completions []func()
	out := make([]*ua.TransferResult, len(ids))
	for i, id := range ids {
		sub, ok := e.subs[id]
		if !ok {
			out[i] = &ua.TransferResult{StatusCode: ua.StatusBadSubscriptionIDInvalid}
			continue
		}
		if sub.identityKey != userIdentityKey || mode < sub.mode {
			out[i] = &ua.TransferResult{StatusCode: ua.StatusBadSecurityChecksFailed}
			continue
		}
		oldKey := sub.sessionKey
		sub.sessionKey = sessionKey
		out[i] = &ua.TransferResult{
			StatusCode:               ua.StatusOK,
			AvailableSequenceNumbers: sub.availableSequenceNumbers(),
		}
		if oldKey == sessionKey {
			continue
		}
		msg := newStatusChangeMessage(sub.nextSeq, time.Now(), ua.StatusGoodSubscriptionTransferred)
		for _, pp := range e.pending[oldKey] {
			pp := pp
			resp := &ua.PublishResponse{
				SubscriptionID:      sub.id,
				NotificationMessage: msg,
				Results:             pp.ackResults,
			}
			completions = append(completions, func() { pp.respond(resp, nil) })
			telemetry.PublishQueueDepth.Dec()
		}
		delete(e.pending, oldKey)
	}
	e.mu.Unlock()
	for _, fn := range completions {
		fn()
	}
	return out
}

// CreateMonitoredItems adds items to a subscription, revising sampling
// interval and queue size per the engine's bounds.
func (e *Engine) CreateMonitoredItems(sessionKey string, req *ua.CreateMonitoredItemsRequest) []*ua.MonitoredItemCreateResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*ua.MonitoredItemCreateResult, len(req.ItemsToCreate))
	sub, ok := e.subs[req.SubscriptionID]
	if !ok || sub.sessionKey != sessionKey {
		for i := range out {
			out[i] = &ua.MonitoredItemCreateResult{StatusCode: ua.StatusBadSubscriptionIDInvalid}
		}
		return out
	}
	for i, item := range req.ItemsToCreate {
		if item.ItemToMonitor == nil || item.RequestedParameters == nil {
			out[i] = &ua.MonitoredItemCreateResult{StatusCode: ua.StatusBadNodeIDUnknown}
			continue
		}
		sub.nextItemID++
		m := newMonitoredItem(sub.nextItemID, item, e.opts.MinSamplingInterval)
		sub.items[m.id] = m
		telemetry.MonitoredItems.Inc()
		out[i] = &ua.MonitoredItemCreateResult{
			StatusCode:              ua.StatusOK,
			MonitoredItemID:         m.id,
			RevisedSamplingInterval: float64(m.samplingInterval / time.Millisecond),
			RevisedQueueSize:        uint32(m.queueSize),
		}
	}
	return out
}

// DeleteMonitoredItems removes items, dropping any triggering links that
// point at them: links survive monitored-item modification but are
// removed with the item.
func (e *Engine) DeleteMonitoredItems(sessionKey string, subID uint32, ids []uint32) []ua.StatusCode {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ua.StatusCode, len(ids))
	sub, ok := e.subs[subID]
	if !ok || sub.sessionKey != sessionKey {
		for i := range out {
			out[i] = ua.StatusBadSubscriptionIDInvalid
		}
		return out
	}
	for i, id := range ids {
		if _, ok := sub.items[id]; !ok {
			out[i] = ua.StatusBadMonitoredItemIDInvalid
			continue
		}
		delete(sub.items, id)
		for _, m := range sub.items {
			delete(m.triggered, id)
		}
		telemetry.MonitoredItems.Dec()
		out[i] = ua.StatusOK
	}
	return out
}

// SetTriggering edits the triggering links of one item.
func (e *Engine) SetTriggering(sessionKey string, req *ua.SetTriggeringRequest) (added, removed []ua.StatusCode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	added = make([]ua.StatusCode, len(req.LinksToAdd))
	removed = make([]ua.StatusCode, len(req.LinksToRemove))
	sub, ok := e.subs[req.SubscriptionID]
	if !ok || sub.sessionKey != sessionKey {
		fill(added, ua.StatusBadSubscriptionIDInvalid)
		fill(removed, ua.StatusBadSubscriptionIDInvalid)
		return added, removed
	}
	src, ok := sub.items[req.TriggeringItemID]
	if !ok {
		fill(added, ua.StatusBadMonitoredItemIDInvalid)
		fill(removed, ua.StatusBadMonitoredItemIDInvalid)
		return added, removed
	}
	for i, id := range req.LinksToAdd {
		if _, ok := sub.items[id]; !ok {
			added[i] = ua.StatusBadMonitoredItemIDInvalid
			continue
		}
		src.triggered[id] = struct{}{}
		added[i] = ua.StatusOK
	}
	for i, id := range req.LinksToRemove {
		if _, ok := src.triggered[id]; !ok {
			removed[i] = ua.StatusBadMonitoredItemIDInvalid
			continue
		}
		delete(src.triggered, id)
		removed[i] = ua.StatusOK
	}
	return added, removed
}

func fill(s []ua.StatusCode, v ua.StatusCode) {
	for i := range s {
		s[i] = v
	}
}

// Publish processes acknowledgements, then either answers immediately
// from the highest-priority subscription with a ready message or queues
// the request.
func (e *Engine) Publish(sessionKey string, req *ua.PublishRequest, respond func(*ua.PublishResponse, error)) {
	e.mu.Lock()
	ackResults := e.processAcks(sessionKey, req.SubscriptionAcknowledgements)

	if sub, msg, keepAlive := e.popReady(sessionKey); sub != nil {
		sub.lifetimeCounter = 0
		if keepAlive {
			sub.state = StateKeepAlive
		} else if len(sub.ready) == 0 {
			sub.state = StateNormal
		}
		resp := e.buildResponse(sub, msg, ackResults)
		e.mu.Unlock()
		telemetry.NotificationsSent.Inc()
		respond(resp, nil)
		return
	}

	if !e.sessionHasSubs(sessionKey) {
		e.mu.Unlock()
		respond(nil, ua.StatusBadNoSubscription)
		return
	}
	e.pending[sessionKey] = append(e.pending[sessionKey], &pendingPublish{respond: respond, ackResults: ackResults})
	telemetry.PublishQueueDepth.Inc()
	e.mu.Unlock()
}

func (e *Engine) sessionHasSubs(sessionKey string) bool {
	for _, sub := range e.subs {
		if sub.sessionKey == sessionKey {
			return true
		}
	}
	return false
}

// popReady selects the session's subscription with undelivered messages:
// priority wins, FIFO among equal priorities. FIFO over readiness order
// gives round-robin since delivering resets a subscription's stamp.
func (e *Engine) popReady(sessionKey string) (*Subscription, *ua.NotificationMessage, bool) {
	var best *Subscription
	for _, sub := range e.subs {
		if sub.sessionKey != sessionKey || len(sub.ready) == 0 {
			continue
		}
		if best == nil || sub.priority > best.priority ||
			(sub.priority == best.priority && sub.readyStamp < best.readyStamp) {
			best = sub
		}
	}
	if best == nil {
		return nil, nil, false
	}
	msg := best.ready[0]
	best.ready = best.ready[1:]
	if len(best.ready) == 0 {
		best.readyStamp = 0
	} else {
		e.readyCounter++
		best.readyStamp = e.readyCounter
	}
	return best, msg, len(msg.NotificationData) == 0
}

func (e *Engine) processAcks(sessionKey string, acks []*ua.SubscriptionAcknowledgement) []ua.StatusCode {
	out := make([]ua.StatusCode, len(acks))
	for i, ack := range acks {
		sub, ok := e.subs[ack.SubscriptionID]
		if !ok || sub.sessionKey != sessionKey {
			out[i] = ua.StatusBadSubscriptionIDInvalid
			continue
		}
		if !sub.acknowledge(ack.SequenceNumber) {
			out[i] = ua.StatusBadMessageNotAvailable
			continue
		}
		out[i] = ua.StatusOK
	}
	return out
}

// Republish returns a retained NotificationMessage or
// BadMessageNotAvailable.
func (e *Engine) Republish(sessionKey string, subID, seq uint32) (*ua.NotificationMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.subs[subID]
	if !ok || sub.sessionKey != sessionKey {
		return nil, ua.StatusBadSubscriptionIDInvalid
	}
	msg, ok := sub.retransmit[seq]
	if !ok {
		return nil, ua.StatusBadMessageNotAvailable
	}
	return msg, nil
}

// State reports a subscription's lifecycle stage, mainly for tests and
// diagnostics.
func (e *Engine) State(subID uint32) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.subs[subID]
	if !ok {
		return StateClosed, false
	}
	return sub.state, true
}
