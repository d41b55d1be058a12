// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package subscription

import (
	"time"

	"github.com/opcua-core/opcua/ua"
)

// State is a Subscription's lifecycle stage:
// Creating -> Normal <-> Late <-> KeepAlive -> Closed.
type State int

const (
	StateCreating State = iota
	StateNormal
	StateLate
	StateKeepAlive
	StateClosed
)

// Subscription is one server-side periodic notifier bound to a session.
// All fields are guarded by the owning Engine's mutex; the per-
// subscription goroutine only owns its ticker.
type Subscription struct {
	id          uint32
	sessionKey  string
	identityKey string
	mode        ua.MessageSecurityMode

	publishingInterval time.Duration
	lifetimeCount      uint32
	keepAliveCount     uint32
	maxNotifications   int
	priority           byte
	publishingEnabled  bool

	items      map[uint32]*monitoredItem
	nextItemID uint32

	nextSeq          uint32
	keepAliveCounter uint32
	lifetimeCounter  uint32
	state            State

	// ready holds NotificationMessages formed by a tick that found no
	// queued Publish request; they drain in order as Publish requests
	// arrive.
	ready      []*ua.NotificationMessage
	readyStamp uint64

	retransmit      map[uint32]*ua.NotificationMessage
	retransmitOrder []uint32

	stop chan struct{}
}

func (s *Subscription) takeSeq() uint32 {
	seq := s.nextSeq
	s.nextSeq++
	return seq
}

// retain stores a sent message for Republish until acknowledged,
// dropping the oldest unacknowledged entry when the bounded queue
// overflows.
func (s *Subscription) retain(msg *ua.NotificationMessage, max int, onDrop func(uint32)) {
	s.retransmit[msg.SequenceNumber] = msg
	s.retransmitOrder = append(s.retransmitOrder, msg.SequenceNumber)
	for len(s.retransmitOrder) > max {
		oldest := s.retransmitOrder[0]
		s.retransmitOrder = s.retransmitOrder[1:]
		delete(s.retransmit, oldest)
		if onDrop != nil {
			onDrop(oldest)
		}
	}
}

func (s *Subscription) acknowledge(seq uint32) bool {
	if _, ok := s.retransmit[seq]; !ok {
		return false
	}
	delete(s.retransmit, seq)
	for i, v := range s.retransmitOrder {
		if v == seq {
			s.retransmitOrder = append(s.retransmitOrder[:i], s.retransmitOrder[i+1:]...)
			break
		}
	}
	return true
}

func (s *Subscription) availableSequenceNumbers() []uint32 {
	out := make([]uint32, len(s.retransmitOrder))
	copy(out, s.retransmitOrder)
	return out
}

// collect gathers queued notifications from every reporting item, then
// flushes items triggered by those reporters even when the triggered
// item's own mode is only Sampling. The total is capped
// at maxNotifications; remainder stays queued for the next cycle.
func (s *Subscription) collect() []*ua.MonitoredItemNotification {
	budget := s.maxNotifications
	var out []*ua.MonitoredItemNotification
	var fired []*monitoredItem

	for _, m := range s.items {
		if m.mode != ua.MonitoringModeReporting || len(m.queue) == 0 {
			continue
		}
		got := m.drain(budget - len(out))
		if len(got) > 0 {
			out = append(out, got...)
			fired = append(fired, m)
		}
		if len(out) >= budget {
			return out
		}
	}

	for _, src := range fired {
		for id := range src.triggered {
			t, ok := s.items[id]
			if !ok || t.mode == ua.MonitoringModeDisabled || len(t.queue) == 0 {
				continue
			}
			out = append(out, t.drain(budget-len(out))...)
			if len(out) >= budget {
				return out
			}
		}
	}
	return out
}

// collectEvents drains queued event field lists from reporting items, up
// to budget entries.
func (s *Subscription) collectEvents(budget int) []*ua.EventFieldList {
	var out []*ua.EventFieldList
	for _, m := range s.items {
		if m.mode != ua.MonitoringModeReporting || len(m.events) == 0 {
			continue
		}
		take := budget - len(out)
		if take <= 0 {
			return out
		}
		if take >= len(m.events) {
			out = append(out, m.events...)
			m.events = nil
		} else {
			out = append(out, m.events[:take]...)
			m.events = append([]*ua.EventFieldList(nil), m.events[take:]...)
		}
	}
	return out
}

// newNotificationMessage wraps data-change and event notifications in the
// ExtensionObject envelope PublishResponse carries.
func newNotificationMessage(seq uint32, now time.Time, notifs []*ua.MonitoredItemNotification, events []*ua.EventFieldList) *ua.NotificationMessage {
	msg := &ua.NotificationMessage{SequenceNumber: seq, PublishTime: now}
	if len(notifs) > 0 {
		msg.NotificationData = append(msg.NotificationData,
			ua.NewExtensionObject(&ua.DataChangeNotification{MonitoredItems: notifs}))
	}
	if len(events) > 0 {
		msg.NotificationData = append(msg.NotificationData,
			ua.NewExtensionObject(&ua.EventNotificationList{Events: events}))
	}
	return msg
}

func newKeepAliveMessage(seq uint32, now time.Time) *ua.NotificationMessage {
	return &ua.NotificationMessage{SequenceNumber: seq, PublishTime: now}
}

func newStatusChangeMessage(seq uint32, now time.Time, status ua.StatusCode) *ua.NotificationMessage {
	return &ua.NotificationMessage{
		SequenceNumber: seq,
		PublishTime:    now,
		NotificationData: []*ua.ExtensionObject{
			ua.NewExtensionObject(&ua.StatusChangeNotification{Status: status}),
		},
	}
}
