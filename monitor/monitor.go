// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package monitor provides a callback/channel convenience layer over
// subscriptions: one client handle per observed node, fan-out of
// DataChangeNotifications to per-node messages.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	opcua "github.com/opcua-core/opcua"
	"github.com/opcua-core/opcua/ua"
)

var (
	// DefaultMaxChanLen is the size of the internal buffer when using a
	// callback-based subscription.
	DefaultMaxChanLen = 8192

	// ErrSlowConsumer is returned when a subscriber does not keep up with
	// the incoming messages.
	ErrSlowConsumer = errors.New("opcua: slow consumer. messages dropped")
)

// ErrHandler is a function that is called when there is an out of band
// issue with delivery.
type ErrHandler func(*opcua.Client, *Subscription, error)

// MsgHandler is a function that is called for each new DataValue.
type MsgHandler func(*ua.NodeID, *ua.DataValue)

// DataChangeMessage represents the changed DataValue from the server. It
// also includes a reference to the sending NodeID and error (if any).
type DataChangeMessage struct {
	*ua.DataValue
	Error  error
	NodeID *ua.NodeID
}

// NodeMonitor creates new subscriptions.
type NodeMonitor struct {
	client           *opcua.Client
	nextClientHandle uint32
	errHandlerCB     ErrHandler
}

// Subscription is an instance of an active subscription. Nodes can be
// added and removed concurrently.
type Subscription struct {
	monitor   *NodeMonitor
	sub       *opcua.Subscription
	notifyCh  chan *DataChangeMessage
	delivered uint64
	dropped   uint64
	closed    chan struct{}
	mu        sync.RWMutex
	handles   map[uint32]*ua.NodeID
	itemIDs   map[string]uint32
	handleIDs map[string]uint32
}

// New creates a new NodeMonitor.
func New(client *opcua.Client) *NodeMonitor {
	return &NodeMonitor{
		client:           client,
		nextClientHandle: 100,
	}
}

// SetErrorHandler sets an optional callback for async errors.
func (m *NodeMonitor) SetErrorHandler(cb ErrHandler) {
	m.errHandlerCB = cb
}

// Subscribe creates a new callback-based subscription and an optional
// list of nodes. The caller must call Unsubscribe to stop and clean up
// resources. Canceling the context also stops delivery, but Unsubscribe
// must still be called.
func (m *NodeMonitor) Subscribe(ctx context.Context, params *opcua.SubscriptionParameters, cb MsgHandler, nodes ...*ua.NodeID) (*Subscription, error) {
	ch := make(chan *DataChangeMessage, DefaultMaxChanLen)
	sub, err := m.ChanSubscribe(ctx, params, ch, nodes...)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.closed:
				return
			case msg := <-ch:
				if msg.Error != nil {
					sub.sendError(msg.Error)
				} else {
					cb(msg.NodeID, msg.DataValue)
				}
			}
		}
	}()
	return sub, nil
}

// ChanSubscribe creates a new channel-based subscription and an optional
// list of nodes. The channel should be deep enough to allow some
// buffering, otherwise ErrSlowConsumer is sent via the monitor's
// ErrHandler and the message dropped.
func (m *NodeMonitor) ChanSubscribe(ctx context.Context, params *opcua.SubscriptionParameters, ch chan *DataChangeMessage, nodes ...*ua.NodeID) (*Subscription, error) {
	if params == nil {
		params = opcua.NewDefaultSubscriptionParameters()
	}
	s := &Subscription{
		monitor:   m,
		notifyCh:  ch,
		closed:    make(chan struct{}),
		handles:   make(map[uint32]*ua.NodeID),
		itemIDs:   make(map[string]uint32),
		handleIDs: make(map[string]uint32),
	}

	var err error
	if s.sub, err = m.client.Subscribe(*params); err != nil {
		return nil, err
	}
	if err = s.AddNodes(nodes...); err != nil {
		_ = s.Unsubscribe()
		return nil, err
	}

	go s.pump(ctx)
	return s, nil
}

func (s *Subscription) sendError(err error) {
	if err != nil && s.monitor.errHandlerCB != nil {
		s.monitor.errHandlerCB(s.monitor.client, s, err)
	}
}

// pump reads publish notifications from the underlying subscription and
// fans each monitored item value out as a DataChangeMessage.
func (s *Subscription) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case notif := <-s.sub.Channel:
			if notif.Error != nil {
				s.sendError(notif.Error)
				continue
			}
			switch v := notif.Value.(type) {
			case *ua.DataChangeNotification:
				for _, item := range v.MonitoredItems {
					s.mu.RLock()
					nid := s.handles[item.ClientHandle]
					s.mu.RUnlock()
					s.offer(&DataChangeMessage{DataValue: &item.Value, NodeID: nid})
				}
			case *ua.StatusChangeNotification:
				s.offer(&DataChangeMessage{Error: v.Status})
			case *ua.EventNotificationList:
				// Event fields have no single value to forward; skip.
			default:
				s.sendError(errors.New("opcua: unknown notification type"))
			}
		}
	}
}

func (s *Subscription) offer(msg *DataChangeMessage) {
	select {
	case s.notifyCh <- msg:
		atomic.AddUint64(&s.delivered, 1)
	default:
		atomic.AddUint64(&s.dropped, 1)
		s.sendError(ErrSlowConsumer)
	}
}

// SubscriptionID returns the underlying server-assigned subscription id.
func (s *Subscription) SubscriptionID() uint32 {
	return s.sub.SubscriptionID
}

// Delivered returns the number of messages handed to the consumer.
func (s *Subscription) Delivered() uint64 {
	return atomic.LoadUint64(&s.delivered)
}

// Dropped returns the number of messages lost to a slow consumer.
func (s *Subscription) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// AddNodes creates monitored items for the given nodes' Value attribute.
func (s *Subscription) AddNodes(nodes ...*ua.NodeID) error {
	if len(nodes) == 0 {
		return nil
	}
	reqs := make([]*ua.MonitoredItemCreateRequest, len(nodes))
	handles := make([]uint32, len(nodes))
	for i, node := range nodes {
		handle := atomic.AddUint32(&s.monitor.nextClientHandle, 1)
		handles[i] = handle
		reqs[i] = opcua.NewMonitoredItemCreateRequestWithDefaults(node, ua.AttributeIDValue, handle)
	}
	resp, err := s.monitor.client.CreateMonitoredItems(s.sub.SubscriptionID, ua.TimestampsToReturnBoth, reqs...)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, res := range resp.Results {
		if res.StatusCode != ua.StatusOK {
			return res.StatusCode
		}
		s.handles[handles[i]] = nodes[i]
		s.itemIDs[nodes[i].String()] = res.MonitoredItemID
		s.handleIDs[nodes[i].String()] = handles[i]
	}
	return nil
}

// RemoveNodes deletes the monitored items for the given nodes.
func (s *Subscription) RemoveNodes(nodes ...*ua.NodeID) error {
	if len(nodes) == 0 {
		return nil
	}
	s.mu.Lock()
	ids := make([]uint32, 0, len(nodes))
	for _, node := range nodes {
		key := node.String()
		id, ok := s.itemIDs[key]
		if !ok {
			s.mu.Unlock()
			return ua.StatusBadMonitoredItemIDInvalid
		}
		ids = append(ids, id)
		delete(s.handles, s.handleIDs[key])
		delete(s.itemIDs, key)
		delete(s.handleIDs, key)
	}
	s.mu.Unlock()

	resp, err := s.monitor.client.DeleteMonitoredItems(s.sub.SubscriptionID, ids...)
	if err != nil {
		return err
	}
	for _, res := range resp.Results {
		if res != ua.StatusOK {
			return res
		}
	}
	return nil
}

// Unsubscribe deletes the subscription from the server and stops
// delivery.
func (s *Subscription) Unsubscribe() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return s.monitor.client.Unsubscribe(s.sub)
}
