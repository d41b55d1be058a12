// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import (
	"fmt"
	"time"

	"github.com/opcua-core/opcua/debug"
	"github.com/opcua-core/opcua/ua"
)

// SubscriptionParameters are the client-requested subscription settings;
// the server may revise interval and counts.
type SubscriptionParameters struct {
	Interval                   time.Duration
	LifetimeCount              uint32
	MaxKeepAliveCount          uint32
	MaxNotificationsPerPublish uint32
	Priority                   uint8
	ChannelBufferSize          int
}

// NewDefaultSubscriptionParameters returns the defaults Subscribe uses
// when the caller has no specific requirements.
func NewDefaultSubscriptionParameters() *SubscriptionParameters {
	return &SubscriptionParameters{
		Interval:                   100 * time.Millisecond,
		LifetimeCount:              10000,
		MaxKeepAliveCount:          3000,
		MaxNotificationsPerPublish: 10000,
	}
}

// Subscription is the client-side view of one server subscription.
// Notifications arrive on Channel as they are published.
type Subscription struct {
	SubscriptionID            uint32
	RevisedPublishingInterval float64
	RevisedLifetimeCount      uint32
	RevisedMaxKeepAliveCount  uint32
	Channel                   chan PublishNotificationData

	stop chan struct{}
}

// PublishNotificationData is one delivery on a Subscription's Channel:
// either a decoded notification body (DataChangeNotification,
// EventNotificationList or StatusChangeNotification) or an error.
type PublishNotificationData struct {
	SubscriptionID uint32
	Error          error
	Value          interface{}
}

// Subscribe creates a subscription and starts a publish pump for it, so
// notifications flow into the returned Subscription's Channel without
// further calls. Unsubscribe stops the pump and deletes the
// subscription.
func (c *Client) Subscribe(params SubscriptionParameters) (*Subscription, error) {
	req := &ua.CreateSubscriptionRequest{
		RequestedPublishingInterval: float64(params.Interval / time.Millisecond),
		RequestedLifetimeCount:      params.LifetimeCount,
		RequestedMaxKeepAliveCount:  params.MaxKeepAliveCount,
		MaxNotificationsPerPublish:  params.MaxNotificationsPerPublish,
		Priority:                    params.Priority,
		PublishingEnabled:           true,
	}
	var res *ua.CreateSubscriptionResponse
	err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
	if err != nil {
		return nil, err
	}
	if res.ResponseHeader.ServiceResult != ua.StatusOK {
		return nil, res.ResponseHeader.ServiceResult
	}

	sub := &Subscription{
		SubscriptionID:            res.SubscriptionID,
		RevisedPublishingInterval: res.RevisedPublishingInterval,
		RevisedLifetimeCount:      res.RevisedLifetimeCount,
		RevisedMaxKeepAliveCount:  res.RevisedMaxKeepAliveCount,
		Channel:                   make(chan PublishNotificationData, params.ChannelBufferSize),
		stop:                      make(chan struct{}),
	}
	c.subMu.Lock()
	c.subs[sub.SubscriptionID] = sub
	c.subMu.Unlock()

	go c.publishPump(sub.stop)
	return sub, nil
}

// Unsubscribe deletes the subscription on the server and stops the
// publish pump started by Subscribe.
func (c *Client) Unsubscribe(sub *Subscription) error {
	c.subMu.Lock()
	if registered, ok := c.subs[sub.SubscriptionID]; ok {
		close(registered.stop)
		delete(c.subs, sub.SubscriptionID)
	}
	c.subMu.Unlock()

	req := &ua.DeleteSubscriptionsRequest{SubscriptionIDs: []uint32{sub.SubscriptionID}}
	var res *ua.DeleteSubscriptionsResponse
	if err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	}); err != nil {
		return err
	}
	if res.ResponseHeader.ServiceResult != ua.StatusOK {
		return res.ResponseHeader.ServiceResult
	}
	return nil
}

// Publish issues a single Publish request carrying acks for already
// delivered sequence numbers. Most callers rely on the pump Subscribe
// starts; the Supervisor issues its own paced Publish calls through
// this.
func (c *Client) Publish(acks []*ua.SubscriptionAcknowledgement) (*ua.PublishResponse, error) {
	req := &ua.PublishRequest{SubscriptionAcknowledgements: acks}
	var res *ua.PublishResponse
	err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
	return res, err
}

// publishPump keeps one Publish request outstanding until stop closes,
// acknowledging each delivered message in the next request and fanning
// responses out to the owning subscription's channel.
func (c *Client) publishPump(stop <-chan struct{}) {
	var acks []*ua.SubscriptionAcknowledgement
	for {
		select {
		case <-stop:
			return
		default:
		}

		res, err := c.Publish(acks)
		if err != nil {
			switch err {
			case ua.StatusBadTimeout:
				// No notification within the request timeout; ask again.
			case ua.StatusBadNoSubscription:
				// All subscriptions are gone, usually because Unsubscribe
				// raced the pump; the stop channel ends the loop shortly.
			case ua.StatusBadSecureChannelClosed, ua.StatusBadDisconnect:
				c.fanoutError(err)
				return
			default:
				c.fanoutError(err)
			}
			continue
		}

		acks = acks[:0]
		for _, seq := range res.AvailableSequenceNumbers {
			acks = append(acks, &ua.SubscriptionAcknowledgement{
				SubscriptionID: res.SubscriptionID,
				SequenceNumber: seq,
			})
		}
		c.deliver(res)
	}
}

// fanoutError notifies every subscription of a publish failure that
// isn't attributable to a single subscription.
func (c *Client) fanoutError(err error) {
	c.subMu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subMu.Unlock()
	for _, sub := range subs {
		select {
		case sub.Channel <- PublishNotificationData{SubscriptionID: sub.SubscriptionID, Error: err}:
		default:
			// A stalled consumer must not wedge the pump on an error it
			// will observe on its next receive anyway.
		}
	}
}

// deliver routes one PublishResponse to its subscription's channel,
// unwrapping each notification body.
func (c *Client) deliver(res *ua.PublishResponse) {
	c.subMu.Lock()
	sub, ok := c.subs[res.SubscriptionID]
	c.subMu.Unlock()
	if !ok {
		debug.Printf("publish response for unknown subscription %d", res.SubscriptionID)
		return
	}

	for _, status := range res.Results {
		if status != ua.StatusOK {
			sub.Channel <- PublishNotificationData{SubscriptionID: res.SubscriptionID, Error: status}
			return
		}
	}
	if res.NotificationMessage == nil {
		sub.Channel <- PublishNotificationData{
			SubscriptionID: res.SubscriptionID,
			Error:          fmt.Errorf("opcua: publish response without notification message"),
		}
		return
	}

	for _, data := range res.NotificationMessage.NotificationData {
		if data == nil || data.Body == nil {
			// A keep-alive carries no notification data at all; an entry
			// with no body is a decode gap worth surfacing.
			sub.Channel <- PublishNotificationData{
				SubscriptionID: res.SubscriptionID,
				Error:          fmt.Errorf("opcua: notification data without a body"),
			}
			continue
		}
		switch body := data.Body.(type) {
		case *ua.DataChangeNotification, *ua.EventNotificationList, *ua.StatusChangeNotification:
			sub.Channel <- PublishNotificationData{SubscriptionID: res.SubscriptionID, Value: body}
		default:
			sub.Channel <- PublishNotificationData{
				SubscriptionID: res.SubscriptionID,
				Error:          fmt.Errorf("opcua: unexpected notification type %T", body),
			}
		}
	}
}

// CreateMonitoredItems adds monitored items to an existing subscription.
func (c *Client) CreateMonitoredItems(subID uint32, ts ua.TimestampsToReturn, items ...*ua.MonitoredItemCreateRequest) (*ua.CreateMonitoredItemsResponse, error) {
	if subID == 0 {
		return nil, ua.StatusBadSubscriptionIDInvalid
	}
	req := &ua.CreateMonitoredItemsRequest{
		SubscriptionID:     subID,
		TimestampsToReturn: ts,
		ItemsToCreate:      items,
	}
	var res *ua.CreateMonitoredItemsResponse
	err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
	return res, err
}

// DeleteMonitoredItems removes monitored items from a subscription.
func (c *Client) DeleteMonitoredItems(subID uint32, monitoredItemIDs ...uint32) (*ua.DeleteMonitoredItemsResponse, error) {
	req := &ua.DeleteMonitoredItemsRequest{
		SubscriptionID:   subID,
		MonitoredItemIDs: monitoredItemIDs,
	}
	var res *ua.DeleteMonitoredItemsResponse
	err := c.Send(req, func(v interface{}) error {
		return assign(v, &res)
	})
	return res, err
}

// NewMonitoredItemCreateRequestWithDefaults builds a reporting-mode
// create request for one node attribute with the queue defaults most
// value monitoring wants.
func NewMonitoredItemCreateRequestWithDefaults(nodeID *ua.NodeID, attributeID ua.AttributeID, clientHandle uint32) *ua.MonitoredItemCreateRequest {
	if attributeID == 0 {
		attributeID = ua.AttributeIDValue
	}
	return &ua.MonitoredItemCreateRequest{
		ItemToMonitor: &ua.ReadValueID{
			NodeID:       nodeID,
			AttributeID:  attributeID,
			DataEncoding: &ua.QualifiedName{},
		},
		MonitoringMode: ua.MonitoringModeReporting,
		RequestedParameters: &ua.MonitoringParameters{
			ClientHandle:     clientHandle,
			SamplingInterval: 0,
			QueueSize:        10,
			DiscardOldest:    true,
		},
	}
}
