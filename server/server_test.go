// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package server

import (
	"context"
	"testing"
	"time"

	opcua "github.com/opcua-core/opcua"
	"github.com/opcua-core/opcua/internal/config"
	"github.com/opcua-core/opcua/server/nodemgr"
	"github.com/opcua-core/opcua/ua"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	vVar, _ := ua.NewVariant(float64(3.14))
	node := &nodemgr.Node{
		NodeID:      ua.NewStringNodeID(2, "demo"),
		NodeClass:   nodemgr.NodeClassVariable,
		BrowseName:  ua.QualifiedName{NamespaceIndex: 2, Name: "demo"},
		DisplayName: ua.LocalizedText{Text: "demo"},
	}
	node.SetValue(&ua.DataValue{Value: vVar, Status: ua.StatusOK, HasValue: true, HasStatus: true})
	srv.Nodes().AddNode(node)

	go func() {
		if err := srv.ListenAndServe(context.Background(), "127.0.0.1:0"); err != nil {
			t.Logf("serve: %v", err)
		}
	}()
	t.Cleanup(func() { srv.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv, "opc.tcp://" + srv.Addr()
}

// TestReadOverWire drives the full inbound path: Hello/Acknowledge, an
// unsecured OpenSecureChannel, CreateSession/ActivateSession and a
// ReadRequest answered with Good.
func TestReadOverWire(t *testing.T) {
	_, endpoint := startTestServer(t)

	c := opcua.NewClient(endpoint)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	res, err := c.Read(&ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: ua.NewStringNodeID(2, "demo"), AttributeID: ua.AttributeIDValue},
		},
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.ResponseHeader.ServiceResult != ua.StatusOK {
		t.Fatalf("service result: %v", res.ResponseHeader.ServiceResult)
	}
	if len(res.Results) != 1 || !res.Results[0].HasValue {
		t.Fatalf("results: %+v", res.Results)
	}
	if got := res.Results[0].Value.Value; got != 3.14 {
		t.Fatalf("value %v, want 3.14", got)
	}
}

func TestWriteAndReadBack(t *testing.T) {
	_, endpoint := startTestServer(t)

	c := opcua.NewClient(endpoint)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	node := c.Node(ua.NewStringNodeID(2, "demo"))
	v, _ := ua.NewVariant(float64(99.5))
	if err := node.SetValue(v); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := node.Value()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Value != 99.5 {
		t.Fatalf("value %v, want 99.5", got.Value)
	}
}

func TestFindServersWithoutSession(t *testing.T) {
	_, endpoint := startTestServer(t)

	c := opcua.NewClient(endpoint)
	if err := c.Dial(); err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	res, err := c.FindServers()
	if err != nil {
		t.Fatalf("find servers: %v", err)
	}
	if len(res.Servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(res.Servers))
	}
	if res.Servers[0].ApplicationType != ua.ApplicationTypeServer {
		t.Fatalf("application type %v", res.Servers[0].ApplicationType)
	}
}

func TestGetEndpointsWithoutSession(t *testing.T) {
	_, endpoint := startTestServer(t)

	c := opcua.NewClient(endpoint)
	if err := c.Dial(); err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	res, err := c.GetEndpoints()
	if err != nil {
		t.Fatalf("get endpoints: %v", err)
	}
	if len(res.Endpoints) == 0 {
		t.Fatal("no endpoints")
	}
	if res.Endpoints[0].SecurityMode != ua.MessageSecurityModeNone {
		t.Fatalf("security mode %v", res.Endpoints[0].SecurityMode)
	}
}

// TestSubscriptionOverWire exercises the publish pipeline end to end:
// create a subscription and a monitored item, then receive a data change
// notification through the client's publish loop.
func TestSubscriptionOverWire(t *testing.T) {
	_, endpoint := startTestServer(t)

	c := opcua.NewClient(endpoint)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	sub, err := c.Subscribe(opcua.SubscriptionParameters{
		Interval:                   50 * time.Millisecond,
		LifetimeCount:              100,
		MaxKeepAliveCount:          10,
		MaxNotificationsPerPublish: 100,
		ChannelBufferSize:          16,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	req := opcua.NewMonitoredItemCreateRequestWithDefaults(ua.NewStringNodeID(2, "demo"), ua.AttributeIDValue, 42)
	res, err := c.CreateMonitoredItems(sub.SubscriptionID, ua.TimestampsToReturnBoth, req)
	if err != nil {
		t.Fatalf("create monitored items: %v", err)
	}
	if res.Results[0].StatusCode != ua.StatusOK {
		t.Fatalf("monitored item status: %v", res.Results[0].StatusCode)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case notif := <-sub.Channel:
			if notif.Error != nil {
				t.Fatalf("notification error: %v", notif.Error)
			}
			dcn, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			if len(dcn.MonitoredItems) > 0 && dcn.MonitoredItems[0].ClientHandle == 42 {
				return
			}
		case <-deadline:
			t.Fatal("no data change notification received")
		}
	}
}

func TestRequestWithoutSessionRejected(t *testing.T) {
	_, endpoint := startTestServer(t)

	c := opcua.NewClient(endpoint)
	if err := c.Dial(); err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	// Read before CreateSession/ActivateSession must fail the session
	// check (the response is a ServiceFault, surfaced as a type mismatch
	// or an explicit status, never a successful ReadResponse).
	res, err := c.Read(&ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: ua.NewStringNodeID(2, "demo"), AttributeID: ua.AttributeIDValue},
		},
	})
	if err == nil && res.ResponseHeader.ServiceResult == ua.StatusOK {
		t.Fatal("sessionless read succeeded")
	}
}
