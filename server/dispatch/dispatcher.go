// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package dispatch routes decoded inbound requests to node managers and
// the subscription engine, enforcing the session whitelist, per-service
// operation limits and request cancellation.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opcua-core/opcua/internal/telemetry"
	"github.com/opcua-core/opcua/server/session"
	"github.com/opcua-core/opcua/ua"
	"github.com/opcua-core/opcua/uasc"
)

// NodeManager is the upward contract node managers expose to the
// dispatcher. Implementations mark each operation with a status and fill
// outputs in place; a nil result of the proper length with BadNodeIdUnknown
// entries is how "no manager claims this namespace" is represented.
type NodeManager interface {
	Read(ctx context.Context, nodes []*ua.ReadValueID, ts ua.TimestampsToReturn) []*ua.DataValue
	Write(ctx context.Context, values []*ua.WriteValue) []ua.StatusCode
	Browse(ctx context.Context, descs []*ua.BrowseDescription, maxPerNode uint32) []*ua.BrowseResult
	BrowseNext(ctx context.Context, continuationPoints [][]byte, release bool) []*ua.BrowseResult
}

// SubscriptionEngine is the upward contract the subscription engine
// exposes to the
// dispatcher. sessionKey is the session's AuthenticationToken string, the
// same key server/session.Manager uses internally. identityKey and mode
// record who created the subscription and over what channel security so
// TransferSubscriptions can enforce its authorization checks later.
type SubscriptionEngine interface {
	CreateSubscription(sessionKey, identityKey string, mode ua.MessageSecurityMode, req *ua.CreateSubscriptionRequest) *ua.CreateSubscriptionResponse
	DeleteSubscriptions(sessionKey string, ids []uint32) []ua.StatusCode
	TransferSubscriptions(sessionKey string, userIdentityKey string, mode ua.MessageSecurityMode, ids []uint32) []*ua.TransferResult
	CreateMonitoredItems(sessionKey string, req *ua.CreateMonitoredItemsRequest) []*ua.MonitoredItemCreateResult
	DeleteMonitoredItems(sessionKey string, subID uint32, ids []uint32) []ua.StatusCode
	SetTriggering(sessionKey string, req *ua.SetTriggeringRequest) (added, removed []ua.StatusCode)
	Publish(sessionKey string, req *ua.PublishRequest, respond func(*ua.PublishResponse, error))
	Republish(sessionKey string, subID, seq uint32) (*ua.NotificationMessage, error)
}

// HistoryReader is implemented by node managers that retain past values;
// HistoryRead requests fail per-operation when the manager doesn't.
type HistoryReader interface {
	HistoryRead(ctx context.Context, details *ua.ReadRawModifiedDetails, nodes []*ua.HistoryReadValueID) []*ua.HistoryReadResult
}

// Limits bounds the size of list-oriented requests.
type Limits struct {
	MaxNodesPerRead     uint32
	MaxNodesPerWrite    uint32
	MaxNodesPerBrowse   uint32
	MaxNodesPerRegister uint32
	MaxNodesPerTranslate uint32
}

// DefaultLimits matches the conservative defaults most OPC UA servers
// advertise in their ServerCapabilities.
func DefaultLimits() Limits {
	return Limits{
		MaxNodesPerRead:      2500,
		MaxNodesPerWrite:     2500,
		MaxNodesPerBrowse:    1000,
		MaxNodesPerRegister:  1000,
		MaxNodesPerTranslate: 1000,
	}
}

// Dispatcher wires a session manager, a node manager and a subscription
// engine into one request router, bound to secure channels via Bind.
type Dispatcher struct {
	Sessions *session.Manager
	Nodes    NodeManager
	Subs     SubscriptionEngine
	Limits   Limits

	EndpointDescriptions []*ua.EndpointDescription
	ServerDescription    ua.ApplicationDescription
	ServerCertificate    []byte

	cancelMu sync.Mutex
	inflight map[uint32][]*inflightRequest // keyed by RequestHandle
}

// inflightRequest tracks one cancellable request so Cancel can cut every
// in-flight operation sharing its handle.
type inflightRequest struct {
	cancel context.CancelFunc
}

// New constructs a Dispatcher ready to Bind to accepted channels.
func New(sessions *session.Manager, nodes NodeManager, subs SubscriptionEngine) *Dispatcher {
	return &Dispatcher{
		Sessions: sessions,
		Nodes:    nodes,
		Subs:     subs,
		Limits:   DefaultLimits(),
		inflight: make(map[uint32][]*inflightRequest),
	}
}

// Bind returns a uasc.RequestHandler closure scoped to one secure channel,
// ready for ch.SetRequestHandler(d.Bind(ch)).
func (d *Dispatcher) Bind(ch *uasc.SecureChannel) uasc.RequestHandler {
	return func(requestID uint32, authToken *ua.NodeID, req ua.Encodable, decodeErr error) {
		ctx := context.Background()
		if decodeErr != nil {
			log.Error().Err(decodeErr).Msg("server/dispatch: failed to decode inbound request")
			d.reply(ctx, ch, requestID, &ua.ServiceFault{ResponseHeader: ua.ResponseHeader{ServiceResult: ua.StatusBadDecodingError}})
			return
		}
		d.route(ctx, ch, requestID, authToken, req)
	}
}

// trackRequest derives a cancellable context registered under the
// request's handle. Long operations (browse expansion, history read)
// observe the context at each batch boundary; a Cancel for the same
// handle cuts it mid-run. The returned release must be called when the
// operation finishes.
func (d *Dispatcher) trackRequest(ctx context.Context, handle uint32) (context.Context, func()) {
	opCtx, cancel := context.WithCancel(ctx)
	entry := &inflightRequest{cancel: cancel}
	d.cancelMu.Lock()
	d.inflight[handle] = append(d.inflight[handle], entry)
	d.cancelMu.Unlock()
	return opCtx, func() {
		cancel()
		d.cancelMu.Lock()
		entries := d.inflight[handle]
		for i, e := range entries {
			if e == entry {
				entries = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if len(entries) == 0 {
			delete(d.inflight, handle)
		} else {
			d.inflight[handle] = entries
		}
		d.cancelMu.Unlock()
	}
}

// cancelRequests cancels every in-flight request sharing handle and
// reports how many were cut.
func (d *Dispatcher) cancelRequests(handle uint32) uint32 {
	d.cancelMu.Lock()
	entries := d.inflight[handle]
	delete(d.inflight, handle)
	d.cancelMu.Unlock()
	for _, e := range entries {
		e.cancel()
	}
	return uint32(len(entries))
}

// sessionExempt is the small whitelist of services processed without an
// activated session: discovery (FindServers, GetEndpoints), the session
// establishment pair itself — ActivateSession and CloseSession run their
// own lookup and identity checks against sessions that are not (or no
// longer) in the Activated state — and channel teardown.
func sessionExempt(req ua.Encodable) bool {
	switch req.(type) {
	case *ua.FindServersRequest, *ua.GetEndpointsRequest,
		*ua.CreateSessionRequest, *ua.ActivateSessionRequest, *ua.CloseSessionRequest,
		*ua.CloseSecureChannelRequest:
		return true
	}
	return false
}

func (d *Dispatcher) route(ctx context.Context, ch *uasc.SecureChannel, requestID uint32, authToken *ua.NodeID, req ua.Encodable) {
	telemetry.RequestsDispatched.WithLabelValues(req.TypeName()).Inc()
	if !sessionExempt(req) {
		if _, err := d.Sessions.Authenticate(authToken, ch.ChannelID()); err != nil {
			d.reply(ctx, ch, requestID, &ua.ServiceFault{ResponseHeader: ua.ResponseHeader{ServiceResult: err.(ua.StatusCode)}})
			return
		}
	}

	switch r := req.(type) {
	case *ua.CloseSecureChannelRequest:
		// No response on the wire; the peer closes the socket after
		// sending this.

	case *ua.FindServersRequest:
		d.reply(ctx, ch, requestID, &ua.FindServersResponse{
			ResponseHeader: okHeader(r.RequestHeader),
			Servers:        []*ua.ApplicationDescription{&d.ServerDescription},
		})

	case *ua.GetEndpointsRequest:
		d.reply(ctx, ch, requestID, &ua.GetEndpointsResponse{
			ResponseHeader: okHeader(r.RequestHeader),
			Endpoints:      d.EndpointDescriptions,
		})

	case *ua.CreateSessionRequest:
		nonce := make([]byte, 32)
		s, resp := d.Sessions.CreateSession(r, ch.ChannelID(), nonce)
		resp.ResponseHeader = okHeader(r.RequestHeader)
		resp.ServerCertificate = d.ServerCertificate
		resp.ServerEndpoints = d.EndpointDescriptions
		_ = s
		d.reply(ctx, ch, requestID, resp)

	case *ua.ActivateSessionRequest:
		_, resp, err := d.Sessions.ActivateSession(ctx, authToken, r, ch.ChannelID(), ch, d.ServerCertificate)
		if err != nil {
			d.reply(ctx, ch, requestID, &ua.ServiceFault{ResponseHeader: ua.ResponseHeader{ServiceResult: err.(ua.StatusCode)}})
			return
		}
		resp.ResponseHeader = okHeader(r.RequestHeader)
		resp.Results = make([]ua.StatusCode, len(r.ClientSoftwareCertificates))
		d.reply(ctx, ch, requestID, resp)

	case *ua.CloseSessionRequest:
		resp, err := d.Sessions.CloseSession(authToken, r, func(ids []uint32) { d.Subs.DeleteSubscriptions(authToken.String(), ids) })
		if err != nil {
			d.reply(ctx, ch, requestID, &ua.ServiceFault{ResponseHeader: ua.ResponseHeader{ServiceResult: err.(ua.StatusCode)}})
			return
		}
		resp.ResponseHeader = okHeader(r.RequestHeader)
		d.reply(ctx, ch, requestID, resp)

	case *ua.CancelRequest:
		n := d.cancelRequests(r.RequestHandle)
		d.reply(ctx, ch, requestID, &ua.CancelResponse{ResponseHeader: okHeader(r.RequestHeader), CancelCount: n})

	case *ua.ReadRequest:
		if uint32(len(r.NodesToRead)) > d.Limits.MaxNodesPerRead {
			d.faultTooMany(ctx, ch, requestID, r.RequestHeader)
			return
		}
		opCtx, release := d.trackRequest(ctx, r.RequestHeader.RequestHandle)
		results := d.Nodes.Read(opCtx, r.NodesToRead, r.TimestampsToReturn)
		release()
		d.reply(ctx, ch, requestID, &ua.ReadResponse{ResponseHeader: okHeader(r.RequestHeader), Results: results})

	case *ua.WriteRequest:
		if uint32(len(r.NodesToWrite)) > d.Limits.MaxNodesPerWrite {
			d.faultTooMany(ctx, ch, requestID, r.RequestHeader)
			return
		}
		results := d.Nodes.Write(ctx, r.NodesToWrite)
		d.reply(ctx, ch, requestID, &ua.WriteResponse{ResponseHeader: okHeader(r.RequestHeader), Results: results})

	case *ua.BrowseRequest:
		if uint32(len(r.NodesToBrowse)) > d.Limits.MaxNodesPerBrowse {
			d.faultTooMany(ctx, ch, requestID, r.RequestHeader)
			return
		}
		opCtx, release := d.trackRequest(ctx, r.RequestHeader.RequestHandle)
		results := d.Nodes.Browse(opCtx, r.NodesToBrowse, r.RequestedMaxReferencesPerNode)
		release()
		d.reply(ctx, ch, requestID, &ua.BrowseResponse{ResponseHeader: okHeader(r.RequestHeader), Results: results})

	case *ua.BrowseNextRequest:
		opCtx, release := d.trackRequest(ctx, r.RequestHeader.RequestHandle)
		results := d.Nodes.BrowseNext(opCtx, r.ContinuationPoints, r.ReleaseContinuationPoints)
		release()
		d.reply(ctx, ch, requestID, &ua.BrowseNextResponse{ResponseHeader: okHeader(r.RequestHeader), Results: results})

	case *ua.HistoryReadRequest:
		if uint32(len(r.NodesToRead)) > d.Limits.MaxNodesPerRead {
			d.faultTooMany(ctx, ch, requestID, r.RequestHeader)
			return
		}
		hr, ok := d.Nodes.(HistoryReader)
		if !ok {
			results := make([]*ua.HistoryReadResult, len(r.NodesToRead))
			for i := range results {
				results[i] = &ua.HistoryReadResult{StatusCode: ua.StatusBadNodeIDUnknown}
			}
			d.reply(ctx, ch, requestID, &ua.HistoryReadResponse{ResponseHeader: okHeader(r.RequestHeader), Results: results})
			return
		}
		var details *ua.ReadRawModifiedDetails
		if r.HistoryReadDetails != nil {
			details, _ = r.HistoryReadDetails.Body.(*ua.ReadRawModifiedDetails)
		}
		opCtx, release := d.trackRequest(ctx, r.RequestHeader.RequestHandle)
		results := hr.HistoryRead(opCtx, details, r.NodesToRead)
		release()
		d.reply(ctx, ch, requestID, &ua.HistoryReadResponse{ResponseHeader: okHeader(r.RequestHeader), Results: results})

	case *ua.CreateSubscriptionRequest:
		resp := d.Subs.CreateSubscription(authToken.String(), d.identityKey(authToken), ch.SecurityMode(), r)
		resp.ResponseHeader = okHeader(r.RequestHeader)
		if s, ok := d.Sessions.Lookup(authToken); ok {
			s.AddSubscription(resp.SubscriptionID)
		}
		d.reply(ctx, ch, requestID, resp)

	case *ua.DeleteSubscriptionsRequest:
		results := d.Subs.DeleteSubscriptions(authToken.String(), r.SubscriptionIDs)
		if s, ok := d.Sessions.Lookup(authToken); ok {
			for i, id := range r.SubscriptionIDs {
				if results[i] == ua.StatusOK {
					s.RemoveSubscription(id)
				}
			}
		}
		d.reply(ctx, ch, requestID, &ua.DeleteSubscriptionsResponse{ResponseHeader: okHeader(r.RequestHeader), Results: results})

	case *ua.TransferSubscriptionsRequest:
		results := d.Subs.TransferSubscriptions(authToken.String(), d.identityKey(authToken), ch.SecurityMode(), r.SubscriptionIDs)
		if s, ok := d.Sessions.Lookup(authToken); ok {
			for i, id := range r.SubscriptionIDs {
				if results[i].StatusCode == ua.StatusOK {
					s.AddSubscription(id)
				}
			}
		}
		d.reply(ctx, ch, requestID, &ua.TransferSubscriptionsResponse{ResponseHeader: okHeader(r.RequestHeader), Results: results})

	case *ua.CreateMonitoredItemsRequest:
		results := d.Subs.CreateMonitoredItems(authToken.String(), r)
		d.reply(ctx, ch, requestID, &ua.CreateMonitoredItemsResponse{ResponseHeader: okHeader(r.RequestHeader), Results: results})

	case *ua.DeleteMonitoredItemsRequest:
		results := d.Subs.DeleteMonitoredItems(authToken.String(), r.SubscriptionID, r.MonitoredItemIDs)
		d.reply(ctx, ch, requestID, &ua.DeleteMonitoredItemsResponse{ResponseHeader: okHeader(r.RequestHeader), Results: results})

	case *ua.SetTriggeringRequest:
		added, removed := d.Subs.SetTriggering(authToken.String(), r)
		d.reply(ctx, ch, requestID, &ua.SetTriggeringResponse{ResponseHeader: okHeader(r.RequestHeader), AddResults: added, RemoveResults: removed})

	case *ua.PublishRequest:
		d.Subs.Publish(authToken.String(), r, func(resp *ua.PublishResponse, err error) {
			if err != nil {
				d.reply(ctx, ch, requestID, &ua.ServiceFault{ResponseHeader: ua.ResponseHeader{RequestHandle: r.RequestHeader.RequestHandle, ServiceResult: statusOf(err)}})
				return
			}
			resp.ResponseHeader = okHeader(r.RequestHeader)
			d.reply(ctx, ch, requestID, resp)
		})

	case *ua.RepublishRequest:
		msg, err := d.Subs.Republish(authToken.String(), r.SubscriptionID, r.RetransmitSequenceNumber)
		if err != nil {
			d.reply(ctx, ch, requestID, &ua.ServiceFault{ResponseHeader: ua.ResponseHeader{ServiceResult: statusOf(err)}})
			return
		}
		d.reply(ctx, ch, requestID, &ua.RepublishResponse{ResponseHeader: okHeader(r.RequestHeader), NotificationMessage: msg})

	default:
		d.reply(ctx, ch, requestID, &ua.ServiceFault{ResponseHeader: ua.ResponseHeader{ServiceResult: ua.StatusBadDecodingError}})
	}
}

// identityKey resolves the session's comparable identity string for
// subscription ownership checks; requests that reach the subscription
// services have already passed Authenticate, so a missing session here
// only happens in tests driving the engine directly.
func (d *Dispatcher) identityKey(authToken *ua.NodeID) string {
	if s, ok := d.Sessions.Lookup(authToken); ok {
		return s.IdentityKey()
	}
	return "anonymous"
}

func (d *Dispatcher) faultTooMany(ctx context.Context, ch *uasc.SecureChannel, requestID uint32, rh ua.RequestHeader) {
	d.reply(ctx, ch, requestID, &ua.ServiceFault{ResponseHeader: ua.ResponseHeader{RequestHandle: rh.RequestHandle, ServiceResult: ua.StatusBadTooManyOperations}})
}

func (d *Dispatcher) reply(ctx context.Context, ch *uasc.SecureChannel, requestID uint32, resp ua.Encodable) {
	if err := ch.SendResponse(ctx, requestID, resp); err != nil {
		log.Error().Err(err).Msg("server/dispatch: failed to send response")
	}
}

func okHeader(rh ua.RequestHeader) ua.ResponseHeader {
	return ua.ResponseHeader{
		Timestamp:     time.Now(),
		RequestHandle: rh.RequestHandle,
		ServiceResult: ua.StatusOK,
	}
}

func statusOf(err error) ua.StatusCode {
	if sc, ok := err.(ua.StatusCode); ok {
		return sc
	}
	return ua.StatusBadDecodingError
}
