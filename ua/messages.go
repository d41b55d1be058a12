// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"time"

	"github.com/opcua-core/opcua/id"
)

// AttributeID selects which node attribute a ReadValueID/MonitoredItem
// targets (Part 4, 7.4). The subscription engine samples and filters
// Value and delivers events for EventNotifier; the others are read/write
// targets only.
type AttributeID uint32

const (
	AttributeIDNodeID AttributeID = iota + 1
	AttributeIDNodeClass
	AttributeIDBrowseName
	AttributeIDDisplayName
	AttributeIDDescription
	AttributeIDWriteMask
	AttributeIDUserWriteMask
	AttributeIDIsAbstract
	AttributeIDSymmetric
	AttributeIDInverseName
	AttributeIDContainsNoLoops
	AttributeIDEventNotifier
	AttributeIDValue
	AttributeIDDataType
	AttributeIDValueRank
	AttributeIDArrayDimensions
	AttributeIDAccessLevel
	AttributeIDUserAccessLevel
	AttributeIDMinimumSamplingInterval
	AttributeIDHistorizing
	AttributeIDExecutable
	AttributeIDUserExecutable
)

type TimestampsToReturn uint32

const (
	TimestampsToReturnSource TimestampsToReturn = iota
	TimestampsToReturnServer
	TimestampsToReturnBoth
	TimestampsToReturnNeither
)

type BrowseDirection uint32

const (
	BrowseDirectionForward BrowseDirection = iota
	BrowseDirectionInverse
	BrowseDirectionBoth
	BrowseDirectionInvalid BrowseDirection = 3
)

type MonitoringMode uint32

const (
	MonitoringModeDisabled MonitoringMode = iota
	MonitoringModeSampling
	MonitoringModeReporting
)

// --- OpenSecureChannel ---

type SecurityTokenRequestType uint32

const (
	SecurityTokenRequestTypeIssue SecurityTokenRequestType = iota
	SecurityTokenRequestTypeRenew
)

type OpenSecureChannelRequest struct {
	RequestHeader            RequestHeader
	ClientProtocolVersion    uint32
	RequestType              SecurityTokenRequestType
	SecurityMode             MessageSecurityMode
	ClientNonce              []byte
	RequestedLifetime        uint32
}

func (r *OpenSecureChannelRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *OpenSecureChannelRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.OpenSecureChannelRequest_Encoding_DefaultBinary)
}
func (r *OpenSecureChannelRequest) TypeName() string { return "OpenSecureChannelRequest" }

type ChannelSecurityToken struct {
	ChannelID       uint32
	TokenID         uint32
	CreatedAt       time.Time
	RevisedLifetime uint32
}

type OpenSecureChannelResponse struct {
	ResponseHeader         ResponseHeader
	ServerProtocolVersion  uint32
	SecurityToken          ChannelSecurityToken
	ServerNonce            []byte
}

func (r *OpenSecureChannelResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *OpenSecureChannelResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.OpenSecureChannelResponse_Encoding_DefaultBinary)
}
func (r *OpenSecureChannelResponse) TypeName() string { return "OpenSecureChannelResponse" }

type CloseSecureChannelRequest struct {
	RequestHeader RequestHeader
}

func (r *CloseSecureChannelRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *CloseSecureChannelRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.CloseSecureChannelRequest_Encoding_DefaultBinary)
}
func (r *CloseSecureChannelRequest) TypeName() string { return "CloseSecureChannelRequest" }

type CloseSecureChannelResponse struct {
	ResponseHeader ResponseHeader
}

func (r *CloseSecureChannelResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *CloseSecureChannelResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.CloseSecureChannelResponse_Encoding_DefaultBinary)
}
func (r *CloseSecureChannelResponse) TypeName() string { return "CloseSecureChannelResponse" }

// --- FindServers / GetEndpoints ---

type FindServersRequest struct {
	RequestHeader RequestHeader
	EndpointURL   string
	LocaleIDs     []string
	ServerURIs    []string
}

func (r *FindServersRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *FindServersRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.FindServersRequest_Encoding_DefaultBinary)
}
func (r *FindServersRequest) TypeName() string { return "FindServersRequest" }

type FindServersResponse struct {
	ResponseHeader ResponseHeader
	Servers        []*ApplicationDescription
}

func (r *FindServersResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *FindServersResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.FindServersResponse_Encoding_DefaultBinary)
}
func (r *FindServersResponse) TypeName() string { return "FindServersResponse" }

type GetEndpointsRequest struct {
	RequestHeader RequestHeader
	EndpointURL   string
	LocaleIDs     []string
	ProfileURIs   []string
}

func (r *GetEndpointsRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *GetEndpointsRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.GetEndpointsRequest_Encoding_DefaultBinary)
}
func (r *GetEndpointsRequest) TypeName() string { return "GetEndpointsRequest" }

type GetEndpointsResponse struct {
	ResponseHeader ResponseHeader
	Endpoints      []*EndpointDescription
}

func (r *GetEndpointsResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *GetEndpointsResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.GetEndpointsResponse_Encoding_DefaultBinary)
}
func (r *GetEndpointsResponse) TypeName() string { return "GetEndpointsResponse" }

// --- CreateSession / ActivateSession / CloseSession ---

type CreateSessionRequest struct {
	RequestHeader           RequestHeader
	ClientDescription       ApplicationDescription
	ServerURI               string
	EndpointURL             string
	SessionName             string
	ClientNonce             []byte
	ClientCertificate       []byte
	RequestedSessionTimeout float64
	MaxResponseMessageSize  uint32
}

func (r *CreateSessionRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *CreateSessionRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.CreateSessionRequest_Encoding_DefaultBinary)
}
func (r *CreateSessionRequest) TypeName() string { return "CreateSessionRequest" }

type CreateSessionResponse struct {
	ResponseHeader             ResponseHeader
	SessionID                  *NodeID
	AuthenticationToken        *NodeID
	RevisedSessionTimeout      float64
	ServerNonce                []byte
	ServerCertificate          []byte
	ServerEndpoints            []*EndpointDescription
	ServerSoftwareCertificates []ExtensionObject
	ServerSignature            SignatureData
	MaxRequestMessageSize      uint32
}

func (r *CreateSessionResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *CreateSessionResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.CreateSessionResponse_Encoding_DefaultBinary)
}
func (r *CreateSessionResponse) TypeName() string { return "CreateSessionResponse" }

type ActivateSessionRequest struct {
	RequestHeader              RequestHeader
	ClientSignature            SignatureData
	ClientSoftwareCertificates []ExtensionObject
	LocaleIDs                  []string
	UserIdentityToken          *ExtensionObject
	UserTokenSignature         *SignatureData
}

func (r *ActivateSessionRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *ActivateSessionRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.ActivateSessionRequest_Encoding_DefaultBinary)
}
func (r *ActivateSessionRequest) TypeName() string { return "ActivateSessionRequest" }

type ActivateSessionResponse struct {
	ResponseHeader  ResponseHeader
	ServerNonce     []byte
	Results         []StatusCode
}

func (r *ActivateSessionResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *ActivateSessionResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.ActivateSessionResponse_Encoding_DefaultBinary)
}
func (r *ActivateSessionResponse) TypeName() string { return "ActivateSessionResponse" }

type CloseSessionRequest struct {
	RequestHeader       RequestHeader
	DeleteSubscriptions bool
}

func (r *CloseSessionRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *CloseSessionRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.CloseSessionRequest_Encoding_DefaultBinary)
}
func (r *CloseSessionRequest) TypeName() string { return "CloseSessionRequest" }

type CloseSessionResponse struct {
	ResponseHeader ResponseHeader
}

func (r *CloseSessionResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *CloseSessionResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.CloseSessionResponse_Encoding_DefaultBinary)
}
func (r *CloseSessionResponse) TypeName() string { return "CloseSessionResponse" }

type CancelRequest struct {
	RequestHeader RequestHeader
	RequestHandle uint32
}

func (r *CancelRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *CancelRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.CancelRequest_Encoding_DefaultBinary)
}
func (r *CancelRequest) TypeName() string { return "CancelRequest" }

type CancelResponse struct {
	ResponseHeader    ResponseHeader
	CancelCount       uint32
}

func (r *CancelResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *CancelResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.CancelResponse_Encoding_DefaultBinary)
}
func (r *CancelResponse) TypeName() string { return "CancelResponse" }

// --- Read / Write ---

type ReadValueID struct {
	NodeID       *NodeID
	AttributeID  AttributeID
	IndexRange   string
	DataEncoding *QualifiedName
}

type ReadRequest struct {
	RequestHeader      RequestHeader
	MaxAge             float64
	TimestampsToReturn TimestampsToReturn
	NodesToRead        []*ReadValueID
}

func (r *ReadRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *ReadRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.ReadRequest_Encoding_DefaultBinary)
}
func (r *ReadRequest) TypeName() string { return "ReadRequest" }

type ReadResponse struct {
	ResponseHeader ResponseHeader
	Results        []*DataValue
}

func (r *ReadResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *ReadResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.ReadResponse_Encoding_DefaultBinary)
}
func (r *ReadResponse) TypeName() string { return "ReadResponse" }

type WriteValue struct {
	NodeID      *NodeID
	AttributeID AttributeID
	IndexRange  string
	Value       DataValue
}

type WriteRequest struct {
	RequestHeader RequestHeader
	NodesToWrite  []*WriteValue
}

func (r *WriteRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *WriteRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.WriteRequest_Encoding_DefaultBinary)
}
func (r *WriteRequest) TypeName() string { return "WriteRequest" }

type WriteResponse struct {
	ResponseHeader ResponseHeader
	Results        []StatusCode
}

func (r *WriteResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *WriteResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.WriteResponse_Encoding_DefaultBinary)
}
func (r *WriteResponse) TypeName() string { return "WriteResponse" }

// --- Browse ---

type BrowseDescription struct {
	NodeID          *NodeID
	Direction       BrowseDirection
	ReferenceTypeID *NodeID
	IncludeSubtypes bool
	NodeClassMask   uint32
	ResultMask      uint32
}

type BrowseRequest struct {
	RequestHeader            RequestHeader
	RequestedMaxReferencesPerNode uint32
	NodesToBrowse             []*BrowseDescription
}

func (r *BrowseRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *BrowseRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.BrowseRequest_Encoding_DefaultBinary)
}
func (r *BrowseRequest) TypeName() string { return "BrowseRequest" }

type ReferenceDescription struct {
	ReferenceTypeID *NodeID
	IsForward       bool
	NodeID          ExpandedNodeID
	BrowseName      QualifiedName
	DisplayName     LocalizedText
	NodeClass       uint32
	TypeDefinition  ExpandedNodeID
}

type BrowseResult struct {
	StatusCode        StatusCode
	ContinuationPoint []byte
	References        []*ReferenceDescription
}

type BrowseResponse struct {
	ResponseHeader ResponseHeader
	Results        []*BrowseResult
}

func (r *BrowseResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *BrowseResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.BrowseResponse_Encoding_DefaultBinary)
}
func (r *BrowseResponse) TypeName() string { return "BrowseResponse" }

type BrowseNextRequest struct {
	RequestHeader         RequestHeader
	ReleaseContinuationPoints bool
	ContinuationPoints    [][]byte
}

func (r *BrowseNextRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *BrowseNextRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.BrowseNextRequest_Encoding_DefaultBinary)
}
func (r *BrowseNextRequest) TypeName() string { return "BrowseNextRequest" }

type BrowseNextResponse struct {
	ResponseHeader ResponseHeader
	Results        []*BrowseResult
}

func (r *BrowseNextResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *BrowseNextResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.BrowseNextResponse_Encoding_DefaultBinary)
}
func (r *BrowseNextResponse) TypeName() string { return "BrowseNextResponse" }

// --- Subscriptions ---

type CreateSubscriptionRequest struct {
	RequestHeader               RequestHeader
	RequestedPublishingInterval float64
	RequestedLifetimeCount      uint32
	RequestedMaxKeepAliveCount  uint32
	MaxNotificationsPerPublish  uint32
	PublishingEnabled           bool
	Priority                    byte
}

func (r *CreateSubscriptionRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *CreateSubscriptionRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.CreateSubscriptionRequest_Encoding_DefaultBinary)
}
func (r *CreateSubscriptionRequest) TypeName() string { return "CreateSubscriptionRequest" }

type CreateSubscriptionResponse struct {
	ResponseHeader            ResponseHeader
	SubscriptionID            uint32
	RevisedPublishingInterval float64
	RevisedLifetimeCount      uint32
	RevisedMaxKeepAliveCount  uint32
}

func (r *CreateSubscriptionResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *CreateSubscriptionResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.CreateSubscriptionResponse_Encoding_DefaultBinary)
}
func (r *CreateSubscriptionResponse) TypeName() string { return "CreateSubscriptionResponse" }

type DeleteSubscriptionsRequest struct {
	RequestHeader  RequestHeader
	SubscriptionIDs []uint32
}

func (r *DeleteSubscriptionsRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *DeleteSubscriptionsRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.DeleteSubscriptionsRequest_Encoding_DefaultBinary)
}
func (r *DeleteSubscriptionsRequest) TypeName() string { return "DeleteSubscriptionsRequest" }

type DeleteSubscriptionsResponse struct {
	ResponseHeader ResponseHeader
	Results        []StatusCode
}

func (r *DeleteSubscriptionsResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *DeleteSubscriptionsResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.DeleteSubscriptionsResponse_Encoding_DefaultBinary)
}
func (r *DeleteSubscriptionsResponse) TypeName() string { return "DeleteSubscriptionsResponse" }

type TransferSubscriptionsRequest struct {
	RequestHeader   RequestHeader
	SubscriptionIDs []uint32
	SendInitialValues bool
}

func (r *TransferSubscriptionsRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *TransferSubscriptionsRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.TransferSubscriptionsRequest_Encoding_DefaultBinary)
}
func (r *TransferSubscriptionsRequest) TypeName() string { return "TransferSubscriptionsRequest" }

type TransferResult struct {
	StatusCode             StatusCode
	AvailableSequenceNumbers []uint32
}

type TransferSubscriptionsResponse struct {
	ResponseHeader ResponseHeader
	Results        []*TransferResult
}

func (r *TransferSubscriptionsResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *TransferSubscriptionsResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.TransferSubscriptionsResponse_Encoding_DefaultBinary)
}
func (r *TransferSubscriptionsResponse) TypeName() string { return "TransferSubscriptionsResponse" }

// --- MonitoredItems ---

type MonitoringParameters struct {
	ClientHandle     uint32
	SamplingInterval float64
	Filter           *ExtensionObject
	QueueSize        uint32
	DiscardOldest    bool
}

type MonitoredItemCreateRequest struct {
	ItemToMonitor       *ReadValueID
	MonitoringMode      MonitoringMode
	RequestedParameters *MonitoringParameters
}

type CreateMonitoredItemsRequest struct {
	RequestHeader      RequestHeader
	SubscriptionID     uint32
	TimestampsToReturn TimestampsToReturn
	ItemsToCreate      []*MonitoredItemCreateRequest
}

func (r *CreateMonitoredItemsRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *CreateMonitoredItemsRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.CreateMonitoredItemsRequest_Encoding_DefaultBinary)
}
func (r *CreateMonitoredItemsRequest) TypeName() string { return "CreateMonitoredItemsRequest" }

type MonitoredItemCreateResult struct {
	StatusCode                StatusCode
	MonitoredItemID           uint32
	RevisedSamplingInterval   float64
	RevisedQueueSize          uint32
	FilterResult              *ExtensionObject
}

type CreateMonitoredItemsResponse struct {
	ResponseHeader ResponseHeader
	Results        []*MonitoredItemCreateResult
}

func (r *CreateMonitoredItemsResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *CreateMonitoredItemsResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.CreateMonitoredItemsResponse_Encoding_DefaultBinary)
}
func (r *CreateMonitoredItemsResponse) TypeName() string { return "CreateMonitoredItemsResponse" }

type DeleteMonitoredItemsRequest struct {
	RequestHeader    RequestHeader
	SubscriptionID   uint32
	MonitoredItemIDs []uint32
}

func (r *DeleteMonitoredItemsRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *DeleteMonitoredItemsRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.DeleteMonitoredItemsRequest_Encoding_DefaultBinary)
}
func (r *DeleteMonitoredItemsRequest) TypeName() string { return "DeleteMonitoredItemsRequest" }

type DeleteMonitoredItemsResponse struct {
	ResponseHeader ResponseHeader
	Results        []StatusCode
}

func (r *DeleteMonitoredItemsResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *DeleteMonitoredItemsResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.DeleteMonitoredItemsResponse_Encoding_DefaultBinary)
}
func (r *DeleteMonitoredItemsResponse) TypeName() string { return "DeleteMonitoredItemsResponse" }

type SetTriggeringRequest struct {
	RequestHeader    RequestHeader
	SubscriptionID   uint32
	TriggeringItemID uint32
	LinksToAdd       []uint32
	LinksToRemove    []uint32
}

func (r *SetTriggeringRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *SetTriggeringRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.SetTriggeringRequest_Encoding_DefaultBinary)
}
func (r *SetTriggeringRequest) TypeName() string { return "SetTriggeringRequest" }

type SetTriggeringResponse struct {
	ResponseHeader ResponseHeader
	AddResults     []StatusCode
	RemoveResults  []StatusCode
}

func (r *SetTriggeringResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *SetTriggeringResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.SetTriggeringResponse_Encoding_DefaultBinary)
}
func (r *SetTriggeringResponse) TypeName() string { return "SetTriggeringResponse" }

// --- Publish / Republish ---

type SubscriptionAcknowledgement struct {
	SubscriptionID uint32
	SequenceNumber uint32
}

type PublishRequest struct {
	RequestHeader                RequestHeader
	SubscriptionAcknowledgements []*SubscriptionAcknowledgement
}

func (r *PublishRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *PublishRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.PublishRequest_Encoding_DefaultBinary)
}
func (r *PublishRequest) TypeName() string { return "PublishRequest" }

type MonitoredItemNotification struct {
	ClientHandle uint32
	Value        DataValue
}

type DataChangeNotification struct {
	MonitoredItems []*MonitoredItemNotification
	DiagnosticInfos []DiagnosticInfoPlaceholder
}

func (n *DataChangeNotification) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, n) }
func (n *DataChangeNotification) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, 811) // DataChangeNotification_Encoding_DefaultBinary
}
func (n *DataChangeNotification) TypeName() string { return "DataChangeNotification" }

type EventFieldList struct {
	ClientHandle uint32
	EventFields  []*Variant
}

type EventNotificationList struct {
	Events []*EventFieldList
}

func (n *EventNotificationList) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, n) }
func (n *EventNotificationList) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, 916) // EventNotificationList_Encoding_DefaultBinary
}
func (n *EventNotificationList) TypeName() string { return "EventNotificationList" }

type StatusChangeNotification struct {
	Status StatusCode
}

func (n *StatusChangeNotification) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, n) }
func (n *StatusChangeNotification) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, 820) // StatusChangeNotification_Encoding_DefaultBinary
}
func (n *StatusChangeNotification) TypeName() string { return "StatusChangeNotification" }

// NotificationData wraps one of DataChangeNotification, EventNotification-
// List, or StatusChangeNotification (Part 4, 7.20) as an ExtensionObject.
type NotificationData = ExtensionObject

type NotificationMessage struct {
	SequenceNumber   uint32
	PublishTime      time.Time
	NotificationData []*NotificationData
}

type PublishResponse struct {
	ResponseHeader           ResponseHeader
	SubscriptionID           uint32
	AvailableSequenceNumbers []uint32
	MoreNotifications        bool
	NotificationMessage      *NotificationMessage
	Results                  []StatusCode
}

func (r *PublishResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *PublishResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.PublishResponse_Encoding_DefaultBinary)
}
func (r *PublishResponse) TypeName() string { return "PublishResponse" }

type RepublishRequest struct {
	RequestHeader  RequestHeader
	SubscriptionID uint32
	RetransmitSequenceNumber uint32
}

func (r *RepublishRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *RepublishRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.RepublishRequest_Encoding_DefaultBinary)
}
func (r *RepublishRequest) TypeName() string { return "RepublishRequest" }

type RepublishResponse struct {
	ResponseHeader       ResponseHeader
	NotificationMessage *NotificationMessage
}

func (r *RepublishResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *RepublishResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.RepublishResponse_Encoding_DefaultBinary)
}
func (r *RepublishResponse) TypeName() string { return "RepublishResponse" }

// --- ServiceFault: emitted only when the entire request cannot be
// processed ---

type ServiceFault struct {
	ResponseHeader ResponseHeader
}

func (r *ServiceFault) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *ServiceFault) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.ServiceFault_Encoding_DefaultBinary)
}
func (r *ServiceFault) TypeName() string { return "ServiceFault" }

// --- HistoryRead ---

type HistoryReadValueID struct {
	NodeID             *NodeID
	IndexRange         string
	DataEncoding       *QualifiedName
	ContinuationPoint  []byte
}

type ReadRawModifiedDetails struct {
	IsReadModified   bool
	StartTime        time.Time
	EndTime          time.Time
	NumValuesPerNode uint32
	ReturnBounds     bool
}

func (d *ReadRawModifiedDetails) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, d) }
func (d *ReadRawModifiedDetails) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.ReadRawModifiedDetails_Encoding_DefaultBinary)
}
func (d *ReadRawModifiedDetails) TypeName() string { return "ReadRawModifiedDetails" }

// HistoryData carries the raw values a HistoryRead returns, boxed in the
// result's HistoryData extension object.
type HistoryData struct {
	DataValues []*DataValue
}

func (h *HistoryData) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, h) }
func (h *HistoryData) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.HistoryData_Encoding_DefaultBinary)
}
func (h *HistoryData) TypeName() string { return "HistoryData" }

type HistoryReadResult struct {
	StatusCode        StatusCode
	ContinuationPoint []byte
	HistoryData       *ExtensionObject
}

type HistoryReadRequest struct {
	RequestHeader      RequestHeader
	HistoryReadDetails *ExtensionObject
	TimestampsToReturn TimestampsToReturn
	ReleaseContinuationPoints bool
	NodesToRead        []*HistoryReadValueID
}

func (r *HistoryReadRequest) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *HistoryReadRequest) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.HistoryReadRequest_Encoding_DefaultBinary)
}
func (r *HistoryReadRequest) TypeName() string { return "HistoryReadRequest" }

type HistoryReadResponse struct {
	ResponseHeader ResponseHeader
	Results        []*HistoryReadResult
}

func (r *HistoryReadResponse) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, r) }
func (r *HistoryReadResponse) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.HistoryReadResponse_Encoding_DefaultBinary)
}
func (r *HistoryReadResponse) TypeName() string { return "HistoryReadResponse" }

// --- Filters ---

type DeadbandType uint32

const (
	DeadbandNone DeadbandType = iota
	DeadbandAbsolute
	DeadbandPercent
)

type DataChangeTrigger uint32

const (
	DataChangeTriggerStatus DataChangeTrigger = iota
	DataChangeTriggerStatusValue
	DataChangeTriggerStatusValueTimestamp
)

// DataChangeFilter (Part 4, 7.17.2).
type DataChangeFilter struct {
	Trigger       DataChangeTrigger
	DeadbandType  DeadbandType
	DeadbandValue float64
}

func (f *DataChangeFilter) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, f) }
func (f *DataChangeFilter) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.DataChangeFilter_Encoding_DefaultBinary)
}
func (f *DataChangeFilter) TypeName() string { return "DataChangeFilter" }

// SimpleAttributeOperand / ContentFilterElement model the supplemented
// event-filter shape from async-opcua's opcua-nodes/src/events/event.rs: a
// flat select-clause list plus a minimal where-clause AST (equals-only,
// enough to express "select these fields where this one equals X").
type SimpleAttributeOperand struct {
	TypeDefinitionID *NodeID
	BrowsePath       []*QualifiedName
	AttributeID      AttributeID
	IndexRange       string
}

type ContentFilterElement struct {
	Operator FilterOperator
	Operands []*SimpleAttributeOperand
	Literal  *Variant
}

type FilterOperator uint32

const (
	FilterOperatorEquals FilterOperator = iota
	FilterOperatorAnd
	FilterOperatorOr
)

type EventFilter struct {
	SelectClauses []*SimpleAttributeOperand
	WhereClause   []*ContentFilterElement
}

func (f *EventFilter) EncodeBinary(e *Encoder) error { return ReflectEncode(e, nil, f) }
func (f *EventFilter) TypeID() *ExpandedNodeID {
	return NewFourByteExpandedNodeID(0, id.EventFilter_Encoding_DefaultBinary)
}
func (f *EventFilter) TypeName() string { return "EventFilter" }

// RegisterCoreMessages installs decoders for every hand-written core
// service message and filter at PriorityCore, so the secure
// channel's read loop can resolve any inbound message's TypeId back to a
// concrete Go type via the same registry ExtensionObject bodies use.
func RegisterCoreMessages(reg *TypeRegistry) {
	RegisterIdentityTokens(reg)

	RegisterReflect(reg, id.OpenSecureChannelRequest_Encoding_DefaultBinary, PriorityCore, func() *OpenSecureChannelRequest { return &OpenSecureChannelRequest{} })
	RegisterReflect(reg, id.OpenSecureChannelResponse_Encoding_DefaultBinary, PriorityCore, func() *OpenSecureChannelResponse { return &OpenSecureChannelResponse{} })
	RegisterReflect(reg, id.CloseSecureChannelRequest_Encoding_DefaultBinary, PriorityCore, func() *CloseSecureChannelRequest { return &CloseSecureChannelRequest{} })
	RegisterReflect(reg, id.CloseSecureChannelResponse_Encoding_DefaultBinary, PriorityCore, func() *CloseSecureChannelResponse { return &CloseSecureChannelResponse{} })

	RegisterReflect(reg, id.FindServersRequest_Encoding_DefaultBinary, PriorityCore, func() *FindServersRequest { return &FindServersRequest{} })
	RegisterReflect(reg, id.FindServersResponse_Encoding_DefaultBinary, PriorityCore, func() *FindServersResponse { return &FindServersResponse{} })
	RegisterReflect(reg, id.GetEndpointsRequest_Encoding_DefaultBinary, PriorityCore, func() *GetEndpointsRequest { return &GetEndpointsRequest{} })
	RegisterReflect(reg, id.GetEndpointsResponse_Encoding_DefaultBinary, PriorityCore, func() *GetEndpointsResponse { return &GetEndpointsResponse{} })

	RegisterReflect(reg, id.CreateSessionRequest_Encoding_DefaultBinary, PriorityCore, func() *CreateSessionRequest { return &CreateSessionRequest{} })
	RegisterReflect(reg, id.CreateSessionResponse_Encoding_DefaultBinary, PriorityCore, func() *CreateSessionResponse { return &CreateSessionResponse{} })
	RegisterReflect(reg, id.ActivateSessionRequest_Encoding_DefaultBinary, PriorityCore, func() *ActivateSessionRequest { return &ActivateSessionRequest{} })
	RegisterReflect(reg, id.ActivateSessionResponse_Encoding_DefaultBinary, PriorityCore, func() *ActivateSessionResponse { return &ActivateSessionResponse{} })
	RegisterReflect(reg, id.CloseSessionRequest_Encoding_DefaultBinary, PriorityCore, func() *CloseSessionRequest { return &CloseSessionRequest{} })
	RegisterReflect(reg, id.CloseSessionResponse_Encoding_DefaultBinary, PriorityCore, func() *CloseSessionResponse { return &CloseSessionResponse{} })
	RegisterReflect(reg, id.CancelRequest_Encoding_DefaultBinary, PriorityCore, func() *CancelRequest { return &CancelRequest{} })
	RegisterReflect(reg, id.CancelResponse_Encoding_DefaultBinary, PriorityCore, func() *CancelResponse { return &CancelResponse{} })

	RegisterReflect(reg, id.ReadRequest_Encoding_DefaultBinary, PriorityCore, func() *ReadRequest { return &ReadRequest{} })
	RegisterReflect(reg, id.ReadResponse_Encoding_DefaultBinary, PriorityCore, func() *ReadResponse { return &ReadResponse{} })
	RegisterReflect(reg, id.WriteRequest_Encoding_DefaultBinary, PriorityCore, func() *WriteRequest { return &WriteRequest{} })
	RegisterReflect(reg, id.WriteResponse_Encoding_DefaultBinary, PriorityCore, func() *WriteResponse { return &WriteResponse{} })

	RegisterReflect(reg, id.BrowseRequest_Encoding_DefaultBinary, PriorityCore, func() *BrowseRequest { return &BrowseRequest{} })
	RegisterReflect(reg, id.BrowseResponse_Encoding_DefaultBinary, PriorityCore, func() *BrowseResponse { return &BrowseResponse{} })
	RegisterReflect(reg, id.BrowseNextRequest_Encoding_DefaultBinary, PriorityCore, func() *BrowseNextRequest { return &BrowseNextRequest{} })
	RegisterReflect(reg, id.BrowseNextResponse_Encoding_DefaultBinary, PriorityCore, func() *BrowseNextResponse { return &BrowseNextResponse{} })

	RegisterReflect(reg, id.CreateSubscriptionRequest_Encoding_DefaultBinary, PriorityCore, func() *CreateSubscriptionRequest { return &CreateSubscriptionRequest{} })
	RegisterReflect(reg, id.CreateSubscriptionResponse_Encoding_DefaultBinary, PriorityCore, func() *CreateSubscriptionResponse { return &CreateSubscriptionResponse{} })
	RegisterReflect(reg, id.DeleteSubscriptionsRequest_Encoding_DefaultBinary, PriorityCore, func() *DeleteSubscriptionsRequest { return &DeleteSubscriptionsRequest{} })
	RegisterReflect(reg, id.DeleteSubscriptionsResponse_Encoding_DefaultBinary, PriorityCore, func() *DeleteSubscriptionsResponse { return &DeleteSubscriptionsResponse{} })
	RegisterReflect(reg, id.TransferSubscriptionsRequest_Encoding_DefaultBinary, PriorityCore, func() *TransferSubscriptionsRequest { return &TransferSubscriptionsRequest{} })
	RegisterReflect(reg, id.TransferSubscriptionsResponse_Encoding_DefaultBinary, PriorityCore, func() *TransferSubscriptionsResponse { return &TransferSubscriptionsResponse{} })

	RegisterReflect(reg, id.CreateMonitoredItemsRequest_Encoding_DefaultBinary, PriorityCore, func() *CreateMonitoredItemsRequest { return &CreateMonitoredItemsRequest{} })
	RegisterReflect(reg, id.CreateMonitoredItemsResponse_Encoding_DefaultBinary, PriorityCore, func() *CreateMonitoredItemsResponse { return &CreateMonitoredItemsResponse{} })
	RegisterReflect(reg, id.DeleteMonitoredItemsRequest_Encoding_DefaultBinary, PriorityCore, func() *DeleteMonitoredItemsRequest { return &DeleteMonitoredItemsRequest{} })
	RegisterReflect(reg, id.DeleteMonitoredItemsResponse_Encoding_DefaultBinary, PriorityCore, func() *DeleteMonitoredItemsResponse { return &DeleteMonitoredItemsResponse{} })
	RegisterReflect(reg, id.SetTriggeringRequest_Encoding_DefaultBinary, PriorityCore, func() *SetTriggeringRequest { return &SetTriggeringRequest{} })
	RegisterReflect(reg, id.SetTriggeringResponse_Encoding_DefaultBinary, PriorityCore, func() *SetTriggeringResponse { return &SetTriggeringResponse{} })

	RegisterReflect(reg, id.PublishRequest_Encoding_DefaultBinary, PriorityCore, func() *PublishRequest { return &PublishRequest{} })
	RegisterReflect(reg, id.PublishResponse_Encoding_DefaultBinary, PriorityCore, func() *PublishResponse { return &PublishResponse{} })
	RegisterReflect(reg, id.RepublishRequest_Encoding_DefaultBinary, PriorityCore, func() *RepublishRequest { return &RepublishRequest{} })
	RegisterReflect(reg, id.RepublishResponse_Encoding_DefaultBinary, PriorityCore, func() *RepublishResponse { return &RepublishResponse{} })

	RegisterReflect(reg, id.ServiceFault_Encoding_DefaultBinary, PriorityCore, func() *ServiceFault { return &ServiceFault{} })

	RegisterReflect(reg, id.HistoryReadRequest_Encoding_DefaultBinary, PriorityCore, func() *HistoryReadRequest { return &HistoryReadRequest{} })
	RegisterReflect(reg, id.HistoryReadResponse_Encoding_DefaultBinary, PriorityCore, func() *HistoryReadResponse { return &HistoryReadResponse{} })
	RegisterReflect(reg, id.ReadRawModifiedDetails_Encoding_DefaultBinary, PriorityCore, func() *ReadRawModifiedDetails { return &ReadRawModifiedDetails{} })
	RegisterReflect(reg, id.HistoryData_Encoding_DefaultBinary, PriorityCore, func() *HistoryData { return &HistoryData{} })

	RegisterReflect(reg, id.DataChangeFilter_Encoding_DefaultBinary, PriorityCore, func() *DataChangeFilter { return &DataChangeFilter{} })
	RegisterReflect(reg, id.EventFilter_Encoding_DefaultBinary, PriorityCore, func() *EventFilter { return &EventFilter{} })

	RegisterReflect(reg, dataChangeNotificationEncodingID, PriorityCore, func() *DataChangeNotification { return &DataChangeNotification{} })
	RegisterReflect(reg, eventNotificationListEncodingID, PriorityCore, func() *EventNotificationList { return &EventNotificationList{} })
	RegisterReflect(reg, statusChangeNotificationEncodingID, PriorityCore, func() *StatusChangeNotification { return &StatusChangeNotification{} })
}

// Binary-encoding ids for the three NotificationData alternatives (Part 4,
// 7.20); not in package id since that package only holds ids referenced by
// name elsewhere, and these three are only ever looked up here.
const (
	dataChangeNotificationEncodingID   uint32 = 811
	eventNotificationListEncodingID    uint32 = 916
	statusChangeNotificationEncodingID uint32 = 820
)
