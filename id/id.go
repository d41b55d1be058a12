// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package id holds the numeric namespace-0 identifiers the core needs to
// address its hand-written service messages. The full generated catalog
// (tens of thousands of DataType/Object/Method ids produced by the code
// generator from the NodeSet2 XML) lives outside this module; this is
// only the slice the core dispatch and ExtensionObject machinery touch
// directly.
package id

const (
	OpenSecureChannelRequest_Encoding_DefaultBinary  uint32 = 446
	OpenSecureChannelResponse_Encoding_DefaultBinary uint32 = 449
	CloseSecureChannelRequest_Encoding_DefaultBinary uint32 = 452
	CloseSecureChannelResponse_Encoding_DefaultBinary uint32 = 455

	FindServersRequest_Encoding_DefaultBinary  uint32 = 422
	FindServersResponse_Encoding_DefaultBinary uint32 = 425
	GetEndpointsRequest_Encoding_DefaultBinary  uint32 = 428
	GetEndpointsResponse_Encoding_DefaultBinary uint32 = 431

	CreateSessionRequest_Encoding_DefaultBinary  uint32 = 461
	CreateSessionResponse_Encoding_DefaultBinary uint32 = 464
	ActivateSessionRequest_Encoding_DefaultBinary  uint32 = 467
	ActivateSessionResponse_Encoding_DefaultBinary uint32 = 470
	CloseSessionRequest_Encoding_DefaultBinary  uint32 = 473
	CloseSessionResponse_Encoding_DefaultBinary uint32 = 476
	CancelRequest_Encoding_DefaultBinary  uint32 = 459
	CancelResponse_Encoding_DefaultBinary uint32 = 460

	ReadRequest_Encoding_DefaultBinary  uint32 = 631
	ReadResponse_Encoding_DefaultBinary uint32 = 634
	WriteRequest_Encoding_DefaultBinary  uint32 = 673
	WriteResponse_Encoding_DefaultBinary uint32 = 676

	BrowseRequest_Encoding_DefaultBinary     uint32 = 527
	BrowseResponse_Encoding_DefaultBinary    uint32 = 530
	BrowseNextRequest_Encoding_DefaultBinary  uint32 = 533
	BrowseNextResponse_Encoding_DefaultBinary uint32 = 536
	TranslateBrowsePathsToNodeIdsRequest_Encoding_DefaultBinary  uint32 = 554
	TranslateBrowsePathsToNodeIdsResponse_Encoding_DefaultBinary uint32 = 557

	CreateSubscriptionRequest_Encoding_DefaultBinary  uint32 = 787
	CreateSubscriptionResponse_Encoding_DefaultBinary uint32 = 790
	ModifySubscriptionRequest_Encoding_DefaultBinary  uint32 = 793
	ModifySubscriptionResponse_Encoding_DefaultBinary uint32 = 796
	DeleteSubscriptionsRequest_Encoding_DefaultBinary  uint32 = 845
	DeleteSubscriptionsResponse_Encoding_DefaultBinary uint32 = 848
	TransferSubscriptionsRequest_Encoding_DefaultBinary  uint32 = 839
	TransferSubscriptionsResponse_Encoding_DefaultBinary uint32 = 842

	CreateMonitoredItemsRequest_Encoding_DefaultBinary  uint32 = 751
	CreateMonitoredItemsResponse_Encoding_DefaultBinary uint32 = 754
	ModifyMonitoredItemsRequest_Encoding_DefaultBinary  uint32 = 763
	ModifyMonitoredItemsResponse_Encoding_DefaultBinary uint32 = 766
	DeleteMonitoredItemsRequest_Encoding_DefaultBinary  uint32 = 784
	DeleteMonitoredItemsResponse_Encoding_DefaultBinary uint32 = 781
	SetMonitoringModeRequest_Encoding_DefaultBinary  uint32 = 769
	SetMonitoringModeResponse_Encoding_DefaultBinary uint32 = 772
	SetTriggeringRequest_Encoding_DefaultBinary  uint32 = 775
	SetTriggeringResponse_Encoding_DefaultBinary uint32 = 778

	PublishRequest_Encoding_DefaultBinary  uint32 = 826
	PublishResponse_Encoding_DefaultBinary uint32 = 829
	RepublishRequest_Encoding_DefaultBinary  uint32 = 832
	RepublishResponse_Encoding_DefaultBinary uint32 = 835

	ServiceFault_Encoding_DefaultBinary uint32 = 397

	AnonymousIdentityToken_Encoding_DefaultBinary  uint32 = 321
	UserNameIdentityToken_Encoding_DefaultBinary   uint32 = 324
	X509IdentityToken_Encoding_DefaultBinary       uint32 = 327
	IssuedIdentityToken_Encoding_DefaultBinary     uint32 = 938

	ReadRawModifiedDetails_Encoding_DefaultBinary uint32 = 663
	HistoryReadRequest_Encoding_DefaultBinary     uint32 = 664
	HistoryReadResponse_Encoding_DefaultBinary    uint32 = 667
	HistoryData_Encoding_DefaultBinary            uint32 = 658

	EventFilter_Encoding_DefaultBinary      uint32 = 727
	DataChangeFilter_Encoding_DefaultBinary uint32 = 722
)
