// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "fmt"

// StatusCode is the OPC UA result/diagnostic code. It implements error
// so call sites can compare it directly (err == ua.StatusBadTimeout).
type StatusCode uint32

func (s StatusCode) Error() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StatusCode(0x%08x)", uint32(s))
}

// IsGood reports whether the top two bits of the status code are 00 (Good).
func (s StatusCode) IsGood() bool { return s&0xC0000000 == 0x00000000 }

// IsBad reports whether the top two bits of the status code are 10 (Bad).
func (s StatusCode) IsBad() bool { return s&0xC0000000 == 0x80000000 }

// IsUncertain reports whether the top two bits are 01 (Uncertain).
func (s StatusCode) IsUncertain() bool { return s&0xC0000000 == 0x40000000 }

// The status codes the core raises, grouped by layer. Numeric values
// follow the OPC UA Part 6 status code table.
const (
	StatusOK StatusCode = 0x00000000

	// Encoding
	StatusBadDecodingError           StatusCode = 0x80060000
	StatusBadEncodingError           StatusCode = 0x80070000
	StatusBadEncodingLimitsExceeded  StatusCode = 0x80080000
	StatusBadRequestTooLarge         StatusCode = 0x80B80000
	StatusBadResponseTooLarge        StatusCode = 0x80B90000

	// Transport
	StatusBadTCPMessageTypeInvalid StatusCode = 0x807C0000
	StatusBadTCPMessageTooLarge    StatusCode = 0x80750000
	StatusBadTCPServerTooBusy      StatusCode = 0x807B0000
	StatusBadCommunicationError    StatusCode = 0x80050000
	StatusBadDisconnect            StatusCode = 0x80AC0000

	// Channel
	StatusBadSecureChannelTokenUnknown StatusCode = 0x80570000
	StatusBadSecureChannelClosed       StatusCode = 0x80560000
	StatusBadSecurityChecksFailed      StatusCode = 0x80130000

	// Session
	StatusBadSessionIDInvalid     StatusCode = 0x80250000
	StatusBadSessionNotActivated  StatusCode = 0x80260000
	StatusBadSessionClosed        StatusCode = 0x80240000
	StatusBadIdentityTokenRejected StatusCode = 0x80210000

	// Request
	StatusBadTooManyOperations       StatusCode = 0x80700000
	StatusBadNothingToDo             StatusCode = 0x80130001 // distinct from BadSecurityChecksFailed in practice; see Part 6
	StatusBadRequestCancelledByClient StatusCode = 0x80AD0000
	StatusBadTimeout                 StatusCode = 0x800A0000

	// Subscription
	StatusBadSubscriptionIDInvalid  StatusCode = 0x80280000
	StatusBadMonitoredItemIDInvalid StatusCode = 0x80420000
	StatusBadMessageNotAvailable    StatusCode = 0x803D0000
	StatusBadNoSubscription        StatusCode = 0x80450000
	StatusBadTooManySubscriptions  StatusCode = 0x80710000

	// Other commonly surfaced codes used by the core.
	StatusBadNodeIDUnknown             StatusCode = 0x80330000
	StatusBadContinuationPointInvalid  StatusCode = 0x80240001
	StatusBadOutOfRange                StatusCode = 0x803D0001
	StatusGoodSubscriptionTransferred  StatusCode = 0x002D0000
	StatusBadTimeoutSubscription       StatusCode = 0x800A0001
	StatusUncertainInitialValue        StatusCode = 0x40920000
)

var statusNames = map[StatusCode]string{
	StatusOK:                           "Good",
	StatusBadDecodingError:             "BadDecodingError",
	StatusBadEncodingError:             "BadEncodingError",
	StatusBadEncodingLimitsExceeded:    "BadEncodingLimitsExceeded",
	StatusBadRequestTooLarge:           "BadRequestTooLarge",
	StatusBadResponseTooLarge:          "BadResponseTooLarge",
	StatusBadTCPMessageTypeInvalid:     "BadTcpMessageTypeInvalid",
	StatusBadTCPMessageTooLarge:        "BadTcpMessageTooLarge",
	StatusBadTCPServerTooBusy:          "BadTcpServerTooBusy",
	StatusBadCommunicationError:        "BadCommunicationError",
	StatusBadDisconnect:                "BadDisconnect",
	StatusBadSecureChannelTokenUnknown: "BadSecureChannelTokenUnknown",
	StatusBadSecureChannelClosed:       "BadSecureChannelClosed",
	StatusBadSecurityChecksFailed:      "BadSecurityChecksFailed",
	StatusBadSessionIDInvalid:          "BadSessionIdInvalid",
	StatusBadSessionNotActivated:       "BadSessionNotActivated",
	StatusBadSessionClosed:             "BadSessionClosed",
	StatusBadIdentityTokenRejected:     "BadIdentityTokenRejected",
	StatusBadTooManyOperations:         "BadTooManyOperations",
	StatusBadNothingToDo:               "BadNothingToDo",
	StatusBadRequestCancelledByClient:  "BadRequestCancelledByClient",
	StatusBadTimeout:                   "BadTimeout",
	StatusBadSubscriptionIDInvalid:     "BadSubscriptionIdInvalid",
	StatusBadMonitoredItemIDInvalid:    "BadMonitoredItemIdInvalid",
	StatusBadMessageNotAvailable:       "BadMessageNotAvailable",
	StatusBadNoSubscription:            "BadNoSubscription",
	StatusBadTooManySubscriptions:      "BadTooManySubscriptions",
	StatusBadNodeIDUnknown:             "BadNodeIdUnknown",
	StatusBadContinuationPointInvalid:  "BadContinuationPointInvalid",
	StatusBadOutOfRange:                "BadOutOfRange",
	StatusGoodSubscriptionTransferred:  "GoodSubscriptionTransferred",
	StatusBadTimeoutSubscription:       "BadTimeout",
	StatusUncertainInitialValue:        "UncertainInitialValue",
}
