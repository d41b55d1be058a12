// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package telemetry holds the process-wide structured logger and the
// Prometheus collectors the long-lived components report into. Collectors
// are registered once at package init on the default registry so a host
// process only has to mount promhttp.Handler to expose them.
package telemetry

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Logger returns a component-tagged logger. Every long-lived component
// (channel, session manager, dispatcher, subscription engine, client
// supervisor) gets its own via Logger("uasc"), Logger("server/subscription")
// and so on.
func Logger(component string) zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Str("component", component).Logger()
}

var (
	// ChunksSent / ChunksReceived count secure channel chunks in either
	// direction across all channels in the process.
	ChunksSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "opcua",
		Subsystem: "channel",
		Name:      "chunks_sent_total",
		Help:      "Secure channel chunks written to the transport.",
	})
	ChunksReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "opcua",
		Subsystem: "channel",
		Name:      "chunks_received_total",
		Help:      "Secure channel chunks read from the transport.",
	})
	ChannelRenewals = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "opcua",
		Subsystem: "channel",
		Name:      "renewals_total",
		Help:      "Completed secure channel token renewals.",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "opcua",
		Subsystem: "session",
		Name:      "active",
		Help:      "Sessions currently in the Activated state.",
	})

	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "opcua",
		Subsystem: "subscription",
		Name:      "active",
		Help:      "Subscriptions currently open.",
	})
	MonitoredItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "opcua",
		Subsystem: "subscription",
		Name:      "monitored_items",
		Help:      "Monitored items across all subscriptions.",
	})
	PublishQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "opcua",
		Subsystem: "subscription",
		Name:      "publish_queue_depth",
		Help:      "Publish requests queued and not yet paired with a notification.",
	})
	NotificationsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "opcua",
		Subsystem: "subscription",
		Name:      "notifications_sent_total",
		Help:      "NotificationMessages handed to publish responses.",
	})
	NotificationsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "opcua",
		Subsystem: "subscription",
		Name:      "notifications_dropped_total",
		Help:      "Unacknowledged notifications evicted from retransmission queues.",
	})

	RequestsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opcua",
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Requests routed, labelled by service.",
	}, []string{"service"})
)

func init() {
	prometheus.MustRegister(
		ChunksSent, ChunksReceived, ChannelRenewals,
		ActiveSessions,
		ActiveSubscriptions, MonitoredItems, PublishQueueDepth,
		NotificationsSent, NotificationsDropped,
		RequestsDispatched,
	)
}
