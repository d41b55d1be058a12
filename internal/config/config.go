// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package config loads the process configuration from the environment.
// Every knob maps to one of the tunables the transport, session and
// subscription layers expose; defaults match the in-code defaults so an
// empty environment yields a working server.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full set of environment-driven settings.
type Config struct {
	// Transport limits negotiated during Hello/Acknowledge.
	MaxMessageSize uint32 `env:"OPCUA_MAX_MESSAGE_SIZE" envDefault:"4194304"`
	MaxChunkCount  uint32 `env:"OPCUA_MAX_CHUNK_COUNT" envDefault:"512"`
	// MaxPendingOutgoing bounds the per-connection outbound frame queue;
	// overflowing it drops the connection instead of buffering without
	// limit.
	MaxPendingOutgoing int `env:"OPCUA_MAX_PENDING_OUTGOING" envDefault:"64"`

	// Secure channel.
	ChannelLifetime time.Duration `env:"OPCUA_CHANNEL_LIFETIME" envDefault:"1h"`
	RequestTimeout  time.Duration `env:"OPCUA_REQUEST_TIMEOUT" envDefault:"5s"`

	// Sessions.
	SessionTimeout       time.Duration `env:"OPCUA_SESSION_TIMEOUT" envDefault:"1m"`
	SessionSweepInterval time.Duration `env:"OPCUA_SESSION_SWEEP_INTERVAL" envDefault:"5s"`

	// Dispatcher operation limits.
	MaxNodesPerRead      uint32 `env:"OPCUA_MAX_NODES_PER_READ" envDefault:"2500"`
	MaxNodesPerWrite     uint32 `env:"OPCUA_MAX_NODES_PER_WRITE" envDefault:"2500"`
	MaxNodesPerBrowse    uint32 `env:"OPCUA_MAX_NODES_PER_BROWSE" envDefault:"1000"`
	MaxNodesPerRegister  uint32 `env:"OPCUA_MAX_NODES_PER_REGISTER" envDefault:"1000"`
	MaxNodesPerTranslate uint32 `env:"OPCUA_MAX_NODES_PER_TRANSLATE" envDefault:"1000"`

	// Subscription engine defaults.
	MinPublishingInterval  time.Duration `env:"OPCUA_MIN_PUBLISHING_INTERVAL" envDefault:"50ms"`
	MaxSubscriptions       int           `env:"OPCUA_MAX_SUBSCRIPTIONS" envDefault:"100"`
	RetransmissionQueueLen int           `env:"OPCUA_RETRANSMISSION_QUEUE_LEN" envDefault:"32"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
