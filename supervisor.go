// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/opcua-core/opcua/internal/telemetry"
	"github.com/opcua-core/opcua/ua"
)

// SupervisorState is the connection lifecycle the supervisor drives:
// Disconnected -> Connecting -> Connected -> Disconnected.
type SupervisorState int32

const (
	StateDisconnected SupervisorState = iota
	StateConnecting
	StateConnected
)

// EventKind identifies an asynchronous supervisor event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventSessionRecreated
	EventSubscriptionRecreated
	EventKeepAliveFailed
)

// Event is delivered on the supervisor's event channel.
type Event struct {
	Kind EventKind
	Err  error
	// SubscriptionID is set for EventSubscriptionRecreated.
	SubscriptionID uint32
}

// serverStatusStateNode is Server_ServerStatus_State, the variable the
// keep-alive probe reads.
var serverStatusStateNode = ua.NewNumericNodeID(0, 2259)

// SupervisorConfig tunes reconnect, keep-alive and publish pacing.
type SupervisorConfig struct {
	// InitialReconnectDelay seeds the exponential backoff; each failed
	// attempt doubles it up to MaxReconnectDelay, with jitter.
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	// MaxReconnectAttempts stops the supervisor after this many
	// consecutive failures; 0 retries forever.
	MaxReconnectAttempts int

	KeepAliveInterval time.Duration
	// MaxFailedKeepAliveCount disconnects after this many consecutive
	// keep-alive probe failures.
	MaxFailedKeepAliveCount int

	// RecreateSubscriptions replays the cached subscriptions and their
	// monitored items after a reconnect.
	RecreateSubscriptions bool
	// RecreateMonitoredItemsChunk bounds the CreateMonitoredItems batch
	// size during subscription recreation.
	RecreateMonitoredItemsChunk int

	// MinPublishInterval anchors the adaptive publish-request pool: the
	// supervisor keeps between 2*|subscriptions| and
	// ceil(rtt/MinPublishInterval)*2*|subscriptions| workers issuing
	// Publish requests.
	MinPublishInterval time.Duration
}

// DefaultSupervisorConfig returns the reconnect/keep-alive defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		InitialReconnectDelay:       500 * time.Millisecond,
		MaxReconnectDelay:           30 * time.Second,
		KeepAliveInterval:           5 * time.Second,
		MaxFailedKeepAliveCount:     2,
		RecreateSubscriptions:       true,
		RecreateMonitoredItemsChunk: 100,
		MinPublishInterval:          100 * time.Millisecond,
	}
}

// cachedSubscription is the client-held record used to recreate a
// subscription after reconnect.
type cachedSubscription struct {
	params SubscriptionParameters
	items  []*ua.MonitoredItemCreateRequest
	// lastID is the server-assigned id of the live incarnation.
	lastID uint32
}

// Supervisor owns one Client connection end to end: it establishes the
// secure channel and session, probes liveness, reconnects with backoff
// and recreates cached subscriptions.
type Supervisor struct {
	endpoint string
	opts     []Option
	cfg      SupervisorConfig

	state  atomic.Int32
	events chan Event

	mu      sync.Mutex
	client  *Client
	cache   []*cachedSubscription
	lastRTT time.Duration

	limiter *rate.Limiter

	pubMu    sync.Mutex
	pubStops []chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSupervisor builds a Supervisor for endpoint; opts are applied to
// every (re)connection's Client.
func NewSupervisor(endpoint string, cfg SupervisorConfig, opts ...Option) *Supervisor {
	return &Supervisor{
		endpoint: endpoint,
		opts:     opts,
		cfg:      cfg,
		events:   make(chan Event, 16),
		limiter:  rate.NewLimiter(rate.Every(cfg.MinPublishInterval), 1),
		stop:     make(chan struct{}),
	}
}

// Events returns the asynchronous event stream.
func (s *Supervisor) Events() <-chan Event { return s.events }

// State returns the current lifecycle state.
func (s *Supervisor) State() SupervisorState {
	return SupervisorState(s.state.Load())
}

// Client returns the currently connected client, nil while disconnected.
func (s *Supervisor) Client() *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateConnected {
		return nil
	}
	return s.client
}

// Subscribe records params/items in the supervisor's cache and, when
// connected, creates the subscription immediately. Cached entries are
// replayed after every reconnect when RecreateSubscriptions is set.
func (s *Supervisor) Subscribe(params SubscriptionParameters, items ...*ua.MonitoredItemCreateRequest) error {
	cs := &cachedSubscription{params: params, items: items}
	s.mu.Lock()
	s.cache = append(s.cache, cs)
	c := s.client
	connected := s.State() == StateConnected
	s.mu.Unlock()
	if !connected {
		return nil
	}
	return s.createSubscription(c, cs)
}

// Run drives the state machine until ctx is cancelled or Close is called.
func (s *Supervisor) Run(ctx context.Context) error {
	log := telemetry.Logger("supervisor")
	attempt := 0
	everConnected := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		default:
		}

		s.state.Store(int32(StateConnecting))
		c := NewClient(s.endpoint, s.opts...)
		err := c.Connect()
		if err != nil {
			s.state.Store(int32(StateDisconnected))
			attempt++
			if s.cfg.MaxReconnectAttempts > 0 && attempt >= s.cfg.MaxReconnectAttempts {
				s.emit(Event{Kind: EventDisconnected, Err: err})
				return err
			}
			delay := s.backoff(attempt)
			log.Warn().Err(err).Dur("retry_in", delay).Msg("connect failed")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			case <-s.stop:
				return nil
			}
			continue
		}
		attempt = 0

		s.mu.Lock()
		s.client = c
		s.mu.Unlock()
		s.state.Store(int32(StateConnected))
		s.emit(Event{Kind: EventConnected})
		if everConnected {
			// Sessions are not resumable across a dropped channel here, so
			// every reconnect surfaces as a fresh session.
			s.emit(Event{Kind: EventSessionRecreated})
		}
		everConnected = true
		log.Info().Str("endpoint", s.endpoint).Msg("connected")

		if s.cfg.RecreateSubscriptions {
			s.recreateSubscriptions(c)
		}
		s.adjustPublishWorkers(ctx, c)

		err = s.keepAliveLoop(ctx, c)

		s.stopPublishWorkers()
		s.state.Store(int32(StateDisconnected))
		s.emit(Event{Kind: EventDisconnected, Err: err})
		_ = c.Close()
		s.mu.Lock()
		s.client = nil
		s.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-s.stop:
			return nil
		default:
		}
		log.Warn().Err(err).Msg("connection lost, reconnecting")
	}
}

// Close stops the supervisor and the active connection.
func (s *Supervisor) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// backoff computes the next reconnect delay: exponential with jitter,
// capped at MaxReconnectDelay.
func (s *Supervisor) backoff(attempt int) time.Duration {
	d := float64(s.cfg.InitialReconnectDelay) * math.Pow(2, float64(attempt-1))
	if max := float64(s.cfg.MaxReconnectDelay); d > max {
		d = max
	}
	// Jitter in [0.5, 1.0) of the computed delay.
	return time.Duration(d * (0.5 + rand.Float64()/2))
}

// keepAliveLoop reads Server_ServerStatus_State on an interval, feeding
// the measured round-trip into the adaptive publish pool. It returns the
// terminal error once MaxFailedKeepAliveCount consecutive probes fail.
func (s *Supervisor) keepAliveLoop(ctx context.Context, c *Client) error {
	t := time.NewTicker(s.cfg.KeepAliveInterval)
	defer t.Stop()
	failed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case <-t.C:
		}

		start := time.Now()
		res, err := c.Read(&ua.ReadRequest{
			NodesToRead: []*ua.ReadValueID{{NodeID: serverStatusStateNode, AttributeID: ua.AttributeIDValue}},
		})
		if err != nil || res == nil || res.ResponseHeader.ServiceResult != ua.StatusOK {
			failed++
			s.emit(Event{Kind: EventKeepAliveFailed, Err: err})
			if failed >= s.cfg.MaxFailedKeepAliveCount {
				if err == nil {
					err = ua.StatusBadCommunicationError
				}
				return err
			}
			continue
		}
		failed = 0
		rtt := time.Since(start)
		s.mu.Lock()
		s.lastRTT = rtt
		s.mu.Unlock()
		s.adjustPublishWorkers(ctx, c)
	}
}

// publishTarget computes the concurrent Publish request pool size: at
// least 2 per subscription, growing with the measured round-trip so a
// slow link always has enough requests queued server-side to keep
// notifications flowing.
func (s *Supervisor) publishTarget() int {
	s.mu.Lock()
	subs := len(s.cache)
	rtt := s.lastRTT
	s.mu.Unlock()
	if subs == 0 {
		return 0
	}
	lo := 2 * subs
	factor := 1
	if rtt > 0 && s.cfg.MinPublishInterval > 0 {
		factor = int(math.Ceil(float64(rtt) / float64(s.cfg.MinPublishInterval)))
		if factor < 1 {
			factor = 1
		}
	}
	hi := factor * lo
	target := lo
	if hi > target {
		target = hi
	}
	return target
}

// adjustPublishWorkers grows or shrinks the publish pump pool toward the
// current target. Each worker paces its sends through the shared rate
// limiter so a large pool doesn't flood the server.
func (s *Supervisor) adjustPublishWorkers(ctx context.Context, c *Client) {
	target := s.publishTarget()
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	for len(s.pubStops) < target {
		stop := make(chan struct{})
		s.pubStops = append(s.pubStops, stop)
		go s.publishWorker(ctx, c, stop)
	}
	for len(s.pubStops) > target {
		last := s.pubStops[len(s.pubStops)-1]
		s.pubStops = s.pubStops[:len(s.pubStops)-1]
		close(last)
	}
}

func (s *Supervisor) stopPublishWorkers() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	for _, stop := range s.pubStops {
		close(stop)
	}
	s.pubStops = nil
}

// publishWorker issues Publish requests, acknowledging delivered
// sequence numbers and fanning responses out to the client's
// subscription channels.
func (s *Supervisor) publishWorker(ctx context.Context, c *Client, stop chan struct{}) {
	var acks []*ua.SubscriptionAcknowledgement
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-s.stop:
			return
		default:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		res, err := c.Publish(acks)
		if err != nil {
			if err == ua.StatusBadTimeout || err == ua.StatusBadNoSubscription {
				continue
			}
			return
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

// recreateSubscriptions replays the cache after a reconnect, recreating
// each subscription and its monitored items in chunked batches.
func (s *Supervisor) recreateSubscriptions(c *Client) {
	s.mu.Lock()
	cache := append([]*cachedSubscription(nil), s.cache...)
	s.mu.Unlock()
	for _, cs := range cache {
		if err := s.createSubscription(c, cs); err != nil {
			s.emit(Event{Kind: EventSubscriptionRecreated, Err: err})
			continue
		}
		s.emit(Event{Kind: EventSubscriptionRecreated, SubscriptionID: cs.lastID})
	}
}

func (s *Supervisor) createSubscription(c *Client, cs *cachedSubscription) error {
	sub, err := c.Subscribe(cs.params)
	if err != nil {
		return err
	}
	cs.lastID = sub.SubscriptionID

	chunk := s.cfg.RecreateMonitoredItemsChunk
	if chunk <= 0 {
		chunk = len(cs.items)
	}
	for start := 0; start < len(cs.items); start += chunk {
		end := start + chunk
		if end > len(cs.items) {
			end = len(cs.items)
		}
		if _, err := c.CreateMonitoredItems(sub.SubscriptionID, ua.TimestampsToReturnBoth, cs.items[start:end]...); err != nil {
			return err
		}
	}
	return nil
}
