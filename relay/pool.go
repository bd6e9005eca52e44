// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/indienet-foundation/indienet/lib/clock"
	"github.com/indienet-foundation/indienet/nostr"
)

// PublishStatus is one relay's verdict on a published event,
// surfaced through the optional status callback. Rejections are
// diagnostic: publish is best-effort across relays and no verdict is
// required for success.
type PublishStatus struct {
	Relay    string
	EventID  string
	Accepted bool
	Message  string
}

// PoolOptions configures a Pool. Zero-value fields take working
// defaults.
type PoolOptions struct {
	// Logger receives connection and dispatch diagnostics. Defaults
	// to slog.Default().
	Logger *slog.Logger

	// Clock drives reconnect backoff. Defaults to the real clock;
	// tests inject a fake.
	Clock clock.Clock

	// Connection tunes each relay connection.
	Connection ConnectionOptions

	// DedupCacheSize bounds the recently-seen event cache. Default
	// 4096.
	DedupCacheSize int

	// DispatchQueueSize bounds the queue between connection read
	// loops and the dispatch goroutine. Default 256.
	DispatchQueueSize int

	// PublishStatus, when set, receives per-relay OK verdicts. Called
	// from the dispatch goroutine; must not block.
	PublishStatus func(PublishStatus)
}

// Pool fans publishes out to every configured relay and fans inbound
// events in through one verifying, deduplicating dispatch goroutine.
type Pool struct {
	logger         *slog.Logger
	clock          clock.Clock
	connectionOpts ConnectionOptions
	publishStatus  func(PublishStatus)

	router *Router

	// dispatch carries raw frames from every connection's read loop
	// to the dispatch goroutine.
	dispatch chan inboundFrame

	// seen holds "subscription/event" keys already delivered. Keyed
	// per subscription so one event matching two subscriptions
	// reaches both consumers while cross-relay echoes collapse.
	seen *lru.Cache[string, struct{}]

	closedCh     chan struct{}
	dispatchDone chan struct{}

	mu                  sync.Mutex
	closed              bool
	connections         map[string]*Connection
	subscriptionFilters map[string]nostr.Filter
	nextSubscription    int
}

// NewPool creates a pool with no relays and starts its dispatch
// goroutine. Add relays with AddRelay.
func NewPool(options PoolOptions) (*Pool, error) {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	options.Connection = options.Connection.withDefaults()
	if options.DedupCacheSize == 0 {
		options.DedupCacheSize = 4096
	}
	if options.DispatchQueueSize == 0 {
		options.DispatchQueueSize = 256
	}

	seen, err := lru.New[string, struct{}](options.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("relay: creating dedup cache: %w", err)
	}

	p := &Pool{
		logger:              options.Logger,
		clock:               options.Clock,
		connectionOpts:      options.Connection,
		publishStatus:       options.PublishStatus,
		router:              NewRouter(options.Logger),
		dispatch:            make(chan inboundFrame, options.DispatchQueueSize),
		seen:                seen,
		closedCh:            make(chan struct{}),
		dispatchDone:        make(chan struct{}),
		connections:         make(map[string]*Connection),
		subscriptionFilters: make(map[string]nostr.Filter),
	}
	go p.dispatchLoop()
	return p, nil
}

// AddRelay starts maintaining a connection to the given websocket
// URL. Connecting begins immediately; failures are retried forever in
// the background. Adding a URL twice is an error.
func (p *Pool) AddRelay(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if _, exists := p.connections[url]; exists {
		return fmt.Errorf("relay: %s already added", url)
	}
	p.connections[url] = newConnection(url, p.dispatch, p.replayFrames,
		p.logger, p.clock, p.connectionOpts)
	return nil
}

// RemoveRelay closes and forgets the connection to the given URL.
func (p *Pool) RemoveRelay(url string) error {
	p.mu.Lock()
	connection, exists := p.connections[url]
	if exists {
		delete(p.connections, url)
	}
	p.mu.Unlock()

	if !exists {
		return fmt.Errorf("relay: %s not in pool", url)
	}
	return connection.Close()
}

// Publish hands a signed event to every relay, fire and forget. It
// never blocks on network latency: frames are queued per connection
// and flow as each relay allows. Per-relay verdicts arrive later as
// OK frames, logged and surfaced through the status callback.
func (p *Pool) Publish(event *nostr.Event) error {
	frame, err := nostr.EventFrame(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	targets := p.snapshotConnections()
	p.mu.Unlock()

	for _, connection := range targets {
		if err := connection.Send(frame); err != nil {
			p.logger.Debug("publish skipped closed connection", "event", nostr.ShortID(event.ID))
		}
	}
	p.logger.Debug("published event",
		"event", nostr.ShortID(event.ID), "kind", event.Kind, "relays", len(targets))
	return nil
}

// Subscribe registers a consumer for events matching the filter, on
// every current and future relay. The returned cancel function is
// idempotent and safe to call from any goroutine.
func (p *Pool) Subscribe(filter nostr.Filter, consumer Consumer) (cancel func(), err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.nextSubscription++
	subscriptionID := fmt.Sprintf("sub-%d", p.nextSubscription)
	p.subscriptionFilters[subscriptionID] = filter
	p.router.Add(subscriptionID, filter, consumer)
	targets := p.snapshotConnections()
	p.mu.Unlock()

	frame, err := nostr.ReqFrame(subscriptionID, filter)
	if err != nil {
		p.removeSubscription(subscriptionID)
		return nil, err
	}
	for _, connection := range targets {
		connection.Send(frame)
	}
	p.logger.Debug("subscribed", "subscription", subscriptionID)

	var once sync.Once
	return func() {
		once.Do(func() { p.cancelSubscription(subscriptionID) })
	}, nil
}

func (p *Pool) cancelSubscription(subscriptionID string) {
	targets := p.removeSubscription(subscriptionID)

	frame, err := nostr.CloseFrame(subscriptionID)
	if err != nil {
		return
	}
	for _, connection := range targets {
		connection.Send(frame)
	}
	p.logger.Debug("unsubscribed", "subscription", subscriptionID)
}

func (p *Pool) removeSubscription(subscriptionID string) []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscriptionFilters, subscriptionID)
	p.router.Remove(subscriptionID)
	if p.closed {
		return nil
	}
	return p.snapshotConnections()
}

// Health returns a snapshot of every relay connection, ordered by
// URL.
func (p *Pool) Health() []Health {
	p.mu.Lock()
	targets := p.snapshotConnections()
	p.mu.Unlock()

	healths := make([]Health, 0, len(targets))
	for _, connection := range targets {
		healths = append(healths, connection.Health())
	}
	sort.Slice(healths, func(i, j int) bool { return healths[i].URL < healths[j].URL })
	return healths
}

// Close shuts down every connection and the dispatch goroutine.
// Idempotent; subsequent operations return ErrClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	targets := p.snapshotConnections()
	p.connections = make(map[string]*Connection)
	p.mu.Unlock()

	for _, connection := range targets {
		connection.Close()
	}
	close(p.closedCh)
	<-p.dispatchDone
	return nil
}

// replayFrames builds the REQ frames for every active subscription.
// Connections call it after each successful dial.
func (p *Pool) replayFrames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	frames := make([][]byte, 0, len(p.subscriptionFilters))
	for subscriptionID, filter := range p.subscriptionFilters {
		frame, err := nostr.ReqFrame(subscriptionID, filter)
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}

// snapshotConnections returns the current connection set. Caller
// holds p.mu.
func (p *Pool) snapshotConnections() []*Connection {
	targets := make([]*Connection, 0, len(p.connections))
	for _, connection := range p.connections {
		targets = append(targets, connection)
	}
	return targets
}

// dispatchLoop is the single goroutine that owns the dedup cache and
// feeds the router. One owner means one arrival order for consumers
// and no locking around the cache.
func (p *Pool) dispatchLoop() {
	defer close(p.dispatchDone)
	for {
		select {
		case frame := <-p.dispatch:
			p.handleFrame(frame)
		case <-p.closedCh:
			return
		}
	}
}

func (p *Pool) handleFrame(frame inboundFrame) {
	parsed, err := nostr.ParseRelayMessage(frame.data)
	if err != nil {
		p.logger.Debug("discarding malformed frame", "relay", frame.relay, "error", err)
		return
	}

	switch envelope := parsed.(type) {
	case *nostr.EventEnvelope:
		p.handleEvent(frame.relay, envelope)

	case *nostr.OKEnvelope:
		if envelope.Accepted {
			p.logger.Debug("event accepted",
				"relay", frame.relay, "event", nostr.ShortID(envelope.EventID))
		} else {
			p.logger.Warn("event rejected",
				"relay", frame.relay, "event", nostr.ShortID(envelope.EventID),
				"reason", envelope.Message)
		}
		if p.publishStatus != nil {
			p.publishStatus(PublishStatus{
				Relay:    frame.relay,
				EventID:  envelope.EventID,
				Accepted: envelope.Accepted,
				Message:  envelope.Message,
			})
		}

	case *nostr.EOSEEnvelope:
		p.logger.Debug("end of stored events",
			"relay", frame.relay, "subscription", envelope.SubscriptionID)

	case *nostr.NoticeEnvelope:
		p.logger.Info("relay notice", "relay", frame.relay, "message", envelope.Message)
	}
}

func (p *Pool) handleEvent(relayURL string, envelope *nostr.EventEnvelope) {
	event := &envelope.Event

	dedupKey := envelope.SubscriptionID + "/" + event.ID
	if _, duplicate := p.seen.Get(dedupKey); duplicate {
		p.logger.Debug("suppressing duplicate event",
			"relay", relayURL, "event", nostr.ShortID(event.ID))
		return
	}

	// Verify before marking seen: a relay sending a corrupt copy must
	// not suppress a valid copy from another relay.
	if !event.Verify() {
		p.logger.Debug("dropping event with invalid signature",
			"relay", relayURL, "event", nostr.ShortID(event.ID))
		return
	}

	p.seen.Add(dedupKey, struct{}{})
	p.router.Dispatch(envelope.SubscriptionID, event)
}
