// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/indienet-foundation/indienet/identity"
	"github.com/indienet-foundation/indienet/lib/testutil"
	"github.com/indienet-foundation/indienet/nostr"
	"github.com/indienet-foundation/indienet/relay"
)

// echoRelay is a minimal in-process relay: it accepts REQ and CLOSE,
// acknowledges EVENT frames with OK, and forwards every published
// event to every open subscription without filtering. Clients are
// expected to re-check filters locally, so the sloppy forwarding is
// deliberate.
type echoRelay struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu            sync.Mutex
	subscriptions map[*websocket.Conn]map[string]bool
	closed        bool
}

func newEchoRelay(t *testing.T) *echoRelay {
	t.Helper()
	server := &echoRelay{
		t:             t,
		subscriptions: make(map[*websocket.Conn]map[string]bool),
	}
	server.server = httptest.NewServer(http.HandlerFunc(server.serve))
	t.Cleanup(server.close)
	return server
}

func (r *echoRelay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *echoRelay) serve(w http.ResponseWriter, req *http.Request) {
	client, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		client.Close()
		return
	}
	r.subscriptions[client] = make(map[string]bool)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.subscriptions, client)
		r.mu.Unlock()
		client.Close()
	}()

	for {
		_, data, err := client.ReadMessage()
		if err != nil {
			return
		}
		r.handleFrame(client, data)
	}
}

func (r *echoRelay) handleFrame(client *websocket.Conn, data []byte) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) < 2 {
		return
	}
	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch label {
	case nostr.LabelReq:
		var subscriptionID string
		if err := json.Unmarshal(parts[1], &subscriptionID); err != nil {
			return
		}
		r.subscriptions[client][subscriptionID] = true

	case nostr.LabelClose:
		var subscriptionID string
		if err := json.Unmarshal(parts[1], &subscriptionID); err != nil {
			return
		}
		delete(r.subscriptions[client], subscriptionID)

	case nostr.LabelEvent:
		var event nostr.Event
		if err := json.Unmarshal(parts[1], &event); err != nil {
			return
		}
		verdict, _ := json.Marshal([]any{nostr.LabelOK, event.ID, true, ""})
		client.WriteMessage(websocket.TextMessage, verdict)

		for subscriber, subscriptionIDs := range r.subscriptions {
			for subscriptionID := range subscriptionIDs {
				envelope, err := json.Marshal([]any{nostr.LabelEvent, subscriptionID, &event})
				if err != nil {
					continue
				}
				subscriber.WriteMessage(websocket.TextMessage, envelope)
			}
		}
	}
}

// subscriptionCount is the total number of open subscriptions across
// all clients.
func (r *echoRelay) subscriptionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, subscriptionIDs := range r.subscriptions {
		count += len(subscriptionIDs)
	}
	return count
}

// waitForSubscriptions blocks until the relay holds at least n open
// subscriptions.
func (r *echoRelay) waitForSubscriptions(n int) {
	r.t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if r.subscriptionCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.t.Fatalf("timed out waiting for %d subscriptions (have %d)", n, r.subscriptionCount())
}

func (r *echoRelay) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	clients := make([]*websocket.Conn, 0, len(r.subscriptions))
	for client := range r.subscriptions {
		clients = append(clients, client)
	}
	r.subscriptions = make(map[*websocket.Conn]map[string]bool)
	r.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
	r.server.Close()
}

// agent is one complete participant: identity, pool, bridge, and
// fake collaborators.
type agent struct {
	self     *identity.Identity
	pool     *relay.Pool
	bridge   *Bridge
	runtime  *fakeRuntime
	notifier *fakeNotifier
}

func startAgent(t *testing.T, relays []*echoRelay) *agent {
	t.Helper()
	participant := &agent{
		self:     newSigner(t),
		runtime:  newFakeRuntime(),
		notifier: newFakeNotifier(),
	}

	pool, err := relay.NewPool(relay.PoolOptions{
		Logger: testLogger(),
		Connection: relay.ConnectionOptions{
			DialTimeout:    time.Second,
			BackoffInitial: 5 * time.Millisecond,
			BackoffMax:     20 * time.Millisecond,
			SendQueueSize:  32,
			DegradedAfter:  5,
		},
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	participant.pool = pool

	for _, server := range relays {
		if err := pool.AddRelay(server.url()); err != nil {
			t.Fatalf("AddRelay: %v", err)
		}
	}

	participant.bridge = &Bridge{
		Identity:     participant.self,
		Pool:         pool,
		Runtime:      participant.runtime,
		Notifier:     participant.notifier,
		DiscoveryTag: "IndieNet",
		Logger:       testLogger(),
	}
	if err := participant.bridge.Start(); err != nil {
		t.Fatalf("bridge Start: %v", err)
	}
	t.Cleanup(participant.bridge.Stop)
	return participant
}

// A public tagged note published through two relays reaches another
// agent exactly once, despite both relays echoing it.
func TestEndToEndPublicNoteAcrossTwoRelays(t *testing.T) {
	relays := []*echoRelay{newEchoRelay(t), newEchoRelay(t)}

	author := startAgent(t, relays)
	observer := startAgent(t, relays)

	// Each agent opens two subscriptions per relay. Wait for all four
	// before publishing; the echo relay keeps no backlog.
	for _, server := range relays {
		server.waitForSubscriptions(4)
	}

	body := testutil.UniqueID("note")
	published, err := author.bridge.PublishPost(body, nil)
	if err != nil {
		t.Fatalf("PublishPost: %v", err)
	}

	observed := testutil.RequireReceive(t, observer.notifier.posts, testTimeout,
		"waiting for the observer to see the note")
	if observed.ID != published.ID || observed.Content != body {
		t.Fatalf("observed %+v", observed)
	}
	testutil.RequireNoReceive(t, observer.notifier.posts, quietWindow,
		"note delivered more than once across relays")

	// The author does not see its own note.
	testutil.RequireNoReceive(t, author.notifier.posts, quietWindow,
		"author observed its own note")
}

// A direct message from one agent reaches its recipient decrypted,
// while a bystander subscribed to the same relays gets nothing.
func TestEndToEndDirectMessageWithBystander(t *testing.T) {
	relays := []*echoRelay{newEchoRelay(t), newEchoRelay(t)}

	sender := startAgent(t, relays)
	recipient := startAgent(t, relays)
	bystander := startAgent(t, relays)

	for _, server := range relays {
		server.waitForSubscriptions(6)
	}

	body := testutil.UniqueID("rendezvous")
	sent, err := sender.bridge.SendReply(recipient.self.PublicKey(), body)
	if err != nil {
		t.Fatalf("SendReply: %v", err)
	}

	message := testutil.RequireReceive(t, recipient.runtime.delivered, testTimeout,
		"waiting for the recipient's delivery")
	if message.Kind != MessageDirect {
		t.Fatalf("message kind %q, want direct", message.Kind)
	}
	if message.Text != body {
		t.Fatalf("decrypted text %q, want %q", message.Text, body)
	}
	if message.Sender != sender.self.PublicKey() {
		t.Fatalf("sender %s", message.Sender)
	}
	if message.SourceEventID != sent.ID {
		t.Fatalf("source event %s, want %s", message.SourceEventID, sent.ID)
	}

	// Exactly once despite two relays.
	testutil.RequireNoReceive(t, recipient.runtime.delivered, quietWindow,
		"DM delivered more than once")

	// The bystander's direct-message filter is keyed to its own
	// public key, and it could not decrypt the payload anyway.
	testutil.RequireNoReceive(t, bystander.runtime.delivered, quietWindow,
		"bystander received someone else's DM")
}
