// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gorilla/websocket"

	"github.com/indienet-foundation/indienet/nostr"
)

const testTimeout = 5 * time.Second

// quietWindow is how long "nothing arrives" assertions wait. Long
// enough for an in-process round trip, short enough to keep the
// suite fast.
const quietWindow = 200 * time.Millisecond

// fakeRelay is an in-process websocket server standing in for a
// relay. It records every frame clients send and can push frames to
// all connected clients.
type fakeRelay struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	// frames receives every client frame in arrival order.
	frames chan []byte

	mu      sync.Mutex
	clients []*websocket.Conn
	closed  bool
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	relay := &fakeRelay{
		t:      t,
		frames: make(chan []byte, 64),
	}
	relay.server = httptest.NewServer(http.HandlerFunc(relay.serve))
	t.Cleanup(relay.close)
	return relay
}

func (r *fakeRelay) serve(w http.ResponseWriter, req *http.Request) {
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
	r.clients = append(r.clients, client)
	r.mu.Unlock()

	for {
		_, data, err := client.ReadMessage()
		if err != nil {
			return
		}
		select {
		case r.frames <- data:
		default:
			r.t.Error("fake relay frame buffer overflow")
		}
	}
}

// url returns the ws:// address clients dial.
func (r *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

// broadcast pushes one frame to every connected client.
func (r *fakeRelay) broadcast(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, client := range r.clients {
		client.WriteMessage(websocket.TextMessage, frame)
	}
}

// dropClients severs every client connection without stopping the
// server, forcing clients into their reconnect path.
func (r *fakeRelay) dropClients() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, client := range r.clients {
		client.Close()
	}
	r.clients = nil
}

func (r *fakeRelay) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	clients := r.clients
	r.clients = nil
	r.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
	r.server.Close()
}

// signedTestEvent builds a fully valid signed event with a throwaway
// key.
func signedTestEvent(t *testing.T, kind int, tags [][]string, content string) *nostr.Event {
	t.Helper()
	privateKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	event := &nostr.Event{
		PubKey:    hex.EncodeToString(schnorr.SerializePubKey(privateKey.PubKey())),
		CreatedAt: 1767225600,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	eventID, err := event.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	idBytes, err := hex.DecodeString(eventID)
	if err != nil {
		t.Fatalf("decoding id: %v", err)
	}
	signature, err := schnorr.Sign(privateKey, idBytes)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	event.ID = eventID
	event.Sig = hex.EncodeToString(signature.Serialize())
	return event
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastConnectionOptions keeps reconnect delays negligible for tests
// running against the real clock.
func fastConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		DialTimeout:    time.Second,
		BackoffInitial: 5 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
		SendQueueSize:  16,
		DegradedAfter:  5,
	}
}
