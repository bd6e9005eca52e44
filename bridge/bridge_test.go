// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/indienet-foundation/indienet/identity"
	"github.com/indienet-foundation/indienet/lib/clock"
	"github.com/indienet-foundation/indienet/lib/testutil"
	"github.com/indienet-foundation/indienet/nostr"
	"github.com/indienet-foundation/indienet/relay"
)

const testTimeout = 5 * time.Second
const quietWindow = 100 * time.Millisecond

// fakePublisher satisfies Publisher in-process: it records published
// events and lets tests inject events into subscription consumers.
type fakePublisher struct {
	published chan *nostr.Event

	subscriptions []fakeSubscription
	cancelled     []int
}

type fakeSubscription struct {
	filter   nostr.Filter
	consumer relay.Consumer
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(chan *nostr.Event, 16)}
}

func (p *fakePublisher) Publish(event *nostr.Event) error {
	p.published <- event
	return nil
}

func (p *fakePublisher) Subscribe(filter nostr.Filter, consumer relay.Consumer) (func(), error) {
	index := len(p.subscriptions)
	p.subscriptions = append(p.subscriptions, fakeSubscription{filter: filter, consumer: consumer})
	return func() { p.cancelled = append(p.cancelled, index) }, nil
}

// inject hands an event to the consumer of subscription index i.
func (p *fakePublisher) inject(index int, event *nostr.Event) {
	p.subscriptions[index].consumer(event)
}

type fakeRuntime struct {
	delivered chan InboundMessage
	fail      error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{delivered: make(chan InboundMessage, 16)}
}

func (r *fakeRuntime) Deliver(message InboundMessage) error {
	if r.fail != nil {
		return r.fail
	}
	r.delivered <- message
	return nil
}

type fakeNotifier struct {
	posts      chan *nostr.Event
	rejections chan *nostr.RelayError
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		posts:      make(chan *nostr.Event, 16),
		rejections: make(chan *nostr.RelayError, 16),
	}
}

func (n *fakeNotifier) PublicPost(event *nostr.Event)         { n.posts <- event }
func (n *fakeNotifier) PublishRejected(err *nostr.RelayError) { n.rejections <- err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSigner(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	t.Cleanup(func() { id.Close() })
	return id
}

// testBridge holds a started bridge and its fakes. Subscription 0 is
// direct messages, subscription 1 public notes.
type testBridge struct {
	bridge    *Bridge
	self      *identity.Identity
	publisher *fakePublisher
	runtime   *fakeRuntime
	notifier  *fakeNotifier
}

const (
	directSubscription = 0
	publicSubscription = 1
)

func startTestBridge(t *testing.T) *testBridge {
	t.Helper()
	tb := &testBridge{
		self:      newSigner(t),
		publisher: newFakePublisher(),
		runtime:   newFakeRuntime(),
		notifier:  newFakeNotifier(),
	}
	tb.bridge = &Bridge{
		Identity:     tb.self,
		Pool:         tb.publisher,
		Runtime:      tb.runtime,
		Notifier:     tb.notifier,
		DiscoveryTag: "IndieNet",
		Logger:       testLogger(),
		Clock:        clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	if err := tb.bridge.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(tb.bridge.Stop)
	return tb
}

// signedBy fills, signs, and returns the event as the given identity.
func signedBy(t *testing.T, author *identity.Identity, event *nostr.Event) *nostr.Event {
	t.Helper()
	if err := author.Sign(event); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return event
}

func TestStartValidation(t *testing.T) {
	valid := func() *Bridge {
		return &Bridge{
			Identity:     newSigner(t),
			Pool:         newFakePublisher(),
			Runtime:      newFakeRuntime(),
			DiscoveryTag: "IndieNet",
			Logger:       testLogger(),
		}
	}

	cases := map[string]func(*Bridge){
		"nil identity": func(b *Bridge) { b.Identity = nil },
		"read-only identity": func(b *Bridge) {
			readOnly, err := identity.ReadOnly(b.Identity.PublicKey())
			if err != nil {
				t.Fatalf("ReadOnly: %v", err)
			}
			b.Identity = readOnly
		},
		"nil pool":    func(b *Bridge) { b.Pool = nil },
		"nil runtime": func(b *Bridge) { b.Runtime = nil },
		"empty tag":   func(b *Bridge) { b.DiscoveryTag = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			bridge := valid()
			mutate(bridge)
			if err := bridge.Start(); err == nil {
				t.Fatal("Start accepted an invalid configuration")
			}
		})
	}
}

func TestStartOpensExpectedSubscriptions(t *testing.T) {
	tb := startTestBridge(t)

	if len(tb.publisher.subscriptions) != 2 {
		t.Fatalf("bridge opened %d subscriptions, want 2", len(tb.publisher.subscriptions))
	}

	direct := tb.publisher.subscriptions[directSubscription].filter
	wantDirect := nostr.Filter{
		Kinds: []int{nostr.KindEncryptedDirectMessage},
		Tags:  map[string][]string{"p": {tb.self.PublicKey()}},
	}
	if !reflect.DeepEqual(direct, wantDirect) {
		t.Fatalf("direct filter %+v, want %+v", direct, wantDirect)
	}

	public := tb.publisher.subscriptions[publicSubscription].filter
	wantPublic := nostr.Filter{
		Kinds: []int{nostr.KindTextNote},
		Tags:  map[string][]string{"t": {"IndieNet"}},
	}
	if !reflect.DeepEqual(public, wantPublic) {
		t.Fatalf("public filter %+v, want %+v", public, wantPublic)
	}
}

func TestDirectMessageDelivery(t *testing.T) {
	tb := startTestBridge(t)
	peer := newSigner(t)

	ciphertext, err := peer.EncryptTo(tb.self.PublicKey(), []byte("the plan is on"))
	if err != nil {
		t.Fatalf("EncryptTo: %v", err)
	}
	event := signedBy(t, peer, &nostr.Event{
		CreatedAt: 1767225600,
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      [][]string{{"p", tb.self.PublicKey()}},
		Content:   ciphertext,
	})

	tb.publisher.inject(directSubscription, event)

	message := testutil.RequireReceive(t, tb.runtime.delivered, testTimeout, "waiting for DM delivery")
	if message.Kind != MessageDirect {
		t.Fatalf("message kind %q, want direct", message.Kind)
	}
	if message.Sender != peer.PublicKey() {
		t.Fatalf("sender %s, want the peer", message.Sender)
	}
	if message.Text != "the plan is on" {
		t.Fatalf("text %q, want decrypted plaintext", message.Text)
	}
	if message.SourceEventID != event.ID {
		t.Fatalf("source event %s, want %s", message.SourceEventID, event.ID)
	}
	if !message.Timestamp.Equal(time.Unix(1767225600, 0)) {
		t.Fatalf("timestamp %v", message.Timestamp)
	}
}

func TestUndecryptableDirectMessageDroppedSilently(t *testing.T) {
	tb := startTestBridge(t)
	peer := newSigner(t)
	otherRecipient := newSigner(t)

	// Encrypted to a different recipient; the bridge identity cannot
	// open it.
	ciphertext, err := peer.EncryptTo(otherRecipient.PublicKey(), []byte("not for this agent"))
	if err != nil {
		t.Fatalf("EncryptTo: %v", err)
	}
	event := signedBy(t, peer, &nostr.Event{
		CreatedAt: 1767225600,
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      [][]string{{"p", tb.self.PublicKey()}},
		Content:   ciphertext,
	})

	tb.publisher.inject(directSubscription, event)
	testutil.RequireNoReceive(t, tb.runtime.delivered, quietWindow, "undecryptable DM was delivered")
}

func TestOwnEventsAreIgnored(t *testing.T) {
	tb := startTestBridge(t)

	note := signedBy(t, tb.self, &nostr.Event{
		CreatedAt: 1767225600,
		Kind:      nostr.KindTextNote,
		Tags:      [][]string{{"t", "IndieNet"}, {"p", tb.self.PublicKey()}},
		Content:   "talking to myself",
	})
	tb.publisher.inject(publicSubscription, note)

	ciphertext, err := tb.self.EncryptTo(tb.self.PublicKey(), []byte("self DM"))
	if err != nil {
		t.Fatalf("EncryptTo: %v", err)
	}
	dm := signedBy(t, tb.self, &nostr.Event{
		CreatedAt: 1767225601,
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      [][]string{{"p", tb.self.PublicKey()}},
		Content:   ciphertext,
	})
	tb.publisher.inject(directSubscription, dm)

	testutil.RequireNoReceive(t, tb.runtime.delivered, quietWindow, "own event was delivered")
	testutil.RequireNoReceive(t, tb.notifier.posts, quietWindow, "own event reached the notifier")
}

func TestMentionDelivery(t *testing.T) {
	tb := startTestBridge(t)
	peer := newSigner(t)

	mention := signedBy(t, peer, &nostr.Event{
		CreatedAt: 1767225600,
		Kind:      nostr.KindTextNote,
		Tags:      [][]string{{"t", "IndieNet"}, {"p", tb.self.PublicKey()}},
		Content:   "hey, agent!",
	})
	tb.publisher.inject(publicSubscription, mention)

	message := testutil.RequireReceive(t, tb.runtime.delivered, testTimeout, "waiting for mention")
	if message.Kind != MessageMention {
		t.Fatalf("message kind %q, want mention", message.Kind)
	}
	if message.Text != "hey, agent!" || message.Sender != peer.PublicKey() {
		t.Fatalf("message %+v", message)
	}
	testutil.RequireNoReceive(t, tb.notifier.posts, quietWindow, "mention also reached the notifier")
}

func TestUnaddressedPublicNoteGoesToNotifier(t *testing.T) {
	tb := startTestBridge(t)
	peer := newSigner(t)

	note := signedBy(t, peer, &nostr.Event{
		CreatedAt: 1767225600,
		Kind:      nostr.KindTextNote,
		Tags:      [][]string{{"t", "IndieNet"}},
		Content:   "general chatter",
	})
	tb.publisher.inject(publicSubscription, note)

	observed := testutil.RequireReceive(t, tb.notifier.posts, testTimeout, "waiting for notifier post")
	if observed.ID != note.ID {
		t.Fatalf("notifier observed %s, want %s", observed.ID, note.ID)
	}
	testutil.RequireNoReceive(t, tb.runtime.delivered, quietWindow, "unaddressed note reached the runtime")
}

func TestSendReply(t *testing.T) {
	tb := startTestBridge(t)
	recipient := newSigner(t)

	event, err := tb.bridge.SendReply(recipient.PublicKey(), "answer: 42")
	if err != nil {
		t.Fatalf("SendReply: %v", err)
	}

	published := testutil.RequireReceive(t, tb.publisher.published, testTimeout, "waiting for publish")
	if published.ID != event.ID {
		t.Fatal("published event differs from the returned event")
	}
	if published.Kind != nostr.KindEncryptedDirectMessage {
		t.Fatalf("kind %d, want encrypted DM", published.Kind)
	}
	if !published.HasTagValue("p", recipient.PublicKey()) {
		t.Fatalf("tags %v lack the recipient", published.Tags)
	}
	if !published.Verify() {
		t.Fatal("published event is not validly signed")
	}
	if published.Content == "answer: 42" {
		t.Fatal("reply published in plaintext")
	}

	plaintext, err := recipient.DecryptFrom(tb.self.PublicKey(), published.Content)
	if err != nil {
		t.Fatalf("recipient DecryptFrom: %v", err)
	}
	defer plaintext.Close()
	if plaintext.String() != "answer: 42" {
		t.Fatalf("recipient decrypted %q", plaintext.String())
	}
}

func TestPublishPost(t *testing.T) {
	tb := startTestBridge(t)

	event, err := tb.bridge.PublishPost("hello network", [][]string{{"t", "introductions"}})
	if err != nil {
		t.Fatalf("PublishPost: %v", err)
	}

	published := testutil.RequireReceive(t, tb.publisher.published, testTimeout, "waiting for publish")
	if published.Kind != nostr.KindTextNote || published.Content != "hello network" {
		t.Fatalf("published %+v", published)
	}
	if !published.HasTagValue("t", "IndieNet") {
		t.Fatal("post lacks the discovery tag")
	}
	if !published.HasTagValue("t", "introductions") {
		t.Fatal("post lacks the extra tag")
	}
	if !published.Verify() {
		t.Fatal("post is not validly signed")
	}
	if event.PubKey != tb.self.PublicKey() {
		t.Fatalf("post author %s", event.PubKey)
	}
}

func TestPublishProfile(t *testing.T) {
	tb := startTestBridge(t)

	_, err := tb.bridge.PublishProfile("ada", "an autonomous agent")
	if err != nil {
		t.Fatalf("PublishProfile: %v", err)
	}

	published := testutil.RequireReceive(t, tb.publisher.published, testTimeout, "waiting for publish")
	if published.Kind != nostr.KindProfileMetadata {
		t.Fatalf("kind %d, want profile metadata", published.Kind)
	}
	var profile map[string]string
	if err := json.Unmarshal([]byte(published.Content), &profile); err != nil {
		t.Fatalf("profile content: %v", err)
	}
	if profile["name"] != "ada" || profile["about"] != "an autonomous agent" {
		t.Fatalf("profile %v", profile)
	}
	if !published.Verify() {
		t.Fatal("profile is not validly signed")
	}
}

func TestPublishFollowList(t *testing.T) {
	tb := startTestBridge(t)
	first := newSigner(t)
	second := newSigner(t)

	_, err := tb.bridge.PublishFollowList([]string{first.PublicKey(), second.PublicKey()})
	if err != nil {
		t.Fatalf("PublishFollowList: %v", err)
	}

	published := testutil.RequireReceive(t, tb.publisher.published, testTimeout, "waiting for publish")
	if published.Kind != nostr.KindFollowList {
		t.Fatalf("kind %d, want follow list", published.Kind)
	}
	follows := published.TagValues("p")
	if len(follows) != 2 || follows[0] != first.PublicKey() || follows[1] != second.PublicKey() {
		t.Fatalf("follow tags %v", follows)
	}
	if !published.Verify() {
		t.Fatal("follow list is not validly signed")
	}
}

func TestHandlePublishStatus(t *testing.T) {
	tb := startTestBridge(t)

	tb.bridge.HandlePublishStatus(relay.PublishStatus{
		Relay: "wss://relay.example", EventID: "event-1", Accepted: true,
	})
	testutil.RequireNoReceive(t, tb.notifier.rejections, quietWindow, "acceptance reached the notifier")

	tb.bridge.HandlePublishStatus(relay.PublishStatus{
		Relay: "wss://relay.example", EventID: "event-2", Accepted: false,
		Message: "blocked: pow required",
	})
	rejection := testutil.RequireReceive(t, tb.notifier.rejections, testTimeout, "waiting for rejection")
	if rejection.EventID != "event-2" || rejection.Message != "blocked: pow required" {
		t.Fatalf("rejection %+v", rejection)
	}

	// The rejection travels as a typed error.
	var asError error = rejection
	extracted, ok := nostr.IsRelayError(asError)
	if !ok || extracted.Relay != "wss://relay.example" {
		t.Fatalf("IsRelayError = %v, %v", extracted, ok)
	}
}

func TestRuntimeDeliveryFailureIsLoggedNotFatal(t *testing.T) {
	tb := startTestBridge(t)
	tb.runtime.fail = errors.New("runtime unavailable")
	peer := newSigner(t)

	note := signedBy(t, peer, &nostr.Event{
		CreatedAt: 1767225600,
		Kind:      nostr.KindTextNote,
		Tags:      [][]string{{"t", "IndieNet"}, {"p", tb.self.PublicKey()}},
		Content:   "mention during outage",
	})

	// Must not panic; the failure is logged and dropped.
	tb.publisher.inject(publicSubscription, note)
}

func TestStopIsIdempotent(t *testing.T) {
	tb := startTestBridge(t)

	tb.bridge.Stop()
	tb.bridge.Stop()

	if len(tb.publisher.cancelled) != 2 {
		t.Fatalf("%d cancellations, want exactly 2 (one per subscription)", len(tb.publisher.cancelled))
	}
}
