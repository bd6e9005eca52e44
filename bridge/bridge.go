// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/indienet-foundation/indienet/identity"
	"github.com/indienet-foundation/indienet/lib/clock"
	"github.com/indienet-foundation/indienet/nostr"
	"github.com/indienet-foundation/indienet/relay"
)

// MessageKind distinguishes how an inbound message reached the agent.
type MessageKind string

const (
	// MessageDirect is a decrypted direct message addressed to the
	// agent.
	MessageDirect MessageKind = "direct"

	// MessageMention is a public note that tags the agent's public
	// key.
	MessageMention MessageKind = "mention"
)

// InboundMessage is what the agent runtime receives. Plaintext for
// both kinds: direct messages are decrypted before delivery.
type InboundMessage struct {
	Kind MessageKind

	// Sender is the author's public key.
	Sender string

	// Text is the message content.
	Text string

	// Timestamp is the author-claimed creation time.
	Timestamp time.Time

	// SourceEventID ties the message back to its wire event, for
	// reply threading and audit logs.
	SourceEventID string
}

// Runtime is the agent runtime the bridge delivers into. Deliver is
// called from the pool's dispatch goroutine and must hand work off
// rather than block.
type Runtime interface {
	Deliver(message InboundMessage) error
}

// Notifier observes network activity that is not addressed to the
// agent. All methods are called from the pool's dispatch goroutine.
type Notifier interface {
	// PublicPost observes a tagged public note that does not mention
	// the agent.
	PublicPost(event *nostr.Event)

	// PublishRejected observes a relay's rejection of one of the
	// agent's published events.
	PublishRejected(rejection *nostr.RelayError)
}

// Publisher is the slice of the relay pool the bridge uses.
type Publisher interface {
	Publish(event *nostr.Event) error
	Subscribe(filter nostr.Filter, consumer relay.Consumer) (cancel func(), err error)
}

// Bridge connects one identity's event streams to an agent runtime.
// Configure the exported fields, then call Start.
type Bridge struct {
	// Identity signs outbound events and decrypts inbound direct
	// messages. Must hold a private key.
	Identity *identity.Identity

	// Pool carries events to and from the relays.
	Pool Publisher

	// Runtime receives inbound messages.
	Runtime Runtime

	// Notifier, if set, observes public traffic and publish
	// rejections.
	Notifier Notifier

	// DiscoveryTag is the topic tag marking notes as belonging to the
	// shared network ("IndieNet").
	DiscoveryTag string

	// Logger receives structured diagnostics. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Clock stamps outbound events. If nil, the real clock is used.
	Clock clock.Clock

	cancelDirect func()
	cancelPublic func()
	stopOnce     sync.Once
}

func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Bridge) clock() clock.Clock {
	if b.Clock != nil {
		return b.Clock
	}
	return clock.Real()
}

// Start opens the bridge's two subscriptions: direct messages
// addressed to the identity, and public notes carrying the discovery
// tag. Returns once both are registered.
func (b *Bridge) Start() error {
	if b.Identity == nil || !b.Identity.CanSign() {
		return fmt.Errorf("bridge: a signing identity is required")
	}
	if b.Pool == nil {
		return fmt.Errorf("bridge: a relay pool is required")
	}
	if b.Runtime == nil {
		return fmt.Errorf("bridge: an agent runtime is required")
	}
	if b.DiscoveryTag == "" {
		return fmt.Errorf("bridge: a discovery tag is required")
	}

	selfKey := b.Identity.PublicKey()

	cancelDirect, err := b.Pool.Subscribe(nostr.Filter{
		Kinds: []int{nostr.KindEncryptedDirectMessage},
		Tags:  map[string][]string{"p": {selfKey}},
	}, b.handleDirectMessage)
	if err != nil {
		return fmt.Errorf("bridge: subscribing to direct messages: %w", err)
	}

	cancelPublic, err := b.Pool.Subscribe(nostr.Filter{
		Kinds: []int{nostr.KindTextNote},
		Tags:  map[string][]string{"t": {b.DiscoveryTag}},
	}, b.handlePublicNote)
	if err != nil {
		cancelDirect()
		return fmt.Errorf("bridge: subscribing to public notes: %w", err)
	}

	b.cancelDirect = cancelDirect
	b.cancelPublic = cancelPublic
	b.logger().Info("bridge started",
		"identity", nostr.ShortID(selfKey), "tag", b.DiscoveryTag)
	return nil
}

// Stop cancels both subscriptions. Idempotent.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.cancelDirect != nil {
			b.cancelDirect()
		}
		if b.cancelPublic != nil {
			b.cancelPublic()
		}
		b.logger().Info("bridge stopped")
	})
}

// handleDirectMessage decrypts an inbound kind-4 event and delivers
// the plaintext to the runtime.
func (b *Bridge) handleDirectMessage(event *nostr.Event) {
	if event.PubKey == b.Identity.PublicKey() {
		// Own traffic echoed back by a relay.
		return
	}

	plaintext, err := b.Identity.DecryptFrom(event.PubKey, event.Content)
	if err != nil {
		if errors.Is(err, identity.ErrDecryptionFailed) {
			// Likely addressed to someone else; not the agent's
			// business.
			b.logger().Debug("undecryptable direct message",
				"sender", nostr.ShortID(event.PubKey), "event", nostr.ShortID(event.ID))
		} else {
			b.logger().Error("direct message decryption",
				"event", nostr.ShortID(event.ID), "error", err)
		}
		return
	}
	defer plaintext.Close()

	b.deliver(InboundMessage{
		Kind:          MessageDirect,
		Sender:        event.PubKey,
		Text:          plaintext.String(),
		Timestamp:     time.Unix(event.CreatedAt, 0).UTC(),
		SourceEventID: event.ID,
	})
}

// handlePublicNote routes a tagged public note: a mention of the
// agent goes to the runtime, everything else to the notifier.
func (b *Bridge) handlePublicNote(event *nostr.Event) {
	if event.PubKey == b.Identity.PublicKey() {
		return
	}

	if event.HasTagValue("p", b.Identity.PublicKey()) {
		b.deliver(InboundMessage{
			Kind:          MessageMention,
			Sender:        event.PubKey,
			Text:          event.Content,
			Timestamp:     time.Unix(event.CreatedAt, 0).UTC(),
			SourceEventID: event.ID,
		})
		return
	}

	if b.Notifier != nil {
		b.Notifier.PublicPost(event)
	}
}

func (b *Bridge) deliver(message InboundMessage) {
	if err := b.Runtime.Deliver(message); err != nil {
		b.logger().Error("runtime delivery failed",
			"kind", message.Kind, "event", nostr.ShortID(message.SourceEventID), "error", err)
	}
}

// HandlePublishStatus feeds per-relay publish verdicts into the
// notifier. Wire it as the pool's status callback.
func (b *Bridge) HandlePublishStatus(status relay.PublishStatus) {
	if status.Accepted || b.Notifier == nil {
		return
	}
	b.Notifier.PublishRejected(&nostr.RelayError{
		Relay:   status.Relay,
		EventID: status.EventID,
		Message: status.Message,
	})
}

// SendReply encrypts plaintext to the recipient, wraps it in a signed
// direct-message event, and publishes it. Returns the published
// event.
func (b *Bridge) SendReply(recipientPublicKey, plaintext string) (*nostr.Event, error) {
	ciphertext, err := b.Identity.EncryptTo(recipientPublicKey, []byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("bridge: encrypting reply: %w", err)
	}

	event := &nostr.Event{
		CreatedAt: b.clock().Now().Unix(),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      [][]string{{"p", recipientPublicKey}},
		Content:   ciphertext,
	}
	return b.signAndPublish(event)
}

// PublishPost publishes a public text note carrying the discovery
// tag. extraTags are appended after it, for mentions or topics.
func (b *Bridge) PublishPost(text string, extraTags [][]string) (*nostr.Event, error) {
	tags := [][]string{{"t", b.DiscoveryTag}}
	tags = append(tags, extraTags...)

	event := &nostr.Event{
		CreatedAt: b.clock().Now().Unix(),
		Kind:      nostr.KindTextNote,
		Tags:      tags,
		Content:   text,
	}
	return b.signAndPublish(event)
}

// PublishProfile publishes kind-0 profile metadata so the agent is
// discoverable by name.
func (b *Bridge) PublishProfile(displayName, about string) (*nostr.Event, error) {
	content, err := json.Marshal(map[string]string{
		"name":  displayName,
		"about": about,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: encoding profile: %w", err)
	}

	event := &nostr.Event{
		CreatedAt: b.clock().Now().Unix(),
		Kind:      nostr.KindProfileMetadata,
		Tags:      [][]string{},
		Content:   string(content),
	}
	return b.signAndPublish(event)
}

// PublishFollowList publishes the kind-3 follow list: one "p" tag per
// followed public key, replacing any previous list.
func (b *Bridge) PublishFollowList(publicKeys []string) (*nostr.Event, error) {
	tags := make([][]string, 0, len(publicKeys))
	for _, publicKey := range publicKeys {
		tags = append(tags, []string{"p", publicKey})
	}

	event := &nostr.Event{
		CreatedAt: b.clock().Now().Unix(),
		Kind:      nostr.KindFollowList,
		Tags:      tags,
		Content:   "",
	}
	return b.signAndPublish(event)
}

func (b *Bridge) signAndPublish(event *nostr.Event) (*nostr.Event, error) {
	if err := b.Identity.Sign(event); err != nil {
		return nil, fmt.Errorf("bridge: signing event: %w", err)
	}
	if err := b.Pool.Publish(event); err != nil {
		return nil, fmt.Errorf("bridge: publishing event: %w", err)
	}
	b.logger().Debug("published",
		"event", nostr.ShortID(event.ID), "kind", event.Kind)
	return event, nil
}
