// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event kinds used by the IndieNet core. The kind space is open-ended:
// unknown kinds pass through routers untouched so that newer clients
// can introduce kinds without breaking older ones.
const (
	// KindProfileMetadata carries a JSON profile document (display
	// name, about text) as content.
	KindProfileMetadata = 0

	// KindTextNote is a public plaintext post.
	KindTextNote = 1

	// KindFollowList carries the author's follow list as "p" tags.
	KindFollowList = 3

	// KindEncryptedDirectMessage carries ciphertext addressed to the
	// single "p"-tagged recipient.
	KindEncryptedDirectMessage = 4
)

// Event is the atomic signed unit of the relay protocol. Events are
// immutable once signed: ID and Sig bind every other field, and any
// mutation invalidates both.
type Event struct {
	// ID is the lowercase hex SHA-256 of the canonical serialization.
	ID string `json:"id"`

	// PubKey is the author's x-only public key, lowercase hex.
	PubKey string `json:"pubkey"`

	// CreatedAt is the author-claimed Unix timestamp. Relays apply
	// only basic sanity checks; consumers must not assume monotonic
	// ordering across relays.
	CreatedAt int64 `json:"created_at"`

	// Kind discriminates event semantics.
	Kind int `json:"kind"`

	// Tags is an ordered sequence of tag entries, each an ordered
	// sequence of strings. The first element of an entry is the tag
	// name ("p" for a pubkey reference, "e" for an event reference,
	// "t" for a topic).
	Tags [][]string `json:"tags"`

	// Content is an opaque string: plaintext for public kinds,
	// ciphertext for encrypted kinds.
	Content string `json:"content"`

	// Sig is the 64-byte Schnorr signature over ID, lowercase hex.
	Sig string `json:"sig"`
}

// Serialize returns the canonical byte form hashed to produce the
// event ID: the JSON array [0, pubkey, created_at, kind, tags,
// content] with no insignificant whitespace and no HTML escaping.
func (e *Event) Serialize() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}

	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode([]any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}); err != nil {
		return nil, fmt.Errorf("nostr: serializing event: %w", err)
	}
	// Encoder appends a newline that is not part of the canonical form.
	return bytes.TrimRight(buffer.Bytes(), "\n"), nil
}

// ComputeID returns the lowercase hex SHA-256 of the canonical
// serialization.
func (e *Event) ComputeID() (string, error) {
	serialized, err := e.Serialize()
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(serialized)
	return hex.EncodeToString(digest[:]), nil
}

// Verify reports whether the event is valid: the ID matches the
// recomputed canonical hash and Sig is a valid Schnorr signature over
// the ID by PubKey. Malformed fields (wrong-length hex, undecodable
// keys) make Verify return false; it never panics or errors.
func (e *Event) Verify() bool {
	if len(e.ID) != 64 || len(e.PubKey) != 64 || len(e.Sig) != 128 {
		return false
	}

	computed, err := e.ComputeID()
	if err != nil || computed != e.ID {
		return false
	}

	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false
	}

	publicKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}
	signature, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}

	return signature.Verify(idBytes, publicKey)
}

// TagValues returns the first value of every tag entry with the given
// name, in tag order.
func (e *Event) TagValues(name string) []string {
	var values []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			values = append(values, tag[1])
		}
	}
	return values
}

// HasTagValue reports whether any tag entry with the given name
// carries the given first value.
func (e *Event) HasTagValue(name, value string) bool {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name && tag[1] == value {
			return true
		}
	}
	return false
}

// ShortID truncates an event ID or pubkey to 12 characters for
// logging. Full ids in logs add noise without aiding correlation.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
