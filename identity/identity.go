// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/indienet-foundation/indienet/lib/secret"
	"github.com/indienet-foundation/indienet/nostr"
)

// secretKeyLength is the byte length of a secp256k1 private key.
const secretKeyLength = 32

// Identity is a keypair plus display metadata. The public key is the
// stable identifier on the network; the display name is a human label
// with no cryptographic meaning.
//
// Identity holds no mutable state after construction and is safe for
// concurrent use from any goroutine.
type Identity struct {
	// DisplayName is an optional human label. Not part of the
	// cryptographic identity; changing it does not change who this
	// identity is on the network.
	DisplayName string

	publicKey string

	// secretKey holds the raw 32-byte private scalar in protected
	// memory. Nil for read-only identities.
	secretKey *secret.Buffer
}

// Generate creates an Identity with a fresh random private key. An
// error here means the entropy source failed, which is fatal and
// non-retryable.
func Generate() (*Identity, error) {
	privateKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generating private key: %w", err)
	}
	defer privateKey.Zero()

	serialized := privateKey.Serialize()
	buffer, err := secret.NewFromBytes(serialized)
	if err != nil {
		return nil, fmt.Errorf("identity: protecting private key: %w", err)
	}

	return &Identity{
		publicKey: hex.EncodeToString(schnorr.SerializePubKey(privateKey.PubKey())),
		secretKey: buffer,
	}, nil
}

// FromSecretKey creates an Identity from an existing raw 32-byte
// private key. The buffer is adopted: the Identity owns it and Close
// releases it. Returns ErrInvalidKeyFormat for a wrong-length or
// out-of-range scalar.
func FromSecretKey(secretKey *secret.Buffer) (*Identity, error) {
	if secretKey == nil || secretKey.Len() != secretKeyLength {
		return nil, fmt.Errorf("%w: want %d raw bytes", ErrInvalidKeyFormat, secretKeyLength)
	}

	privateKey := secp256k1.PrivKeyFromBytes(secretKey.Bytes())
	defer privateKey.Zero()
	if privateKey.Key.IsZero() {
		return nil, fmt.Errorf("%w: scalar is zero or a multiple of the curve order", ErrInvalidKeyFormat)
	}

	return &Identity{
		publicKey: hex.EncodeToString(schnorr.SerializePubKey(privateKey.PubKey())),
		secretKey: secretKey,
	}, nil
}

// FromHex creates an Identity from a 64-character hex private key.
// The decoded bytes move into protected memory.
func FromHex(secretHex string) (*Identity, error) {
	decoded, err := hex.DecodeString(secretHex)
	if err != nil || len(decoded) != secretKeyLength {
		secret.Zero(decoded)
		return nil, fmt.Errorf("%w: want %d hex characters", ErrInvalidKeyFormat, secretKeyLength*2)
	}

	buffer, err := secret.NewFromBytes(decoded)
	if err != nil {
		return nil, fmt.Errorf("identity: protecting private key: %w", err)
	}

	id, err := FromSecretKey(buffer)
	if err != nil {
		buffer.Close()
		return nil, err
	}
	return id, nil
}

// ReadOnly creates an Identity from a public key alone. The result
// can verify events but cannot sign or decrypt; those operations
// return ErrSigningUnavailable.
func ReadOnly(publicKeyHex string) (*Identity, error) {
	decoded, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(decoded) != 32 {
		return nil, fmt.Errorf("%w: public key must be 64 hex characters", ErrInvalidKeyFormat)
	}
	if _, err := schnorr.ParsePubKey(decoded); err != nil {
		return nil, fmt.Errorf("%w: not a point on the curve", ErrInvalidKeyFormat)
	}
	return &Identity{publicKey: publicKeyHex}, nil
}

// PublicKey returns the x-only public key as lowercase hex. This is
// the identity's stable network identifier.
func (id *Identity) PublicKey() string {
	return id.publicKey
}

// CanSign reports whether the identity holds a private key.
func (id *Identity) CanSign() bool {
	return id.secretKey != nil
}

// SecretKeyHex returns the private key as hex for export. The caller
// receives a heap copy; use it only at boundaries that require text
// (keygen --reveal-secret) and discard it promptly.
func (id *Identity) SecretKeyHex() (string, error) {
	if id.secretKey == nil {
		return "", ErrSigningUnavailable
	}
	return hex.EncodeToString(id.secretKey.Bytes()), nil
}

// SecretKeyBytes exposes the raw private key for the keystore. The
// returned slice points into protected memory owned by the Identity;
// do not retain it.
func (id *Identity) SecretKeyBytes() ([]byte, error) {
	if id.secretKey == nil {
		return nil, ErrSigningUnavailable
	}
	return id.secretKey.Bytes(), nil
}

// Sign computes the event's canonical ID and fills ID, PubKey, and
// Sig. The event's other fields must be final: any later mutation
// invalidates the signature. Returns ErrSigningUnavailable for a
// read-only identity.
func (id *Identity) Sign(event *nostr.Event) error {
	if id.secretKey == nil {
		return ErrSigningUnavailable
	}
	if event.PubKey != "" && event.PubKey != id.publicKey {
		return fmt.Errorf("identity: event author %s does not match signer %s",
			nostr.ShortID(event.PubKey), nostr.ShortID(id.publicKey))
	}

	event.PubKey = id.publicKey
	eventID, err := event.ComputeID()
	if err != nil {
		return err
	}
	idBytes, err := hex.DecodeString(eventID)
	if err != nil {
		return fmt.Errorf("identity: decoding event id: %w", err)
	}

	privateKey := secp256k1.PrivKeyFromBytes(id.secretKey.Bytes())
	defer privateKey.Zero()

	signature, err := schnorr.Sign(privateKey, idBytes)
	if err != nil {
		return fmt.Errorf("identity: signing event: %w", err)
	}

	event.ID = eventID
	event.Sig = hex.EncodeToString(signature.Serialize())
	return nil
}

// Verify reports whether the event is valid: ID matches the
// recomputed hash and the signature verifies against the event's own
// author. Works on read-only identities. Never errors on malformed
// input — returns false.
func (id *Identity) Verify(event *nostr.Event) bool {
	return event.Verify()
}

// Close releases the protected private key memory. The identity
// becomes unusable for signing and decryption. Idempotent; a no-op
// for read-only identities.
func (id *Identity) Close() error {
	if id.secretKey == nil {
		return nil
	}
	return id.secretKey.Close()
}
