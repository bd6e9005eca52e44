// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/indienet-foundation/indienet/lib/secret"
)

// dmVersion is the first byte of every direct-message payload. A
// future scheme change bumps it so both versions can coexist during
// migration.
const dmVersion = 0x01

// hkdfSalt binds derived keys to this protocol: the same ECDH secret
// used by another application yields unrelated message keys.
var hkdfSalt = []byte("indienet-dm-v1")

// EncryptTo encrypts plaintext for the holder of recipientPublicKey.
// The payload is base64(version || 24-byte random nonce ||
// XChaCha20-Poly1305 ciphertext), keyed by HKDF-SHA256 over the ECDH
// shared secret of the two parties. Either party can decrypt: the key
// agreement is symmetric.
func (id *Identity) EncryptTo(recipientPublicKey string, plaintext []byte) (string, error) {
	key, err := id.conversationKey(recipientPublicKey)
	if err != nil {
		return "", err
	}
	defer secret.Zero(key)

	cipher, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("identity: initializing cipher: %w", err)
	}

	payload := make([]byte, 1+cipher.NonceSize(), 1+cipher.NonceSize()+len(plaintext)+cipher.Overhead())
	payload[0] = dmVersion
	nonce := payload[1 : 1+cipher.NonceSize()]
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("identity: generating nonce: %w", err)
	}

	payload = cipher.Seal(payload, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecryptFrom decrypts a payload produced by the holder of
// senderPublicKey for this identity. The plaintext is returned in
// protected memory; the caller owns the buffer. Returns
// ErrDecryptionFailed for corrupt payloads and for ciphertext
// addressed to a different recipient — the caller drops the message.
func (id *Identity) DecryptFrom(senderPublicKey string, ciphertext string) (*secret.Buffer, error) {
	key, err := id.conversationKey(senderPublicKey)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(key)

	payload, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64", ErrDecryptionFailed)
	}

	cipher, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("identity: initializing cipher: %w", err)
	}

	if len(payload) < 1+cipher.NonceSize()+cipher.Overhead() {
		return nil, fmt.Errorf("%w: payload too short", ErrDecryptionFailed)
	}
	if payload[0] != dmVersion {
		return nil, fmt.Errorf("%w: unknown payload version %d", ErrDecryptionFailed, payload[0])
	}

	nonce := payload[1 : 1+cipher.NonceSize()]
	plaintext, err := cipher.Open(nil, nonce, payload[1+cipher.NonceSize():], nil)
	if err != nil {
		// Authentication failure: corrupt, or keyed for someone else.
		return nil, ErrDecryptionFailed
	}

	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		return nil, fmt.Errorf("identity: protecting plaintext: %w", err)
	}
	return buffer, nil
}

// conversationKey derives the symmetric message key shared between
// this identity and the given peer: HKDF-SHA256 over the ECDH x
// coordinate. The caller must zero the returned key after use.
func (id *Identity) conversationKey(peerPublicKey string) ([]byte, error) {
	if id.secretKey == nil {
		return nil, ErrSigningUnavailable
	}

	decoded, err := hex.DecodeString(peerPublicKey)
	if err != nil || len(decoded) != 32 {
		return nil, fmt.Errorf("%w: peer public key must be 64 hex characters", ErrInvalidKeyFormat)
	}
	peerKey, err := schnorr.ParsePubKey(decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: peer public key is not on the curve", ErrInvalidKeyFormat)
	}

	privateKey := secp256k1.PrivKeyFromBytes(id.secretKey.Bytes())
	defer privateKey.Zero()

	shared := secp256k1.GenerateSharedSecret(privateKey, peerKey)
	defer secret.Zero(shared)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, hkdfSalt, nil), key); err != nil {
		return nil, fmt.Errorf("identity: deriving conversation key: %w", err)
	}
	return key, nil
}
