// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity manages the cryptographic identity of an agent on
// the relay network: a secp256k1 keypair used for BIP-340 Schnorr
// event signatures and for the ECDH key agreement behind encrypted
// direct messages.
//
// An [Identity] is immutable after construction and safe for
// concurrent use. The private key lives in mmap-backed
// [secret.Buffer] memory (locked against swap, excluded from core
// dumps); transient scalar copies made for each signing or decryption
// operation are zeroed before the operation returns. Key material is
// never logged.
//
// Constructors:
//
//   - [Generate] -- fresh random keypair; fails only on entropy
//     failure, which is fatal and non-retryable
//   - [FromSecretKey] / [FromHex] -- import an existing key;
//     [ErrInvalidKeyFormat] on malformed input
//   - [ReadOnly] -- public key only: can verify, cannot sign or
//     decrypt
//
// Direct messages use ECDH over the two parties' keys, HKDF-SHA256
// key derivation, and XChaCha20-Poly1305 with a random nonce. The
// ciphertext is a versioned base64 payload. [Identity.DecryptFrom]
// returns [ErrDecryptionFailed] for corrupt or mis-addressed
// ciphertext — callers drop the message; the failure is expected
// whenever ciphertext for another recipient shares a subscription.
package identity
