// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import "errors"

var (
	// ErrInvalidKeyFormat reports a malformed private or public key:
	// wrong length, non-hex input, or a scalar outside the curve
	// order.
	ErrInvalidKeyFormat = errors.New("identity: invalid key format")

	// ErrSigningUnavailable reports a signing or decryption attempt on
	// a read-only identity (public key only, no private key). Fatal to
	// the operation that triggered it, not to anything else.
	ErrSigningUnavailable = errors.New("identity: signing unavailable (no private key)")

	// ErrDecryptionFailed reports ciphertext that could not be
	// decrypted: corrupt payload, or a message addressed to a
	// different recipient. Callers drop the message.
	ErrDecryptionFailed = errors.New("identity: decryption failed")
)
