// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

// Package keystore persists one identity to disk, encrypted with a
// passphrase.
//
// The on-disk format is an age scrypt envelope over a deterministic
// CBOR record holding the private key, display name, and creation
// time. The passphrase never touches disk; the key material passes
// through protected memory (lib/secret) on both save and load.
//
// A missing store file is the normal first-run condition, reported as
// ErrNotFound so callers can branch to key generation. A present file
// that fails to decrypt is ErrWrongPassphrase. Anything else (corrupt
// record, unreadable file) is an operational error.
package keystore
