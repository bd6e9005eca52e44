// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides IndieNet's standard CBOR encoding
// configuration.
//
// IndieNet uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the relay wire protocol (events,
//     REQ/CLOSE/OK/EOSE/NOTICE frames) and CLI output.
//   - CBOR for on-disk records: the keystore's identity record inside
//     its age envelope.
//
// This package holds the shared CBOR modes so every package encodes
// identically. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items — the same logical record always produces
// identical bytes. The decoder ignores unknown fields for forward
// compatibility with records written by newer versions.
package codec
