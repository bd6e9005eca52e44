// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

// Package nostr implements the wire-level relay protocol: events,
// filters, and the JSON frame envelopes exchanged with relays over a
// persistent websocket.
//
// [Event] is the atomic signed unit of data. Its ID is the SHA-256 of
// the canonical serialization [0, pubkey, created_at, kind, tags,
// content]; its Sig is a BIP-340 Schnorr signature over the ID.
// [Event.Verify] recomputes the ID and checks the signature — it
// never errors on malformed input, it returns false. Signing lives in
// the identity package, which holds the private keys.
//
// [Filter] is a conjunctive predicate over events: author set, kind
// set, #tag constraints, and time bounds all must hold. Filters
// marshal to the relay query shape ("#p", "#t" keys for tags) and
// [Filter.Matches] evaluates the same predicate locally, so a
// subscription's relay-side query and client-side routing can never
// disagree.
//
// Frames follow the client/relay envelope convention:
//
//	client → relay:  ["EVENT", <event>]
//	                 ["REQ", <subID>, <filter>...]
//	                 ["CLOSE", <subID>]
//	relay → client:  ["EVENT", <subID>, <event>]
//	                 ["OK", <eventID>, <accepted>, <message>]
//	                 ["EOSE", <subID>]
//	                 ["NOTICE", <message>]
//
// [ParseRelayMessage] returns one of the typed envelope structs;
// callers switch on the concrete type. Unknown or malformed frames
// produce an error so the connection can log and discard them without
// tearing down the transport.
//
// This package has no IndieNet-internal dependencies.
package nostr
