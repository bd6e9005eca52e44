// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay maintains the agent's connections to its configured
// relays and presents them as one logical event stream.
//
// The three moving parts:
//
//   - [Connection] owns one websocket: independent read and write
//     goroutines, a bounded drop-oldest outbound queue, and a
//     reconnect loop with jittered exponential backoff. A relay being
//     down is a normal operating condition, never a process error;
//     retry continues for the life of the pool.
//
//   - [Router] maps inbound events to subscription consumers by
//     re-evaluating each subscription's filter locally. Relays are
//     not trusted to filter correctly.
//
//   - [Pool] composes the two: fan-out of publishes and subscription
//     frames to every relay, fan-in of inbound frames through a
//     single dispatch goroutine that verifies signatures, collapses
//     cross-relay duplicates, and hands events to the router. Because
//     one goroutine owns the dedup cache and router state, consumers
//     observe events in a single arrival order with no locking on the
//     hot path.
//
// Publishing is best-effort: an event is handed to every connected
// relay and per-relay OK verdicts are logged and optionally surfaced
// through a status callback, but no quorum is required. Durability
// comes from relay redundancy, not acknowledgement counting.
package relay
