// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge translates between wire-level events and the agent
// runtime's messages.
//
// The bridge is the only place that decides what counts as a message
// to this agent. Inbound, it turns an encrypted direct message into a
// decrypted delivery, a public note mentioning the agent into a
// mention, and every other tagged note into a notification-sink
// observation. Outbound, it turns agent replies and posts into
// signed, published events. Routing policy changes happen here, never
// in the protocol or relay layers.
//
// Decryption failures on inbound direct messages are dropped with a
// debug log: traffic addressed to another recipient is
// indistinguishable from corruption, and neither is the agent's
// business.
package bridge
