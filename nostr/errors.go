// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package nostr

import (
	"errors"
	"fmt"
)

// RelayError is a relay's rejection of a published event, carried in
// an OK frame with accepted=false. It is diagnostic: publishing is
// best-effort across relays, so one relay's rejection does not fail
// the publish.
type RelayError struct {
	// Relay is the websocket URL of the rejecting relay.
	Relay string

	// EventID is the rejected event.
	EventID string

	// Message is the relay's machine-prefixed reason string
	// ("blocked: ...", "rate-limited: ...").
	Message string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("nostr: relay %s rejected event %s: %s", e.Relay, ShortID(e.EventID), e.Message)
}

// IsRelayError extracts a *RelayError from an error chain.
func IsRelayError(err error) (*RelayError, bool) {
	var relayError *RelayError
	if errors.As(err, &relayError) {
		return relayError, true
	}
	return nil, false
}
