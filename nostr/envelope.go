// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package nostr

import (
	"encoding/json"
	"fmt"
)

// Frame labels for the client/relay envelope arrays.
const (
	LabelEvent  = "EVENT"
	LabelReq    = "REQ"
	LabelClose  = "CLOSE"
	LabelOK     = "OK"
	LabelEOSE   = "EOSE"
	LabelNotice = "NOTICE"
)

// EventFrame builds the client → relay frame publishing a signed
// event: ["EVENT", <event>].
func EventFrame(event *Event) ([]byte, error) {
	frame, err := json.Marshal([]any{LabelEvent, event})
	if err != nil {
		return nil, fmt.Errorf("nostr: building EVENT frame: %w", err)
	}
	return frame, nil
}

// ReqFrame builds the client → relay frame opening a subscription:
// ["REQ", <subID>, <filter>...].
func ReqFrame(subscriptionID string, filters ...Filter) ([]byte, error) {
	parts := make([]any, 0, 2+len(filters))
	parts = append(parts, LabelReq, subscriptionID)
	for _, filter := range filters {
		parts = append(parts, filter)
	}
	frame, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("nostr: building REQ frame: %w", err)
	}
	return frame, nil
}

// CloseFrame builds the client → relay frame cancelling a
// subscription: ["CLOSE", <subID>].
func CloseFrame(subscriptionID string) ([]byte, error) {
	frame, err := json.Marshal([]any{LabelClose, subscriptionID})
	if err != nil {
		return nil, fmt.Errorf("nostr: building CLOSE frame: %w", err)
	}
	return frame, nil
}

// EventEnvelope is a relay → client EVENT frame: an event delivered
// for a subscription.
type EventEnvelope struct {
	SubscriptionID string
	Event          Event
}

// OKEnvelope is a relay → client OK frame: the relay's verdict on a
// published event. A rejection is diagnostic, not an error — publish
// is best-effort across relays.
type OKEnvelope struct {
	EventID  string
	Accepted bool
	Message  string
}

// EOSEEnvelope is a relay → client EOSE frame: the end of stored
// results for a subscription. The live stream continues after it.
type EOSEEnvelope struct {
	SubscriptionID string
}

// NoticeEnvelope is a relay → client NOTICE frame: a relay-level
// diagnostic message. Logged, never surfaced as an error.
type NoticeEnvelope struct {
	Message string
}

// ParseRelayMessage parses one relay → client frame into its typed
// envelope: *EventEnvelope, *OKEnvelope, *EOSEEnvelope, or
// *NoticeEnvelope. Malformed or unknown frames return an error; the
// caller logs and discards them without tearing down the connection.
func ParseRelayMessage(data []byte) (any, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("nostr: frame is not a JSON array: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("nostr: empty frame")
	}

	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return nil, fmt.Errorf("nostr: frame label is not a string: %w", err)
	}

	switch label {
	case LabelEvent:
		if len(parts) != 3 {
			return nil, fmt.Errorf("nostr: EVENT frame has %d elements, want 3", len(parts))
		}
		envelope := &EventEnvelope{}
		if err := json.Unmarshal(parts[1], &envelope.SubscriptionID); err != nil {
			return nil, fmt.Errorf("nostr: EVENT subscription id: %w", err)
		}
		if err := json.Unmarshal(parts[2], &envelope.Event); err != nil {
			return nil, fmt.Errorf("nostr: EVENT body: %w", err)
		}
		return envelope, nil

	case LabelOK:
		if len(parts) < 3 {
			return nil, fmt.Errorf("nostr: OK frame has %d elements, want at least 3", len(parts))
		}
		envelope := &OKEnvelope{}
		if err := json.Unmarshal(parts[1], &envelope.EventID); err != nil {
			return nil, fmt.Errorf("nostr: OK event id: %w", err)
		}
		if err := json.Unmarshal(parts[2], &envelope.Accepted); err != nil {
			return nil, fmt.Errorf("nostr: OK verdict: %w", err)
		}
		if len(parts) >= 4 {
			if err := json.Unmarshal(parts[3], &envelope.Message); err != nil {
				return nil, fmt.Errorf("nostr: OK message: %w", err)
			}
		}
		return envelope, nil

	case LabelEOSE:
		if len(parts) != 2 {
			return nil, fmt.Errorf("nostr: EOSE frame has %d elements, want 2", len(parts))
		}
		envelope := &EOSEEnvelope{}
		if err := json.Unmarshal(parts[1], &envelope.SubscriptionID); err != nil {
			return nil, fmt.Errorf("nostr: EOSE subscription id: %w", err)
		}
		return envelope, nil

	case LabelNotice:
		if len(parts) != 2 {
			return nil, fmt.Errorf("nostr: NOTICE frame has %d elements, want 2", len(parts))
		}
		envelope := &NoticeEnvelope{}
		if err := json.Unmarshal(parts[1], &envelope.Message); err != nil {
			return nil, fmt.Errorf("nostr: NOTICE message: %w", err)
		}
		return envelope, nil

	default:
		return nil, fmt.Errorf("nostr: unknown frame label %q", label)
	}
}
