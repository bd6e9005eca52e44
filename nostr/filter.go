// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package nostr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Filter is a conjunctive predicate over events: every populated
// constraint must hold for an event to match. An empty Filter matches
// everything.
//
// The same Filter value serves two roles: marshaled into a REQ frame
// it tells relays which events to send, and [Filter.Matches] evaluates
// the identical predicate locally when routing inbound events to
// consumers. Keeping both roles on one type prevents the relay-side
// query and the client-side routing from drifting apart.
type Filter struct {
	// IDs restricts to events whose ID is in the set.
	IDs []string

	// Authors restricts to events whose PubKey is in the set.
	Authors []string

	// Kinds restricts to events whose Kind is in the set.
	Kinds []int

	// Tags maps a single-letter tag name ("p", "e", "t") to accepted
	// first values. An event matches a tag constraint when it carries
	// at least one listed value for that tag name.
	Tags map[string][]string

	// Since and Until bound CreatedAt inclusively. Zero means
	// unbounded.
	Since int64
	Until int64

	// Limit caps the number of stored events a relay returns before
	// EOSE. It has no effect on local matching.
	Limit int
}

// Matches reports whether the event satisfies every populated
// constraint.
func (f Filter) Matches(event *Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, event.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, event.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, event.Kind) {
		return false
	}
	for name, values := range f.Tags {
		if !eventHasAnyTagValue(event, name, values) {
			return false
		}
	}
	if f.Since != 0 && event.CreatedAt < f.Since {
		return false
	}
	if f.Until != 0 && event.CreatedAt > f.Until {
		return false
	}
	return true
}

// MarshalJSON produces the relay query shape: tag constraints appear
// as "#<name>" keys alongside the standard fields.
func (f Filter) MarshalJSON() ([]byte, error) {
	object := make(map[string]any)
	if len(f.IDs) > 0 {
		object["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		object["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		object["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		object["#"+name] = values
	}
	if f.Since != 0 {
		object["since"] = f.Since
	}
	if f.Until != 0 {
		object["until"] = f.Until
	}
	if f.Limit != 0 {
		object["limit"] = f.Limit
	}
	return json.Marshal(object)
}

// UnmarshalJSON parses the relay query shape, collecting "#<name>"
// keys into Tags.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw struct {
		IDs     []string `json:"ids"`
		Authors []string `json:"authors"`
		Kinds   []int    `json:"kinds"`
		Since   int64    `json:"since"`
		Until   int64    `json:"until"`
		Limit   int      `json:"limit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("nostr: parsing filter: %w", err)
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return fmt.Errorf("nostr: parsing filter: %w", err)
	}

	*f = Filter{
		IDs:     raw.IDs,
		Authors: raw.Authors,
		Kinds:   raw.Kinds,
		Since:   raw.Since,
		Until:   raw.Until,
		Limit:   raw.Limit,
	}
	for key, value := range object {
		if !strings.HasPrefix(key, "#") || len(key) < 2 {
			continue
		}
		var values []string
		if err := json.Unmarshal(value, &values); err != nil {
			return fmt.Errorf("nostr: parsing filter tag %q: %w", key, err)
		}
		if f.Tags == nil {
			f.Tags = make(map[string][]string)
		}
		f.Tags[key[1:]] = values
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, candidate := range haystack {
		if candidate == needle {
			return true
		}
	}
	return false
}

func containsInt(haystack []int, needle int) bool {
	for _, candidate := range haystack {
		if candidate == needle {
			return true
		}
	}
	return false
}

func eventHasAnyTagValue(event *Event, name string, values []string) bool {
	for _, value := range values {
		if event.HasTagValue(name, value) {
			return true
		}
	}
	return false
}
