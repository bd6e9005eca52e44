// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package nostr

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestFilterMatches(t *testing.T) {
	note := &Event{
		ID:        "note-id",
		PubKey:    "alice",
		CreatedAt: 1767225600,
		Kind:      KindTextNote,
		Tags:      [][]string{{"t", "IndieNet"}, {"p", "bob"}},
		Content:   "a tagged note",
	}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches everything", Filter{}, true},
		{"id match", Filter{IDs: []string{"other", "note-id"}}, true},
		{"id miss", Filter{IDs: []string{"other"}}, false},
		{"author match", Filter{Authors: []string{"alice"}}, true},
		{"author miss", Filter{Authors: []string{"carol"}}, false},
		{"kind match", Filter{Kinds: []int{KindProfileMetadata, KindTextNote}}, true},
		{"kind miss", Filter{Kinds: []int{KindEncryptedDirectMessage}}, false},
		{"topic tag match", Filter{Tags: map[string][]string{"t": {"IndieNet"}}}, true},
		{"topic tag miss", Filter{Tags: map[string][]string{"t": {"elsewhere"}}}, false},
		{"mention tag match", Filter{Tags: map[string][]string{"p": {"bob", "dave"}}}, true},
		{"since inclusive", Filter{Since: 1767225600}, true},
		{"since excludes older", Filter{Since: 1767225601}, false},
		{"until inclusive", Filter{Until: 1767225600}, true},
		{"until excludes newer", Filter{Until: 1767225599}, false},
		{
			"conjunction requires all constraints",
			Filter{Kinds: []int{KindTextNote}, Tags: map[string][]string{"t": {"elsewhere"}}},
			false,
		},
		{
			"discovery shape",
			Filter{Kinds: []int{KindTextNote}, Tags: map[string][]string{"t": {"IndieNet"}}},
			true,
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.filter.Matches(note); got != testCase.want {
				t.Fatalf("Matches = %v, want %v", got, testCase.want)
			}
		})
	}
}

// A discovery subscription must pick tagged notes out of a stream
// that also carries untagged notes and other kinds.
func TestFilterSeparatesMixedStream(t *testing.T) {
	discovery := Filter{
		Kinds: []int{KindTextNote},
		Tags:  map[string][]string{"t": {"IndieNet"}},
	}
	stream := []*Event{
		{Kind: KindTextNote, Tags: [][]string{{"t", "IndieNet"}}, Content: "wanted"},
		{Kind: KindTextNote, Tags: [][]string{}, Content: "untagged"},
		{Kind: KindProfileMetadata, Tags: [][]string{{"t", "IndieNet"}}, Content: "wrong kind"},
		{Kind: KindTextNote, Tags: [][]string{{"t", "other"}, {"t", "IndieNet"}}, Content: "also wanted"},
	}

	var matched []string
	for _, event := range stream {
		if discovery.Matches(event) {
			matched = append(matched, event.Content)
		}
	}
	if !reflect.DeepEqual(matched, []string{"wanted", "also wanted"}) {
		t.Fatalf("matched %v, want only the tagged text notes", matched)
	}
}

func TestFilterJSONRoundTrip(t *testing.T) {
	original := Filter{
		Authors: []string{"alice"},
		Kinds:   []int{KindTextNote, KindEncryptedDirectMessage},
		Tags:    map[string][]string{"t": {"IndieNet"}, "p": {"bob"}},
		Since:   1700000000,
		Limit:   50,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// Tag constraints travel as "#"-prefixed keys.
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		t.Fatalf("Unmarshal into map: %v", err)
	}
	for _, key := range []string{"#t", "#p", "authors", "kinds", "since", "limit"} {
		if _, present := object[key]; !present {
			t.Fatalf("marshaled filter %s lacks key %q", data, key)
		}
	}
	if _, present := object["until"]; present {
		t.Fatal("marshaled filter carries an unset field")
	}

	var restored Filter
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(restored, original) {
		t.Fatalf("round trip changed the filter:\n got %+v\nwant %+v", restored, original)
	}
}

func TestFilterUnmarshalRejectsMalformedTags(t *testing.T) {
	var filter Filter
	if err := json.Unmarshal([]byte(`{"#t": "not-an-array"}`), &filter); err == nil {
		t.Fatal("accepted a tag constraint that is not an array")
	}
}
