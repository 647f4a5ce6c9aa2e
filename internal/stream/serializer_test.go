// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package stream

import (
	"testing"
)

func TestActionRoundTrip(t *testing.T) {
	in := &UserAction{
		EventID:    "e1",
		UserID:     7,
		ItemID:     42,
		ActionType: ActionRegister,
		Timestamp:  1700000000000,
	}

	data, err := MarshalAction(in)
	if err != nil {
		t.Fatalf("MarshalAction() error: %v", err)
	}

	out, err := UnmarshalAction(data)
	if err != nil {
		t.Fatalf("UnmarshalAction() error: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestMarshalActionRejectsInvalid(t *testing.T) {
	_, err := MarshalAction(&UserAction{UserID: 1, ItemID: 1, ActionType: "share", Timestamp: 1})
	if err == nil {
		t.Error("MarshalAction() = nil error for invalid record")
	}
}

func TestUnmarshalActionRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "{{"},
		{"unknown action type", `{"event_id":"e","user_id":1,"item_id":2,"action_type":"share","timestamp":1}`},
		{"missing fields", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnmarshalAction([]byte(tt.payload)); err == nil {
				t.Error("UnmarshalAction() = nil error, want schema violation")
			}
		})
	}
}

func TestSimilarityRoundTrip(t *testing.T) {
	in := NewItemSimilarity(5, 2, 0.6324555320336759, 1700000000000)

	data, err := MarshalSimilarity(&in)
	if err != nil {
		t.Fatalf("MarshalSimilarity() error: %v", err)
	}

	out, err := UnmarshalSimilarity(data)
	if err != nil {
		t.Fatalf("UnmarshalSimilarity() error: %v", err)
	}
	if *out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestUnmarshalSimilarityRejectsNonCanonicalPair(t *testing.T) {
	payload := `{"item_a":9,"item_b":3,"score":0.5,"timestamp":1}`
	if _, err := UnmarshalSimilarity([]byte(payload)); err == nil {
		t.Error("UnmarshalSimilarity() = nil error for item_a >= item_b")
	}
}
