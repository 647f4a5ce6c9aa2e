// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package stream

import (
	"testing"
)

func TestActionTypeWeight(t *testing.T) {
	tests := []struct {
		action  ActionType
		want    float64
		wantErr bool
	}{
		{ActionView, 0.4, false},
		{ActionRegister, 0.8, false},
		{ActionLike, 1.0, false},
		{ActionType("share"), 0, true},
		{ActionType(""), 0, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			got, err := tt.action.Weight()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Weight() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Weight() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserActionValidate(t *testing.T) {
	valid := UserAction{
		EventID:    "4ac2d1f0-8f5c-4fb3-9a67-0a4ee3f0bb42",
		UserID:     7,
		ItemID:     42,
		ActionType: ActionLike,
		Timestamp:  1700000000000,
	}

	tests := []struct {
		name    string
		mutate  func(*UserAction)
		wantErr bool
	}{
		{"valid", func(a *UserAction) {}, false},
		{"missing event id", func(a *UserAction) { a.EventID = "" }, true},
		{"zero user", func(a *UserAction) { a.UserID = 0 }, true},
		{"negative item", func(a *UserAction) { a.ItemID = -1 }, true},
		{"unknown action", func(a *UserAction) { a.ActionType = "share" }, true},
		{"zero timestamp", func(a *UserAction) { a.Timestamp = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mutate(&a)
			if err := a.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUserActionSubject(t *testing.T) {
	a := UserAction{UserID: 123}
	if got := a.Subject("actions.user"); got != "actions.user.123" {
		t.Errorf("Subject() = %q, want actions.user.123", got)
	}
}

func TestNewItemSimilarityCanonicalOrder(t *testing.T) {
	s := NewItemSimilarity(9, 3, 0.5, 1700000000000)
	if s.ItemA != 3 || s.ItemB != 9 {
		t.Errorf("pair = (%d,%d), want (3,9)", s.ItemA, s.ItemB)
	}
	if got := s.PairKey(); got != "3:9" {
		t.Errorf("PairKey() = %q, want 3:9", got)
	}
	if got := s.Subject("similarity.pair"); got != "similarity.pair.3-9" {
		t.Errorf("Subject() = %q, want similarity.pair.3-9", got)
	}
}

func TestItemSimilarityValidate(t *testing.T) {
	tests := []struct {
		name    string
		sim     ItemSimilarity
		wantErr bool
	}{
		{"valid", ItemSimilarity{ItemA: 1, ItemB: 2, Score: 0.5, Timestamp: 1}, false},
		{"score one", ItemSimilarity{ItemA: 1, ItemB: 2, Score: 1.0, Timestamp: 1}, false},
		{"equal pair", ItemSimilarity{ItemA: 2, ItemB: 2, Score: 0.5, Timestamp: 1}, true},
		{"reversed pair", ItemSimilarity{ItemA: 3, ItemB: 2, Score: 0.5, Timestamp: 1}, true},
		{"negative score", ItemSimilarity{ItemA: 1, ItemB: 2, Score: -0.1, Timestamp: 1}, true},
		{"score above one", ItemSimilarity{ItemA: 1, ItemB: 2, Score: 1.1, Timestamp: 1}, true},
		{"zero item", ItemSimilarity{ItemA: 0, ItemB: 2, Score: 0.5, Timestamp: 1}, true},
		{"zero timestamp", ItemSimilarity{ItemA: 1, ItemB: 2, Score: 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.sim.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPairKey(t *testing.T) {
	if got := PairKey(10, 2); got != "2:10" {
		t.Errorf("PairKey(10,2) = %q, want 2:10", got)
	}
	if PairKey(2, 10) != PairKey(10, 2) {
		t.Error("PairKey is not symmetric")
	}
}
