// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package analyzer

import (
	"math"
	"testing"
)

func TestSimilarItemsOrdering(t *testing.T) {
	s := newTestStore(t)
	q := NewQueries(s, 5)

	mustUpsertSimilarity(t, s, 1, 2, 0.5, 100)
	mustUpsertSimilarity(t, s, 1, 3, 0.9, 100)
	mustUpsertSimilarity(t, s, 1, 4, 0.5, 100)
	mustUpsertSimilarity(t, s, 1, 5, 0.1, 100)

	got, err := q.SimilarItems(1, 0, 3)
	if err != nil {
		t.Fatal(err)
	}

	// Score descending, item id ascending on the 0.5 tie, truncated to 3.
	want := []ScoredItem{{ItemID: 3, Score: 0.9}, {ItemID: 2, Score: 0.5}, {ItemID: 4, Score: 0.5}}
	if len(got) != len(want) {
		t.Fatalf("SimilarItems(1) = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSimilarItemsExcludesUserHistory(t *testing.T) {
	s := newTestStore(t)
	q := NewQueries(s, 5)

	mustUpsertSimilarity(t, s, 1, 2, 0.9, 100)
	mustUpsertSimilarity(t, s, 1, 3, 0.5, 100)
	mustUpsertInteraction(t, s, 7, 2, 1.0, 100)

	got, err := q.SimilarItems(1, 7, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ItemID != 3 {
		t.Errorf("SimilarItems(1, user 7) = %+v, want only item 3", got)
	}

	// Without a user the full neighbor list comes back.
	got, err = q.SimilarItems(1, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("SimilarItems(1, no user) = %+v, want 2 items", got)
	}
}

func TestSimilarItemsUnknownItemIsEmpty(t *testing.T) {
	s := newTestStore(t)
	q := NewQueries(s, 5)

	got, err := q.SimilarItems(404, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("SimilarItems(404) = %+v, want empty", got)
	}
}

func TestRecommendationsWeightedKNN(t *testing.T) {
	s := newTestStore(t)
	q := NewQueries(s, 5)

	// User 1 liked item 1 and viewed item 2.
	mustUpsertInteraction(t, s, 1, 1, 1.0, 100)
	mustUpsertInteraction(t, s, 1, 2, 0.4, 100)

	mustUpsertSimilarity(t, s, 1, 3, 0.8, 100)
	mustUpsertSimilarity(t, s, 2, 3, 0.5, 100)
	mustUpsertSimilarity(t, s, 2, 4, 0.9, 100)

	got, err := q.RecommendationsForUser(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("RecommendationsForUser(1) = %+v, want 2 candidates", got)
	}

	// Item 3: (0.8*1.0 + 0.5*0.4) / (0.8+0.5). Item 4: (0.9*0.4) / 0.9.
	want3 := (0.8*1.0 + 0.5*0.4) / 1.3
	if got[0].ItemID != 3 || math.Abs(got[0].Score-want3) > 1e-9 {
		t.Errorf("top = %+v, want item 3 score %v", got[0], want3)
	}
	if got[1].ItemID != 4 || math.Abs(got[1].Score-0.4) > 1e-9 {
		t.Errorf("second = %+v, want item 4 score 0.4", got[1])
	}
}

func TestRecommendationsExcludeInteractedItems(t *testing.T) {
	s := newTestStore(t)
	q := NewQueries(s, 5)

	mustUpsertInteraction(t, s, 1, 1, 1.0, 100)
	mustUpsertInteraction(t, s, 1, 2, 0.4, 100)
	mustUpsertSimilarity(t, s, 1, 2, 0.9, 100)

	got, err := q.RecommendationsForUser(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("RecommendationsForUser(1) = %+v, want empty when all neighbors are interacted", got)
	}
}

func TestRecommendationsUnknownUserIsEmpty(t *testing.T) {
	s := newTestStore(t)
	q := NewQueries(s, 5)

	got, err := q.RecommendationsForUser(404, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("RecommendationsForUser(404) = %+v, want empty", got)
	}
}

func TestRecommendationsSeedFromMostRecentInteractions(t *testing.T) {
	s := newTestStore(t)
	q := NewQueries(s, 5)

	// Item 2 is the more recent interaction; with limit 1 only its
	// neighborhood seeds the candidate set.
	mustUpsertInteraction(t, s, 1, 1, 1.0, 100)
	mustUpsertInteraction(t, s, 1, 2, 0.4, 200)
	mustUpsertSimilarity(t, s, 1, 7, 0.9, 100)
	mustUpsertSimilarity(t, s, 2, 8, 0.5, 100)

	got, err := q.RecommendationsForUser(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ItemID != 8 {
		t.Errorf("RecommendationsForUser(1, limit 1) = %+v, want only item 8", got)
	}
}

func TestPredictionUsesOnlyTopKNeighbors(t *testing.T) {
	s := newTestStore(t)
	q := NewQueries(s, 2)

	mustUpsertInteraction(t, s, 1, 1, 1.0, 100)
	mustUpsertInteraction(t, s, 1, 2, 0.8, 100)
	mustUpsertInteraction(t, s, 1, 3, 0.4, 100)

	mustUpsertSimilarity(t, s, 1, 9, 0.9, 100)
	mustUpsertSimilarity(t, s, 2, 9, 0.5, 100)
	mustUpsertSimilarity(t, s, 3, 9, 0.7, 100)

	got, err := q.RecommendationsForUser(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ItemID != 9 {
		t.Fatalf("RecommendationsForUser(1) = %+v, want only item 9", got)
	}

	// With k=2 only the 0.9 and 0.7 neighbors contribute; the 0.5 one is
	// cut.
	want := (0.9*1.0 + 0.7*0.4) / (0.9 + 0.7)
	if math.Abs(got[0].Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", got[0].Score, want)
	}
}

func TestInteractionCounts(t *testing.T) {
	s := newTestStore(t)
	q := NewQueries(s, 5)

	mustUpsertInteraction(t, s, 1, 10, 0.4, 100)
	mustUpsertInteraction(t, s, 2, 10, 1.0, 100)
	mustUpsertInteraction(t, s, 1, 11, 0.8, 100)

	got, err := q.InteractionCounts([]int64{10, 11, 12})
	if err != nil {
		t.Fatal(err)
	}

	want := map[int64]float64{10: 1.4, 11: 0.8, 12: 0}
	for item, sum := range want {
		if math.Abs(got[item]-sum) > 1e-9 {
			t.Errorf("count[%d] = %v, want %v", item, got[item], sum)
		}
	}
}
