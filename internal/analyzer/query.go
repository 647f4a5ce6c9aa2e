// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package analyzer

import (
	"fmt"
	"sort"
	"time"

	"github.com/affinitylabs/affinity/internal/metrics"
)

// Queries answers recommendation reads over the projection store.
type Queries struct {
	store *Store

	// neighbors is the k of the weighted kNN prediction.
	neighbors int
}

// NewQueries creates the query layer. neighbors caps how many of a
// candidate's most similar interacted items contribute to its predicted
// score.
func NewQueries(store *Store, neighbors int) *Queries {
	if neighbors < 1 {
		neighbors = 5
	}
	return &Queries{store: store, neighbors: neighbors}
}

// SimilarItems returns up to limit items most similar to itemID, ordered by
// score descending with item id ascending as the tiebreak. When userID is
// positive, items the user has already interacted with are excluded.
// Unknown items and users yield an empty slice, never an error.
func (q *Queries) SimilarItems(itemID, userID int64, limit int) ([]ScoredItem, error) {
	defer observe("similar_items", time.Now())

	neighbors, err := q.store.Neighbors(itemID)
	if err != nil {
		return nil, fmt.Errorf("similar items for %d: %w", itemID, err)
	}

	if userID > 0 {
		history, err := q.store.UserInteractions(userID)
		if err != nil {
			return nil, fmt.Errorf("similar items for %d: %w", itemID, err)
		}
		if len(history) > 0 {
			interacted := make(map[int64]struct{}, len(history))
			for _, h := range history {
				interacted[h.ItemID] = struct{}{}
			}
			kept := neighbors[:0]
			for _, n := range neighbors {
				if _, seen := interacted[n.ItemID]; !seen {
					kept = append(kept, n)
				}
			}
			neighbors = kept
		}
	}

	sortScored(neighbors)
	return truncate(neighbors, limit), nil
}

// RecommendationsForUser predicts scores for items the user has not
// interacted with. The user's limit most recently updated interactions seed
// the candidate set (the union of their similar items, minus the history);
// each candidate's prediction averages the user's interaction weights over
// the candidate's k most similar interacted items, weighted by similarity,
// considering the full history rather than just the seeds.
//
// A user with no history gets an empty result, never an error.
func (q *Queries) RecommendationsForUser(userID int64, limit int) ([]ScoredItem, error) {
	defer observe("user_recommendations", time.Now())

	history, err := q.store.UserInteractions(userID)
	if err != nil {
		return nil, fmt.Errorf("recommendations for user %d: %w", userID, err)
	}
	if len(history) == 0 {
		return nil, nil
	}

	interacted := make(map[int64]float64, len(history))
	for _, h := range history {
		interacted[h.ItemID] = h.Weight
	}

	candidates := make(map[int64]struct{})
	for _, seed := range recentSeeds(history, limit) {
		neighbors, err := q.store.Neighbors(seed.ItemID)
		if err != nil {
			return nil, fmt.Errorf("recommendations for user %d: %w", userID, err)
		}
		for _, n := range neighbors {
			if _, seen := interacted[n.ItemID]; !seen {
				candidates[n.ItemID] = struct{}{}
			}
		}
	}

	out := make([]ScoredItem, 0, len(candidates))
	for candidate := range candidates {
		score, ok, err := q.predict(candidate, history, interacted)
		if err != nil {
			return nil, fmt.Errorf("recommendations for user %d: %w", userID, err)
		}
		if ok {
			out = append(out, ScoredItem{ItemID: candidate, Score: score})
		}
	}

	sortScored(out)
	return truncate(out, limit), nil
}

// recentSeeds returns the limit most recently updated interactions, newest
// first, item id ascending on ties.
func recentSeeds(history []Interaction, limit int) []Interaction {
	seeds := make([]Interaction, len(history))
	copy(seeds, history)
	sort.Slice(seeds, func(i, j int) bool {
		if seeds[i].UpdatedAt != seeds[j].UpdatedAt {
			return seeds[i].UpdatedAt > seeds[j].UpdatedAt
		}
		return seeds[i].ItemID < seeds[j].ItemID
	})
	if limit > 0 && len(seeds) > limit {
		seeds = seeds[:limit]
	}
	return seeds
}

// predict computes the candidate's weighted kNN score against the user's
// history. ok is false when no interacted item has a positive similarity to
// the candidate.
func (q *Queries) predict(candidate int64, history []Interaction, weights map[int64]float64) (float64, bool, error) {
	type neighbor struct {
		itemID     int64
		similarity float64
	}

	neighbors := make([]neighbor, 0, len(history))
	for _, h := range history {
		sim, found, err := q.store.Similarity(candidate, h.ItemID)
		if err != nil {
			return 0, false, err
		}
		if found && sim > 0 {
			neighbors = append(neighbors, neighbor{itemID: h.ItemID, similarity: sim})
		}
	}
	if len(neighbors) == 0 {
		return 0, false, nil
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].similarity != neighbors[j].similarity {
			return neighbors[i].similarity > neighbors[j].similarity
		}
		return neighbors[i].itemID < neighbors[j].itemID
	})
	if len(neighbors) > q.neighbors {
		neighbors = neighbors[:q.neighbors]
	}

	var num, den float64
	for _, n := range neighbors {
		num += n.similarity * weights[n.itemID]
		den += n.similarity
	}
	return num / den, true, nil
}

// InteractionCounts returns per-item interaction weight sums. Unknown items
// map to zero.
func (q *Queries) InteractionCounts(itemIDs []int64) (map[int64]float64, error) {
	defer observe("interaction_counts", time.Now())

	out := make(map[int64]float64, len(itemIDs))
	for _, itemID := range itemIDs {
		sum, err := q.store.ItemWeightSum(itemID)
		if err != nil {
			return nil, fmt.Errorf("interaction count for %d: %w", itemID, err)
		}
		out[itemID] = sum
	}
	return out, nil
}

func observe(query string, start time.Time) {
	metrics.RecordQuery(query, time.Since(start))
}

// sortScored orders by score descending, item id ascending on ties, so
// results are deterministic.
func sortScored(items []ScoredItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ItemID < items[j].ItemID
	})
}

func truncate(items []ScoredItem, limit int) []ScoredItem {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
