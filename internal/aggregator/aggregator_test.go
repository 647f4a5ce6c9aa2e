// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package aggregator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/affinitylabs/affinity/internal/stream"
)

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	sims   []stream.ItemSimilarity
}

func (p *capturePublisher) Publish(_ context.Context, topic string, msg *message.Message) error {
	sim, err := stream.UnmarshalSimilarity(msg.Payload)
	if err != nil {
		return fmt.Errorf("published payload does not decode: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.sims = append(p.sims, *sim)
	return nil
}

func (p *capturePublisher) last() stream.ItemSimilarity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sims[len(p.sims)-1]
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sims)
}

func newTestAggregator(maxUserItems int) (*Aggregator, *MemoryState, *capturePublisher) {
	state := NewMemoryState(4, maxUserItems)
	pub := &capturePublisher{}
	return New(state, pub, "similarity.pair"), state, pub
}

func apply(t *testing.T, agg *Aggregator, userID, itemID int64, action stream.ActionType) {
	t.Helper()
	a := &stream.UserAction{
		EventID:    fmt.Sprintf("ev-%d-%d-%s", userID, itemID, action),
		UserID:     userID,
		ItemID:     itemID,
		ActionType: action,
		Timestamp:  1700000000000,
	}
	if err := agg.Apply(context.Background(), a); err != nil {
		t.Fatalf("Apply(%d, %d, %s) error: %v", userID, itemID, action, err)
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// The walkthrough scenario: one user views item 1, likes item 1, then views
// item 2. The pair ends at min-sum 0.4 with item sums 1.0 and 0.4, scoring
// 0.4 / (sqrt(1.0) * sqrt(0.4)) = sqrt(0.4) = 0.632...
func TestSingleUserScenario(t *testing.T) {
	agg, state, pub := newTestAggregator(0)

	apply(t, agg, 1, 1, stream.ActionView)
	if got := state.ItemSum(1); !almostEqual(got, 0.4) {
		t.Fatalf("ItemSum(1) after view = %v, want 0.4", got)
	}
	if pub.count() != 0 {
		t.Fatalf("first action emitted %d similarities, want 0", pub.count())
	}

	apply(t, agg, 1, 1, stream.ActionLike)
	if got := state.ItemSum(1); !almostEqual(got, 1.0) {
		t.Fatalf("ItemSum(1) after like = %v, want 1.0", got)
	}
	if got := state.Weight(1, 1); !almostEqual(got, 1.0) {
		t.Fatalf("Weight(1,1) = %v, want 1.0", got)
	}

	apply(t, agg, 1, 2, stream.ActionView)
	if got := state.PairSum(1, 2); !almostEqual(got, 0.4) {
		t.Fatalf("PairSum(1,2) = %v, want 0.4", got)
	}
	if pub.count() != 1 {
		t.Fatalf("emitted %d similarities, want 1", pub.count())
	}

	sim := pub.last()
	want := 0.4 / (math.Sqrt(1.0) * math.Sqrt(0.4))
	if !almostEqual(sim.Score, want) {
		t.Errorf("score = %v, want %v", sim.Score, want)
	}
	if sim.ItemA != 1 || sim.ItemB != 2 {
		t.Errorf("pair = (%d,%d), want canonical (1,2)", sim.ItemA, sim.ItemB)
	}
	if pub.topics[0] != "similarity.pair.1-2" {
		t.Errorf("topic = %q, want similarity.pair.1-2", pub.topics[0])
	}
}

func TestWeightsNeverRegress(t *testing.T) {
	agg, state, pub := newTestAggregator(0)

	apply(t, agg, 1, 1, stream.ActionLike)
	apply(t, agg, 1, 2, stream.ActionRegister)
	emitted := pub.count()

	// A weaker action on an already-stronger item must change nothing.
	apply(t, agg, 1, 1, stream.ActionView)
	apply(t, agg, 1, 2, stream.ActionRegister)

	if got := state.Weight(1, 1); !almostEqual(got, 1.0) {
		t.Errorf("Weight(1,1) = %v, want 1.0", got)
	}
	if got := state.ItemSum(1); !almostEqual(got, 1.0) {
		t.Errorf("ItemSum(1) = %v, want 1.0", got)
	}
	if got := state.PairSum(1, 2); !almostEqual(got, 0.8) {
		t.Errorf("PairSum(1,2) = %v, want 0.8", got)
	}
	if pub.count() != emitted {
		t.Errorf("discarded actions emitted %d extra similarities", pub.count()-emitted)
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	sequence := func(agg *Aggregator) {
		apply(t, agg, 1, 1, stream.ActionView)
		apply(t, agg, 1, 2, stream.ActionLike)
		apply(t, agg, 2, 1, stream.ActionRegister)
		apply(t, agg, 2, 3, stream.ActionView)
		apply(t, agg, 1, 1, stream.ActionLike)
	}

	agg, state, _ := newTestAggregator(0)
	sequence(agg)

	wantItem1 := state.ItemSum(1)
	wantItem2 := state.ItemSum(2)
	wantPair12 := state.PairSum(1, 2)
	wantPair13 := state.PairSum(1, 3)

	// Replaying the full prefix must be a sequence of no-ops.
	sequence(agg)

	if got := state.ItemSum(1); !almostEqual(got, wantItem1) {
		t.Errorf("ItemSum(1) after replay = %v, want %v", got, wantItem1)
	}
	if got := state.ItemSum(2); !almostEqual(got, wantItem2) {
		t.Errorf("ItemSum(2) after replay = %v, want %v", got, wantItem2)
	}
	if got := state.PairSum(1, 2); !almostEqual(got, wantPair12) {
		t.Errorf("PairSum(1,2) after replay = %v, want %v", got, wantPair12)
	}
	if got := state.PairSum(1, 3); !almostEqual(got, wantPair13) {
		t.Errorf("PairSum(1,3) after replay = %v, want %v", got, wantPair13)
	}
}

func TestFullOverlapScoresOne(t *testing.T) {
	agg, _, pub := newTestAggregator(0)

	// Two users, both like both items: min sums equal the item sums and the
	// score is exactly 1.
	apply(t, agg, 1, 1, stream.ActionLike)
	apply(t, agg, 1, 2, stream.ActionLike)
	apply(t, agg, 2, 1, stream.ActionLike)
	apply(t, agg, 2, 2, stream.ActionLike)

	sim := pub.last()
	if !almostEqual(sim.Score, 1.0) {
		t.Errorf("score = %v, want 1.0", sim.Score)
	}
}

func TestScoresStayBounded(t *testing.T) {
	agg, _, pub := newTestAggregator(0)

	actions := []stream.ActionType{stream.ActionView, stream.ActionRegister, stream.ActionLike}
	for user := int64(1); user <= 5; user++ {
		for item := int64(1); item <= 4; item++ {
			apply(t, agg, user, item, actions[(user+item)%3])
		}
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for i, sim := range pub.sims {
		if sim.Score < 0 || sim.Score > 1 {
			t.Errorf("sims[%d] score = %v out of [0,1]", i, sim.Score)
		}
		if sim.ItemA >= sim.ItemB {
			t.Errorf("sims[%d] pair (%d,%d) not canonical", i, sim.ItemA, sim.ItemB)
		}
	}
}

func TestFanoutCapSkipsPairUpdates(t *testing.T) {
	agg, state, pub := newTestAggregator(2)

	apply(t, agg, 1, 1, stream.ActionLike)
	apply(t, agg, 1, 2, stream.ActionLike)
	emitted := pub.count()

	// Third distinct item exceeds the cap: it still counts into its own
	// item sum but joins no pairs.
	apply(t, agg, 1, 3, stream.ActionLike)

	if got := state.ItemSum(3); !almostEqual(got, 1.0) {
		t.Errorf("ItemSum(3) = %v, want 1.0", got)
	}
	if got := state.PairSum(1, 3); got != 0 {
		t.Errorf("PairSum(1,3) = %v, want 0", got)
	}
	if got := state.PairSum(2, 3); got != 0 {
		t.Errorf("PairSum(2,3) = %v, want 0", got)
	}
	if pub.count() != emitted {
		t.Errorf("capped item emitted %d similarities", pub.count()-emitted)
	}

	// Upgrading an item already inside the cap still fans out.
	apply(t, agg, 1, 1, stream.ActionLike) // no-op, same weight
	apply(t, agg, 2, 1, stream.ActionView)
	apply(t, agg, 2, 2, stream.ActionView)
	if got := state.PairSum(1, 2); !almostEqual(got, 1.0+0.4) {
		t.Errorf("PairSum(1,2) = %v, want 1.4", got)
	}
}

func TestCappedItemStaysExcludedOnUpgrade(t *testing.T) {
	agg, state, pub := newTestAggregator(1)

	apply(t, agg, 1, 1, stream.ActionLike)
	apply(t, agg, 1, 2, stream.ActionView) // past the cap, joins no pairs
	emitted := pub.count()

	// A later, stronger action on the capped item must not fan out a
	// partial delta: the pair sum stays at the excluded zero, not the
	// 0.6 increment and not the uncapped 1.0.
	apply(t, agg, 1, 2, stream.ActionLike)

	if got := state.Weight(1, 2); !almostEqual(got, 1.0) {
		t.Errorf("Weight(1,2) = %v, want 1.0", got)
	}
	if got := state.ItemSum(2); !almostEqual(got, 1.0) {
		t.Errorf("ItemSum(2) = %v, want 1.0", got)
	}
	if got := state.PairSum(1, 2); got != 0 {
		t.Errorf("PairSum(1,2) = %v, want 0", got)
	}
	if pub.count() != emitted {
		t.Errorf("capped item emitted %d similarities", pub.count()-emitted)
	}
}

func TestFanoutSkipsCappedItemsFromBothSides(t *testing.T) {
	agg, state, _ := newTestAggregator(1)

	apply(t, agg, 1, 1, stream.ActionView)
	apply(t, agg, 1, 2, stream.ActionLike) // past the cap

	// Upgrading the in-cap item must not pair it with the capped one,
	// whose baseline contribution was never added.
	apply(t, agg, 1, 1, stream.ActionLike)

	if got := state.PairSum(1, 2); got != 0 {
		t.Errorf("PairSum(1,2) = %v, want 0", got)
	}
	if got := state.ItemSum(1); !almostEqual(got, 1.0) {
		t.Errorf("ItemSum(1) = %v, want 1.0", got)
	}
}

// Folding actions one at a time must land on the same aggregates as a
// from-scratch recomputation over the final weights.
func TestIncrementalMatchesRecompute(t *testing.T) {
	agg, state, _ := newTestAggregator(0)

	type step struct {
		user, item int64
		action     stream.ActionType
	}
	steps := []step{
		{1, 1, stream.ActionView}, {1, 2, stream.ActionLike},
		{2, 2, stream.ActionRegister}, {2, 1, stream.ActionView},
		{1, 1, stream.ActionRegister}, {3, 3, stream.ActionLike},
		{3, 1, stream.ActionLike}, {2, 3, stream.ActionView},
		{1, 3, stream.ActionView}, {1, 1, stream.ActionLike},
		{2, 1, stream.ActionLike}, {3, 2, stream.ActionView},
	}
	for _, s := range steps {
		apply(t, agg, s.user, s.item, s.action)
	}

	// Brute-force recompute from the surviving per-user weights.
	weights := make(map[int64]map[int64]float64)
	for _, s := range steps {
		w, err := s.action.Weight()
		if err != nil {
			t.Fatal(err)
		}
		if weights[s.user] == nil {
			weights[s.user] = make(map[int64]float64)
		}
		if w > weights[s.user][s.item] {
			weights[s.user][s.item] = w
		}
	}

	itemSums := make(map[int64]float64)
	pairSums := make(map[[2]int64]float64)
	for _, items := range weights {
		for item, w := range items {
			itemSums[item] += w
			for other, ow := range items {
				if other <= item {
					continue
				}
				pairSums[[2]int64{item, other}] += math.Min(w, ow)
			}
		}
	}

	for item, want := range itemSums {
		if got := state.ItemSum(item); !almostEqual(got, want) {
			t.Errorf("ItemSum(%d) = %v, recompute = %v", item, got, want)
		}
	}
	for pair, want := range pairSums {
		if got := state.PairSum(pair[0], pair[1]); !almostEqual(got, want) {
			t.Errorf("PairSum(%d,%d) = %v, recompute = %v", pair[0], pair[1], got, want)
		}
	}
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	agg, _, pub := newTestAggregator(0)

	msg := message.NewMessage("bad", []byte("{{not json"))
	if err := agg.HandleMessage(context.Background(), msg); err != nil {
		t.Errorf("HandleMessage() error = %v, want nil for malformed payload", err)
	}
	if pub.count() != 0 {
		t.Errorf("malformed message emitted %d similarities", pub.count())
	}
}

func TestConcurrentUsersKeepSumsConsistent(t *testing.T) {
	agg, state, _ := newTestAggregator(0)

	const users = 16
	var wg sync.WaitGroup
	for u := int64(1); u <= users; u++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			steps := []struct {
				item   int64
				action stream.ActionType
			}{
				{1, stream.ActionView},
				{2, stream.ActionLike},
				{1, stream.ActionLike},
			}
			for _, s := range steps {
				a := &stream.UserAction{
					EventID:    fmt.Sprintf("ev-%d-%d-%s", user, s.item, s.action),
					UserID:     user,
					ItemID:     s.item,
					ActionType: s.action,
					Timestamp:  1700000000000,
				}
				if err := agg.Apply(context.Background(), a); err != nil {
					t.Errorf("Apply(%d, %d, %s) error: %v", user, s.item, s.action, err)
				}
			}
		}(u)
	}
	wg.Wait()

	if got := state.ItemSum(1); !almostEqual(got, users*1.0) {
		t.Errorf("ItemSum(1) = %v, want %v", got, float64(users))
	}
	if got := state.ItemSum(2); !almostEqual(got, users*1.0) {
		t.Errorf("ItemSum(2) = %v, want %v", got, float64(users))
	}
	if got := state.PairSum(1, 2); !almostEqual(got, users*1.0) {
		t.Errorf("PairSum(1,2) = %v, want %v", got, float64(users))
	}
}
