// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package aggregator

import (
	"sync"
)

// State is the aggregator's mutable view of interaction weights and the
// derived aggregates. Implementations must serialize Apply calls for the
// same user while allowing different users to proceed concurrently.
//
// The interface is deliberately narrow so the in-memory implementation can
// be swapped for a checkpointed or persistent one without touching the
// aggregation logic.
type State interface {
	// Apply records weight for (user, item). When the weight does not
	// increase the stored value the call is a no-op and applied is false.
	// Otherwise it returns the deltas' effect: the item's new weight sum
	// and one PairUpdate per other item in the user's history.
	Apply(userID, itemID int64, weight float64) (upd *Update, applied bool)

	// Weight returns the current interaction weight for (user, item),
	// 0 when absent.
	Weight(userID, itemID int64) float64

	// ItemSum returns the item's current weight sum, 0 when absent.
	ItemSum(itemID int64) float64

	// PairSum returns the min-weight sum of the unordered pair, 0 when
	// absent.
	PairSum(a, b int64) float64
}

// PairUpdate carries the post-delta sums needed to score one item pair.
type PairUpdate struct {
	OtherItem int64
	// PairSum is the pair's min-weight sum after the delta.
	PairSum float64
	// OtherSum is the other item's weight sum at update time.
	OtherSum float64
}

// Update is the result of one applied action.
type Update struct {
	UserID    int64
	ItemID    int64
	OldWeight float64
	NewWeight float64
	// ItemSum is the acted-on item's weight sum after the delta.
	ItemSum float64
	// Pairs lists the pair updates for the user's other items, empty when
	// the fan-out cap suppressed them.
	Pairs []PairUpdate
	// Capped is true when the item is excluded from pair updates because
	// it entered the user's history past the fan-out cap.
	Capped bool
}

type pairKey struct{ a, b int64 }

func canonicalPair(a, b int64) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// userShard holds the weight maps for the users hashing onto it. The shard
// mutex is what serializes the multi-step update for a single user. capped
// remembers which of a user's items entered past the fan-out cap.
type userShard struct {
	mu     sync.Mutex
	users  map[int64]map[int64]float64
	capped map[int64]map[int64]struct{}
}

// sumTable is a locked map of per-item weight sums. Deltas are commutative,
// so its lock is independent of the user shards.
type sumTable struct {
	mu   sync.RWMutex
	sums map[int64]float64
}

func (t *sumTable) add(item int64, delta float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sums[item] += delta
	return t.sums[item]
}

func (t *sumTable) get(item int64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sums[item]
}

// pairTable is a locked map of pair min-weight sums.
type pairTable struct {
	mu   sync.RWMutex
	sums map[pairKey]float64
}

func (t *pairTable) add(key pairKey, delta float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sums[key] += delta
	return t.sums[key]
}

func (t *pairTable) get(key pairKey) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sums[key]
}

// MemoryState is the in-memory State implementation. User weight maps are
// sharded by user id hash; one user's updates always serialize on its
// shard, users on different shards proceed in parallel. The aggregate
// tables take only commutative deltas, so their locking is independent and
// no increment can be lost across shards.
//
// The state is process-local and not durable. It is rebuilt on restart by
// replaying the action log from the beginning, which the monotonic Apply
// makes safe.
type MemoryState struct {
	shards       []*userShard
	items        sumTable
	pairs        pairTable
	maxUserItems int
}

// NewMemoryState creates a state with the given shard count and per-user
// fan-out cap.
func NewMemoryState(shards, maxUserItems int) *MemoryState {
	if shards < 1 {
		shards = 1
	}
	s := &MemoryState{
		shards:       make([]*userShard, shards),
		items:        sumTable{sums: make(map[int64]float64)},
		pairs:        pairTable{sums: make(map[pairKey]float64)},
		maxUserItems: maxUserItems,
	}
	for i := range s.shards {
		s.shards[i] = &userShard{
			users:  make(map[int64]map[int64]float64),
			capped: make(map[int64]map[int64]struct{}),
		}
	}
	return s
}

func (s *MemoryState) shardFor(userID int64) *userShard {
	return s.shards[uint64(userID)%uint64(len(s.shards))]
}

// Apply implements State. The five update steps run under the user's shard
// lock; aggregate deltas go to the independently locked tables.
func (s *MemoryState) Apply(userID, itemID int64, weight float64) (*Update, bool) {
	shard := s.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	userItems := shard.users[userID]
	if userItems == nil {
		userItems = make(map[int64]float64)
		shard.users[userID] = userItems
	}

	oldWeight := userItems[itemID]
	if weight <= oldWeight {
		return nil, false
	}
	newItem := oldWeight == 0

	userItems[itemID] = weight
	itemSum := s.items.add(itemID, weight-oldWeight)

	upd := &Update{
		UserID:    userID,
		ItemID:    itemID,
		OldWeight: oldWeight,
		NewWeight: weight,
		ItemSum:   itemSum,
	}

	// An item that entered past the cap still counts into the item sum
	// above but stays out of pair updates permanently, on both sides:
	// weight upgrades of the capped item are suppressed, and fan-out from
	// other items skips it. A pair sum is therefore either fully tracked
	// or not tracked at all, never a partial delta.
	cappedItems := shard.capped[userID]
	if s.maxUserItems > 0 {
		if _, excluded := cappedItems[itemID]; excluded {
			upd.Capped = true
			return upd, true
		}
		if newItem && len(userItems) > s.maxUserItems {
			if cappedItems == nil {
				cappedItems = make(map[int64]struct{})
				shard.capped[userID] = cappedItems
			}
			cappedItems[itemID] = struct{}{}
			upd.Capped = true
			return upd, true
		}
	}

	for other, otherWeight := range userItems {
		if other == itemID {
			continue
		}
		if _, excluded := cappedItems[other]; excluded {
			continue
		}
		oldMin := min(oldWeight, otherWeight)
		newMin := min(weight, otherWeight)
		pairSum := s.pairs.add(canonicalPair(itemID, other), newMin-oldMin)
		upd.Pairs = append(upd.Pairs, PairUpdate{
			OtherItem: other,
			PairSum:   pairSum,
			OtherSum:  s.items.get(other),
		})
	}

	return upd, true
}

// Weight implements State.
func (s *MemoryState) Weight(userID, itemID int64) float64 {
	shard := s.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return shard.users[userID][itemID]
}

// ItemSum implements State.
func (s *MemoryState) ItemSum(itemID int64) float64 {
	return s.items.get(itemID)
}

// PairSum implements State.
func (s *MemoryState) PairSum(a, b int64) float64 {
	return s.pairs.get(canonicalPair(a, b))
}
