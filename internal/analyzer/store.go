// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

// Package analyzer materializes the two durable logs into a BadgerDB
// projection and answers recommendation queries from it.
//
// The projection is a pure function of the logs: upserts are idempotent and
// order-tolerant (interactions are weight-monotonic, similarities are
// timestamp-gated), so the store converges to the same contents no matter
// how deliveries interleave or repeat.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/affinitylabs/affinity/internal/logging"
	"github.com/affinitylabs/affinity/internal/metrics"
)

// Key layout. Similarities are written under both orderings so that the
// neighbors of any item are one prefix scan.
//
//	int:<userID>:<itemID>  -> interactionValue
//	sum:<itemID>           -> itemSumValue
//	sim:<itemID>:<otherID> -> similarityValue
const (
	interactionKeyPrefix = "int:"
	sumKeyPrefix         = "sum:"
	similarityKeyPrefix  = "sim:"
)

type interactionValue struct {
	Weight    float64 `json:"weight"`
	Timestamp int64   `json:"timestamp"`
}

type itemSumValue struct {
	Sum float64 `json:"sum"`
}

type similarityValue struct {
	Score     float64 `json:"score"`
	Timestamp int64   `json:"timestamp"`
}

// Interaction is one row of a user's history.
type Interaction struct {
	ItemID int64
	Weight float64
	// UpdatedAt is the record timestamp of the last applied upsert, epoch
	// milliseconds.
	UpdatedAt int64
}

// ScoredItem is one (item, score) row of a query result.
type ScoredItem struct {
	ItemID int64   `json:"itemId"`
	Score  float64 `json:"score"`
}

// Store is the BadgerDB-backed projection of both logs.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Open opens (or creates) the projection store at dir.
func Open(dir string) (*Store, error) {
	logger := logging.With().Str("component", "store").Logger()

	opts := badger.DefaultOptions(dir).
		WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open projection store: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// OpenInMemory opens a store with no disk persistence. Intended for tests
// and local experiments; the projection is rebuilt from the logs anyway.
func OpenInMemory() (*Store, error) {
	logger := logging.With().Str("component", "store").Logger()

	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(&badgerLogger{logger: logger}))
	if err != nil {
		return nil, fmt.Errorf("open in-memory projection store: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// NewStoreWithDB wraps an already-open database. Used by tests and by
// callers that share one Badger instance.
func NewStoreWithDB(db *badger.DB) *Store {
	return &Store{
		db:     db,
		logger: logging.With().Str("component", "store").Logger(),
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs Badger's value-log garbage collection until the context is
// canceled.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn().Err(err).Msg("value log GC failed")
			}
		}
	}
}

func interactionKey(userID, itemID int64) []byte {
	return []byte(interactionKeyPrefix + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(itemID, 10))
}

func sumKey(itemID int64) []byte {
	return []byte(sumKeyPrefix + strconv.FormatInt(itemID, 10))
}

func similarityKey(itemID, otherID int64) []byte {
	return []byte(similarityKeyPrefix + strconv.FormatInt(itemID, 10) + ":" + strconv.FormatInt(otherID, 10))
}

// UpsertInteraction records the user's interaction weight for an item. The
// write applies only when the weight increases the stored value, mirroring
// the aggregator's monotonic rule, so replays and duplicates are no-ops.
// The item's weight sum is adjusted by the same delta inside the same
// transaction, which keeps it equal to the literal sum of stored weights.
func (s *Store) UpsertInteraction(userID, itemID int64, weight float64, timestamp int64) (bool, error) {
	applied := false

	err := s.db.Update(func(txn *badger.Txn) error {
		key := interactionKey(userID, itemID)

		var existing interactionValue
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("get interaction: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return fmt.Errorf("decode interaction: %w", err)
			}
		}

		if weight <= existing.Weight {
			return nil
		}

		data, err := json.Marshal(interactionValue{Weight: weight, Timestamp: timestamp})
		if err != nil {
			return fmt.Errorf("encode interaction: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set interaction: %w", err)
		}

		if err := s.bumpSum(txn, itemID, weight-existing.Weight); err != nil {
			return err
		}

		applied = true
		return nil
	})

	metrics.RecordUpsert("interaction", applied)
	return applied, err
}

// bumpSum adjusts the item's weight sum inside the caller's transaction.
func (s *Store) bumpSum(txn *badger.Txn, itemID int64, delta float64) error {
	key := sumKey(itemID)

	var sum itemSumValue
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return fmt.Errorf("get item sum: %w", err)
	default:
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sum)
		}); err != nil {
			return fmt.Errorf("decode item sum: %w", err)
		}
	}

	sum.Sum += delta
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode item sum: %w", err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("set item sum: %w", err)
	}
	return nil
}

// UpsertSimilarity records a pair's score under both orderings. Records
// older than the stored one are skipped, so out-of-order and duplicate
// deliveries cannot roll a score backwards in time.
func (s *Store) UpsertSimilarity(itemA, itemB int64, score float64, timestamp int64) (bool, error) {
	applied := false

	err := s.db.Update(func(txn *badger.Txn) error {
		key := similarityKey(itemA, itemB)

		var existing similarityValue
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("get similarity: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return fmt.Errorf("decode similarity: %w", err)
			}
			if timestamp < existing.Timestamp {
				return nil
			}
		}

		data, err := json.Marshal(similarityValue{Score: score, Timestamp: timestamp})
		if err != nil {
			return fmt.Errorf("encode similarity: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set similarity: %w", err)
		}
		if err := txn.Set(similarityKey(itemB, itemA), data); err != nil {
			return fmt.Errorf("set similarity reverse: %w", err)
		}

		applied = true
		return nil
	})

	metrics.RecordUpsert("similarity", applied)
	return applied, err
}

// UserInteractions returns the user's full interaction history.
func (s *Store) UserInteractions(userID int64) ([]Interaction, error) {
	var out []Interaction

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(interactionKeyPrefix + strconv.FormatInt(userID, 10) + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			itemID, err := strconv.ParseInt(string(item.Key()[len(prefix):]), 10, 64)
			if err != nil {
				s.logger.Warn().Str("key", string(item.Key())).Msg("skipping unparseable interaction key")
				continue
			}

			var val interactionValue
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &val)
			}); err != nil {
				return fmt.Errorf("decode interaction: %w", err)
			}

			out = append(out, Interaction{ItemID: itemID, Weight: val.Weight, UpdatedAt: val.Timestamp})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Neighbors returns every item with a stored similarity to itemID.
func (s *Store) Neighbors(itemID int64) ([]ScoredItem, error) {
	var out []ScoredItem

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(similarityKeyPrefix + strconv.FormatInt(itemID, 10) + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			otherID, err := strconv.ParseInt(string(item.Key()[len(prefix):]), 10, 64)
			if err != nil {
				s.logger.Warn().Str("key", string(item.Key())).Msg("skipping unparseable similarity key")
				continue
			}

			var val similarityValue
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &val)
			}); err != nil {
				return fmt.Errorf("decode similarity: %w", err)
			}

			out = append(out, ScoredItem{ItemID: otherID, Score: val.Score})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Similarity returns the stored score between two items, reporting whether
// one exists.
func (s *Store) Similarity(itemA, itemB int64) (float64, bool, error) {
	var score float64
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(similarityKey(itemA, itemB))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get similarity: %w", err)
		}
		return item.Value(func(val []byte) error {
			var v similarityValue
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			score = v.Score
			found = true
			return nil
		})
	})
	if err != nil {
		return 0, false, err
	}
	return score, found, nil
}

// ItemWeightSum returns the item's interaction weight sum, 0 for an
// unknown item.
func (s *Store) ItemWeightSum(itemID int64) (float64, error) {
	var sum float64

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sumKey(itemID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get item sum: %w", err)
		}
		return item.Value(func(val []byte) error {
			var v itemSumValue
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			sum = v.Sum
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return sum, nil
}

// badgerLogger adapts zerolog to Badger's logger interface. Badger's info
// chatter is demoted to debug.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}
