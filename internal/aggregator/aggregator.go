// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

// Package aggregator maintains the incremental item-item co-occurrence
// model. It consumes the action log, folds each action into per-user
// weights and the derived sum tables, and emits cosine-style similarity
// scores to the similarity log.
//
// State lives in memory and is rebuilt on every start by replaying the
// action log from the beginning with an ephemeral consumer. Replay is safe
// because weight updates are monotonic: re-applying an already-seen action
// is a no-op.
package aggregator

import (
	"context"
	"fmt"
	"math"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/affinitylabs/affinity/internal/logging"
	"github.com/affinitylabs/affinity/internal/metrics"
	"github.com/affinitylabs/affinity/internal/stream"
)

// SimilarityPublisher is the slice of the stream publisher the aggregator
// needs.
type SimilarityPublisher interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
}

// Aggregator folds user actions into State and emits similarity updates.
type Aggregator struct {
	state         State
	publisher     SimilarityPublisher
	subjectPrefix string
	logger        zerolog.Logger
}

// New creates an aggregator emitting similarities under the given subject
// prefix.
func New(state State, publisher SimilarityPublisher, subjectPrefix string) *Aggregator {
	return &Aggregator{
		state:         state,
		publisher:     publisher,
		subjectPrefix: subjectPrefix,
		logger:        logging.With().Str("component", "aggregator").Logger(),
	}
}

// HandleMessage decodes one action-log message and applies it. Malformed
// payloads are counted and dropped so they cannot wedge the consumer; the
// returned error is reserved for failures worth a redelivery.
func (a *Aggregator) HandleMessage(ctx context.Context, msg *message.Message) error {
	action, err := stream.UnmarshalAction(msg.Payload)
	if err != nil {
		metrics.MalformedRecords.WithLabelValues("actions").Inc()
		a.logger.Warn().
			Err(err).
			Str("message_uuid", msg.UUID).
			Msg("dropping malformed action record")
		return nil
	}
	return a.Apply(ctx, action)
}

// Apply folds one action into the model and publishes the resulting
// similarity updates.
//
// An action whose weight does not exceed the stored (user, item) weight is
// discarded without touching any aggregate, which makes replay and
// duplicate delivery idempotent. An applied action updates the item's
// weight sum and, for every other item in the user's history, the pair's
// min-weight sum; each affected pair with positive weight sums on both
// sides gets a similarity record.
func (a *Aggregator) Apply(ctx context.Context, action *stream.UserAction) error {
	weight, err := action.ActionType.Weight()
	if err != nil {
		metrics.MalformedRecords.WithLabelValues("actions").Inc()
		return nil
	}

	upd, applied := a.state.Apply(action.UserID, action.ItemID, weight)
	if !applied {
		metrics.ActionsDiscarded.Inc()
		return nil
	}

	metrics.ActionsAggregated.Inc()
	metrics.AggregatorFanout.Observe(float64(len(upd.Pairs)))

	if upd.Capped {
		a.logger.Warn().
			Int64("user_id", action.UserID).
			Int64("item_id", action.ItemID).
			Msg("user history over fan-out cap, item excluded from pair updates")
	}

	for _, pair := range upd.Pairs {
		score, ok := similarityScore(pair.PairSum, upd.ItemSum, pair.OtherSum)
		if !ok {
			continue
		}
		a.emit(ctx, action, pair.OtherItem, score)
	}
	return nil
}

// emit publishes one similarity record. Emission is best-effort: the state
// delta is already applied and would not be regenerated on redelivery, so a
// publish failure is logged and the record dropped rather than nacked.
func (a *Aggregator) emit(ctx context.Context, action *stream.UserAction, otherItem int64, score float64) {
	sim := stream.NewItemSimilarity(action.ItemID, otherItem, score, action.Timestamp)

	data, err := stream.MarshalSimilarity(&sim)
	if err != nil {
		a.logger.Error().
			Err(err).
			Str("pair", sim.PairKey()).
			Msg("similarity record failed to encode")
		return
	}

	// The message id is event+pair: duplicate deliveries of one action
	// dedupe in JetStream, while re-scores from later actions pass through.
	msg := message.NewMessage(fmt.Sprintf("%s:%s", action.EventID, sim.PairKey()), data)
	msg.Metadata.Set("pair", sim.PairKey())

	if err := a.publisher.Publish(ctx, sim.Subject(a.subjectPrefix), msg); err != nil {
		a.logger.Error().
			Err(err).
			Str("pair", sim.PairKey()).
			Msg("similarity publish failed, record dropped")
		return
	}
	metrics.SimilaritiesEmitted.Inc()
}

// similarityScore computes pairSum / (sqrt(sumA) * sqrt(sumB)). It reports
// false when either item sum is non-positive, meaning the pair cannot be
// scored yet.
func similarityScore(pairSum, sumA, sumB float64) (float64, bool) {
	if sumA <= 0 || sumB <= 0 {
		return 0, false
	}
	score := pairSum / (math.Sqrt(sumA) * math.Sqrt(sumB))
	// Floating-point drift can push a fully-overlapping pair a hair past 1.
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score, true
}
