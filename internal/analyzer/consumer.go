// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package analyzer

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/affinitylabs/affinity/internal/logging"
	"github.com/affinitylabs/affinity/internal/metrics"
	"github.com/affinitylabs/affinity/internal/stream"
)

// Consumer projects both durable logs into the store. Unlike the
// aggregator it uses durable consumers: the projection survives restarts,
// so it resumes from the last acknowledged position instead of replaying.
type Consumer struct {
	store           *Store
	actionSub       *stream.Subscriber
	similaritySub   *stream.Subscriber
	actionTopic     string
	similarityTopic string
	logger          zerolog.Logger
}

// NewConsumer wires the store to its two log subscribers. The topics are
// the wildcards covering every subject under each prefix.
func NewConsumer(store *Store, actionSub, similaritySub *stream.Subscriber, actionPrefix, similarityPrefix string) *Consumer {
	return &Consumer{
		store:           store,
		actionSub:       actionSub,
		similaritySub:   similaritySub,
		actionTopic:     actionPrefix + ".>",
		similarityTopic: similarityPrefix + ".>",
		logger:          logging.With().Str("component", "analyzer").Logger(),
	}
}

// Run consumes both logs until the context is canceled or either consumer
// fails.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.actionSub.NewHandler(c.actionTopic).
			Handle(c.handleAction).
			Run(ctx)
	})
	g.Go(func() error {
		return c.similaritySub.NewHandler(c.similarityTopic).
			Handle(c.handleSimilarity).
			Run(ctx)
	})

	return g.Wait()
}

// Close shuts down both subscribers.
func (c *Consumer) Close() error {
	actionErr := c.actionSub.Close()
	if err := c.similaritySub.Close(); err != nil {
		return err
	}
	return actionErr
}

// handleAction projects one action-log record. Malformed records are
// dropped; store failures nack for redelivery.
func (c *Consumer) handleAction(_ context.Context, msg *message.Message) error {
	action, err := stream.UnmarshalAction(msg.Payload)
	if err != nil {
		metrics.MalformedRecords.WithLabelValues("actions").Inc()
		c.logger.Warn().
			Err(err).
			Str("message_uuid", msg.UUID).
			Msg("dropping malformed action record")
		return nil
	}

	weight, err := action.ActionType.Weight()
	if err != nil {
		metrics.MalformedRecords.WithLabelValues("actions").Inc()
		return nil
	}

	if _, err := c.store.UpsertInteraction(action.UserID, action.ItemID, weight, action.Timestamp); err != nil {
		return fmt.Errorf("project action %s: %w", action.EventID, err)
	}
	return nil
}

// handleSimilarity projects one similarity-log record.
func (c *Consumer) handleSimilarity(_ context.Context, msg *message.Message) error {
	sim, err := stream.UnmarshalSimilarity(msg.Payload)
	if err != nil {
		metrics.MalformedRecords.WithLabelValues("similarity").Inc()
		c.logger.Warn().
			Err(err).
			Str("message_uuid", msg.UUID).
			Msg("dropping malformed similarity record")
		return nil
	}

	if _, err := c.store.UpsertSimilarity(sim.ItemA, sim.ItemB, sim.Score, sim.Timestamp); err != nil {
		return fmt.Errorf("project similarity %s: %w", sim.PairKey(), err)
	}
	return nil
}
