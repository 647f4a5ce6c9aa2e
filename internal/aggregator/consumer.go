// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package aggregator

import (
	"context"
	"fmt"

	"github.com/affinitylabs/affinity/internal/logging"
	"github.com/affinitylabs/affinity/internal/stream"
)

// Consumer runs the aggregator against the action log. Its subscriber is
// configured with ReplayAll, so every start replays the full log and
// rebuilds the in-memory model before new actions stream in; the monotonic
// state makes the replayed prefix a sequence of no-ops once caught up.
type Consumer struct {
	aggregator *Aggregator
	subscriber *stream.Subscriber
	topic      string
}

// NewConsumer wires the aggregator to the action log subscriber. The topic
// is the wildcard covering every per-user subject under the prefix.
func NewConsumer(agg *Aggregator, sub *stream.Subscriber, actionSubjectPrefix string) *Consumer {
	return &Consumer{
		aggregator: agg,
		subscriber: sub,
		topic:      actionSubjectPrefix + ".>",
	}
}

// Run consumes the action log until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	logging.Info().Str("topic", c.topic).Msg("aggregator consuming action log from the beginning")

	err := c.subscriber.NewHandler(c.topic).
		Handle(c.aggregator.HandleMessage).
		Run(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("aggregator consumer: %w", err)
	}
	return err
}

// Close shuts down the underlying subscriber.
func (c *Consumer) Close() error {
	return c.subscriber.Close()
}
