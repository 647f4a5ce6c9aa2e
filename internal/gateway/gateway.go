// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

// Package gateway is the ingestion edge of the pipeline. It validates user
// actions, stamps them, and publishes them to the durable action log keyed
// by user.
//
// Delivery is fire-and-forget: a validation failure is returned to the
// caller, but a publish failure is logged and swallowed so that ingestion
// never blocks or fails the calling service's request path. This makes the
// gateway at-most-once; the accepted data-loss window is the broker outage
// itself.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/affinitylabs/affinity/internal/logging"
	"github.com/affinitylabs/affinity/internal/metrics"
	"github.com/affinitylabs/affinity/internal/stream"
)

// ErrInvalidAction marks client errors: unknown action types or
// non-positive identifiers. The API layer maps it to a 400 response.
var ErrInvalidAction = errors.New("invalid user action")

// ActionPublisher is the slice of the stream publisher the gateway needs.
type ActionPublisher interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
}

// Gateway validates and publishes user actions.
type Gateway struct {
	publisher     ActionPublisher
	subjectPrefix string
	logger        zerolog.Logger
	now           func() time.Time
}

// New creates a gateway publishing to subjects under the given prefix.
func New(publisher ActionPublisher, subjectPrefix string) *Gateway {
	return &Gateway{
		publisher:     publisher,
		subjectPrefix: subjectPrefix,
		logger:        logging.With().Str("component", "gateway").Logger(),
		now:           time.Now,
	}
}

// RecordAction validates the action and publishes it to the action log.
// A zero timestamp is replaced with the current time. The returned error is
// non-nil only for validation failures.
func (g *Gateway) RecordAction(ctx context.Context, userID, itemID int64, actionType stream.ActionType, ts time.Time) error {
	if !actionType.Valid() {
		metrics.ActionsRejected.Inc()
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, actionType)
	}
	if userID <= 0 || itemID <= 0 {
		metrics.ActionsRejected.Inc()
		return fmt.Errorf("%w: user and item ids must be positive", ErrInvalidAction)
	}
	if ts.IsZero() {
		ts = g.now()
	}

	action := stream.UserAction{
		EventID:    uuid.New().String(),
		UserID:     userID,
		ItemID:     itemID,
		ActionType: actionType,
		Timestamp:  ts.UnixMilli(),
	}

	data, err := stream.MarshalAction(&action)
	if err != nil {
		metrics.ActionsRejected.Inc()
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	msg := message.NewMessage(action.EventID, data)
	msg.Metadata.Set("user_id", fmt.Sprintf("%d", action.UserID))

	if err := g.publisher.Publish(ctx, action.Subject(g.subjectPrefix), msg); err != nil {
		metrics.ActionPublishFailures.Inc()
		g.logger.Error().
			Err(err).
			Int64("user_id", userID).
			Int64("item_id", itemID).
			Str("action_type", string(actionType)).
			Msg("action publish failed, record dropped")
		return nil
	}

	metrics.ActionsPublished.Inc()
	return nil
}
