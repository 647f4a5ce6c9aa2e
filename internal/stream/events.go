// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package stream

import (
	"fmt"
	"strconv"
	"time"
)

// ActionType is the category of a user-item interaction.
type ActionType string

const (
	// ActionView is a view of an item's page.
	ActionView ActionType = "view"
	// ActionRegister is a registration/attendance signal for the item.
	ActionRegister ActionType = "register"
	// ActionLike is an explicit like.
	ActionLike ActionType = "like"
)

// actionWeights is the fixed action-to-weight table. Weights are ordered so
// that a stronger signal never lowers an interaction weight.
var actionWeights = map[ActionType]float64{
	ActionView:     0.4,
	ActionRegister: 0.8,
	ActionLike:     1.0,
}

// Weight returns the interaction weight for the action type, or an error
// for unknown types.
func (t ActionType) Weight() (float64, error) {
	w, ok := actionWeights[t]
	if !ok {
		return 0, &ValidationError{Field: "action_type", Message: "unknown type " + string(t)}
	}
	return w, nil
}

// Valid reports whether the action type is one of the known types.
func (t ActionType) Valid() bool {
	_, ok := actionWeights[t]
	return ok
}

// UserAction is the wire record on the action log. One record is produced
// per user interaction; records are immutable once published.
type UserAction struct {
	// EventID is a UUID assigned by the gateway. It doubles as the
	// JetStream message id for duplicate suppression.
	EventID    string     `json:"event_id"`
	UserID     int64      `json:"user_id"`
	ItemID     int64      `json:"item_id"`
	ActionType ActionType `json:"action_type"`
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

// Validate checks the record against the wire schema.
func (a *UserAction) Validate() error {
	if a.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if a.UserID <= 0 {
		return &ValidationError{Field: "user_id", Message: "must be positive"}
	}
	if a.ItemID <= 0 {
		return &ValidationError{Field: "item_id", Message: "must be positive"}
	}
	if !a.ActionType.Valid() {
		return &ValidationError{Field: "action_type", Message: "unknown type " + string(a.ActionType)}
	}
	if a.Timestamp <= 0 {
		return &ValidationError{Field: "timestamp", Message: "must be positive"}
	}
	return nil
}

// Subject returns the NATS subject for the record under the given prefix.
// Keying by user id gives strict per-user ordering on the log.
func (a *UserAction) Subject(prefix string) string {
	return prefix + "." + strconv.FormatInt(a.UserID, 10)
}

// Time returns the record timestamp as a time.Time.
func (a *UserAction) Time() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// ItemSimilarity is the wire record on the similarity log. The pair is
// canonical: ItemA < ItemB, so there is exactly one record key per
// unordered pair and the score is symmetric by construction.
type ItemSimilarity struct {
	ItemA int64   `json:"item_a"`
	ItemB int64   `json:"item_b"`
	Score float64 `json:"score"`
	// Timestamp is milliseconds since the Unix epoch of the action that
	// caused the update.
	Timestamp int64 `json:"timestamp"`
}

// NewItemSimilarity builds a canonical similarity record from an unordered
// pair.
func NewItemSimilarity(a, b int64, score float64, ts int64) ItemSimilarity {
	if a > b {
		a, b = b, a
	}
	return ItemSimilarity{ItemA: a, ItemB: b, Score: score, Timestamp: ts}
}

// Validate checks the record against the wire schema.
func (s *ItemSimilarity) Validate() error {
	if s.ItemA <= 0 || s.ItemB <= 0 {
		return &ValidationError{Field: "item_a", Message: "item ids must be positive"}
	}
	if s.ItemA >= s.ItemB {
		return &ValidationError{Field: "item_a", Message: "pair must satisfy item_a < item_b"}
	}
	if s.Score < 0 || s.Score > 1 {
		return &ValidationError{Field: "score", Message: "must be within [0, 1]"}
	}
	if s.Timestamp <= 0 {
		return &ValidationError{Field: "timestamp", Message: "must be positive"}
	}
	return nil
}

// PairKey returns the canonical "min:max" string key of the pair.
func (s *ItemSimilarity) PairKey() string {
	return PairKey(s.ItemA, s.ItemB)
}

// Subject returns the NATS subject for the record under the given prefix.
// Keying by pair keeps per-pair emissions in order for consumers.
func (s *ItemSimilarity) Subject(prefix string) string {
	return fmt.Sprintf("%s.%d-%d", prefix, s.ItemA, s.ItemB)
}

// ValidationError reports a schema violation in a wire record.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// PairKey returns the canonical "min:max" key for an unordered item pair.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}
