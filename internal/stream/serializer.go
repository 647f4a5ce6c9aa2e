// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package stream

import (
	"fmt"

	"github.com/goccy/go-json"
)

// MarshalAction encodes a user action for the action log, validating the
// record first so malformed payloads never reach the broker.
func MarshalAction(a *UserAction) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("validate action: %w", err)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal action: %w", err)
	}
	return data, nil
}

// UnmarshalAction decodes and schema-validates a record from the action log.
func UnmarshalAction(data []byte) (*UserAction, error) {
	var a UserAction
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal action: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("validate action: %w", err)
	}
	return &a, nil
}

// MarshalSimilarity encodes a similarity record for the similarity log.
func MarshalSimilarity(s *ItemSimilarity) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validate similarity: %w", err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal similarity: %w", err)
	}
	return data, nil
}

// UnmarshalSimilarity decodes and schema-validates a record from the
// similarity log.
func UnmarshalSimilarity(data []byte) (*ItemSimilarity, error) {
	var s ItemSimilarity
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal similarity: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validate similarity: %w", err)
	}
	return &s, nil
}
