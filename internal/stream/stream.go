// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

// Package stream provides the durable-log plumbing for the pipeline: wire
// record types, JSON serialization, JetStream stream provisioning, and
// resilient Watermill publishers/subscribers over NATS.
//
// Two streams carry the pipeline's data. The action log receives one record
// per user interaction, keyed by user so that one user's actions are
// strictly ordered. The similarity log receives pair score updates from the
// aggregator, keyed by canonical pair.
package stream

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Manager provisions and inspects one JetStream stream.
type Manager struct {
	js     jetstream.JetStream
	config StreamConfig
}

// NewManager creates a stream manager for the given stream config.
func NewManager(js jetstream.JetStream, cfg *StreamConfig) *Manager {
	return &Manager{js: js, config: *cfg}
}

// EnsureStream creates the stream or updates its configuration in place.
func (m *Manager) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:       m.config.Name,
		Subjects:   m.config.Subjects,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     m.config.MaxAge,
		MaxBytes:   m.config.MaxBytes,
		MaxMsgs:    m.config.MaxMsgs,
		Duplicates: m.config.DuplicateWindow,
		Replicas:   m.config.Replicas,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	if _, err := m.js.Stream(ctx, m.config.Name); err == nil {
		st, err := m.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", m.config.Name, err)
		}
		return st, nil
	}

	st, err := m.js.CreateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", m.config.Name, err)
	}
	return st, nil
}

// Info returns the current stream state.
func (m *Manager) Info(ctx context.Context) (*jetstream.StreamInfo, error) {
	st, err := m.js.Stream(ctx, m.config.Name)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", m.config.Name, err)
	}
	return st.Info(ctx)
}
