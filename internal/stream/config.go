// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package stream

import "time"

// ServerConfig holds settings for the embedded NATS server.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// DefaultServerConfig returns embedded-server defaults bound to loopback.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          "/data/affinity/jetstream",
		JetStreamMaxMem:   1 << 30,
		JetStreamMaxStore: 10 << 30,
	}
}

// StreamConfig describes one durable JetStream stream.
type StreamConfig struct {
	// Name is the stream name, e.g. AFFINITY_ACTIONS.
	Name string

	// Subjects the stream captures, e.g. ["actions.user.*"].
	Subjects []string

	// MaxAge is the retention window for records.
	MaxAge time.Duration

	// MaxBytes / MaxMsgs bound the stream size (0 = unlimited).
	MaxBytes int64
	MaxMsgs  int64

	// DuplicateWindow is the msg-id deduplication window.
	DuplicateWindow time.Duration

	Replicas int
}

// DefaultStreamConfig returns defaults for a durable log stream.
func DefaultStreamConfig(name string, subjects ...string) StreamConfig {
	return StreamConfig{
		Name:            name,
		Subjects:        subjects,
		MaxAge:          30 * 24 * time.Hour,
		MaxBytes:        0,
		MaxMsgs:         0,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// PublisherConfig holds Watermill NATS publisher settings.
type PublisherConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int

	// EnableTrackMsgID turns on JetStream msg-id deduplication.
	EnableTrackMsgID bool
}

// DefaultPublisherConfig returns production defaults for the publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:              url,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024,
		EnableTrackMsgID: true,
	}
}

// SubscriberConfig holds Watermill NATS subscriber settings.
type SubscriberConfig struct {
	URL string

	// StreamName binds the subscriber to an existing stream. Required when
	// the subscribed topic is a wildcard.
	StreamName string

	// DurableName names the durable consumer. Ignored when ReplayAll is
	// set: replay consumers are ephemeral by design.
	DurableName string

	// QueueGroup load-balances delivery across instances.
	QueueGroup string

	// SubscribersCount is the number of concurrent consumers. Keep at 1
	// when per-subject ordering must be preserved end to end.
	SubscribersCount int

	// ReplayAll delivers the stream from the beginning on every start
	// instead of resuming from the durable position. Used by consumers
	// that rebuild in-memory state by replay.
	ReplayAll bool

	AckWaitTimeout time.Duration
	MaxDeliver     int
	MaxAckPending  int
	CloseTimeout   time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// DefaultSubscriberConfig returns production defaults for a durable consumer.
func DefaultSubscriberConfig(url, stream, durable string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		StreamName:       stream,
		DurableName:      durable,
		QueueGroup:       durable,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		MaxDeliver:       5,
		MaxAckPending:    256,
		CloseTimeout:     10 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
	}
}
