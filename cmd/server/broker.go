// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package main

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/affinitylabs/affinity/internal/config"
	"github.com/affinitylabs/affinity/internal/logging"
	"github.com/affinitylabs/affinity/internal/stream"
)

// Broker bundles the messaging side of the process: the (optionally
// embedded) NATS server, the provisioned streams, the shared publisher,
// and one subscriber per consumer.
type Broker struct {
	Embedded  *stream.EmbeddedServer
	Publisher *stream.Publisher

	// AggregatorSub replays the action log from the beginning on start.
	AggregatorSub *stream.Subscriber

	// AnalyzerActionSub and AnalyzerSimilaritySub are durable consumers
	// that resume from their last acknowledged position.
	AnalyzerActionSub     *stream.Subscriber
	AnalyzerSimilaritySub *stream.Subscriber

	conn *natsgo.Conn
}

// initBroker starts (or connects to) NATS, provisions both durable logs,
// and builds the publisher and subscribers.
func initBroker(ctx context.Context, cfg *config.Config) (*Broker, error) {
	b := &Broker{}

	url := cfg.NATS.URL
	if cfg.NATS.Embedded {
		srv, err := stream.NewEmbeddedServer(&stream.ServerConfig{
			Host:              "127.0.0.1",
			Port:              -1, // random free port, nothing external connects
			StoreDir:          cfg.NATS.StoreDir,
			JetStreamMaxMem:   cfg.NATS.MaxMemory,
			JetStreamMaxStore: cfg.NATS.MaxStore,
		})
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS: %w", err)
		}
		b.Embedded = srv
		url = srv.ClientURL()
	}

	conn, err := natsgo.Connect(url,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.NATS.MaxReconnects),
		natsgo.ReconnectWait(cfg.NATS.ReconnectWait),
	)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("connect NATS: %w", err)
	}
	b.conn = conn

	js, err := jetstream.New(conn)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if err := b.ensureStreams(ctx, js, cfg); err != nil {
		b.Close()
		return nil, err
	}

	wmLogger := logging.NewWatermillAdapter()

	pub, err := stream.NewPublisher(stream.DefaultPublisherConfig(url), wmLogger)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("create publisher: %w", err)
	}
	pub.SetCircuitBreaker(gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:    "log-publisher",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
	}))
	b.Publisher = pub

	aggCfg := stream.DefaultSubscriberConfig(url, cfg.Streams.ActionStream, "")
	aggCfg.ReplayAll = true
	if b.AggregatorSub, err = stream.NewSubscriber(&aggCfg, wmLogger); err != nil {
		b.Close()
		return nil, fmt.Errorf("create aggregator subscriber: %w", err)
	}

	actCfg := stream.DefaultSubscriberConfig(url, cfg.Streams.ActionStream, cfg.Analyzer.DurableName+"-actions")
	if b.AnalyzerActionSub, err = stream.NewSubscriber(&actCfg, wmLogger); err != nil {
		b.Close()
		return nil, fmt.Errorf("create analyzer action subscriber: %w", err)
	}

	simCfg := stream.DefaultSubscriberConfig(url, cfg.Streams.SimilarityStream, cfg.Analyzer.DurableName+"-similarity")
	if b.AnalyzerSimilaritySub, err = stream.NewSubscriber(&simCfg, wmLogger); err != nil {
		b.Close()
		return nil, fmt.Errorf("create analyzer similarity subscriber: %w", err)
	}

	return b, nil
}

func (b *Broker) ensureStreams(ctx context.Context, js jetstream.JetStream, cfg *config.Config) error {
	retention := time.Duration(cfg.Streams.RetentionDays) * 24 * time.Hour

	actionCfg := stream.DefaultStreamConfig(cfg.Streams.ActionStream, cfg.Streams.ActionSubjectPrefix+".>")
	actionCfg.MaxAge = retention
	actionCfg.DuplicateWindow = cfg.Streams.DuplicateWindow
	if _, err := stream.NewManager(js, &actionCfg).EnsureStream(ctx); err != nil {
		return err
	}

	simCfg := stream.DefaultStreamConfig(cfg.Streams.SimilarityStream, cfg.Streams.SimilaritySubjectPrefix+".>")
	simCfg.MaxAge = retention
	simCfg.DuplicateWindow = cfg.Streams.DuplicateWindow
	if _, err := stream.NewManager(js, &simCfg).EnsureStream(ctx); err != nil {
		return err
	}

	return nil
}

// Ready reports broker health for the readiness endpoint.
func (b *Broker) Ready() error {
	if b.Embedded != nil && !b.Embedded.IsRunning() {
		return fmt.Errorf("embedded NATS server not running")
	}
	if b.conn == nil || !b.conn.IsConnected() {
		return fmt.Errorf("NATS connection down")
	}
	return nil
}

// Close tears the messaging stack down in reverse dependency order.
func (b *Broker) Close() {
	for _, sub := range []*stream.Subscriber{b.AggregatorSub, b.AnalyzerActionSub, b.AnalyzerSimilaritySub} {
		if sub != nil {
			if err := sub.Close(); err != nil {
				logging.Warn().Err(err).Msg("subscriber close failed")
			}
		}
	}
	if b.Publisher != nil {
		if err := b.Publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("publisher close failed")
		}
	}
	if b.conn != nil {
		b.conn.Close()
	}
	if b.Embedded != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.Embedded.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("embedded NATS shutdown failed")
		}
	}
}
