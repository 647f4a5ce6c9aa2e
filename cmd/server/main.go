// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

// Command server runs the whole pipeline in one process: the embedded
// JetStream broker with its two durable logs, the ingestion gateway, the
// similarity aggregator, the analyzer projection, and the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/affinitylabs/affinity/internal/aggregator"
	"github.com/affinitylabs/affinity/internal/analyzer"
	"github.com/affinitylabs/affinity/internal/api"
	"github.com/affinitylabs/affinity/internal/config"
	"github.com/affinitylabs/affinity/internal/gateway"
	"github.com/affinitylabs/affinity/internal/logging"
	"github.com/affinitylabs/affinity/internal/supervisor"
	"github.com/affinitylabs/affinity/internal/supervisor/services"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("action_stream", cfg.Streams.ActionStream).
		Str("similarity_stream", cfg.Streams.SimilarityStream).
		Msg("affinity starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Broker and durable logs come up first; everything else depends on
	// them.
	broker, err := initBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer broker.Close()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("projection store close failed")
		}
	}()

	gw := gateway.New(broker.Publisher, cfg.Streams.ActionSubjectPrefix)

	aggState := aggregator.NewMemoryState(cfg.Aggregator.Shards, cfg.Aggregator.MaxUserItems)
	agg := aggregator.New(aggState, broker.Publisher, cfg.Streams.SimilaritySubjectPrefix)
	aggConsumer := aggregator.NewConsumer(agg, broker.AggregatorSub, cfg.Streams.ActionSubjectPrefix)

	anaConsumer := analyzer.NewConsumer(
		store,
		broker.AnalyzerActionSub,
		broker.AnalyzerSimilaritySub,
		cfg.Streams.ActionSubjectPrefix,
		cfg.Streams.SimilaritySubjectPrefix,
	)

	queries := analyzer.NewQueries(store, cfg.Analyzer.Neighbors)
	handler := api.NewHandler(gw, queries, broker.Ready)
	handler.MaxResults = cfg.API.MaxResultsLimit
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.Burst,
	})
	server := api.NewServer(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), router, api.ServerTimeouts{
		Read:     cfg.Server.ReadTimeout,
		Write:    cfg.Server.WriteTimeout,
		Shutdown: cfg.Server.ShutdownTimeout,
	})

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if !cfg.Analyzer.InMemory {
		tree.AddStorageService(services.NewRunnerService("store-gc", services.RunnerFunc(
			func(ctx context.Context) error {
				return store.RunGC(ctx, 10*time.Minute)
			},
		)))
	}
	tree.AddPipelineService(services.NewRunnerService("aggregator-consumer", aggConsumer))
	tree.AddPipelineService(services.NewRunnerService("analyzer-consumer", anaConsumer))
	tree.AddAPIService(services.NewRunnerService("http-server", server))

	err = tree.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	logging.Info().Msg("affinity stopped")
	return nil
}

func openStore(cfg *config.Config) (*analyzer.Store, error) {
	if cfg.Analyzer.InMemory {
		return analyzer.OpenInMemory()
	}
	return analyzer.Open(cfg.Analyzer.StoreDir)
}
