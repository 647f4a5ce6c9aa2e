// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunnerServiceStopsOnCancel(t *testing.T) {
	svc := NewRunnerService("test", RunnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service did not stop on cancel")
	}
}

func TestRunnerServicePropagatesFailure(t *testing.T) {
	boom := errors.New("boom")
	svc := NewRunnerService("test", RunnerFunc(func(ctx context.Context) error {
		return boom
	}))

	if err := svc.Serve(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Serve() = %v, want boom", err)
	}
}

func TestRunnerServiceName(t *testing.T) {
	svc := NewRunnerService("aggregator-consumer", RunnerFunc(func(ctx context.Context) error {
		return nil
	}))
	if svc.String() != "aggregator-consumer" {
		t.Errorf("String() = %q", svc.String())
	}
}
