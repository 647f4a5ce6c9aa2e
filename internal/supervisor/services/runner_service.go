// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

// Package services provides suture service wrappers for the pipeline's
// long-running components.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/affinitylabs/affinity/internal/logging"
)

// Runner is any component with a blocking, context-driven run loop. The
// aggregator consumer, analyzer consumer, and HTTP server all satisfy it.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a bare function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// RunnerService adapts a Runner to the suture.Service interface.
type RunnerService struct {
	name   string
	runner Runner
	logger zerolog.Logger
}

// NewRunnerService wraps runner under the given service name.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{
		name:   name,
		runner: runner,
		logger: logging.With().Str("service", name).Logger(),
	}
}

// Serve implements suture.Service. Context cancellation is a normal stop,
// any other return is a failure that suture will restart.
func (s *RunnerService) Serve(ctx context.Context) error {
	s.logger.Info().Msg("service starting")

	err := s.runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("service failed")
		return err
	}

	s.logger.Info().Msg("service stopped")
	return err
}

// String returns the service name for supervisor logging.
func (s *RunnerService) String() string {
	return s.name
}
