// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/affinitylabs/affinity/internal/logging"
)

// Server wraps http.Server with context-driven lifecycle so it can run
// under the supervision tree.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

// ServerTimeouts tunes the HTTP server lifecycle. Zero values fall back to
// defaults.
type ServerTimeouts struct {
	Read     time.Duration
	Write    time.Duration
	Shutdown time.Duration
}

// NewServer creates the API server listening on addr.
func NewServer(addr string, handler http.Handler, timeouts ServerTimeouts) *Server {
	if timeouts.Read == 0 {
		timeouts.Read = 30 * time.Second
	}
	if timeouts.Write == 0 {
		timeouts.Write = 30 * time.Second
	}
	if timeouts.Shutdown == 0 {
		timeouts.Shutdown = 10 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       timeouts.Read,
			WriteTimeout:      timeouts.Write,
			IdleTimeout:       120 * time.Second,
		},
		shutdownTimeout: timeouts.Shutdown,
	}
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return ctx.Err()
}
