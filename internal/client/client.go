// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

// Package client is the embeddable facade for services that consume
// recommendations. It hides the pipeline behind four calls and degrades
// gracefully: writes are fire-and-forget, reads return empty results when
// the pipeline is unreachable, and a circuit breaker stops hammering a
// down service.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/affinitylabs/affinity/internal/logging"
	"github.com/affinitylabs/affinity/internal/stream"
)

const defaultTimeout = 5 * time.Second

// ScoredItem is one recommendation row.
type ScoredItem struct {
	ItemID int64   `json:"itemId"`
	Score  float64 `json:"score"`
}

// Client talks to the pipeline's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  zerolog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a facade for the pipeline at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logging.With().Str("component", "client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "affinity-client",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return c
}

// SendUserAction reports one user action. ts is the event time; a zero ts
// lets the pipeline stamp arrival time. Failures are logged and swallowed:
// callers embed this in their request path and must never fail because the
// recommendation pipeline is down.
func (c *Client) SendUserAction(ctx context.Context, userID, itemID int64, actionType stream.ActionType, ts time.Time) {
	payload := map[string]interface{}{
		"userId":     userID,
		"itemId":     itemID,
		"actionType": string(actionType),
	}
	if !ts.IsZero() {
		payload["timestamp"] = ts.UnixMilli()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode action failed")
		return
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/actions", bytes.NewReader(body))
	if err != nil {
		c.logger.Warn().Err(err).Int64("user_id", userID).Int64("item_id", itemID).
			Msg("send action failed, dropped")
		return
	}
	drain(resp)

	if resp.StatusCode != http.StatusAccepted {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("send action rejected")
	}
}

// GetSimilarItems returns items most similar to itemID, best first. A
// positive userID excludes items that user has already interacted with.
// Any failure yields an empty slice.
func (c *Client) GetSimilarItems(ctx context.Context, userID, itemID int64, limit int) []ScoredItem {
	path := fmt.Sprintf("/api/v1/recommendations/items/%d/similar?maxResults=%d", itemID, limit)
	if userID > 0 {
		path += fmt.Sprintf("&userId=%d", userID)
	}
	return c.getScored(ctx, path, "similar items")
}

// GetRecommendationsForUser returns predicted items for the user, best
// first. Any failure yields an empty slice.
func (c *Client) GetRecommendationsForUser(ctx context.Context, userID int64, limit int) []ScoredItem {
	path := fmt.Sprintf("/api/v1/recommendations/users/%d?maxResults=%d", userID, limit)
	return c.getScored(ctx, path, "recommendations")
}

// GetInteractionCounts returns per-item interaction weight sums. Any
// failure yields an empty map.
func (c *Client) GetInteractionCounts(ctx context.Context, itemIDs []int64) map[int64]float64 {
	if len(itemIDs) == 0 {
		return map[int64]float64{}
	}

	params := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		params[i] = "itemId=" + strconv.FormatInt(id, 10)
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/v1/interactions/count?"+strings.Join(params, "&"), nil)
	if err != nil {
		c.logger.Warn().Err(err).Msg("interaction counts failed, returning empty")
		return map[int64]float64{}
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("interaction counts rejected")
		return map[int64]float64{}
	}

	var raw map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		c.logger.Warn().Err(err).Msg("interaction counts response does not decode")
		return map[int64]float64{}
	}

	out := make(map[int64]float64, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out
}

func (c *Client) getScored(ctx context.Context, path, what string) []ScoredItem {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		c.logger.Warn().Err(err).Msgf("%s failed, returning empty", what)
		return []ScoredItem{}
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Msgf("%s rejected", what)
		return []ScoredItem{}
	}

	var out []ScoredItem
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Warn().Err(err).Msgf("%s response does not decode", what)
		return []ScoredItem{}
	}
	return out
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return c.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		// 5xx counts as a breaker failure, client errors do not.
		if resp.StatusCode >= http.StatusInternalServerError {
			drain(resp)
			return nil, fmt.Errorf("server error: status %d", resp.StatusCode)
		}
		return resp, nil
	})
}

// drain finishes the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
