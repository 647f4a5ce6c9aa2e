// Affinity - Streaming Collaborative-Filtering Recommendation Pipeline
// Copyright 2026 Affinity Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/affinitylabs/affinity

// Package api exposes the pipeline over HTTP: action ingestion on the write
// side, recommendation queries on the read side, plus health and metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/affinitylabs/affinity/internal/analyzer"
	"github.com/affinitylabs/affinity/internal/gateway"
	"github.com/affinitylabs/affinity/internal/logging"
	"github.com/affinitylabs/affinity/internal/stream"
)

const (
	defaultQueryLimit = 10
	defaultMaxResults = 100
)

// ActionRecorder is the ingestion side of the handlers.
type ActionRecorder interface {
	RecordAction(ctx context.Context, userID, itemID int64, actionType stream.ActionType, ts time.Time) error
}

// RecommendationQueries is the read side of the handlers.
type RecommendationQueries interface {
	SimilarItems(itemID, userID int64, limit int) ([]analyzer.ScoredItem, error)
	RecommendationsForUser(userID int64, limit int) ([]analyzer.ScoredItem, error)
	InteractionCounts(itemIDs []int64) (map[int64]float64, error)
}

// Handler holds the HTTP handlers for the pipeline API.
type Handler struct {
	recorder ActionRecorder
	queries  RecommendationQueries
	ready    func() error
	logger   zerolog.Logger

	// MaxResults caps the limit query parameter. Zero means the default
	// cap of 100.
	MaxResults int
}

// NewHandler creates the handler set. ready reports whether the pipeline's
// backing services are up; nil means always ready.
func NewHandler(recorder ActionRecorder, queries RecommendationQueries, ready func() error) *Handler {
	if ready == nil {
		ready = func() error { return nil }
	}
	return &Handler{
		recorder: recorder,
		queries:  queries,
		ready:    ready,
		logger:   logging.With().Str("component", "api").Logger(),
	}
}

type actionRequest struct {
	UserID     int64  `json:"userId"`
	ItemID     int64  `json:"itemId"`
	ActionType string `json:"actionType"`
	// Timestamp is optional, epoch milliseconds. Zero means "now".
	Timestamp int64 `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RecordAction accepts one user action for ingestion.
//
//	POST /api/v1/actions
//
// A 202 means the action was validated and handed to the log, not that it
// has been aggregated.
func (h *Handler) RecordAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var ts time.Time
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp)
	}

	err := h.recorder.RecordAction(r.Context(), req.UserID, req.ItemID, stream.ActionType(req.ActionType), ts)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidAction) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("record action failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// SimilarItems returns the items most similar to one item. An optional
// userId excludes that user's already-interacted items.
//
//	GET /api/v1/recommendations/items/{id}/similar?userId=7&maxResults=10
func (h *Handler) SimilarItems(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var userID int64
	if raw := r.URL.Query().Get("userId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "userId must be a positive integer")
			return
		}
		userID = id
	}

	items, err := h.queries.SimilarItems(itemID, userID, h.queryLimit(r))
	if err != nil {
		// Reads degrade to empty rather than failing the caller's page.
		h.logger.Error().Err(err).Int64("item_id", itemID).Msg("similar items query failed")
		items = nil
	}
	writeJSON(w, http.StatusOK, scoredOrEmpty(items))
}

// Recommendations returns predicted items for a user.
//
//	GET /api/v1/recommendations/users/{id}?maxResults=10
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	items, err := h.queries.RecommendationsForUser(userID, h.queryLimit(r))
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", userID).Msg("recommendations query failed")
		items = nil
	}
	writeJSON(w, http.StatusOK, scoredOrEmpty(items))
}

// InteractionCounts returns per-item interaction weight sums.
//
//	GET /api/v1/interactions/count?itemId=1&itemId=2
func (h *Handler) InteractionCounts(w http.ResponseWriter, r *http.Request) {
	itemIDs, err := parseIDParams(r.URL.Query()["itemId"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	counts, err := h.queries.InteractionCounts(itemIDs)
	if err != nil {
		h.logger.Error().Err(err).Msg("interaction counts query failed")
		counts = map[int64]float64{}
	}

	// JSON object keys are strings.
	out := make(map[string]float64, len(counts))
	for item, sum := range counts {
		out[strconv.FormatInt(item, 10)] = sum
	}
	writeJSON(w, http.StatusOK, out)
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady reports whether the backing services are up.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.ready(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) queryLimit(r *http.Request) int {
	max := h.MaxResults
	if max < 1 {
		max = defaultMaxResults
	}

	raw := r.URL.Query().Get("maxResults")
	if raw == "" {
		return defaultQueryLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return defaultQueryLimit
	}
	if limit > max {
		return max
	}
	return limit
}

func parseIDParams(raw []string) ([]int64, error) {
	if len(raw) == 0 {
		return nil, errors.New("at least one itemId query parameter is required")
	}
	out := make([]int64, 0, len(raw))
	for _, p := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.New("itemId values must be positive integers")
		}
		out = append(out, id)
	}
	return out, nil
}

// scoredOrEmpty keeps nil results encoding as [] instead of null.
func scoredOrEmpty(items []analyzer.ScoredItem) []analyzer.ScoredItem {
	if items == nil {
		return []analyzer.ScoredItem{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
