package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/engine"
	"github.com/wonny/orbit/internal/scheduler"
	"github.com/wonny/orbit/internal/strategy"
	"github.com/wonny/orbit/pkg/logger"
	"github.com/wonny/orbit/pkg/redis"
)

// Runner executes fn on the engine goroutine and waits
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// JobLister reports cron job summaries
type JobLister interface {
	Summaries() []scheduler.JobSummary
}

// EngineHandler serves the engine control endpoints
// ⭐ SSOT: 엔진 접근은 모두 runner.Do 안에서 (actor goroutine)
type EngineHandler struct {
	runner     Runner
	engine     *engine.Engine
	cache      *redis.Cache
	jobs       JobLister
	configHash string
	logger     *logger.Logger
}

// NewEngineHandler creates a new engine handler; cache and jobs may be nil
func NewEngineHandler(runner Runner, e *engine.Engine, cache *redis.Cache, jobs JobLister, configHash string, log *logger.Logger) *EngineHandler {
	return &EngineHandler{
		runner:     runner,
		engine:     e,
		cache:      cache,
		jobs:       jobs,
		configHash: configHash,
		logger:     log,
	}
}

// StatusResponse is the /api/status payload
type StatusResponse struct {
	engine.Status
	ConfigHash string                 `json:"config_hash"`
	Jobs       []scheduler.JobSummary `json:"jobs,omitempty"`
}

// GetStatus returns readiness, role and counters
// GET /api/status
func (h *EngineHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	var status engine.Status
	if err := h.runner.Do(r.Context(), func(context.Context) error {
		status = h.engine.Status()
		return nil
	}); err != nil {
		h.fail(w, err, "Failed to read status")
		return
	}

	resp := StatusResponse{Status: status, ConfigHash: h.configHash}
	if h.jobs != nil {
		resp.Jobs = h.jobs.Summaries()
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetPositions returns the ledger snapshot
// GET /api/positions[?source=cache]
func (h *EngineHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") == "cache" {
		h.cachedPositions(w, r)
		return
	}

	var positions []contracts.Position
	if err := h.runner.Do(r.Context(), func(context.Context) error {
		positions = h.engine.Snapshot()
		return nil
	}); err != nil {
		h.fail(w, err, "Failed to read positions")
		return
	}
	if positions == nil {
		positions = []contracts.Position{}
	}
	respondJSON(w, http.StatusOK, positions)
}

func (h *EngineHandler) cachedPositions(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		respondError(w, http.StatusServiceUnavailable, "Position cache not configured")
		return
	}

	var positions []contracts.Position
	found, err := h.cache.Get(r.Context(), redis.PositionsKey, &positions)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read cached positions")
		respondError(w, http.StatusInternalServerError, "Failed to read cached positions")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "No cached snapshot")
		return
	}
	respondJSON(w, http.StatusOK, positions)
}

// FlattenRequest represents a flatten request
type FlattenRequest struct {
	Reason string `json:"reason"`
}

// Flatten closes every position and cancels pending entries
// POST /api/flatten
func (h *EngineHandler) Flatten(w http.ResponseWriter, r *http.Request) {
	var req FlattenRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "api"
	}

	var n int
	if err := h.runner.Do(r.Context(), func(ctx context.Context) error {
		n = h.engine.FlattenAll(ctx, req.Reason)
		return nil
	}); err != nil {
		h.fail(w, err, "Failed to flatten")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"flattened": n,
		"reason":    req.Reason,
	})
}

// BreakevenRequest arms or disarms manual breakeven
// Armed 생략 시 arm, PositionID 생략 시 전체
type BreakevenRequest struct {
	Armed      *bool  `json:"armed"`
	PositionID string `json:"position_id"`
}

// Breakeven toggles manual breakeven
// POST /api/breakeven
func (h *EngineHandler) Breakeven(w http.ResponseWriter, r *http.Request) {
	var req BreakevenRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	armed := req.Armed == nil || *req.Armed

	var n int
	err := h.runner.Do(r.Context(), func(ctx context.Context) error {
		var err error
		n, err = h.engine.SetBreakeven(ctx, req.PositionID, armed)
		return err
	})
	if err != nil {
		h.fail(w, err, "Failed to toggle breakeven")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"armed":     armed,
		"positions": n,
	})
}

// EntryRequest represents a new entry
type EntryRequest struct {
	Mode      contracts.Mode      `json:"mode"`
	Direction contracts.Direction `json:"direction"`
	Price     float64             `json:"price"`
}

// CreateEntry plans and submits an entry (primary only)
// POST /api/entries
func (h *EngineHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Mode = contracts.Mode(strings.ToUpper(string(req.Mode)))
	req.Direction = contracts.Direction(strings.ToUpper(string(req.Direction)))
	if !req.Direction.Valid() {
		respondError(w, http.StatusBadRequest, "direction must be LONG or SHORT")
		return
	}

	var pos contracts.Position
	err := h.runner.Do(r.Context(), func(ctx context.Context) error {
		var err error
		pos, err = h.engine.EnterEntry(ctx, strategy.Request{
			Mode:      req.Mode,
			Direction: req.Direction,
			Price:     req.Price,
		})
		return err
	})
	if err != nil {
		h.fail(w, err, "Failed to submit entry")
		return
	}
	respondJSON(w, http.StatusCreated, pos)
}

// RepriceRequest moves a pending entry
type RepriceRequest struct {
	Price float64 `json:"price"`
}

// RepriceEntry moves a pending entry order
// PATCH /api/entries/{id}
func (h *EngineHandler) RepriceEntry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req RepriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Price <= 0 {
		respondError(w, http.StatusBadRequest, "price must be > 0")
		return
	}

	if err := h.runner.Do(r.Context(), func(ctx context.Context) error {
		return h.engine.RepriceEntry(ctx, id, req.Price)
	}); err != nil {
		h.fail(w, err, "Failed to reprice entry")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"position_id": id,
		"price":       req.Price,
	})
}

// CancelEntry cancels a pending entry order
// DELETE /api/entries/{id}
func (h *EngineHandler) CancelEntry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.runner.Do(r.Context(), func(ctx context.Context) error {
		return h.engine.CancelEntry(ctx, id, "api")
	}); err != nil {
		h.fail(w, err, "Failed to cancel entry")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"position_id": id,
		"status":      "cancel requested",
	})
}

// TargetActionRequest names the action for one leg
type TargetActionRequest struct {
	Action engine.Action `json:"action"`
}

// TargetAction applies a manual action to a target or the runner
// POST /api/positions/{id}/targets/{slot}
func (h *EngineHandler) TargetAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	slot := contracts.TargetSlot(strings.ToUpper(vars["slot"]))

	var req TargetActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		respondError(w, http.StatusBadRequest, "action is required")
		return
	}
	action := engine.Action(strings.ToLower(string(req.Action)))

	if err := h.runner.Do(r.Context(), func(ctx context.Context) error {
		return h.engine.TargetAction(ctx, id, slot, action)
	}); err != nil {
		h.fail(w, err, "Failed to apply target action")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"position_id": id,
		"slot":        string(slot),
		"action":      string(action),
	})
}

// fail logs and writes err with its mapped status
func (h *EngineHandler) fail(w http.ResponseWriter, err error, msg string) {
	status := statusFor(err)
	log := h.logger.WithError(err)
	if status >= http.StatusInternalServerError {
		log.Error(msg)
	} else {
		log.Warn(msg)
	}
	respondError(w, status, err.Error())
}

// decodeOptional decodes a JSON body when one is present
func decodeOptional(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
