/*
handlers.go - HTTP API handlers for the XP backfill engine

PURPOSE:
  Exposes the backfill engine and the live award path over HTTP. Handles
  request decoding, caller resolution and error mapping; everything else is
  delegated to backfill.Engine.

ENDPOINTS:
  Action endpoint (one URL, action in the body):
    POST /api/xp-backfill
      {"action": "backfill_xp",         "user_id"?, "dry_run"?}
      {"action": "backfill_all_users",  "dry_run"?}
      {"action": "rollback_backfill",   "user_id"?}
      {"action": "get_backfill_report", "user_id"?}
      {"action": "award_xp",            "user_id"?, "event_type", "event_value", "source_id"?, "metadata"?}
      {"action": "get_user_stats",      "user_id"?}

  REST mirrors:
    POST /api/users/{id}/backfill?dry_run=true
    POST /api/backfill?dry_run=true
    POST /api/users/{id}/backfill/rollback
    GET  /api/users/{id}/backfill/report
    POST /api/users/{id}/xp
    GET  /api/users/{id}/stats

  user_id defaults to the caller (JWT subject). Any authenticated caller
  may name another user; row-level access control lives in front of this
  service.

ERROR HANDLING:
  Errors are returned as JSON {error, details}:
  - 400: unknown action, bad body, invalid event, missing user
  - 401: missing or invalid token (auth.go)
  - 409: a run for the same user is in progress
  - 500: collection or storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: bearer token middleware
  - scenarios.go: demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/studyhall/xp-engine/backfill"
	"github.com/studyhall/xp-engine/lock"
	"github.com/studyhall/xp-engine/logger"
	"github.com/studyhall/xp-engine/xp"
)

const rollbackMessage = "Backfill rollback completed successfully"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *backfill.Engine
	Log    *logger.Logger

	// Scenarios is nil unless demo data loading is enabled.
	Scenarios ScenarioStore

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(engine *backfill.Engine, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{Engine: engine, Log: log.With("service", "API")}
}

// =============================================================================
// ACTION ENDPOINT
// =============================================================================

// Action dispatches on the "action" field.
// POST /api/xp-backfill
func (h *Handler) Action(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	userID := xp.UserID(req.UserID)
	if userID == "" {
		userID, _ = CallerFrom(ctx)
	}

	switch req.Action {
	case ActionBackfillXP:
		out, err := h.Engine.Run(ctx, userID, req.DryRun)
		if err != nil {
			h.fail(w, req.Action, err)
			return
		}
		writeJSON(w, http.StatusOK, toOutcomeDTO(out))

	case ActionBackfillAllUsers:
		summary, err := h.Engine.RunAll(ctx, req.DryRun)
		if err != nil {
			h.fail(w, req.Action, err)
			return
		}
		writeJSON(w, http.StatusOK, toBulkSummaryDTO(summary))

	case ActionRollback:
		h.rollback(w, r, userID)

	case ActionReport:
		h.report(w, r, userID)

	case ActionAwardXP:
		h.award(w, r, backfill.AwardRequest{
			UserID:   userID,
			Type:     xp.EventType(req.EventType),
			Value:    req.EventValue,
			SourceID: req.SourceID,
			Metadata: req.Metadata,
		})

	case ActionUserStats:
		h.stats(w, r, userID)

	default:
		h.fail(w, req.Action, fmt.Errorf("%w: %q", xp.ErrUnknownAction, req.Action))
	}
}

// =============================================================================
// REST MIRRORS
// =============================================================================

// BackfillUser runs (or previews) one user's backfill.
// POST /api/users/{id}/backfill?dry_run=true
func (h *Handler) BackfillUser(w http.ResponseWriter, r *http.Request) {
	dryRun, ok := parseDryRun(w, r)
	if !ok {
		return
	}
	out, err := h.Engine.Run(r.Context(), pathUser(r), dryRun)
	if err != nil {
		h.fail(w, ActionBackfillXP, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(out))
}

// BackfillAll runs every user.
// POST /api/backfill?dry_run=true
func (h *Handler) BackfillAll(w http.ResponseWriter, r *http.Request) {
	dryRun, ok := parseDryRun(w, r)
	if !ok {
		return
	}
	summary, err := h.Engine.RunAll(r.Context(), dryRun)
	if err != nil {
		h.fail(w, ActionBackfillAllUsers, err)
		return
	}
	writeJSON(w, http.StatusOK, toBulkSummaryDTO(summary))
}

// RollbackUser removes a user's backfill events.
// POST /api/users/{id}/backfill/rollback
func (h *Handler) RollbackUser(w http.ResponseWriter, r *http.Request) {
	h.rollback(w, r, pathUser(r))
}

// GetReport returns a user's ledger report.
// GET /api/users/{id}/backfill/report
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, pathUser(r))
}

// AwardXP records a live XP event.
// POST /api/users/{id}/xp
func (h *Handler) AwardXP(w http.ResponseWriter, r *http.Request) {
	var req AwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.award(w, r, backfill.AwardRequest{
		UserID:   pathUser(r),
		Type:     xp.EventType(req.EventType),
		Value:    req.EventValue,
		SourceID: req.SourceID,
		Metadata: req.Metadata,
	})
}

// GetStats returns a user's XP and badges.
// GET /api/users/{id}/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.stats(w, r, pathUser(r))
}

// Health is the unauthenticated liveness probe.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SHARED OPERATIONS
// =============================================================================

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request, userID xp.UserID) {
	res, err := h.Engine.Rollback(r.Context(), userID)
	if err != nil {
		h.fail(w, ActionRollback, err)
		return
	}
	writeJSON(w, http.StatusOK, RollbackDTO{
		UserID:        string(res.UserID),
		EventsDeleted: res.EventsDeleted,
		NewTotalXP:    res.NewTotalXP,
		NewLevel:      res.NewLevel,
		Message:       rollbackMessage,
	})
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request, userID xp.UserID) {
	rep, err := h.Engine.Report(r.Context(), userID)
	if err != nil {
		h.fail(w, ActionReport, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(rep))
}

func (h *Handler) award(w http.ResponseWriter, r *http.Request, req backfill.AwardRequest) {
	res, err := h.Engine.Award(r.Context(), req)
	if err != nil {
		h.fail(w, ActionAwardXP, err)
		return
	}
	writeJSON(w, http.StatusOK, toAwardDTO(res))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request, userID xp.UserID) {
	s, err := h.Engine.Stats(r.Context(), userID)
	if err != nil {
		h.fail(w, ActionUserStats, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(s))
}

// =============================================================================
// HELPERS
// =============================================================================

func pathUser(r *http.Request) xp.UserID {
	return xp.UserID(chi.URLParam(r, "id"))
}

func parseDryRun(w http.ResponseWriter, r *http.Request) (bool, bool) {
	raw := r.URL.Query().Get("dry_run")
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dry_run parameter", err)
		return false, false
	}
	return v, true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, xp.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, lock.ErrHeld):
		return http.StatusConflict
	case xp.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		h.Log.Error("request failed", "action", action, "error", err)
		writeError(w, status, "Internal error", err)
	case http.StatusConflict:
		writeError(w, status, "Backfill already running for this user", err)
	case http.StatusBadRequest:
		writeError(w, status, "Invalid request", err)
	default:
		writeError(w, status, http.StatusText(status), err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
