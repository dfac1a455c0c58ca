package challenge

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mkral/boomtown/go/internal/models"
)

// Service exposes the lifecycle commands over JSON HTTP. Broadcast events are
// not delivered here; they flow through the outbox to the gateway, so the
// originator sees its own change arrive on the multicast channel like every
// other client.
type Service struct {
	app *App
}

// NewService creates a new challenge HTTP service.
func NewService(app *App) *Service {
	return &Service{app: app}
}

// RegisterRoutes registers the command surface with an HTTP mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/challenges/request", s.handleRequest)
	mux.HandleFunc("POST /api/challenges/{id}/assign", s.handleAssign)
	mux.HandleFunc("POST /api/challenges/{id}/complete", s.handleComplete)
	mux.HandleFunc("POST /api/challenges/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/challenges/{id}/expire", s.handleExpire)
	mux.HandleFunc("POST /api/games/{gameID}/challenges/adjust", s.handleAdjustForPause)
	mux.HandleFunc("GET /api/games/{gameID}/challenges/active", s.handleListActive)
	mux.HandleFunc("GET /api/games/{gameID}/lock", s.handleCheckLock)
}

func (s *Service) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req RequestChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.GameID == uuid.Nil || req.PlayerID == uuid.Nil || req.TeamID == uuid.Nil || req.ResourceKind == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "game_id, player_id, team_id and resource_kind are required")
		return
	}

	created, err := s.app.Request(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Service) handleAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req AssignChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.ActivityKind == "" || req.TargetCount <= 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "activity_kind and a positive target_count are required")
		return
	}

	updated, err := s.app.Assign(r.Context(), id, req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Service) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	updated, err := s.app.Complete(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	updated, err := s.app.Cancel(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleExpire is the best-effort client-side expiry report. The server sweep
// covers clients that never report; both paths converge on ExpireIfDue.
func (s *Service) handleExpire(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	current, _, err := s.app.ExpireIfDue(r.Context(), id, s.app.Now())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (s *Service) handleAdjustForPause(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathUUID(w, r, "gameID")
	if !ok {
		return
	}
	var req AdjustForPauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.PauseDurationMs <= 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "pause_duration_ms must be positive")
		return
	}

	count, err := s.app.AdjustForPause(r.Context(), gameID, time.Duration(req.PauseDurationMs)*time.Millisecond)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AdjustForPauseResponse{AdjustedCount: count})
}

func (s *Service) handleListActive(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathUUID(w, r, "gameID")
	if !ok {
		return
	}
	var teamID *uuid.UUID
	if raw := r.URL.Query().Get("team_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid team_id")
			return
		}
		teamID = &parsed
	}

	challenges, err := s.app.ListActive(r.Context(), gameID, teamID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if challenges == nil {
		challenges = []models.Challenge{}
	}
	writeJSON(w, http.StatusOK, challenges)
}

func (s *Service) handleCheckLock(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathUUID(w, r, "gameID")
	if !ok {
		return
	}
	q := r.URL.Query()
	teamID, err := uuid.Parse(q.Get("team_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid team_id")
		return
	}
	playerID, err := uuid.Parse(q.Get("player_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid player_id")
		return
	}
	hasSchool, _ := strconv.ParseBool(q.Get("has_school"))

	lock, err := s.app.CheckLock(r.Context(), gameID, teamID, playerID, hasSchool)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lock)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeAppError maps lifecycle errors onto the HTTP taxonomy. Every state
// machine violation is surfaced synchronously; nothing is silently dropped.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrLockConflict):
		writeError(w, http.StatusConflict, "LOCK_CONFLICT", err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStaleWrite):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		log.Error().Err(err).Msg("challenge command failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
