package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StateHandler serves the full-reload endpoint clients call on connect and
// reconnect to replace their local view wholesale.
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler.
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{stateProvider: provider}
}

// HandleGetGameState handles GET /api/games/{gameID}/state.
func (h *StateHandler) HandleGetGameState(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(r.PathValue("gameID"))
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}

	state, err := h.stateProvider.GetGameState(r.Context(), gameID)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to get game state")
		http.Error(w, "failed to get game state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Msg("failed to encode game state")
	}
}

// RegisterRoutes registers state routes with an HTTP mux.
func (h *StateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/games/{gameID}/state", h.HandleGetGameState)
}
