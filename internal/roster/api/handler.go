package roster_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-credentials/internal/auth"
	"ms-credentials/internal/roster"
	"ms-credentials/internal/utils"

	"github.com/go-chi/chi/v5"
)

type RosterBuilder interface {
	BuildRoster(ctx context.Context, organizerID, eventID string) (*roster.Roster, error)
}

type Logger interface {
	Error(category, message string)
}

// Handler handles attendee roster HTTP endpoints
type Handler struct {
	Roster RosterBuilder
	Logger Logger
}

func NewHandler(b RosterBuilder, logger Logger) *Handler {
	return &Handler{Roster: b, Logger: logger}
}

// RegisterRoutes registers the roster routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/roster", h.GetRoster)
}

// sendJSONResponse is a helper function to send JSON responses
func sendJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// GetRoster returns the caller's attendees: GET /api/roster?event_id=...
func (h *Handler) GetRoster(w http.ResponseWriter, r *http.Request) {
	organizerID := auth.UserID(r.Context())
	eventID := r.URL.Query().Get("event_id")

	res, err := h.Roster.BuildRoster(r.Context(), organizerID, eventID)
	switch {
	case errors.Is(err, roster.ErrEventNotOwned):
		sendJSONResponse(w, http.StatusNotFound, utils.ErrorResponse("Event not found", "event_not_owned"))
		return
	case errors.Is(err, roster.ErrRosterUnavailable):
		sendJSONResponse(w, http.StatusServiceUnavailable, utils.APIResponse{
			Success:   false,
			Message:   "Roster sources unavailable",
			Data:      res,
			Error:     "roster_unavailable",
			Timestamp: time.Now(),
		})
		return
	case err != nil:
		h.Logger.Error("API", fmt.Sprintf("roster for organizer %s: %v", organizerID, err))
		sendJSONResponse(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to build roster", "internal error"))
		return
	}

	sendJSONResponse(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d attendees", len(res.Entries)), res))
}
