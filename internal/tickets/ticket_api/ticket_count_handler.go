package ticket_api

import (
	"errors"
	"fmt"
	"net/http"

	"ms-credentials/internal/auth"
	"ms-credentials/internal/directory"
	"ms-credentials/internal/models"
	tickets "ms-credentials/internal/tickets/service"
	"ms-credentials/internal/utils"

	"github.com/go-chi/chi/v5"
)

// TicketCountResponse is the response format for the ticket counts endpoint
type TicketCountResponse struct {
	EventID string                         `json:"event_id"`
	Total   int                            `json:"total"`
	ByState map[models.CredentialState]int `json:"by_state"`
}

// GetEventTicketCounts returns credential counts per state for an owned event.
func (h *Handler) GetEventTicketCounts(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	counts, err := h.TicketService.EventTicketCounts(r.Context(), eventID, auth.UserID(r.Context()))
	switch {
	case errors.Is(err, directory.ErrEventNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Event not found", "not_found"))
		return
	case errors.Is(err, tickets.ErrUnauthorized):
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse(err.Error(), string(tickets.KindUnauthorized)))
		return
	case err != nil:
		h.Logger.Error("API", fmt.Sprintf("counting tickets for %s: %v", eventID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Error retrieving ticket count", "internal error"))
		return
	}

	resp := TicketCountResponse{EventID: eventID, ByState: counts}
	for _, n := range counts {
		resp.Total += n
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket counts retrieved", resp))
}
