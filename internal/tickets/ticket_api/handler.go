package ticket_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-credentials/internal/auth"
	"ms-credentials/internal/directory"
	"ms-credentials/internal/models"
	tickets "ms-credentials/internal/tickets/service"
	"ms-credentials/internal/utils"

	"github.com/go-chi/chi/v5"
)

type TicketOps interface {
	IssueTickets(ctx context.Context, purchaseID string) (*tickets.IssueResult, error)
	TopUpTickets(ctx context.Context, purchaseID string) (*tickets.IssueResult, error)
	ListPurchaseTickets(ctx context.Context, purchaseID string) ([]models.TicketCredential, error)
	ValidateTicket(ctx context.Context, codeOrPayload, organizerID string) (*tickets.ValidationResult, error)
	ConsultTicket(ctx context.Context, codeOrPayload string) (*tickets.ConsultResult, error)
	EventTicketCounts(ctx context.Context, eventID, organizerID string) (map[models.CredentialState]int, error)
	PurchaseHolder(ctx context.Context, purchaseID string) (string, error)
}

type PayloadBuilder interface {
	PayloadURL(code string) string
}

type Logger interface {
	Error(category, message string)
	LogSecurity(event, message string)
}

type Handler struct {
	TicketService TicketOps
	Codes         PayloadBuilder
	Logger        Logger
}

func NewHandler(ticketService TicketOps, codes PayloadBuilder, logger Logger) *Handler {
	return &Handler{TicketService: ticketService, Codes: codes, Logger: logger}
}

// RegisterPublicRoutes mounts the unauthenticated consultation page.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/tickets/consult", h.ConsultTicket)
}

// RegisterRoutes mounts the routes that need an authenticated caller.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/tickets/validate", h.ValidateTicket)
	r.Route("/api/purchases/{purchaseId}/tickets", func(r chi.Router) {
		r.Get("/", h.ListPurchaseTickets)
		r.Post("/", h.IssueTickets)
		r.Post("/top-up", h.TopUpTickets)
	})
	r.Get("/api/events/{eventId}/ticket-counts", h.GetEventTicketCounts)
}

// ValidateTicket handles organizer check-in.
// Expected POST request body: {"code": "<secure code or scanned payload URL>"}
func (h *Handler) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", "code is required"))
		return
	}

	organizerID := auth.UserID(r.Context())
	res, err := h.TicketService.ValidateTicket(r.Context(), body.Code, organizerID)
	if err != nil {
		h.writeValidationError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Check-in successful", res))
}

func (h *Handler) writeValidationError(w http.ResponseWriter, err error) {
	var verr *tickets.ValidationError
	if !errors.As(err, &verr) {
		h.Logger.Error("API", fmt.Sprintf("validation failed: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Validation failed", "internal error"))
		return
	}

	status := http.StatusInternalServerError
	switch verr.Kind {
	case tickets.KindNotFound:
		status = http.StatusNotFound
	case tickets.KindUnauthorized:
		status = http.StatusForbidden
	case tickets.KindAlreadyUsed:
		status = http.StatusConflict
	case tickets.KindCancelled, tickets.KindExpired:
		status = http.StatusGone
	}

	resp := utils.ErrorResponse(verr.Error(), string(verr.Kind))
	if verr.Kind == tickets.KindAlreadyUsed {
		resp.Data = map[string]interface{}{
			"scanned_at": verr.ScannedAt,
			"scanned_by": verr.ScannedBy,
		}
	}
	utils.WriteJSON(w, status, resp)
}

// ConsultTicket is the public "check my ticket" lookup: GET /tickets/consult?code=...
func (h *Handler) ConsultTicket(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Missing code", "code query parameter is required"))
		return
	}

	res, err := h.TicketService.ConsultTicket(r.Context(), code)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("consultation failed: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Lookup failed", "internal error"))
		return
	}
	if !res.Exists {
		utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{
			Success:   false,
			Message:   "Ticket not found",
			Data:      res,
			Error:     string(tickets.KindNotFound),
			Timestamp: time.Now(),
		})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket found", res))
}

// TicketView is a credential as shown to its holder, with the QR payload.
type TicketView struct {
	models.TicketCredential
	PayloadURL string `json:"payload_url"`
}

// authorizePurchase writes the refusal and returns false unless the caller
// made the purchase.
func (h *Handler) authorizePurchase(w http.ResponseWriter, r *http.Request, purchaseID string) bool {
	holder, err := h.TicketService.PurchaseHolder(r.Context(), purchaseID)
	if errors.Is(err, directory.ErrPurchaseNotFound) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Purchase not found", "not_found"))
		return false
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("resolving holder of purchase %s: %v", purchaseID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load purchase", "internal error"))
		return false
	}

	caller := auth.UserID(r.Context())
	if holder != caller {
		h.Logger.LogSecurity("FORBIDDEN", fmt.Sprintf("user %s requested tickets of purchase %s", caller, purchaseID))
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Not your purchase", "forbidden"))
		return false
	}
	return true
}

func (h *Handler) ListPurchaseTickets(w http.ResponseWriter, r *http.Request) {
	purchaseID := chi.URLParam(r, "purchaseId")
	if !h.authorizePurchase(w, r, purchaseID) {
		return
	}
	creds, err := h.TicketService.ListPurchaseTickets(r.Context(), purchaseID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("listing tickets for %s: %v", purchaseID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to list tickets", "internal error"))
		return
	}

	views := make([]TicketView, 0, len(creds))
	for _, c := range creds {
		views = append(views, TicketView{TicketCredential: c, PayloadURL: h.Codes.PayloadURL(c.SecureCode)})
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets retrieved", views))
}

// IssueTickets and TopUpTickets return secure codes, so only the purchase
// holder may call them.
func (h *Handler) IssueTickets(w http.ResponseWriter, r *http.Request) {
	purchaseID := chi.URLParam(r, "purchaseId")
	if !h.authorizePurchase(w, r, purchaseID) {
		return
	}
	res, err := h.TicketService.IssueTickets(r.Context(), purchaseID)
	h.writeIssueResult(w, purchaseID, res, err)
}

func (h *Handler) TopUpTickets(w http.ResponseWriter, r *http.Request) {
	purchaseID := chi.URLParam(r, "purchaseId")
	if !h.authorizePurchase(w, r, purchaseID) {
		return
	}
	res, err := h.TicketService.TopUpTickets(r.Context(), purchaseID)
	h.writeIssueResult(w, purchaseID, res, err)
}

func (h *Handler) writeIssueResult(w http.ResponseWriter, purchaseID string, res *tickets.IssueResult, err error) {
	if err == nil {
		utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse(fmt.Sprintf("%d tickets issued", len(res.Credentials)), res))
		return
	}

	var batchErr *tickets.PartialBatchError
	switch {
	case errors.As(err, &batchErr):
		resp := utils.ErrorResponse(err.Error(), "partial_batch_failure")
		resp.Data = res
		utils.WriteJSON(w, http.StatusInternalServerError, resp)
	case errors.Is(err, directory.ErrPurchaseNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Purchase not found", "not_found"))
	case errors.Is(err, tickets.ErrIssuanceInProgress):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse(err.Error(), "issuance_in_progress"))
	case errors.Is(err, tickets.ErrPurchaseNotCompleted):
		utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse(err.Error(), "purchase_not_completed"))
	case errors.Is(err, tickets.ErrMissingContext):
		utils.WriteJSON(w, http.StatusUnprocessableEntity, utils.ErrorResponse(err.Error(), string(tickets.IssuanceMissingContext)))
	default:
		h.Logger.Error("API", fmt.Sprintf("issuing tickets for %s: %v", purchaseID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Issuance failed", "internal error"))
	}
}
