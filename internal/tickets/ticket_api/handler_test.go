package ticket_api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ms-credentials/internal/auth"
	"ms-credentials/internal/directory"
	"ms-credentials/internal/logger"
	"ms-credentials/internal/models"
	tickets "ms-credentials/internal/tickets/service"
	"ms-credentials/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTicketOps struct {
	mock.Mock
}

func (m *MockTicketOps) IssueTickets(ctx context.Context, purchaseID string) (*tickets.IssueResult, error) {
	args := m.Called(ctx, purchaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tickets.IssueResult), args.Error(1)
}

func (m *MockTicketOps) TopUpTickets(ctx context.Context, purchaseID string) (*tickets.IssueResult, error) {
	args := m.Called(ctx, purchaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tickets.IssueResult), args.Error(1)
}

func (m *MockTicketOps) ListPurchaseTickets(ctx context.Context, purchaseID string) ([]models.TicketCredential, error) {
	args := m.Called(ctx, purchaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TicketCredential), args.Error(1)
}

func (m *MockTicketOps) ValidateTicket(ctx context.Context, code, organizerID string) (*tickets.ValidationResult, error) {
	args := m.Called(ctx, code, organizerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tickets.ValidationResult), args.Error(1)
}

func (m *MockTicketOps) ConsultTicket(ctx context.Context, code string) (*tickets.ConsultResult, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tickets.ConsultResult), args.Error(1)
}

func (m *MockTicketOps) EventTicketCounts(ctx context.Context, eventID, organizerID string) (map[models.CredentialState]int, error) {
	args := m.Called(ctx, eventID, organizerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[models.CredentialState]int), args.Error(1)
}

func (m *MockTicketOps) PurchaseHolder(ctx context.Context, purchaseID string) (string, error) {
	args := m.Called(ctx, purchaseID)
	return args.String(0), args.Error(1)
}

type staticPayload struct{}

func (staticPayload) PayloadURL(code string) string { return "https://tickets.test/tickets/consult?code=" + code }

// newRouter mounts the handler with the caller already authenticated as userID.
func newRouter(ops *MockTicketOps, userID string) http.Handler {
	h := NewHandler(ops, staticPayload{}, logger.Nop())
	r := chi.NewRouter()
	h.RegisterPublicRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(auth.WithUserID(req.Context(), userID)))
			})
		})
		h.RegisterRoutes(r)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, utils.APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestValidateTicketStatusMapping(t *testing.T) {
	scannedAt := time.Now().UTC()
	scannedBy := "organizer-1"

	tests := []struct {
		name      string
		err       error
		status    int
		errorKind string
	}{
		{"not found", &tickets.ValidationError{Kind: tickets.KindNotFound}, http.StatusNotFound, "not_found"},
		{"wrong organizer", &tickets.ValidationError{Kind: tickets.KindUnauthorized}, http.StatusForbidden, "unauthorized"},
		{"already used", &tickets.ValidationError{Kind: tickets.KindAlreadyUsed, ScannedAt: &scannedAt, ScannedBy: &scannedBy}, http.StatusConflict, "already_used"},
		{"cancelled", &tickets.ValidationError{Kind: tickets.KindCancelled}, http.StatusGone, "cancelled"},
		{"expired", &tickets.ValidationError{Kind: tickets.KindExpired}, http.StatusGone, "expired"},
		{"infrastructure", errors.New("connection reset"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := new(MockTicketOps)
			ops.On("ValidateTicket", mock.Anything, "abc", "organizer-1").Return(nil, tt.err)

			w, resp := do(t, newRouter(ops, "organizer-1"), http.MethodPost, "/api/tickets/validate", `{"code":"abc"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.errorKind, resp.Error)
			if tt.name == "already used" {
				assert.NotNil(t, resp.Data)
			}
		})
	}
}

func TestValidateTicketSuccess(t *testing.T) {
	ops := new(MockTicketOps)
	ops.On("ValidateTicket", mock.Anything, "abc", "organizer-1").Return(&tickets.ValidationResult{
		Credential: models.TicketCredential{State: models.CredentialUsed},
		Snapshot:   models.TicketSnapshot{EventTitle: "Launch"},
	}, nil)

	w, resp := do(t, newRouter(ops, "organizer-1"), http.MethodPost, "/api/tickets/validate", `{"code":"abc"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Contains(t, w.Body.String(), "Launch")
}

func TestValidateTicketRejectsEmptyBody(t *testing.T) {
	ops := new(MockTicketOps)
	w, _ := do(t, newRouter(ops, "organizer-1"), http.MethodPost, "/api/tickets/validate", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	ops.AssertNotCalled(t, "ValidateTicket", mock.Anything, mock.Anything, mock.Anything)
}

func TestConsultTicket(t *testing.T) {
	ops := new(MockTicketOps)
	ops.On("ConsultTicket", mock.Anything, "known").Return(&tickets.ConsultResult{
		Exists: true,
		State:  models.CredentialActive,
	}, nil)
	ops.On("ConsultTicket", mock.Anything, "unknown").Return(&tickets.ConsultResult{Exists: false}, nil)
	router := newRouter(ops, "")

	w, resp := do(t, router, http.MethodGet, "/tickets/consult?code=known", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, resp = do(t, router, http.MethodGet, "/tickets/consult?code=unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", resp.Error)

	w, _ = do(t, router, http.MethodGet, "/tickets/consult", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPurchaseTickets(t *testing.T) {
	ops := new(MockTicketOps)
	ops.On("PurchaseHolder", mock.Anything, "p-1").Return("user-1", nil)
	ops.On("ListPurchaseTickets", mock.Anything, "p-1").Return([]models.TicketCredential{
		{ID: "c-1", UserID: "user-1", SecureCode: "code-1", TicketNumber: 1},
	}, nil)

	w, _ := do(t, newRouter(ops, "user-1"), http.MethodGet, "/api/purchases/p-1/tickets", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://tickets.test/tickets/consult?code=code-1")

	w, resp := do(t, newRouter(ops, "someone-else"), http.MethodGet, "/api/purchases/p-1/tickets", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", resp.Error)
	ops.AssertNumberOfCalls(t, "ListPurchaseTickets", 1)
}

func TestListPurchaseTicketsWithNoCredentialsStillChecksHolder(t *testing.T) {
	ops := new(MockTicketOps)
	ops.On("PurchaseHolder", mock.Anything, "p-empty").Return("user-1", nil)
	ops.On("ListPurchaseTickets", mock.Anything, "p-empty").Return([]models.TicketCredential{}, nil)

	w, resp := do(t, newRouter(ops, "someone-else"), http.MethodGet, "/api/purchases/p-empty/tickets", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", resp.Error)
	ops.AssertNotCalled(t, "ListPurchaseTickets", mock.Anything, mock.Anything)
}

func TestIssueAndTopUpRefuseOtherUsers(t *testing.T) {
	ops := new(MockTicketOps)
	ops.On("PurchaseHolder", mock.Anything, "p-owned-by-alice").Return("alice", nil)
	ops.On("PurchaseHolder", mock.Anything, "p-gone").Return("", directory.ErrPurchaseNotFound)
	router := newRouter(ops, "mallory")

	for _, path := range []string{
		"/api/purchases/p-owned-by-alice/tickets",
		"/api/purchases/p-owned-by-alice/tickets/top-up",
	} {
		w, resp := do(t, router, http.MethodPost, path, "")
		assert.Equal(t, http.StatusForbidden, w.Code, path)
		assert.Equal(t, "forbidden", resp.Error)
		assert.NotContains(t, w.Body.String(), "secure_code")
	}

	w, resp := do(t, router, http.MethodPost, "/api/purchases/p-gone/tickets/top-up", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", resp.Error)

	ops.AssertNotCalled(t, "IssueTickets", mock.Anything, mock.Anything)
	ops.AssertNotCalled(t, "TopUpTickets", mock.Anything, mock.Anything)
}

func TestIssueAndTopUpErrors(t *testing.T) {
	ops := new(MockTicketOps)
	ops.On("PurchaseHolder", mock.Anything, "missing").Return("", directory.ErrPurchaseNotFound)
	ops.On("PurchaseHolder", mock.Anything, mock.Anything).Return("user-1", nil)
	ops.On("IssueTickets", mock.Anything, "ok").Return(&tickets.IssueResult{Credentials: make([]models.TicketCredential, 2)}, nil)
	ops.On("IssueTickets", mock.Anything, "ghost-user").Return(nil,
		&tickets.IssuanceError{Kind: tickets.IssuanceMissingContext, PurchaseID: "ghost-user", Err: directory.ErrUserNotFound})
	ops.On("IssueTickets", mock.Anything, "partial").Return(&tickets.IssueResult{Credentials: make([]models.TicketCredential, 1)},
		&tickets.PartialBatchError{PurchaseID: "partial", Failed: []tickets.IndexFailure{{TicketNumber: 2}}})
	ops.On("TopUpTickets", mock.Anything, "busy").Return(nil, tickets.ErrIssuanceInProgress)
	router := newRouter(ops, "user-1")

	w, resp := do(t, router, http.MethodPost, "/api/purchases/ok/tickets", "")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "2 tickets issued", resp.Message)

	w, _ = do(t, router, http.MethodPost, "/api/purchases/missing/tickets", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	ops.AssertNotCalled(t, "IssueTickets", mock.Anything, "missing")

	w, _ = do(t, router, http.MethodPost, "/api/purchases/ghost-user/tickets", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, resp = do(t, router, http.MethodPost, "/api/purchases/partial/tickets", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "partial_batch_failure", resp.Error)
	assert.NotNil(t, resp.Data)

	w, resp = do(t, router, http.MethodPost, "/api/purchases/busy/tickets/top-up", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "issuance_in_progress", resp.Error)
}

func TestGetEventTicketCounts(t *testing.T) {
	ops := new(MockTicketOps)
	ops.On("EventTicketCounts", mock.Anything, "e-1", "organizer-1").Return(map[models.CredentialState]int{
		models.CredentialActive: 3,
		models.CredentialUsed:   2,
	}, nil)
	ops.On("EventTicketCounts", mock.Anything, "e-1", "organizer-2").Return(nil, tickets.ErrUnauthorized)

	w, _ := do(t, newRouter(ops, "organizer-1"), http.MethodGet, "/api/events/e-1/ticket-counts", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":5`)

	w, _ = do(t, newRouter(ops, "organizer-2"), http.MethodGet, "/api/events/e-1/ticket-counts", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
