package roster_api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-credentials/internal/auth"
	"ms-credentials/internal/logger"
	"ms-credentials/internal/models"
	"ms-credentials/internal/roster"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockRosterBuilder struct {
	mock.Mock
}

func (m *MockRosterBuilder) BuildRoster(ctx context.Context, organizerID, eventID string) (*roster.Roster, error) {
	args := m.Called(ctx, organizerID, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*roster.Roster), args.Error(1)
}

func serve(b *MockRosterBuilder, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	NewHandler(b, logger.Nop()).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(auth.WithUserID(req.Context(), "org-1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetRoster(t *testing.T) {
	b := new(MockRosterBuilder)
	b.On("BuildRoster", mock.Anything, "org-1", "ev-1").Return(&roster.Roster{
		Entries:  []models.RosterEntry{{PurchaseID: "p-1", Status: models.RosterCheckedIn, Source: models.SourceCredential}},
		Warnings: []roster.AggregationWarning{{Source: models.SourceAttendance, Reason: roster.ReasonUnavailable}},
	}, nil)

	w := serve(b, "/api/roster?event_id=ev-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"purchase_id":"p-1"`)
	assert.Contains(t, w.Body.String(), `"reason":"unavailable"`)
	assert.NotContains(t, w.Body.String(), "SortTime")
}

func TestGetRosterErrors(t *testing.T) {
	b := new(MockRosterBuilder)
	b.On("BuildRoster", mock.Anything, "org-1", "theirs").Return(nil, roster.ErrEventNotOwned)
	b.On("BuildRoster", mock.Anything, "org-1", "down").Return(&roster.Roster{}, roster.ErrRosterUnavailable)
	b.On("BuildRoster", mock.Anything, "org-1", "boom").Return(nil, errors.New("directory timeout"))

	assert.Equal(t, http.StatusNotFound, serve(b, "/api/roster?event_id=theirs").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(b, "/api/roster?event_id=down").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(b, "/api/roster?event_id=boom").Code)
}
