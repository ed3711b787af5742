package tickets

import (
	"context"
	"errors"
	"time"

	"ms-credentials/internal/models"
	"ms-credentials/internal/tickets/db"
	"ms-credentials/internal/tickets/qrcode"
)

// ConsultResult is the public view of a ticket. Exists is false for unknown codes.
type ConsultResult struct {
	Exists       bool                   `json:"exists"`
	State        models.CredentialState `json:"state,omitempty"`
	TicketNumber int                    `json:"ticket_number,omitempty"`
	ScannedAt    *time.Time             `json:"scanned_at,omitempty"`
	Snapshot     *models.TicketSnapshot `json:"snapshot,omitempty"`
}

// ConsultTicket is a pure read. Anyone holding the code may view the ticket,
// so nothing here may be used to authorize a mutation.
func (s *TicketService) ConsultTicket(ctx context.Context, codeOrPayload string) (*ConsultResult, error) {
	code, ok := qrcode.CodeFromPayload(codeOrPayload)
	if !ok {
		return &ConsultResult{Exists: false}, nil
	}

	c, err := s.Store.GetBySecureCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		return &ConsultResult{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}

	state := c.State
	// reported as expired without persisting; the sweep writes it
	if state == models.CredentialActive && s.expiredByPolicy(s.eventStart(ctx, c)) {
		state = models.CredentialExpired
	}

	snapshot := c.Snapshot
	return &ConsultResult{
		Exists:       true,
		State:        state,
		TicketNumber: c.TicketNumber,
		ScannedAt:    c.ScannedAt,
		Snapshot:     &snapshot,
	}, nil
}
