package tickets

import (
	"context"
	"errors"
	"fmt"

	"ms-credentials/internal/models"
	"ms-credentials/internal/tickets/db"
	"ms-credentials/internal/tickets/qrcode"
)

type ValidationResult struct {
	Credential models.TicketCredential `json:"credential"`
	Snapshot   models.TicketSnapshot   `json:"snapshot"`
}

// ValidateTicket redeems a ticket for the organizer that owns its event.
// Redemption is a single conditional write; of any number of concurrent calls
// for the same code, at most one succeeds. Refusals are *ValidationError and
// are never retried here.
func (s *TicketService) ValidateTicket(ctx context.Context, codeOrPayload, organizerID string) (*ValidationResult, error) {
	res, err := s.validate(ctx, codeOrPayload, organizerID)

	var verr *ValidationError
	switch {
	case err == nil:
		s.recordValidation("success")
	case errors.As(err, &verr):
		s.recordValidation(string(verr.Kind))
	default:
		s.recordValidation("error")
	}
	return res, err
}

func (s *TicketService) validate(ctx context.Context, codeOrPayload, organizerID string) (*ValidationResult, error) {
	code, ok := qrcode.CodeFromPayload(codeOrPayload)
	if !ok {
		return nil, validationErr(KindNotFound)
	}

	c, err := s.Store.GetBySecureCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		return nil, validationErr(KindNotFound)
	}
	if err != nil {
		return nil, err
	}

	ev, err := s.Events.GetEvent(ctx, c.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve event %s: %w", c.EventID, err)
	}
	if ev.OrganizerID != organizerID {
		s.Logger.Warn("SECURITY", fmt.Sprintf("organizer %s tried to validate a ticket for event %s", organizerID, ev.ID))
		return nil, validationErr(KindUnauthorized)
	}

	if c.State.Terminal() {
		return nil, refusalFor(c)
	}

	if s.expiredByPolicy(ev.StartsAt) {
		moved, err := s.Store.Transition(ctx, code, models.CredentialActive, models.CredentialExpired)
		if err != nil {
			return nil, err
		}
		if moved {
			s.Logger.LogTicket("EXPIRED", code, fmt.Sprintf("event %s ended", ev.ID))
			return nil, validationErr(KindExpired)
		}
		return nil, s.classifyLostTransition(ctx, code)
	}

	scannedAt := s.now()
	won, err := s.Store.MarkUsed(ctx, code, organizerID, scannedAt)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, s.classifyLostTransition(ctx, code)
	}

	c.State = models.CredentialUsed
	c.ScannedAt = &scannedAt
	c.ScannedBy = &organizerID

	s.Logger.LogTicket("CHECKED_IN", code, fmt.Sprintf("purchase %s ticket #%d by %s", c.PurchaseID, c.TicketNumber, organizerID))
	if s.Publisher != nil {
		if err := s.Publisher.PublishTicketCheckedIn(ctx, *c); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("failed to publish check-in for purchase %s: %v", c.PurchaseID, err))
		}
	}
	return &ValidationResult{Credential: *c, Snapshot: c.Snapshot}, nil
}

// classifyLostTransition reloads a credential whose conditional write matched
// no row and reports the terminal state that beat it.
func (s *TicketService) classifyLostTransition(ctx context.Context, code string) error {
	cur, err := s.Store.GetBySecureCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		return validationErr(KindNotFound)
	}
	if err != nil {
		return err
	}

	return refusalFor(cur)
}

// refusalFor maps a terminal credential to the refusal a scan of it gets.
func refusalFor(c *models.TicketCredential) error {
	switch c.State {
	case models.CredentialUsed:
		return &ValidationError{Kind: KindAlreadyUsed, ScannedAt: c.ScannedAt, ScannedBy: c.ScannedBy}
	case models.CredentialCancelled:
		return validationErr(KindCancelled)
	case models.CredentialExpired:
		return validationErr(KindExpired)
	}
	return fmt.Errorf("credential %s changed state concurrently and is %s", c.ID, c.State)
}
