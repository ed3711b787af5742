package tickets

import (
	"context"
	"errors"
	"fmt"

	"ms-credentials/internal/models"
	"ms-credentials/internal/tickets/db"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// IssueResult lists the credentials created by one call. Failed is empty when
// every requested ticket number now exists.
type IssueResult struct {
	Credentials []models.TicketCredential `json:"credentials"`
	Failed      []IndexFailure            `json:"failed,omitempty"`
}

// errAlreadyIssued marks a ticket number that a concurrent issuer stored first.
var errAlreadyIssued = errors.New("ticket number already issued")

// IssueTickets creates the credentials a completed purchase is still missing.
// Calling it again for a fully issued purchase creates nothing.
func (s *TicketService) IssueTickets(ctx context.Context, purchaseID string) (*IssueResult, error) {
	p, ev, u, err := s.loadPurchaseContext(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	existing, err := s.Store.TicketNumbersByPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	missing := missingNumbers(existing, p.Quantity)
	if len(missing) == 0 {
		s.Logger.Debug("ISSUE", fmt.Sprintf("purchase %s already holds %d tickets", purchaseID, p.Quantity))
		return &IssueResult{}, nil
	}

	return s.issueNumbers(ctx, p, ev, u, missing)
}

// TopUpTickets is the repair path: it issues only the missing ticket numbers
// while holding the purchase's issuance lock.
func (s *TicketService) TopUpTickets(ctx context.Context, purchaseID string) (*IssueResult, error) {
	owner := uuid.NewString()
	ok, err := s.Lock.Acquire(ctx, purchaseID, owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrIssuanceInProgress
	}
	defer func() {
		if err := s.Lock.Release(context.Background(), purchaseID, owner); err != nil {
			s.Logger.Warn("ISSUE", fmt.Sprintf("failed to release lock for purchase %s: %v", purchaseID, err))
		}
	}()

	return s.IssueTickets(ctx, purchaseID)
}

// RepairReport describes the top-up of one purchase found short of credentials.
type RepairReport struct {
	PurchaseID string `json:"purchase_id"`
	Quantity   int    `json:"quantity"`
	Existing   int    `json:"existing"`
	Issued     int    `json:"issued"`
	Error      string `json:"error,omitempty"`
}

// RepairPurchases tops up every completed purchase (optionally within one event)
// that holds fewer credentials than its quantity.
func (s *TicketService) RepairPurchases(ctx context.Context, eventID string) ([]RepairReport, error) {
	shortfalls, err := s.Directory.PurchaseShortfalls(ctx, eventID)
	if err != nil {
		return nil, err
	}

	reports := make([]RepairReport, 0, len(shortfalls))
	for _, sf := range shortfalls {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report := RepairReport{PurchaseID: sf.PurchaseID, Quantity: sf.Quantity, Existing: sf.Issued}
		res, err := s.TopUpTickets(ctx, sf.PurchaseID)
		if res != nil {
			report.Issued = len(res.Credentials)
		}
		if err != nil {
			report.Error = err.Error()
			s.Logger.Warn("REPAIR", fmt.Sprintf("purchase %s: %v", sf.PurchaseID, err))
		}
		reports = append(reports, report)
	}
	s.Logger.Info("REPAIR", fmt.Sprintf("checked %d purchases missing tickets", len(reports)))
	return reports, nil
}

// PurchaseHolder returns the id of the user who made the purchase.
func (s *TicketService) PurchaseHolder(ctx context.Context, purchaseID string) (string, error) {
	p, err := s.Directory.GetPurchase(ctx, purchaseID)
	if err != nil {
		return "", err
	}
	return p.UserID, nil
}

func (s *TicketService) loadPurchaseContext(ctx context.Context, purchaseID string) (*models.Purchase, *models.Event, *models.User, error) {
	p, err := s.Directory.GetPurchase(ctx, purchaseID)
	if err != nil {
		s.recordIssuanceFailure(IssuanceMissingContext)
		return nil, nil, nil, &IssuanceError{Kind: IssuanceMissingContext, PurchaseID: purchaseID, Err: err}
	}
	if p.Status != models.PurchaseCompleted {
		return nil, nil, nil, fmt.Errorf("%w: %s is %s", ErrPurchaseNotCompleted, purchaseID, p.Status)
	}
	ev, err := s.Events.GetEvent(ctx, p.EventID)
	if err != nil {
		s.recordIssuanceFailure(IssuanceMissingContext)
		return nil, nil, nil, &IssuanceError{Kind: IssuanceMissingContext, PurchaseID: purchaseID, Err: err}
	}
	u, err := s.Directory.GetUser(ctx, p.UserID)
	if err != nil {
		s.recordIssuanceFailure(IssuanceMissingContext)
		return nil, nil, nil, &IssuanceError{Kind: IssuanceMissingContext, PurchaseID: purchaseID, Err: err}
	}
	return p, ev, u, nil
}

// issueNumbers persists each ticket independently. One failing index never
// prevents the others from being stored.
func (s *TicketService) issueNumbers(ctx context.Context, p *models.Purchase, ev *models.Event, u *models.User, numbers []int) (*IssueResult, error) {
	created := make([]*models.TicketCredential, len(numbers))
	failures := make([]error, len(numbers))

	var g errgroup.Group
	g.SetLimit(s.Options.IssuanceConcurrency)
	for i, n := range numbers {
		i, n := i, n
		g.Go(func() error {
			c, err := s.issueOne(ctx, p, ev, u, n)
			if errors.Is(err, errAlreadyIssued) {
				return nil
			}
			created[i], failures[i] = c, err
			return nil
		})
	}
	_ = g.Wait()

	res := &IssueResult{}
	for i, n := range numbers {
		if failures[i] != nil {
			res.Failed = append(res.Failed, IndexFailure{TicketNumber: n, Err: failures[i]})
			s.Logger.Error("ISSUE", fmt.Sprintf("purchase %s ticket #%d: %v", p.ID, n, failures[i]))
			continue
		}
		if created[i] != nil {
			res.Credentials = append(res.Credentials, *created[i])
		}
	}

	s.recordIssued(len(res.Credentials))
	for _, c := range res.Credentials {
		s.Logger.LogTicket("ISSUED", c.SecureCode, fmt.Sprintf("purchase %s ticket #%d", c.PurchaseID, c.TicketNumber))
		if s.Publisher != nil {
			if err := s.Publisher.PublishTicketIssued(ctx, c); err != nil {
				s.Logger.Warn("KAFKA", fmt.Sprintf("failed to publish ticket issued for purchase %s: %v", c.PurchaseID, err))
			}
		}
	}

	if len(res.Failed) > 0 {
		return res, &PartialBatchError{PurchaseID: p.ID, Failed: res.Failed}
	}
	return res, nil
}

// issueOne stores ticket n, regenerating the code on collision up to
// MaxCodeAttempts times.
func (s *TicketService) issueOne(ctx context.Context, p *models.Purchase, ev *models.Event, u *models.User, n int) (*models.TicketCredential, error) {
	snapshot := buildSnapshot(p, ev, u, n, s.Options.Currency)

	for attempt := 1; attempt <= s.Options.MaxCodeAttempts; attempt++ {
		code, err := s.Codes.GenerateSecureCode(p.ID, n)
		if err != nil {
			return nil, err
		}

		c := &models.TicketCredential{
			ID:           uuid.NewString(),
			PurchaseID:   p.ID,
			EventID:      p.EventID,
			UserID:       p.UserID,
			TicketNumber: n,
			SecureCode:   code,
			State:        models.CredentialActive,
			GeneratedAt:  s.now(),
			Snapshot:     snapshot,
		}

		err = s.Store.CreateCredential(ctx, c)
		switch {
		case err == nil:
			return c, nil
		case errors.Is(err, db.ErrDuplicateCode):
			s.Logger.Warn("ISSUE", fmt.Sprintf("code collision on purchase %s ticket #%d (attempt %d)", p.ID, n, attempt))
			continue
		case errors.Is(err, db.ErrDuplicateTicketNumber):
			return nil, errAlreadyIssued
		default:
			return nil, err
		}
	}

	s.recordIssuanceFailure(IssuanceDuplicateCode)
	return nil, &IssuanceError{
		Kind:       IssuanceDuplicateCode,
		PurchaseID: p.ID,
		Err:        fmt.Errorf("ticket #%d: %d attempts exhausted", n, s.Options.MaxCodeAttempts),
	}
}

func buildSnapshot(p *models.Purchase, ev *models.Event, u *models.User, n int, currency string) models.TicketSnapshot {
	eventTime := ev.TimeLabel
	if eventTime == "" {
		eventTime = ev.StartsAt.Format("15:04")
	}
	ticketType := p.TicketType
	if ticketType == "" {
		ticketType = "General Admission"
	}
	return models.TicketSnapshot{
		EventTitle:    ev.Title,
		EventDate:     ev.StartsAt,
		EventTime:     eventTime,
		EventLocation: ev.Location,
		TicketType:    ticketType,
		UnitPrice:     p.UnitPrice,
		Currency:      currency,
		HolderName:    u.Name,
		HolderEmail:   u.Email,
		PurchaseDate:  p.CreatedAt,
		TicketNumber:  n,
		TotalTickets:  p.Quantity,
	}
}

// missingNumbers returns the ticket numbers in 1..quantity not present in existing.
func missingNumbers(existing []int, quantity int) []int {
	have := make(map[int]bool, len(existing))
	for _, n := range existing {
		have[n] = true
	}
	var missing []int
	for n := 1; n <= quantity; n++ {
		if !have[n] {
			missing = append(missing, n)
		}
	}
	return missing
}
