package tickets

import (
	"context"
	"fmt"
	"time"

	"ms-credentials/internal/models"
)

// CredentialStore is the persistence the ticket flows depend on.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *models.TicketCredential) error
	GetBySecureCode(ctx context.Context, code string) (*models.TicketCredential, error)
	ListByPurchase(ctx context.Context, purchaseID string) ([]models.TicketCredential, error)
	TicketNumbersByPurchase(ctx context.Context, purchaseID string) ([]int, error)
	MarkUsed(ctx context.Context, code, scannedBy string, scannedAt time.Time) (bool, error)
	Transition(ctx context.Context, code string, from, to models.CredentialState) (bool, error)
	CancelActiveByEvent(ctx context.Context, eventID string) (int64, error)
	CancelActiveByPurchase(ctx context.Context, purchaseID string) (int64, error)
	ExpireActiveStartedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByState(ctx context.Context, eventID string) (map[models.CredentialState]int, error)
}

// EventLookup resolves events; in production it is the redis-backed cache.
type EventLookup interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// Directory exposes the read-only tables owned by other services.
type Directory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetPurchase(ctx context.Context, id string) (*models.Purchase, error)
	PurchaseShortfalls(ctx context.Context, eventID string) ([]models.PurchaseShortfall, error)
}

type IssuanceLocker interface {
	Acquire(ctx context.Context, purchaseID, owner string) (bool, error)
	Release(ctx context.Context, purchaseID, owner string) error
}

type CodeGenerator interface {
	GenerateSecureCode(purchaseID string, ticketNumber int) (string, error)
	PayloadURL(code string) string
}

// Publisher announces credential changes to the rest of the platform.
// Calls are best-effort; failures are logged and never undo a state change.
type Publisher interface {
	PublishTicketIssued(ctx context.Context, c models.TicketCredential) error
	PublishTicketCheckedIn(ctx context.Context, c models.TicketCredential) error
	PublishTicketsCancelled(ctx context.Context, scope, id string, count int64) error
}

// Metrics receives issuance and validation outcomes. Nil disables recording.
type Metrics interface {
	TicketsIssued(n int)
	IssuanceFailed(kind string)
	ValidationOutcome(outcome string)
}

type Logger interface {
	Debug(category, message string)
	Info(category, message string)
	Warn(category, message string)
	Error(category, message string)
	LogTicket(action, code, message string)
}

type Options struct {
	MaxCodeAttempts     int
	IssuanceConcurrency int
	ExpiryGrace         time.Duration
	Currency            string
}

// TicketService owns every credential state transition.
type TicketService struct {
	Store     CredentialStore
	Events    EventLookup
	Directory Directory
	Lock      IssuanceLocker
	Codes     CodeGenerator
	Publisher Publisher
	Logger    Logger
	Metrics   Metrics
	Options   Options

	// Now is replaced in tests.
	Now func() time.Time
}

func NewTicketService(store CredentialStore, events EventLookup, dir Directory, lock IssuanceLocker,
	codes CodeGenerator, publisher Publisher, logger Logger, opts Options) *TicketService {
	if opts.MaxCodeAttempts <= 0 {
		opts.MaxCodeAttempts = 5
	}
	if opts.IssuanceConcurrency <= 0 {
		opts.IssuanceConcurrency = 4
	}
	if opts.ExpiryGrace <= 0 {
		opts.ExpiryGrace = 24 * time.Hour
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &TicketService{
		Store:     store,
		Events:    events,
		Directory: dir,
		Lock:      lock,
		Codes:     codes,
		Publisher: publisher,
		Logger:    logger,
		Options:   opts,
		Now:       time.Now,
	}
}

func (s *TicketService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *TicketService) recordIssued(n int) {
	if s.Metrics != nil && n > 0 {
		s.Metrics.TicketsIssued(n)
	}
}

func (s *TicketService) recordIssuanceFailure(kind IssuanceErrorKind) {
	if s.Metrics != nil {
		s.Metrics.IssuanceFailed(string(kind))
	}
}

func (s *TicketService) recordValidation(outcome string) {
	if s.Metrics != nil {
		s.Metrics.ValidationOutcome(outcome)
	}
}

// expiredByPolicy reports whether credentials for an event starting at
// startsAt can no longer be redeemed.
func (s *TicketService) expiredByPolicy(startsAt time.Time) bool {
	return s.now().After(startsAt.Add(s.Options.ExpiryGrace))
}

// ListPurchaseTickets returns the purchase's credentials in ticket order.
func (s *TicketService) ListPurchaseTickets(ctx context.Context, purchaseID string) ([]models.TicketCredential, error) {
	return s.Store.ListByPurchase(ctx, purchaseID)
}

// EventTicketCounts returns per-state credential counts for an event the organizer owns.
func (s *TicketService) EventTicketCounts(ctx context.Context, eventID, organizerID string) (map[models.CredentialState]int, error) {
	ev, err := s.Events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.OrganizerID != organizerID {
		return nil, ErrUnauthorized
	}
	return s.Store.CountByState(ctx, eventID)
}

// eventStart is the current start time of the credential's event. The
// snapshot date is only used when the event can no longer be resolved.
func (s *TicketService) eventStart(ctx context.Context, c *models.TicketCredential) time.Time {
	ev, err := s.Events.GetEvent(ctx, c.EventID)
	if err != nil {
		s.Logger.Warn("CONSULT", fmt.Sprintf("event %s unavailable, using snapshot date: %v", c.EventID, err))
		return c.Snapshot.EventDate
	}
	return ev.StartsAt
}
