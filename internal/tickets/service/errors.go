package tickets

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrPurchaseNotCompleted = errors.New("purchase is not completed")
	ErrIssuanceInProgress   = errors.New("issuance already in progress for purchase")
	ErrPartialBatchFailure  = errors.New("some tickets in the batch failed to issue")
	ErrDuplicateCode        = errors.New("could not generate a unique secure code")
	ErrMissingContext       = errors.New("purchase context could not be resolved")
)

type IssuanceErrorKind string

const (
	IssuanceDuplicateCode  IssuanceErrorKind = "duplicate_code"
	IssuanceMissingContext IssuanceErrorKind = "missing_context"
)

// IssuanceError is a failure that prevented a purchase (or one ticket of it)
// from being issued.
type IssuanceError struct {
	Kind       IssuanceErrorKind
	PurchaseID string
	Err        error
}

func (e *IssuanceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("issuance %s for purchase %s: %v", e.Kind, e.PurchaseID, e.Err)
	}
	return fmt.Sprintf("issuance %s for purchase %s", e.Kind, e.PurchaseID)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

func (e *IssuanceError) Is(target error) bool {
	switch target {
	case ErrDuplicateCode:
		return e.Kind == IssuanceDuplicateCode
	case ErrMissingContext:
		return e.Kind == IssuanceMissingContext
	}
	return false
}

// IndexFailure records why a single ticket number could not be issued.
type IndexFailure struct {
	TicketNumber int   `json:"ticket_number"`
	Err          error `json:"-"`
}

// PartialBatchError is returned alongside the credentials that were issued.
// Successful tickets are never rolled back.
type PartialBatchError struct {
	PurchaseID string
	Failed     []IndexFailure
}

func (e *PartialBatchError) Error() string {
	nums := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		nums = append(nums, fmt.Sprintf("#%d", f.TicketNumber))
	}
	return fmt.Sprintf("purchase %s: tickets %s failed to issue", e.PurchaseID, strings.Join(nums, ", "))
}

// Unwrap exposes ErrPartialBatchFailure plus every per-ticket cause, so
// errors.As can still reach an *IssuanceError.
func (e *PartialBatchError) Unwrap() []error {
	errs := []error{ErrPartialBatchFailure}
	for _, f := range e.Failed {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

type ValidationKind string

const (
	KindNotFound     ValidationKind = "not_found"
	KindUnauthorized ValidationKind = "unauthorized"
	KindAlreadyUsed  ValidationKind = "already_used"
	KindCancelled    ValidationKind = "cancelled"
	KindExpired      ValidationKind = "expired"
)

var (
	ErrNotFound     = errors.New("ticket not found")
	ErrUnauthorized = errors.New("organizer does not own this event")
	ErrAlreadyUsed  = errors.New("ticket already used")
	ErrCancelled    = errors.New("ticket cancelled")
	ErrExpired      = errors.New("ticket expired")
)

var kindSentinels = map[ValidationKind]error{
	KindNotFound:     ErrNotFound,
	KindUnauthorized: ErrUnauthorized,
	KindAlreadyUsed:  ErrAlreadyUsed,
	KindCancelled:    ErrCancelled,
	KindExpired:      ErrExpired,
}

// ValidationError is an expected, typed refusal to redeem a ticket.
// For AlreadyUsed it carries the original scan.
type ValidationError struct {
	Kind      ValidationKind
	ScannedAt *time.Time
	ScannedBy *string
}

func (e *ValidationError) Error() string {
	if e.Kind == KindAlreadyUsed && e.ScannedAt != nil {
		return fmt.Sprintf("%v at %s", ErrAlreadyUsed, e.ScannedAt.Format(time.RFC3339))
	}
	return kindSentinels[e.Kind].Error()
}

func (e *ValidationError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func validationErr(kind ValidationKind) *ValidationError {
	return &ValidationError{Kind: kind}
}
