package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-credentials/internal/models"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

var (
	ErrNotFound              = errors.New("credential not found")
	ErrDuplicateCode         = errors.New("secure code already exists")
	ErrDuplicateTicketNumber = errors.New("ticket number already issued for purchase")
)

type DB struct {
	Bun *bun.DB
}

// CreateCredential inserts c. Unique violations are reported as
// ErrDuplicateCode or ErrDuplicateTicketNumber.
func (d *DB) CreateCredential(ctx context.Context, c *models.TicketCredential) error {
	_, err := d.Bun.NewInsert().Model(c).Exec(ctx)
	if err != nil {
		return classifyInsertError(err)
	}
	return nil
}

func (d *DB) GetBySecureCode(ctx context.Context, code string) (*models.TicketCredential, error) {
	var c models.TicketCredential
	err := d.Bun.NewSelect().
		Model(&c).
		Where("secure_code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &c, nil
}

// ListByPurchase returns the purchase's credentials ordered by ticket number.
func (d *DB) ListByPurchase(ctx context.Context, purchaseID string) ([]models.TicketCredential, error) {
	var creds []models.TicketCredential
	err := d.Bun.NewSelect().
		Model(&creds).
		Where("purchase_id = ?", purchaseID).
		Order("ticket_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials for purchase %s: %w", purchaseID, err)
	}
	return creds, nil
}

func (d *DB) TicketNumbersByPurchase(ctx context.Context, purchaseID string) ([]int, error) {
	var numbers []int
	err := d.Bun.NewSelect().
		Model((*models.TicketCredential)(nil)).
		Column("ticket_number").
		Where("purchase_id = ?", purchaseID).
		Order("ticket_number ASC").
		Scan(ctx, &numbers)
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket numbers for purchase %s: %w", purchaseID, err)
	}
	return numbers, nil
}

// ListByEvents returns every credential for the given events, newest first.
func (d *DB) ListByEvents(ctx context.Context, eventIDs []string) ([]models.TicketCredential, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var creds []models.TicketCredential
	err := d.Bun.NewSelect().
		Model(&creds).
		Where("event_id IN (?)", bun.In(eventIDs)).
		Order("generated_at DESC", "purchase_id", "ticket_number").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// MarkUsed performs the single conditional write behind check-in. It reports
// false when the credential was not active at the moment of the update.
func (d *DB) MarkUsed(ctx context.Context, code, scannedBy string, scannedAt time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketCredential)(nil)).
		Set("state = ?", models.CredentialUsed).
		Set("scanned_at = ?", scannedAt).
		Set("scanned_by = ?", scannedBy).
		Where("secure_code = ?", code).
		Where("state = ?", models.CredentialActive).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to mark credential used: %w", err)
	}
	return affectedOne(res)
}

// Transition moves a single credential from -> to, conditionally on its current state.
func (d *DB) Transition(ctx context.Context, code string, from, to models.CredentialState) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketCredential)(nil)).
		Set("state = ?", to).
		Where("secure_code = ?", code).
		Where("state = ?", from).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to move credential to %s: %w", to, err)
	}
	return affectedOne(res)
}

// CancelActiveByEvent cancels every still-active credential of an event.
// Used credentials are left untouched.
func (d *DB) CancelActiveByEvent(ctx context.Context, eventID string) (int64, error) {
	return d.bulkTransition(ctx, "event_id = ?", eventID, models.CredentialCancelled)
}

func (d *DB) CancelActiveByPurchase(ctx context.Context, purchaseID string) (int64, error) {
	return d.bulkTransition(ctx, "purchase_id = ?", purchaseID, models.CredentialCancelled)
}

// ExpireActiveStartedBefore expires the active credentials of every event
// that started before cutoff.
func (d *DB) ExpireActiveStartedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return d.bulkTransition(ctx, "event_id IN (SELECT id FROM events WHERE starts_at < ?)", cutoff, models.CredentialExpired)
}

func (d *DB) bulkTransition(ctx context.Context, where string, arg interface{}, to models.CredentialState) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketCredential)(nil)).
		Set("state = ?", to).
		Where(where, arg).
		Where("state = ?", models.CredentialActive).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to move credentials to %s: %w", to, err)
	}
	return res.RowsAffected()
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// classifyInsertError maps unique violations from postgres (lib/pq) and sqlite
// onto the store's sentinel errors.
func classifyInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if strings.Contains(pqErr.Constraint, "secure_code") {
			return fmt.Errorf("%w: %v", ErrDuplicateCode, err)
		}
		return fmt.Errorf("%w: %v", ErrDuplicateTicketNumber, err)
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		if strings.Contains(msg, "secure_code") {
			return fmt.Errorf("%w: %v", ErrDuplicateCode, err)
		}
		return fmt.Errorf("%w: %v", ErrDuplicateTicketNumber, err)
	}
	return fmt.Errorf("failed to insert credential: %w", err)
}
