package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-credentials/internal/models"

	"github.com/uptrace/bun"
)

var (
	ErrEventNotFound    = errors.New("event not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrPurchaseNotFound = errors.New("purchase not found")
)

// DB reads the event, user and purchase tables owned by other services.
type DB struct {
	Bun *bun.DB
}

// ---------------- EVENTS ----------------

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var ev models.Event
	err := d.Bun.NewSelect().
		Model(&ev).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event %s: %w", id, err)
	}
	return &ev, nil
}

// EventsByOrganizer → every event owned by the organizer
func (d *DB) EventsByOrganizer(ctx context.Context, organizerID string) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Where("organizer_id = ?", organizerID).
		Order("starts_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for organizer %s: %w", organizerID, err)
	}
	return events, nil
}

// ---------------- USERS ----------------

func (d *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := d.Bun.NewSelect().
		Model(&u).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return &u, nil
}

// UsersByID → users keyed by id; unknown ids are simply absent
func (d *DB) UsersByID(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	err := d.Bun.NewSelect().
		Model(&users).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// ---------------- PURCHASES ----------------

func (d *DB) GetPurchase(ctx context.Context, id string) (*models.Purchase, error) {
	var p models.Purchase
	err := d.Bun.NewSelect().
		Model(&p).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase %s: %w", id, err)
	}
	return &p, nil
}

// PurchasesByEvents → purchases for the given events, newest first
func (d *DB) PurchasesByEvents(ctx context.Context, eventIDs []string) ([]models.Purchase, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var purchases []models.Purchase
	err := d.Bun.NewSelect().
		Model(&purchases).
		Where("event_id IN (?)", bun.In(eventIDs)).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

// PurchaseShortfalls → completed purchases holding fewer credentials than their
// quantity, optionally limited to one event
func (d *DB) PurchaseShortfalls(ctx context.Context, eventID string) ([]models.PurchaseShortfall, error) {
	var rows []models.PurchaseShortfall
	q := d.Bun.NewSelect().
		TableExpr("purchases AS p").
		ColumnExpr("p.id AS purchase_id").
		ColumnExpr("p.quantity AS quantity").
		ColumnExpr("COUNT(c.id) AS issued").
		Join("LEFT JOIN ticket_credentials AS c ON c.purchase_id = p.id").
		Where("p.status = ?", models.PurchaseCompleted)
	if eventID != "" {
		q = q.Where("p.event_id = ?", eventID)
	}
	err := q.
		GroupExpr("p.id, p.quantity").
		Having("COUNT(c.id) < p.quantity").
		OrderExpr("p.id").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to find purchases missing tickets: %w", err)
	}
	return rows, nil
}

// ---------------- ATTENDANCE ----------------

// AttendanceByEvents → manual attendance records, most recent first
func (d *DB) AttendanceByEvents(ctx context.Context, eventIDs []string) ([]models.AttendanceRecord, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var records []models.AttendanceRecord
	err := d.Bun.NewSelect().
		Model(&records).
		Where("event_id IN (?)", bun.In(eventIDs)).
		Order("recorded_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}
