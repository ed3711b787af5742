package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"ms-credentials/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

// NewSQLiteDB opens an in-memory SQLite database with every table the service
// touches. A single connection keeps all goroutines on the same in-memory database.
func NewSQLiteDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.TicketCredential)(nil),
		(*models.AttendanceRecord)(nil),
		(*models.Purchase)(nil),
		(*models.Event)(nil),
		(*models.User)(nil),
	} {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(ctx); err != nil {
			t.Fatalf("failed to create table for %T: %v", model, err)
		}
	}
	return bunDB
}

func InsertEvent(t *testing.T, db *bun.DB, organizerID string, startsAt time.Time) models.Event {
	t.Helper()
	ev := models.Event{
		ID:          uuid.NewString(),
		Title:       "Concert " + organizerID,
		StartsAt:    startsAt,
		TimeLabel:   startsAt.Format("15:04"),
		Location:    "Main Hall",
		OrganizerID: organizerID,
		Status:      models.EventScheduled,
	}
	mustInsert(t, db, &ev)
	return ev
}

func InsertUser(t *testing.T, db *bun.DB, name string) models.User {
	t.Helper()
	u := models.User{
		ID:    uuid.NewString(),
		Name:  name,
		Email: fmt.Sprintf("%s@example.com", name),
	}
	mustInsert(t, db, &u)
	return u
}

func InsertPurchase(t *testing.T, db *bun.DB, eventID, userID string, quantity int, createdAt time.Time) models.Purchase {
	t.Helper()
	p := models.Purchase{
		ID:         uuid.NewString(),
		EventID:    eventID,
		UserID:     userID,
		Quantity:   quantity,
		UnitPrice:  25,
		TotalPaid:  25 * float64(quantity),
		TicketType: "General",
		Status:     models.PurchaseCompleted,
		CreatedAt:  createdAt,
	}
	mustInsert(t, db, &p)
	return p
}

func InsertAttendance(t *testing.T, db *bun.DB, p models.Purchase, status models.AttendanceStatus, recordedAt time.Time) models.AttendanceRecord {
	t.Helper()
	a := models.AttendanceRecord{
		ID:         uuid.NewString(),
		PurchaseID: p.ID,
		EventID:    p.EventID,
		UserID:     p.UserID,
		RecordedAt: recordedAt,
		Status:     status,
	}
	mustInsert(t, db, &a)
	return a
}

func mustInsert(t *testing.T, db *bun.DB, model interface{}) {
	t.Helper()
	if _, err := db.NewInsert().Model(model).Exec(context.Background()); err != nil {
		t.Fatalf("failed to insert %T: %v", model, err)
	}
}
