package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseCancelled PurchaseStatus = "cancelled"
	PurchaseRefunded  PurchaseStatus = "refunded"
)

// Purchase is owned by the order flow; this service only reads it.
type Purchase struct {
	bun.BaseModel `bun:"table:purchases"`

	ID         string         `bun:"id,pk" json:"id"`
	EventID    string         `bun:"event_id,notnull" json:"event_id"`
	UserID     string         `bun:"user_id,notnull" json:"user_id"`
	Quantity   int            `bun:"quantity,notnull" json:"quantity"`
	UnitPrice  float64        `bun:"unit_price" json:"unit_price"`
	TotalPaid  float64        `bun:"total_paid" json:"total_paid"`
	TicketType string         `bun:"ticket_type" json:"ticket_type"`
	Status     PurchaseStatus `bun:"status,notnull" json:"status"`
	CreatedAt  time.Time      `bun:"created_at,notnull" json:"created_at"`
}

// PurchaseShortfall is a completed purchase holding fewer credentials than its quantity.
type PurchaseShortfall struct {
	PurchaseID string `bun:"purchase_id"`
	Quantity   int    `bun:"quantity"`
	Issued     int    `bun:"issued"`
}
