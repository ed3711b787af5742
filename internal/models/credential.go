package models

import (
	"time"

	"github.com/uptrace/bun"
)

type CredentialState string

const (
	CredentialActive    CredentialState = "active"
	CredentialUsed      CredentialState = "used"
	CredentialCancelled CredentialState = "cancelled"
	CredentialExpired   CredentialState = "expired"
)

// Terminal reports whether no further transition is allowed out of s.
func (s CredentialState) Terminal() bool {
	return s == CredentialUsed || s == CredentialCancelled || s == CredentialExpired
}

// TicketSnapshot is the denormalized display data captured when a credential
// is issued. It is never updated afterwards.
type TicketSnapshot struct {
	EventTitle    string    `json:"event_title"`
	EventDate     time.Time `json:"event_date"`
	EventTime     string    `json:"event_time,omitempty"`
	EventLocation string    `json:"event_location,omitempty"`
	TicketType    string    `json:"ticket_type"`
	UnitPrice     float64   `json:"unit_price"`
	Currency      string    `json:"currency,omitempty"`
	HolderName    string    `json:"holder_name"`
	HolderEmail   string    `json:"holder_email"`
	PurchaseDate  time.Time `json:"purchase_date"`
	TicketNumber  int       `json:"ticket_number"`
	TotalTickets  int       `json:"total_tickets"`
}

type TicketCredential struct {
	bun.BaseModel `bun:"table:ticket_credentials"`

	ID           string          `bun:"id,pk" json:"id"`
	PurchaseID   string          `bun:"purchase_id,notnull,unique:purchase_ticket" json:"purchase_id"`
	EventID      string          `bun:"event_id,notnull" json:"event_id"`
	UserID       string          `bun:"user_id,notnull" json:"user_id"`
	TicketNumber int             `bun:"ticket_number,notnull,unique:purchase_ticket" json:"ticket_number"`
	SecureCode   string          `bun:"secure_code,notnull,unique" json:"secure_code"`
	State        CredentialState `bun:"state,notnull" json:"state"`
	GeneratedAt  time.Time       `bun:"generated_at,notnull" json:"generated_at"`
	ScannedAt    *time.Time      `bun:"scanned_at,nullzero" json:"scanned_at,omitempty"`
	ScannedBy    *string         `bun:"scanned_by,nullzero" json:"scanned_by,omitempty"`
	Snapshot     TicketSnapshot  `bun:"snapshot,type:jsonb" json:"snapshot"`
}
