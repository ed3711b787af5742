package kafka

import "time"

// Outbound

type TicketIssuedEvent struct {
	CredentialID string    `json:"credential_id"`
	PurchaseID   string    `json:"purchase_id"`
	EventID      string    `json:"event_id"`
	UserID       string    `json:"user_id"`
	TicketNumber int       `json:"ticket_number"`
	IssuedAt     time.Time `json:"issued_at"`
}

type TicketCheckedInEvent struct {
	CredentialID string    `json:"credential_id"`
	PurchaseID   string    `json:"purchase_id"`
	EventID      string    `json:"event_id"`
	TicketNumber int       `json:"ticket_number"`
	ScannedAt    time.Time `json:"scanned_at"`
	ScannedBy    string    `json:"scanned_by"`
}

type TicketsCancelledEvent struct {
	Scope       string    `json:"scope"`
	ID          string    `json:"id"`
	Count       int64     `json:"count"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// Inbound

type PurchaseEvent struct {
	PurchaseID string `json:"purchase_id"`
	EventID    string `json:"event_id,omitempty"`
}

type EventCancelledEvent struct {
	EventID string `json:"event_id"`
	Reason  string `json:"reason,omitempty"`
}
