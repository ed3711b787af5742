package models

import "time"

type RosterSource string

const (
	SourceCredential RosterSource = "credential"
	SourceAttendance RosterSource = "attendance"
	SourcePurchase   RosterSource = "purchase"
)

type RosterStatus string

const (
	RosterCheckedIn       RosterStatus = "checked_in"
	RosterNotCheckedIn    RosterStatus = "not_checked_in"
	RosterCancelled       RosterStatus = "cancelled"
	RosterExpired         RosterStatus = "expired"
	RosterAbsent          RosterStatus = "absent"
	RosterPendingIssuance RosterStatus = "pending_issuance"
)

// RosterEntry is one attendee row. It is derived on every query and never stored.
type RosterEntry struct {
	PurchaseID   string       `json:"purchase_id"`
	CredentialID string       `json:"credential_id,omitempty"`
	TicketNumber int          `json:"ticket_number,omitempty"`
	EventID      string       `json:"event_id"`
	EventTitle   string       `json:"event_title,omitempty"`
	UserID       string       `json:"user_id"`
	HolderName   string       `json:"holder_name,omitempty"`
	HolderEmail  string       `json:"holder_email,omitempty"`
	TicketType   string       `json:"ticket_type,omitempty"`
	Status       RosterStatus `json:"status"`
	Source       RosterSource `json:"source"`
	PurchasedAt  time.Time    `json:"purchased_at"`
	CheckedInAt  *time.Time   `json:"checked_in_at,omitempty"`
	SortTime     time.Time    `json:"-"`
}
