package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AttendanceStatus string

const (
	AttendancePresent   AttendanceStatus = "present"
	AttendanceAbsent    AttendanceStatus = "absent"
	AttendanceCancelled AttendanceStatus = "cancelled"
)

// AttendanceRecord is a manual check-in captured by organizer tooling outside
// the QR flow.
type AttendanceRecord struct {
	bun.BaseModel `bun:"table:attendance_records"`

	ID          string           `bun:"id,pk" json:"id"`
	PurchaseID  string           `bun:"purchase_id,notnull" json:"purchase_id"`
	EventID     string           `bun:"event_id,notnull" json:"event_id"`
	UserID      string           `bun:"user_id,notnull" json:"user_id"`
	HolderName  string           `bun:"holder_name" json:"holder_name,omitempty"`
	HolderEmail string           `bun:"holder_email" json:"holder_email,omitempty"`
	RecordedAt  time.Time        `bun:"recorded_at,notnull" json:"recorded_at"`
	Status      AttendanceStatus `bun:"status,notnull" json:"status"`
}
