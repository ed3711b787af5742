package models

import (
	"time"

	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventCancelled EventStatus = "cancelled"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string      `bun:"id,pk" json:"id"`
	Title       string      `bun:"title,notnull" json:"title"`
	StartsAt    time.Time   `bun:"starts_at,notnull" json:"starts_at"`
	TimeLabel   string      `bun:"time_label" json:"time_label,omitempty"`
	Location    string      `bun:"location" json:"location,omitempty"`
	OrganizerID string      `bun:"organizer_id,notnull" json:"organizer_id"`
	Status      EventStatus `bun:"status,notnull" json:"status"`
}
